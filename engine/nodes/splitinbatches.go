package nodes

import (
	"context"

	"github.com/lyzr/flowrunner/engine/item"
	"github.com/lyzr/flowrunner/engine/node"
	"github.com/lyzr/flowrunner/engine/workflow"
)

// splitBatchesDefaultSize is the batch size when the node leaves it unset.
const splitBatchesDefaultSize = 10

// splitBatchState tracks one SplitInBatches traversal: what still has to
// go around the loop and what already came back.
type splitBatchState struct {
	remaining []*item.Item
	processed []*item.Item
}

// SplitInBatches feeds the loop body one batch at a time via "loop" and
// finally emits everything the body returned on "done". The first call
// of a run snapshots the inbound items as the work queue; later calls
// receive the body's output and append it to the processed pile.
type SplitInBatches struct{}

func (SplitInBatches) Type() string        { return workflow.TypeSplitInBatches }
func (SplitInBatches) Description() string { return "Processes items through a loop in batches" }
func (SplitInBatches) InputCount() int     { return 1 }

func (SplitInBatches) Descriptor() node.Descriptor {
	return node.Descriptor{
		Inputs: node.MainPorts(),
		Outputs: []node.Port{
			{Name: item.PortLoop},
			{Name: item.PortDone},
		},
		Groups: []string{"flow"},
		Properties: []node.Property{
			{Name: "batchSize", Type: "number", Default: splitBatchesDefaultSize},
			{Name: "reset", Type: "boolean", Default: false, Description: "Restart with the current input as a fresh queue"},
		},
	}
}

func (SplitInBatches) Execute(ctx context.Context, ec *node.ExecContext, def *workflow.Node, in *node.Input) (item.Result, error) {
	batchSize := intParam(def, "batchSize", splitBatchesDefaultSize)
	if batchSize < 1 {
		batchSize = 1
	}

	var state *splitBatchState
	if v, ok := ec.InternalState(def.Name); ok && !boolParam(def, "reset", false) {
		state, _ = v.(*splitBatchState)
	}

	if state == nil {
		state = &splitBatchState{remaining: append([]*item.Item{}, in.Items...)}
	} else {
		state.processed = append(state.processed, in.Items...)
	}

	result := item.Result{
		item.PortLoop: item.NoOutput(),
		item.PortDone: item.NoOutput(),
	}

	if len(state.remaining) == 0 {
		ec.ClearInternalState(def.Name)
		result[item.PortDone] = portOutput(state.processed)
		return result, nil
	}

	n := batchSize
	if n > len(state.remaining) {
		n = len(state.remaining)
	}
	batch := state.remaining[:n]
	state.remaining = state.remaining[n:]
	ec.SetInternalState(def.Name, state)

	result[item.PortLoop] = item.NewOutput(batch...)
	return result, nil
}
