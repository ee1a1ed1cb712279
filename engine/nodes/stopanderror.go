package nodes

import (
	"context"

	"github.com/lyzr/flowrunner/engine/item"
	"github.com/lyzr/flowrunner/engine/node"
	"github.com/lyzr/flowrunner/engine/workflow"
)

// StopAndError halts the run with an error, or, in warning mode, tags the
// items and lets the run continue.
type StopAndError struct{}

func (StopAndError) Type() string        { return workflow.TypeStopAndError }
func (StopAndError) Description() string { return "Stops the run with an error or a warning tag" }
func (StopAndError) InputCount() int     { return 1 }

func (StopAndError) Descriptor() node.Descriptor {
	return node.Descriptor{
		Inputs:  node.MainPorts(),
		Outputs: node.MainPorts(),
		Groups:  []string{"flow"},
		Properties: []node.Property{
			{Name: "mode", Type: "options", Default: node.StopError, Options: []string{node.StopError, node.StopWarning}},
			{Name: "message", Type: "string", Default: "Workflow stopped"},
		},
	}
}

func (StopAndError) Execute(ctx context.Context, ec *node.ExecContext, def *workflow.Node, in *node.Input) (item.Result, error) {
	message := stringify(resolveForItem(ec, def, in.Items, 0, def.StringParam("message", "Workflow stopped")))

	if def.StringParam("mode", node.StopError) == node.StopWarning {
		out := make([]*item.Item, len(in.Items))
		for i, it := range in.Items {
			tagged := it.Clone()
			tagged.JSON["_warning"] = message
			out[i] = tagged
		}
		if len(out) == 0 {
			out = []*item.Item{item.New(map[string]any{"_warning": message})}
		}
		return item.MainResult(out...), nil
	}

	return nil, node.StopWithError("%s", message)
}
