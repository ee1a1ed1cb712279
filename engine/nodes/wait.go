package nodes

import (
	"context"
	"time"

	"github.com/lyzr/flowrunner/engine/item"
	"github.com/lyzr/flowrunner/engine/node"
	"github.com/lyzr/flowrunner/engine/workflow"
)

// waitMax caps a single Wait suspension when the context carries no
// configured limit.
const waitMax = 300 * time.Second

// Wait suspends the branch for a bounded duration, then passes the items
// through untouched.
type Wait struct{}

func (Wait) Type() string        { return workflow.TypeWait }
func (Wait) Description() string { return "Pauses the branch for a fixed duration" }
func (Wait) InputCount() int     { return 1 }

func (Wait) Descriptor() node.Descriptor {
	return node.Descriptor{
		Inputs:  node.MainPorts(),
		Outputs: node.MainPorts(),
		Groups:  []string{"flow"},
		Properties: []node.Property{
			{Name: "seconds", Type: "number", Default: 1, Description: "Seconds to wait, capped by the engine"},
		},
	}
}

func (Wait) Execute(ctx context.Context, ec *node.ExecContext, def *workflow.Node, in *node.Input) (item.Result, error) {
	seconds := floatParam(def, "seconds", 1)
	if seconds < 0 {
		seconds = 0
	}
	limit := ec.WaitCap
	if limit <= 0 {
		limit = waitMax
	}
	d := time.Duration(seconds * float64(time.Second))
	if d > limit {
		d = limit
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}
	return item.MainResult(in.Items...), nil
}

func floatParam(def *workflow.Node, key string, fallback float64) float64 {
	switch v := def.Param(key, nil).(type) {
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case float64:
		return v
	default:
		return fallback
	}
}
