package nodes

import (
	"context"

	"github.com/lyzr/flowrunner/engine/expr"
	"github.com/lyzr/flowrunner/engine/item"
	"github.com/lyzr/flowrunner/engine/node"
	"github.com/lyzr/flowrunner/engine/workflow"
)

// readyToTestFlag marks items returning from a probe branch; the loop
// routes them straight to "continue" without another iteration.
const readyToTestFlag = "_readyToTest"

// loopDefaultMax bounds iterations when the node leaves maxIterations
// unset.
const loopDefaultMax = 10

// Loop is a three-way router driving cyclic graphs. Items go to "loop"
// while the loop should keep going (the runner bumps run_index on that
// port), to "done" when the exit condition or the iteration cap is hit,
// and to "continue" when the input carries the ready-to-test flag.
type Loop struct{}

func (Loop) Type() string        { return workflow.TypeLoop }
func (Loop) Description() string { return "Repeats a branch until an exit condition holds" }
func (Loop) InputCount() int     { return 1 }

func (Loop) Descriptor() node.Descriptor {
	return node.Descriptor{
		Inputs: node.MainPorts(),
		Outputs: []node.Port{
			{Name: item.PortLoop},
			{Name: item.PortDone},
			{Name: item.PortContinue},
		},
		Groups: []string{"flow"},
		Properties: []node.Property{
			{Name: "exitCondition", Type: "string", Description: "Expression ending the loop when truthy"},
			{Name: "maxIterations", Type: "number", Default: loopDefaultMax},
		},
	}
}

func (Loop) Execute(ctx context.Context, ec *node.ExecContext, def *workflow.Node, in *node.Input) (item.Result, error) {
	result := item.Result{
		item.PortLoop:     item.NoOutput(),
		item.PortDone:     item.NoOutput(),
		item.PortContinue: item.NoOutput(),
	}
	if len(in.Items) == 0 {
		return result, nil
	}

	// A probe round-trip bypasses iteration counting entirely.
	if expr.Truthy(in.Items[0].JSON[readyToTestFlag]) {
		out := make([]*item.Item, len(in.Items))
		for i, it := range in.Items {
			cleaned := it.Clone()
			delete(cleaned.JSON, readyToTestFlag)
			out[i] = cleaned
		}
		result[item.PortContinue] = item.NewOutput(out...)
		return result, nil
	}

	iteration := 0
	if v, ok := ec.InternalState(def.Name); ok {
		if n, ok := v.(int); ok {
			iteration = n
		}
	}

	maxIterations := intParam(def, "maxIterations", loopDefaultMax)
	exit := false
	if expression := def.StringParam("exitCondition", ""); expression != "" {
		matched, err := exprCondition(ec, expression, in.Items, 0)
		if err != nil {
			return nil, err
		}
		exit = matched
	}

	if exit || iteration >= maxIterations {
		ec.ClearInternalState(def.Name)
		result[item.PortDone] = item.NewOutput(in.Items...)
		return result, nil
	}

	ec.SetInternalState(def.Name, iteration+1)
	result[item.PortLoop] = item.NewOutput(in.Items...)
	return result, nil
}
