package nodes

import (
	"context"

	"github.com/lyzr/flowrunner/engine/item"
	"github.com/lyzr/flowrunner/engine/node"
	"github.com/lyzr/flowrunner/engine/workflow"
)

// If routes each item to "true" or "false". The condition is either a
// whole expression ("condition") or a rule list ("conditions" with an
// optional "combine" of and/or). A port that receives nothing emits the
// no-output sentinel so downstream joins can still fire.
type If struct{}

func (If) Type() string        { return workflow.TypeIf }
func (If) Description() string { return "Routes items to true or false by a condition" }
func (If) InputCount() int     { return 1 }

func (If) Descriptor() node.Descriptor {
	return node.Descriptor{
		Inputs: node.MainPorts(),
		Outputs: []node.Port{
			{Name: item.PortTrue},
			{Name: item.PortFalse},
		},
		Groups: []string{"flow"},
		Properties: []node.Property{
			{Name: "condition", Type: "string", Description: "Expression; wins over conditions when set"},
			{Name: "conditions", Type: "collection", Description: "field/operator/value rules"},
			{Name: "combine", Type: "options", Default: "and", Options: []string{"and", "or"}},
		},
	}
}

func (If) Execute(ctx context.Context, ec *node.ExecContext, def *workflow.Node, in *node.Input) (item.Result, error) {
	expression := def.StringParam("condition", "")
	rules := conditionsFromParam(def.Param("conditions", nil))
	combine := def.StringParam("combine", "and")

	var trueItems, falseItems []*item.Item
	for i, it := range in.Items {
		var matched bool
		var err error
		if expression != "" {
			matched, err = exprCondition(ec, expression, in.Items, i)
		} else {
			matched, err = allMatch(ec, def, rules, combine, in.Items, i)
		}
		if err != nil {
			return nil, err
		}
		if matched {
			trueItems = append(trueItems, it)
		} else {
			falseItems = append(falseItems, it)
		}
	}

	return item.Result{
		item.PortTrue:  portOutput(trueItems),
		item.PortFalse: portOutput(falseItems),
	}, nil
}

// portOutput is the branching-node convention: an empty port carries the
// no-output sentinel, not an empty list.
func portOutput(items []*item.Item) item.Output {
	if len(items) == 0 {
		return item.NoOutput()
	}
	return item.NewOutput(items...)
}
