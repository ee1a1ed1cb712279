package nodes

import (
	"context"

	"github.com/lyzr/flowrunner/engine/item"
	"github.com/lyzr/flowrunner/engine/node"
	"github.com/lyzr/flowrunner/engine/workflow"
)

// Filter keeps the items a condition matches and drops the rest. When
// nothing survives it emits the no-output sentinel so downstream joins
// are not left waiting.
type Filter struct{}

func (Filter) Type() string        { return workflow.TypeFilter }
func (Filter) Description() string { return "Keeps only the items matching a condition" }
func (Filter) InputCount() int     { return 1 }

func (Filter) Descriptor() node.Descriptor {
	return node.Descriptor{
		Inputs:  node.MainPorts(),
		Outputs: node.MainPorts(),
		Groups:  []string{"transform"},
		Properties: []node.Property{
			{Name: "condition", Type: "string", Description: "Expression; wins over conditions when set"},
			{Name: "conditions", Type: "collection"},
			{Name: "combine", Type: "options", Default: "and", Options: []string{"and", "or"}},
		},
	}
}

func (Filter) Execute(ctx context.Context, ec *node.ExecContext, def *workflow.Node, in *node.Input) (item.Result, error) {
	expression := def.StringParam("condition", "")
	rules := conditionsFromParam(def.Param("conditions", nil))
	combine := def.StringParam("combine", "and")

	var kept []*item.Item
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
			kept = append(kept, it)
		}
	}

	return item.Result{item.PortMain: portOutput(kept)}, nil
}
