package nodes

import (
	"context"
	"fmt"

	"github.com/lyzr/flowrunner/engine/item"
	"github.com/lyzr/flowrunner/engine/node"
	"github.com/lyzr/flowrunner/engine/workflow"
)

// Switch output bounds.
const (
	switchMinOutputs = 1
	switchMaxOutputs = 15
)

// Switch routes each item to one of output0..outputN-1 or fallback. In
// rules mode the first matching rule pins the port; in expression mode
// the expression computes the port index per item.
type Switch struct{}

func (Switch) Type() string        { return workflow.TypeSwitch }
func (Switch) Description() string { return "Routes items across numbered outputs" }
func (Switch) InputCount() int     { return 1 }

func (Switch) Descriptor() node.Descriptor {
	return node.Descriptor{
		Inputs: node.MainPorts(),
		Outputs: []node.Port{
			{Name: item.OutputPort(0)},
			{Name: item.PortFallback},
		},
		Groups: []string{"flow"},
		Properties: []node.Property{
			{Name: "numberOfOutputs", Type: "number", Default: 1},
			{Name: "mode", Type: "options", Default: "rules", Options: []string{"rules", "expression"}},
			{Name: "rules", Type: "collection", Description: "Rules with field/operator/value (or condition) plus output"},
			{Name: "output", Type: "string", Description: "Expression computing the output index"},
		},
	}
}

func (Switch) Execute(ctx context.Context, ec *node.ExecContext, def *workflow.Node, in *node.Input) (item.Result, error) {
	n := intParam(def, "numberOfOutputs", 1)
	if n < switchMinOutputs || n > switchMaxOutputs {
		return nil, fmt.Errorf("numberOfOutputs must be between %d and %d, got %d", switchMinOutputs, switchMaxOutputs, n)
	}
	mode := def.StringParam("mode", "rules")

	buckets := make([][]*item.Item, n)
	var fallback []*item.Item

	for i, it := range in.Items {
		var port int
		var routed bool
		var err error

		switch mode {
		case "expression":
			port, routed, err = switchByExpression(ec, def, in.Items, i, n)
		default:
			port, routed, err = switchByRules(ec, def, in.Items, i, n)
		}
		if err != nil {
			return nil, err
		}

		if routed {
			buckets[port] = append(buckets[port], it)
		} else {
			fallback = append(fallback, it)
		}
	}

	result := make(item.Result, n+1)
	for p := 0; p < n; p++ {
		result[item.OutputPort(p)] = portOutput(buckets[p])
	}
	result[item.PortFallback] = portOutput(fallback)
	return result, nil
}

// switchByRules applies the rule list in order; the first match wins.
// Each rule is {field, operator, value, output} or {condition, output}.
func switchByRules(ec *node.ExecContext, def *workflow.Node, items []*item.Item, idx, n int) (int, bool, error) {
	for _, raw := range listParam(def, "rules") {
		rule, ok := raw.(map[string]any)
		if !ok {
			continue
		}

		var matched bool
		var err error
		if expression, ok := rule["condition"].(string); ok && expression != "" {
			matched, err = exprCondition(ec, expression, items, idx)
		} else {
			matched, err = conditionFromMap(rule).matches(ec, def, items, idx)
		}
		if err != nil {
			return 0, false, err
		}
		if !matched {
			continue
		}

		port := ruleOutput(rule)
		if port < 0 || port >= n {
			return 0, false, fmt.Errorf("rule output %d out of range for %d outputs", port, n)
		}
		return port, true, nil
	}
	return 0, false, nil
}

// switchByExpression evaluates the output expression per item; a result
// outside 0..n-1 routes to fallback.
func switchByExpression(ec *node.ExecContext, def *workflow.Node, items []*item.Item, idx, n int) (int, bool, error) {
	expression := def.StringParam("output", "")
	if expression == "" {
		return 0, false, fmt.Errorf("expression mode requires the output parameter")
	}
	value := resolveForItem(ec, def, items, idx, expression)
	port, ok := asPortIndex(value)
	if !ok || port < 0 || port >= n {
		return 0, false, nil
	}
	return port, true, nil
}

func ruleOutput(rule map[string]any) int {
	switch v := rule["output"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func asPortIndex(v any) (int, bool) {
	switch tv := v.(type) {
	case int:
		return tv, true
	case int64:
		return int(tv), true
	case float64:
		return int(tv), true
	default:
		return 0, false
	}
}
