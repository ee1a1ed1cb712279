package nodes

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/lyzr/flowrunner/engine/item"
	"github.com/lyzr/flowrunner/engine/node"
	"github.com/lyzr/flowrunner/engine/workflow"
)

// Comparison operators shared by If, Filter, and Switch rules.
const (
	opEq         = "eq"
	opNe         = "ne"
	opGt         = "gt"
	opGte        = "gte"
	opLt         = "lt"
	opLte        = "lte"
	opContains   = "contains"
	opStartsWith = "startswith"
	opEndsWith   = "endswith"
	opIsEmpty    = "isEmpty"
	opIsNotEmpty = "isNotEmpty"
	opRegex      = "regex"
)

// condition is one field/operator/value rule evaluated against an item.
type condition struct {
	Field    string
	Operator string
	Value    any
}

func conditionFromMap(m map[string]any) condition {
	c := condition{Operator: opEq}
	if f, ok := m["field"].(string); ok {
		c.Field = f
	}
	if op, ok := m["operator"].(string); ok && op != "" {
		c.Operator = op
	}
	c.Value = m["value"]
	return c
}

func conditionsFromParam(v any) []condition {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]condition, 0, len(list))
	for _, e := range list {
		if m, ok := e.(map[string]any); ok {
			out = append(out, conditionFromMap(m))
		}
	}
	return out
}

// matches evaluates the rule against one item. The field accepts either a
// dotted path into the item's json or a {{ }} template; the value side is
// re-resolved per item so it can reference $json too.
func (c condition) matches(ec *node.ExecContext, def *workflow.Node, items []*item.Item, idx int) (bool, error) {
	var actual any
	if strings.Contains(c.Field, "{{") {
		actual = resolveForItem(ec, def, items, idx, c.Field)
	} else {
		actual = fieldValue(items[idx], c.Field)
	}
	expected := resolveForItem(ec, def, items, idx, c.Value)

	switch c.Operator {
	case opEq:
		return looseEquals(actual, expected), nil
	case opNe:
		return !looseEquals(actual, expected), nil
	case opGt:
		return numericOrdered(actual, expected, func(d int) bool { return d > 0 })
	case opGte:
		return numericOrdered(actual, expected, func(d int) bool { return d >= 0 })
	case opLt:
		return numericOrdered(actual, expected, func(d int) bool { return d < 0 })
	case opLte:
		return numericOrdered(actual, expected, func(d int) bool { return d <= 0 })
	case opContains:
		return strings.Contains(stringify(actual), stringify(expected)), nil
	case opStartsWith:
		return strings.HasPrefix(stringify(actual), stringify(expected)), nil
	case opEndsWith:
		return strings.HasSuffix(stringify(actual), stringify(expected)), nil
	case opIsEmpty:
		return isEmptyValue(actual), nil
	case opIsNotEmpty:
		return !isEmptyValue(actual), nil
	case opRegex:
		re, err := regexp.Compile(stringify(expected))
		if err != nil {
			return false, fmt.Errorf("invalid regex %q: %w", stringify(expected), err)
		}
		return re.MatchString(stringify(actual)), nil
	default:
		return false, fmt.Errorf("unknown operator: %q", c.Operator)
	}
}

// allMatch combines rules with "and" (default) or "or".
func allMatch(ec *node.ExecContext, def *workflow.Node, conds []condition, combine string, items []*item.Item, idx int) (bool, error) {
	if len(conds) == 0 {
		return true, nil
	}
	anyMode := combine == "or"
	for _, c := range conds {
		ok, err := c.matches(ec, def, items, idx)
		if err != nil {
			return false, err
		}
		if anyMode && ok {
			return true, nil
		}
		if !anyMode && !ok {
			return false, nil
		}
	}
	return !anyMode, nil
}

func isEmptyValue(v any) bool {
	switch tv := v.(type) {
	case nil:
		return true
	case string:
		return tv == ""
	case []any:
		return len(tv) == 0
	case map[string]any:
		return len(tv) == 0
	default:
		return false
	}
}

func asNumber(v any) (float64, bool) {
	switch tv := v.(type) {
	case int:
		return float64(tv), true
	case int64:
		return float64(tv), true
	case float64:
		return tv, true
	default:
		return 0, false
	}
}

// looseEquals compares numbers numerically (so 5 equals 5.0) and
// everything else by kind plus rendered text. Values of different kinds
// are never equal; a number does not equal the string that renders the
// same.
func looseEquals(a, b any) bool {
	if fa, na := asNumber(a); na {
		fb, nb := asNumber(b)
		return nb && fa == fb
	}
	if _, nb := asNumber(b); nb {
		return false
	}
	if ba, ok := a.(bool); ok {
		bb, ok := b.(bool)
		return ok && ba == bb
	}
	if _, ok := b.(bool); ok {
		return false
	}
	return stringify(a) == stringify(b)
}

// looseCompare orders two values for sorting: numerically when both are
// numbers, lexically on their rendered text otherwise.
func looseCompare(a, b any) int {
	if fa, ok := asNumber(a); ok {
		if fb, ok := asNumber(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			default:
				return 0
			}
		}
	}
	return strings.Compare(stringify(a), stringify(b))
}

// numericOrdered applies an ordering operator; non-numbers never order.
func numericOrdered(a, b any, pass func(int) bool) (bool, error) {
	fa, okA := asNumber(a)
	fb, okB := asNumber(b)
	if !okA || !okB {
		return false, nil
	}
	switch {
	case fa < fb:
		return pass(-1), nil
	case fa > fb:
		return pass(1), nil
	default:
		return pass(0), nil
	}
}

// exprCondition evaluates a whole condition expression for one item,
// using the engine's truthiness coercion.
func exprCondition(ec *node.ExecContext, expression string, items []*item.Item, idx int) (bool, error) {
	if ec.Expr == nil {
		return false, fmt.Errorf("no expression engine attached to execution context")
	}
	return ec.Expr.EvaluateBool(expression, ec.ExprContext(items, idx))
}
