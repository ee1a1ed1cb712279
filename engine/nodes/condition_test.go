package nodes

import (
	"testing"

	"github.com/lyzr/flowrunner/engine/workflow"
)

func TestCondition_Operators(t *testing.T) {
	ec := testCtx()
	def := defOf("If", workflow.TypeIf, nil)
	items := itemsFrom(map[string]any{
		"n":     float64(5),
		"s":     "hello world",
		"empty": "",
		"list":  []any{float64(1)},
		"flag":  true,
	})

	cases := []struct {
		name string
		cond condition
		want bool
	}{
		{"eq numeric cross-type", condition{Field: "n", Operator: opEq, Value: 5}, true},
		{"eq string", condition{Field: "s", Operator: opEq, Value: "hello world"}, true},
		{"eq number vs string miss", condition{Field: "n", Operator: opEq, Value: "5"}, false},
		{"eq bool", condition{Field: "flag", Operator: opEq, Value: true}, true},
		{"neq", condition{Field: "n", Operator: opNe, Value: 6}, true},
		{"gt", condition{Field: "n", Operator: opGt, Value: 4}, true},
		{"gt miss", condition{Field: "n", Operator: opGt, Value: 5}, false},
		{"gte boundary", condition{Field: "n", Operator: opGte, Value: 5}, true},
		{"lt", condition{Field: "n", Operator: opLt, Value: 6}, true},
		{"lte boundary", condition{Field: "n", Operator: opLte, Value: 5}, true},
		{"ordering on non-number is false", condition{Field: "s", Operator: opGt, Value: 1}, false},
		{"contains", condition{Field: "s", Operator: opContains, Value: "lo wo"}, true},
		{"contains miss", condition{Field: "s", Operator: opContains, Value: "xyz"}, false},
		{"startswith", condition{Field: "s", Operator: opStartsWith, Value: "hello"}, true},
		{"endswith", condition{Field: "s", Operator: opEndsWith, Value: "world"}, true},
		{"isEmpty on empty string", condition{Field: "empty", Operator: opIsEmpty}, true},
		{"isEmpty on value", condition{Field: "n", Operator: opIsEmpty}, false},
		{"isEmpty on missing field", condition{Field: "nope", Operator: opIsEmpty}, true},
		{"isNotEmpty on list", condition{Field: "list", Operator: opIsNotEmpty}, true},
		{"regex", condition{Field: "s", Operator: opRegex, Value: `^hello\s`}, true},
		{"regex miss", condition{Field: "s", Operator: opRegex, Value: `^world`}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.cond.matches(ec, def, items, 0)
			if err != nil {
				t.Fatalf("matches: %v", err)
			}
			if got != tc.want {
				t.Errorf("matches = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCondition_ErrorCases(t *testing.T) {
	ec := testCtx()
	def := defOf("If", workflow.TypeIf, nil)
	items := itemsFrom(map[string]any{"n": float64(1)})

	if _, err := (condition{Field: "n", Operator: "weird", Value: 1}).matches(ec, def, items, 0); err == nil {
		t.Error("want error for unknown operator")
	}
	if _, err := (condition{Field: "n", Operator: opRegex, Value: "("}).matches(ec, def, items, 0); err == nil {
		t.Error("want error for invalid regex")
	}
}

func TestConditionFromMap_Defaults(t *testing.T) {
	c := conditionFromMap(map[string]any{"field": "x", "value": float64(3)})
	if c.Operator != opEq {
		t.Errorf("operator = %q, want default %q", c.Operator, opEq)
	}
	if c.Field != "x" || c.Value != float64(3) {
		t.Errorf("parsed = %+v", c)
	}
}

func TestConditionsFromParam(t *testing.T) {
	got := conditionsFromParam([]any{
		map[string]any{"field": "a", "operator": "gt", "value": float64(1)},
		"garbage entries are skipped",
		map[string]any{"field": "b"},
	})
	if len(got) != 2 {
		t.Fatalf("conditions = %d, want 2", len(got))
	}
	if got[0].Operator != opGt || got[1].Operator != opEq {
		t.Errorf("operators = %q, %q", got[0].Operator, got[1].Operator)
	}
	if conditionsFromParam("not a list") != nil {
		t.Error("non-list param should yield nil")
	}
}

func TestCondition_FieldTemplateAndDottedPath(t *testing.T) {
	ec := testCtx()
	def := defOf("If", workflow.TypeIf, nil)
	items := itemsFrom(map[string]any{
		"user": map[string]any{"age": float64(30)},
	})

	dotted := condition{Field: "user.age", Operator: opGte, Value: 18}
	if ok, err := dotted.matches(ec, def, items, 0); err != nil || !ok {
		t.Errorf("dotted path lookup: ok=%v err=%v", ok, err)
	}

	templated := condition{Field: "{{ $json.user.age * 2 }}", Operator: opEq, Value: 60}
	if ok, err := templated.matches(ec, def, items, 0); err != nil || !ok {
		t.Errorf("templated field: ok=%v err=%v", ok, err)
	}
}

func TestCondition_ValueTemplateResolvedPerItem(t *testing.T) {
	ec := testCtx()
	def := defOf("If", workflow.TypeIf, nil)
	items := itemsFrom(
		map[string]any{"a": float64(7), "b": float64(7)},
		map[string]any{"a": float64(7), "b": float64(9)},
	)

	cond := condition{Field: "a", Operator: opEq, Value: "{{ $json.b }}"}
	if ok, err := cond.matches(ec, def, items, 0); err != nil || !ok {
		t.Errorf("item 0: ok=%v err=%v", ok, err)
	}
	if ok, err := cond.matches(ec, def, items, 1); err != nil || ok {
		t.Errorf("item 1 should miss: ok=%v err=%v", ok, err)
	}
}

func TestAllMatch_Combinators(t *testing.T) {
	ec := testCtx()
	def := defOf("If", workflow.TypeIf, nil)
	items := itemsFrom(map[string]any{"n": float64(5)})

	hit := condition{Field: "n", Operator: opGt, Value: 1}
	miss := condition{Field: "n", Operator: opGt, Value: 100}

	cases := []struct {
		name    string
		conds   []condition
		combine string
		want    bool
	}{
		{"and all pass", []condition{hit, hit}, "and", true},
		{"and one fails", []condition{hit, miss}, "and", false},
		{"or one passes", []condition{miss, hit}, "or", true},
		{"or none pass", []condition{miss, miss}, "or", false},
		{"default is and", []condition{hit, miss}, "", false},
		{"empty set passes", nil, "and", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := allMatch(ec, def, tc.conds, tc.combine, items, 0)
			if err != nil {
				t.Fatalf("allMatch: %v", err)
			}
			if got != tc.want {
				t.Errorf("allMatch = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestLooseEquals(t *testing.T) {
	cases := []struct {
		a, b any
		want bool
	}{
		{float64(5), 5, true},
		{int64(5), float64(5.0), true},
		{"x", "x", true},
		{float64(5), "5", false},
		{true, true, true},
		{true, "true", false},
		{nil, nil, true},
	}
	for _, tc := range cases {
		if got := looseEquals(tc.a, tc.b); got != tc.want {
			t.Errorf("looseEquals(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestLooseCompare_Ordering(t *testing.T) {
	if looseCompare(float64(2), float64(10)) >= 0 {
		t.Error("numeric compare: 2 should sort before 10")
	}
	if looseCompare("2", "10") <= 0 {
		t.Error("string compare: \"2\" sorts after \"10\" lexicographically")
	}
	if looseCompare("apple", "banana") >= 0 {
		t.Error("string compare: apple before banana")
	}
}
