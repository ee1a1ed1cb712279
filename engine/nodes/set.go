package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/sjson"

	"github.com/lyzr/flowrunner/engine/item"
	"github.com/lyzr/flowrunner/engine/node"
	"github.com/lyzr/flowrunner/engine/workflow"
)

// Set writes fields on every item. The "values" parameter is either a
// plain object of name→value or a list of {name, value} entries; names
// may be dotted paths. With keepOnlySet the output item carries only the
// assigned fields.
type Set struct{}

func (Set) Type() string        { return workflow.TypeSet }
func (Set) Description() string { return "Sets fields on items, optionally dropping the rest" }
func (Set) InputCount() int     { return 1 }

func (Set) Descriptor() node.Descriptor {
	return node.Descriptor{
		Inputs:  node.MainPorts(),
		Outputs: node.MainPorts(),
		Groups:  []string{"transform"},
		Properties: []node.Property{
			{Name: "values", Type: "collection", Description: "Fields to assign; values may be expressions"},
			{Name: "keepOnlySet", Type: "boolean", Default: false},
		},
	}
}

func (Set) Execute(ctx context.Context, ec *node.ExecContext, def *workflow.Node, in *node.Input) (item.Result, error) {
	assignments, err := setAssignments(def)
	if err != nil {
		return nil, err
	}
	keepOnly := boolParam(def, "keepOnlySet", false)

	out := make([]*item.Item, len(in.Items))
	for i, it := range in.Items {
		var next *item.Item
		if keepOnly {
			next = item.Empty()
			next.Binary = it.Binary
		} else {
			next = it.Clone()
		}

		for _, a := range assignments {
			value := resolveForItem(ec, def, in.Items, i, a.value)
			if err := assignField(next, a.name, value); err != nil {
				return nil, err
			}
		}
		out[i] = next
	}
	return item.MainResult(out...), nil
}

type assignment struct {
	name  string
	value any
}

func setAssignments(def *workflow.Node) ([]assignment, error) {
	raw := def.Param("values", nil)
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		// Object form keeps declaration-independent but stable order.
		names := make([]string, 0, len(v))
		for name := range v {
			names = append(names, name)
		}
		sort.Strings(names)
		out := make([]assignment, 0, len(names))
		for _, name := range names {
			out = append(out, assignment{name: name, value: v[name]})
		}
		return out, nil
	case []any:
		out := make([]assignment, 0, len(v))
		for _, e := range v {
			m, ok := e.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("values entries must be objects with name and value")
			}
			name, _ := m["name"].(string)
			if name == "" {
				return nil, fmt.Errorf("values entry missing name")
			}
			out = append(out, assignment{name: name, value: m["value"]})
		}
		return out, nil
	default:
		return nil, fmt.Errorf("values must be an object or a list, got %T", raw)
	}
}

// assignField writes one field. Dotted names go through sjson so nested
// paths create intermediate objects; plain names write directly.
func assignField(it *item.Item, name string, value any) error {
	if !strings.Contains(name, ".") {
		it.JSON[name] = value
		return nil
	}

	doc, err := json.Marshal(it.JSON)
	if err != nil {
		return fmt.Errorf("item json is not serializable: %w", err)
	}
	doc, err = sjson.SetBytes(doc, name, value)
	if err != nil {
		return fmt.Errorf("set %q: %w", name, err)
	}
	next := make(map[string]any)
	if err := json.Unmarshal(doc, &next); err != nil {
		return fmt.Errorf("set %q: %w", name, err)
	}
	it.JSON = next
	return nil
}
