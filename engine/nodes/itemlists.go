package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/lyzr/flowrunner/engine/item"
	"github.com/lyzr/flowrunner/engine/node"
	"github.com/lyzr/flowrunner/engine/workflow"
)

// ItemLists operations.
const (
	opSplitOut         = "splitOutItems"
	opAggregate        = "aggregateItems"
	opRemoveDuplicates = "removeDuplicates"
	opSort             = "sort"
	opLimit            = "limit"
)

// ItemLists reshapes the item list itself: splitting a list field into
// items, aggregating items into one, deduplicating, sorting, limiting.
type ItemLists struct{}

func (ItemLists) Type() string        { return workflow.TypeItemLists }
func (ItemLists) Description() string { return "List-level operations over the items" }
func (ItemLists) InputCount() int     { return 1 }

func (ItemLists) Descriptor() node.Descriptor {
	return node.Descriptor{
		Inputs:  node.MainPorts(),
		Outputs: node.MainPorts(),
		Groups:  []string{"transform"},
		Properties: []node.Property{
			{Name: "operation", Type: "options", Default: opSplitOut,
				Options: []string{opSplitOut, opAggregate, opRemoveDuplicates, opSort, opLimit}},
			{Name: "fieldToSplitOut", Type: "string"},
			{Name: "destinationField", Type: "string", Default: "data"},
			{Name: "compareFields", Type: "collection", Description: "Fields for duplicate detection; empty compares whole items"},
			{Name: "sortField", Type: "string"},
			{Name: "order", Type: "options", Default: "asc", Options: []string{"asc", "desc"}},
			{Name: "maxItems", Type: "number", Default: 1},
			{Name: "keep", Type: "options", Default: "firstItems", Options: []string{"firstItems", "lastItems"}},
		},
	}
}

func (ItemLists) Execute(ctx context.Context, ec *node.ExecContext, def *workflow.Node, in *node.Input) (item.Result, error) {
	operation := def.StringParam("operation", opSplitOut)

	switch operation {
	case opSplitOut:
		return splitOutItems(def, in.Items)
	case opAggregate:
		return aggregateItems(def, in.Items)
	case opRemoveDuplicates:
		return removeDuplicates(def, in.Items)
	case opSort:
		return sortItems(def, in.Items)
	case opLimit:
		return limitItems(def, in.Items)
	default:
		return nil, fmt.Errorf("unknown operation: %q", operation)
	}
}

// splitOutItems fans a list field out into one item per element.
func splitOutItems(def *workflow.Node, items []*item.Item) (item.Result, error) {
	field := def.StringParam("fieldToSplitOut", "")
	if field == "" {
		return nil, fmt.Errorf("fieldToSplitOut is required")
	}

	var out []*item.Item
	for _, it := range items {
		value := fieldValue(it, field)
		list, ok := value.([]any)
		if !ok {
			if value == nil {
				continue
			}
			list = []any{value}
		}
		out = append(out, item.FromJSONList(list)...)
	}
	return item.MainResult(out...), nil
}

// aggregateItems collapses all items into one carrying their jsons under
// the destination field.
func aggregateItems(def *workflow.Node, items []*item.Item) (item.Result, error) {
	field := def.StringParam("destinationField", "data")
	return item.MainResult(item.New(map[string]any{
		field: item.JSONList(items),
	})), nil
}

// removeDuplicates keeps the first occurrence; identity is the compared
// fields' values, or the whole json when none are configured.
func removeDuplicates(def *workflow.Node, items []*item.Item) (item.Result, error) {
	var fields []string
	for _, raw := range listParam(def, "compareFields") {
		if s, ok := raw.(string); ok && s != "" {
			fields = append(fields, s)
		}
	}

	seen := make(map[string]bool, len(items))
	var out []*item.Item
	for _, it := range items {
		key, err := duplicateKey(it, fields)
		if err != nil {
			return nil, err
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, it)
	}
	return item.MainResult(out...), nil
}

func duplicateKey(it *item.Item, fields []string) (string, error) {
	if len(fields) == 0 {
		data, err := json.Marshal(it.JSON)
		if err != nil {
			return "", fmt.Errorf("item json is not serializable: %w", err)
		}
		return string(data), nil
	}
	key := ""
	for _, f := range fields {
		key += f + "=" + stringify(fieldValue(it, f)) + "|"
	}
	return key, nil
}

// sortItems orders items by one field, numeric-aware, ascending by
// default. The sort is stable so equal keys keep input order.
func sortItems(def *workflow.Node, items []*item.Item) (item.Result, error) {
	field := def.StringParam("sortField", "")
	if field == "" {
		return nil, fmt.Errorf("sortField is required")
	}
	descending := def.StringParam("order", "asc") == "desc"

	out := make([]*item.Item, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool {
		d := looseCompare(fieldValue(out[i], field), fieldValue(out[j], field))
		if descending {
			return d > 0
		}
		return d < 0
	})
	return item.MainResult(out...), nil
}

// limitItems keeps the first or last N items.
func limitItems(def *workflow.Node, items []*item.Item) (item.Result, error) {
	max := intParam(def, "maxItems", 1)
	if max < 0 {
		return nil, fmt.Errorf("maxItems must not be negative")
	}
	if max >= len(items) {
		return item.MainResult(items...), nil
	}
	if def.StringParam("keep", "firstItems") == "lastItems" {
		return item.MainResult(items[len(items)-max:]...), nil
	}
	return item.MainResult(items[:max]...), nil
}
