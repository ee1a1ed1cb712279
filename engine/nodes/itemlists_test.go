package nodes

import (
	"context"
	"testing"

	"github.com/lyzr/flowrunner/engine/item"
	"github.com/lyzr/flowrunner/engine/workflow"
)

func TestItemLists_SplitOutItems(t *testing.T) {
	ec := testCtx()
	def := defOf("Split", workflow.TypeItemLists, map[string]any{
		"operation":       "splitOutItems",
		"fieldToSplitOut": "tags",
	})
	in := inputOf(itemsFrom(
		map[string]any{"tags": []any{"a", "b"}},
		map[string]any{"tags": "solo"},
		map[string]any{"other": true},
	)...)

	items := portItems(t, mustExecute(t, ItemLists{}, ec, def, in), item.PortMain)
	if len(items) != 3 {
		t.Fatalf("split produced %d items, want 3", len(items))
	}
	if items[0].JSON["value"] != "a" || items[1].JSON["value"] != "b" {
		t.Errorf("list elements: %v, %v", items[0].JSON, items[1].JSON)
	}
	if items[2].JSON["value"] != "solo" {
		t.Errorf("scalar field should be wrapped, got %v", items[2].JSON)
	}
}

func TestItemLists_SplitOutObjectElements(t *testing.T) {
	ec := testCtx()
	def := defOf("Split", workflow.TypeItemLists, map[string]any{
		"operation":       "splitOutItems",
		"fieldToSplitOut": "rows",
	})
	in := inputOf(itemsFrom(map[string]any{
		"rows": []any{
			map[string]any{"id": float64(1)},
			map[string]any{"id": float64(2)},
		},
	})...)

	items := portItems(t, mustExecute(t, ItemLists{}, ec, def, in), item.PortMain)
	if len(items) != 2 || items[0].JSON["id"] != float64(1) || items[1].JSON["id"] != float64(2) {
		t.Errorf("object elements should become item jsons: %v", items)
	}
}

func TestItemLists_SplitOutRequiresField(t *testing.T) {
	ec := testCtx()
	def := defOf("Split", workflow.TypeItemLists, map[string]any{"operation": "splitOutItems"})

	if _, err := (ItemLists{}).Execute(context.Background(), ec, def, inputOf()); err == nil {
		t.Fatal("want error when fieldToSplitOut is missing")
	}
}

func TestItemLists_AggregateItems(t *testing.T) {
	ec := testCtx()
	def := defOf("Aggregate", workflow.TypeItemLists, map[string]any{
		"operation":        "aggregateItems",
		"destinationField": "batch",
	})
	in := inputOf(itemsFrom(
		map[string]any{"id": float64(1)},
		map[string]any{"id": float64(2)},
	)...)

	items := portItems(t, mustExecute(t, ItemLists{}, ec, def, in), item.PortMain)
	if len(items) != 1 {
		t.Fatalf("aggregate produced %d items, want 1", len(items))
	}
	batch, ok := items[0].JSON["batch"].([]any)
	if !ok || len(batch) != 2 {
		t.Fatalf("batch = %v (%T)", items[0].JSON["batch"], items[0].JSON["batch"])
	}
	if first, ok := batch[0].(map[string]any); !ok || first["id"] != float64(1) {
		t.Errorf("batch[0] = %v", batch[0])
	}
}

func TestItemLists_RemoveDuplicates(t *testing.T) {
	ec := testCtx()

	t.Run("by compare fields keeps first", func(t *testing.T) {
		def := defOf("Dedup", workflow.TypeItemLists, map[string]any{
			"operation":     "removeDuplicates",
			"compareFields": []any{"email"},
		})
		input := inputOf(itemsFrom(
			map[string]any{"email": "a@x.io", "n": float64(1)},
			map[string]any{"email": "b@x.io", "n": float64(2)},
			map[string]any{"email": "a@x.io", "n": float64(3)},
		)...)

		items := portItems(t, mustExecute(t, ItemLists{}, ec, def, input), item.PortMain)
		if len(items) != 2 {
			t.Fatalf("kept %d items, want 2", len(items))
		}
		if items[0].JSON["n"] != float64(1) {
			t.Error("first occurrence should win")
		}
	})

	t.Run("whole item identity", func(t *testing.T) {
		def := defOf("Dedup", workflow.TypeItemLists, map[string]any{
			"operation": "removeDuplicates",
		})
		input := inputOf(itemsFrom(
			map[string]any{"a": float64(1)},
			map[string]any{"a": float64(1)},
			map[string]any{"a": float64(2)},
		)...)

		items := portItems(t, mustExecute(t, ItemLists{}, ec, def, input), item.PortMain)
		if len(items) != 2 {
			t.Errorf("kept %d items, want 2", len(items))
		}
	})
}

func TestItemLists_Sort(t *testing.T) {
	ec := testCtx()

	t.Run("numeric ascending", func(t *testing.T) {
		def := defOf("Sort", workflow.TypeItemLists, map[string]any{
			"operation": "sort",
			"sortField": "n",
		})
		input := inputOf(itemsFrom(
			map[string]any{"n": float64(10)},
			map[string]any{"n": float64(2)},
			map[string]any{"n": float64(7)},
		)...)

		items := portItems(t, mustExecute(t, ItemLists{}, ec, def, input), item.PortMain)
		got := []any{items[0].JSON["n"], items[1].JSON["n"], items[2].JSON["n"]}
		want := []any{float64(2), float64(7), float64(10)}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("order = %v, want %v", got, want)
			}
		}
	})

	t.Run("string descending", func(t *testing.T) {
		def := defOf("Sort", workflow.TypeItemLists, map[string]any{
			"operation": "sort",
			"sortField": "name",
			"order":     "desc",
		})
		input := inputOf(itemsFrom(
			map[string]any{"name": "ada"},
			map[string]any{"name": "zoe"},
			map[string]any{"name": "mia"},
		)...)

		items := portItems(t, mustExecute(t, ItemLists{}, ec, def, input), item.PortMain)
		if items[0].JSON["name"] != "zoe" || items[2].JSON["name"] != "ada" {
			t.Errorf("descending order broken: %v %v %v",
				items[0].JSON["name"], items[1].JSON["name"], items[2].JSON["name"])
		}
	})

	t.Run("missing sortField errors", func(t *testing.T) {
		def := defOf("Sort", workflow.TypeItemLists, map[string]any{"operation": "sort"})
		if _, err := (ItemLists{}).Execute(context.Background(), ec, def, inputOf()); err == nil {
			t.Fatal("want error when sortField is missing")
		}
	})
}

func TestItemLists_Limit(t *testing.T) {
	ec := testCtx()
	source := itemsFrom(
		map[string]any{"i": float64(0)},
		map[string]any{"i": float64(1)},
		map[string]any{"i": float64(2)},
	)

	t.Run("first", func(t *testing.T) {
		def := defOf("Limit", workflow.TypeItemLists, map[string]any{
			"operation": "limit",
			"maxItems":  float64(2),
		})
		items := portItems(t, mustExecute(t, ItemLists{}, ec, def, inputOf(source...)), item.PortMain)
		if len(items) != 2 || items[1].JSON["i"] != float64(1) {
			t.Errorf("first-2 = %v", items)
		}
	})

	t.Run("last", func(t *testing.T) {
		def := defOf("Limit", workflow.TypeItemLists, map[string]any{
			"operation": "limit",
			"maxItems":  float64(2),
			"keep":      "lastItems",
		})
		items := portItems(t, mustExecute(t, ItemLists{}, ec, def, inputOf(source...)), item.PortMain)
		if len(items) != 2 || items[0].JSON["i"] != float64(1) {
			t.Errorf("last-2 = %v", items)
		}
	})

	t.Run("larger than input keeps all", func(t *testing.T) {
		def := defOf("Limit", workflow.TypeItemLists, map[string]any{
			"operation": "limit",
			"maxItems":  float64(50),
		})
		items := portItems(t, mustExecute(t, ItemLists{}, ec, def, inputOf(source...)), item.PortMain)
		if len(items) != 3 {
			t.Errorf("kept %d, want all 3", len(items))
		}
	})

	t.Run("negative rejected", func(t *testing.T) {
		def := defOf("Limit", workflow.TypeItemLists, map[string]any{
			"operation": "limit",
			"maxItems":  float64(-1),
		})
		if _, err := (ItemLists{}).Execute(context.Background(), ec, def, inputOf(source...)); err == nil {
			t.Fatal("want error for negative maxItems")
		}
	})
}

func TestItemLists_UnknownOperation(t *testing.T) {
	ec := testCtx()
	def := defOf("Weird", workflow.TypeItemLists, map[string]any{"operation": "explode"})

	if _, err := (ItemLists{}).Execute(context.Background(), ec, def, inputOf()); err == nil {
		t.Fatal("want error for unknown operation")
	}
}
