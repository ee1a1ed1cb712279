// Package nodes implements the built-in node library: triggers, data
// transforms, and flow control. Every node here registers itself through
// RegisterAll and is looked up by the runner via the node registry.
package nodes

import (
	"encoding/json"
	"time"

	"github.com/tidwall/gjson"

	"github.com/lyzr/flowrunner/engine/expr"
	"github.com/lyzr/flowrunner/engine/item"
	"github.com/lyzr/flowrunner/engine/node"
	"github.com/lyzr/flowrunner/engine/workflow"
)

// resolveForItem re-runs the expression engine over a parameter value for
// one specific item. The runner's pre-pass leaves $json/$itemIndex
// templates untouched, so per-item nodes finish the job here.
func resolveForItem(ec *node.ExecContext, def *workflow.Node, items []*item.Item, idx int, value any) any {
	if ec.Expr == nil {
		return value
	}
	return ec.Expr.Resolve(value, ec.ExprContext(items, idx), false)
}

// intParam reads an integer parameter, accepting the float64 that JSON
// decoding produces.
func intParam(def *workflow.Node, key string, fallback int) int {
	switch v := def.Param(key, nil).(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}

// boolParam reads a boolean parameter.
func boolParam(def *workflow.Node, key string, fallback bool) bool {
	if v, ok := def.Param(key, fallback).(bool); ok {
		return v
	}
	return fallback
}

// mapParam reads an object parameter.
func mapParam(def *workflow.Node, key string) map[string]any {
	if v, ok := def.Param(key, nil).(map[string]any); ok {
		return v
	}
	return nil
}

// listParam reads an array parameter.
func listParam(def *workflow.Node, key string) []any {
	if v, ok := def.Param(key, nil).([]any); ok {
		return v
	}
	return nil
}

// fieldValue digs a dotted path out of an item's json.
func fieldValue(it *item.Item, path string) any {
	if it == nil || path == "" {
		return nil
	}
	if v, ok := it.JSON[path]; ok {
		return v
	}
	data, err := json.Marshal(it.JSON)
	if err != nil {
		return nil
	}
	res := gjson.GetBytes(data, path)
	if !res.Exists() {
		return nil
	}
	return res.Value()
}

// stringify is the expression engine's rendering, shared so node output
// matches interpolation output.
func stringify(v any) string {
	return expr.Stringify(v)
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// passthroughOrSeed returns the inbound items untouched when the caller
// seeded the trigger, or a single synthesized item otherwise. The runner
// pads a missing seed to one blank item, so a lone blank item also counts
// as "no payload".
func passthroughOrSeed(in *node.Input, seed map[string]any) item.Result {
	if len(in.Items) == 1 && len(in.Items[0].JSON) == 0 && len(in.Items[0].Binary) == 0 {
		return item.MainResult(item.New(seed))
	}
	if len(in.Items) > 0 {
		return item.MainResult(in.Items...)
	}
	return item.MainResult(item.New(seed))
}
