package expr

import (
	"os"
	"strings"

	"github.com/lyzr/flowrunner/engine/item"
)

// Context carries everything an expression can see: the current item,
// the whole input batch, prior node outputs, the process environment, and
// execution metadata.
type Context struct {
	// JSON is the current item's payload ($json).
	JSON map[string]any
	// Input holds every input item's payload in order ($input).
	Input []any
	// Nodes maps a prior node name to {"json": first item payload,
	// "data": [every item payload]} ($node["Name"]).
	Nodes map[string]any
	// Env is the process environment ($env).
	Env map[string]string
	// Execution carries {"id", "mode"} ($execution).
	Execution map[string]any
	// ItemIndex is the current item's position in the batch ($itemIndex).
	ItemIndex int
}

// ContextForItem builds the evaluation context for one item of a batch.
// states is the run's node_states snapshot; env may be shared across calls
// (see EnvMap).
func ContextForItem(items []*item.Item, index int, states map[string][]*item.Item, env map[string]string, executionID, mode string) *Context {
	ctx := &Context{
		JSON:      map[string]any{},
		Input:     item.JSONList(items),
		Nodes:     make(map[string]any, len(states)),
		Env:       env,
		Execution: map[string]any{"id": executionID, "mode": mode},
		ItemIndex: index,
	}
	if index >= 0 && index < len(items) {
		ctx.JSON = items[index].JSON
	}
	for name, nodeItems := range states {
		first := map[string]any{}
		if len(nodeItems) > 0 {
			first = nodeItems[0].JSON
		}
		ctx.Nodes[name] = map[string]any{
			"json": first,
			"data": item.JSONList(nodeItems),
		}
	}
	return ctx
}

// EnvMap snapshots the process environment once; runs reuse the snapshot
// for every expression.
func EnvMap() map[string]string {
	environ := os.Environ()
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		if i := strings.IndexByte(kv, '='); i > 0 {
			env[kv[:i]] = kv[i+1:]
		}
	}
	return env
}

// activation exposes the context under the CEL variable names.
func (c *Context) activation() map[string]any {
	env := c.Env
	if env == nil {
		env = map[string]string{}
	}
	return map[string]any{
		"json":      c.JSON,
		"input":     c.Input,
		"node":      c.Nodes,
		"env":       env,
		"execution": c.Execution,
		"itemIndex": c.ItemIndex,
	}
}
