package nodes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/lyzr/flowrunner/engine/item"
	"github.com/lyzr/flowrunner/engine/node"
	"github.com/lyzr/flowrunner/engine/workflow"
)

// Code execution modes.
const (
	RunOncePerItem     = "runOncePerItem"
	RunOnceForAllItems = "runOnceForAllItems"
)

// codeTimeout bounds one Code node execution when the context carries no
// configured limit.
const codeTimeout = 5 * time.Second

// Code evaluates a user-supplied expression against each item (or once
// for the whole list). Scripts see json, items, itemIndex, node, env, and
// execution; they cannot reach the host.
type Code struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewCode creates the node with an empty program cache.
func NewCode() *Code {
	return &Code{cache: make(map[string]*vm.Program)}
}

func (c *Code) Type() string        { return workflow.TypeCode }
func (c *Code) Description() string { return "Runs a sandboxed script over the items" }
func (c *Code) InputCount() int     { return 1 }

func (c *Code) Descriptor() node.Descriptor {
	return node.Descriptor{
		Inputs:  node.MainPorts(),
		Outputs: node.MainPorts(),
		Groups:  []string{"transform"},
		Properties: []node.Property{
			{Name: "code", Type: "string", Description: "Expression returning the new item json"},
			{Name: "mode", Type: "options", Default: RunOncePerItem, Options: []string{RunOncePerItem, RunOnceForAllItems}},
		},
	}
}

func (c *Code) Execute(ctx context.Context, ec *node.ExecContext, def *workflow.Node, in *node.Input) (item.Result, error) {
	source := def.StringParam("code", "")
	if strings.TrimSpace(source) == "" {
		return nil, fmt.Errorf("code parameter is empty")
	}
	mode := def.StringParam("mode", RunOncePerItem)

	program, err := c.program(source)
	if err != nil {
		return nil, fmt.Errorf("code does not compile: %w", err)
	}

	timeout := ec.CodeTimeout
	if timeout <= 0 {
		timeout = codeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		items []*item.Item
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		items, err := c.run(ec, in, program, mode)
		done <- outcome{items: items, err: err}
	}()

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("code execution timed out after %s", timeout)
		}
		return nil, ctx.Err()
	case o := <-done:
		if o.err != nil {
			return nil, o.err
		}
		return item.MainResult(o.items...), nil
	}
}

func (c *Code) run(ec *node.ExecContext, in *node.Input, program *vm.Program, mode string) ([]*item.Item, error) {
	if mode == RunOnceForAllItems {
		result, err := expr.Run(program, c.scriptEnv(ec, in.Items, 0))
		if err != nil {
			return nil, fmt.Errorf("code failed: %w", err)
		}
		return itemsFromScript(result), nil
	}

	var out []*item.Item
	for i := range in.Items {
		result, err := expr.Run(program, c.scriptEnv(ec, in.Items, i))
		if err != nil {
			return nil, fmt.Errorf("code failed on item %d: %w", i, err)
		}
		out = append(out, itemsFromScript(result)...)
	}
	return out, nil
}

// scriptEnv exposes the same variables the template engine offers, under
// the names scripts use without the $ prefix.
func (c *Code) scriptEnv(ec *node.ExecContext, items []*item.Item, idx int) map[string]any {
	ectx := ec.ExprContext(items, idx)
	return map[string]any{
		"json":      ectx.JSON,
		"items":     ectx.Input,
		"itemIndex": ectx.ItemIndex,
		"node":      ectx.Nodes,
		"env":       ectx.Env,
		"execution": ectx.Execution,
	}
}

func (c *Code) program(source string) (*vm.Program, error) {
	c.mu.RLock()
	program, ok := c.cache[source]
	c.mu.RUnlock()
	if ok {
		return program, nil
	}

	program, err := expr.Compile(source,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[source] = program
	c.mu.Unlock()
	return program, nil
}

// itemsFromScript converts a script result into items: a list expands,
// an object becomes one item, nil drops the item, and scalars are
// wrapped under "value".
func itemsFromScript(result any) []*item.Item {
	switch v := result.(type) {
	case nil:
		return nil
	case []any:
		return item.FromJSONList(v)
	case map[string]any:
		return []*item.Item{item.New(v)}
	default:
		return []*item.Item{item.New(map[string]any{"value": v})}
	}
}
