package nodes

import (
	"context"
	"testing"

	"github.com/lyzr/flowrunner/engine/expr"
	"github.com/lyzr/flowrunner/engine/item"
	"github.com/lyzr/flowrunner/engine/node"
	"github.com/lyzr/flowrunner/engine/workflow"
)

func testCtx() *node.ExecContext {
	ec := node.NewExecContext("exec-test", node.ModeManual)
	ec.Expr = expr.MustNew(nil)
	return ec
}

func itemsFrom(jsons ...map[string]any) []*item.Item {
	out := make([]*item.Item, len(jsons))
	for i, j := range jsons {
		out[i] = item.New(j)
	}
	return out
}

func inputOf(items ...*item.Item) *node.Input {
	return &node.Input{Items: items}
}

func defOf(name, typ string, params map[string]any) *workflow.Node {
	return &workflow.Node{Name: name, Type: typ, Parameters: params}
}

func mustExecute(t *testing.T, n node.Node, ec *node.ExecContext, def *workflow.Node, in *node.Input) item.Result {
	t.Helper()
	res, err := n.Execute(context.Background(), ec, def, in)
	if err != nil {
		t.Fatalf("%s execute: %v", n.Type(), err)
	}
	return res
}

func portItems(t *testing.T, res item.Result, port string) []*item.Item {
	t.Helper()
	out, ok := res[port]
	if !ok {
		t.Fatalf("result has no %q port (ports: %v)", port, resultPorts(res))
	}
	if out.IsNoOutput() {
		t.Fatalf("port %q carries the no-output sentinel", port)
	}
	return out.Items()
}

func wantNoOutput(t *testing.T, res item.Result, port string) {
	t.Helper()
	out, ok := res[port]
	if !ok {
		t.Fatalf("result has no %q port (ports: %v)", port, resultPorts(res))
	}
	if !out.IsNoOutput() {
		t.Fatalf("port %q = %d items, want no-output sentinel", port, out.Len())
	}
}

func resultPorts(res item.Result) []string {
	ports := make([]string, 0, len(res))
	for p := range res {
		ports = append(ports, p)
	}
	return ports
}

func jsonField(t *testing.T, it *item.Item, key string) any {
	t.Helper()
	if it == nil {
		t.Fatal("nil item")
	}
	return it.JSON[key]
}
