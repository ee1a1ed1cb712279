package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/lyzr/flowrunner/engine/event"
	"github.com/lyzr/flowrunner/engine/item"
	"github.com/lyzr/flowrunner/engine/workflow"
)

type stubNode struct {
	typ string
}

func (s stubNode) Type() string           { return s.typ }
func (s stubNode) Description() string    { return "stub" }
func (s stubNode) InputCount() int        { return 1 }
func (s stubNode) Descriptor() Descriptor { return Descriptor{Inputs: MainPorts(), Outputs: MainPorts()} }

func (s stubNode) Execute(ctx context.Context, ec *ExecContext, def *workflow.Node, in *Input) (item.Result, error) {
	return item.MainResult(in.Items...), nil
}

func TestNewExecContext_Defaults(t *testing.T) {
	ec := NewExecContext("exec-1", ModeManual)

	if ec.ExecutionID != "exec-1" || ec.Mode != ModeManual {
		t.Fatalf("identity = %q/%q", ec.ExecutionID, ec.Mode)
	}
	if ec.MaxDepth != DefaultMaxDepth {
		t.Errorf("MaxDepth = %d, want %d", ec.MaxDepth, DefaultMaxDepth)
	}
	if ec.StartTime.IsZero() {
		t.Error("StartTime not stamped")
	}
	if ec.CompletedNodes() != 0 || ec.PendingBuckets() != 0 {
		t.Error("fresh context is not empty")
	}
}

func TestChild_InheritsRunPlumbing(t *testing.T) {
	parent := NewExecContext("exec-parent", ModeWebhook)
	parent.Depth = 2

	child := parent.Child("exec-child")

	if child.Depth != 3 {
		t.Errorf("Depth = %d, want 3", child.Depth)
	}
	if child.ParentExecutionID != "exec-parent" {
		t.Errorf("ParentExecutionID = %q", child.ParentExecutionID)
	}
	if child.Mode != ModeWebhook {
		t.Errorf("Mode = %q, want inherited webhook", child.Mode)
	}
	if child.MaxDepth != parent.MaxDepth {
		t.Errorf("MaxDepth = %d, want %d", child.MaxDepth, parent.MaxDepth)
	}
	if child.ExecutionID == parent.ExecutionID {
		t.Error("child must own a fresh execution id")
	}
}

func TestPendingInputs_BucketLifecycle(t *testing.T) {
	ec := NewExecContext("exec-1", ModeManual)
	bucket := BucketKey("Join", 0)

	if n := ec.AddPendingInput(bucket, "A:main", item.NewOutput(item.New(map[string]any{"a": 1}))); n != 1 {
		t.Fatalf("first arrival count = %d, want 1", n)
	}
	// Same source again must not grow the bucket.
	if n := ec.AddPendingInput(bucket, "A:main", item.NewOutput()); n != 1 {
		t.Fatalf("duplicate source count = %d, want 1", n)
	}
	if n := ec.AddPendingInput(bucket, "B:true", item.NoOutput()); n != 2 {
		t.Fatalf("second arrival count = %d, want 2", n)
	}

	got, ok := ec.TakePendingInputs(bucket)
	if !ok || len(got) != 2 {
		t.Fatalf("TakePendingInputs = %v, %v", got, ok)
	}
	if !got["B:true"].IsNoOutput() {
		t.Error("no-output sentinel lost in bucket")
	}
	if _, ok := ec.TakePendingInputs(bucket); ok {
		t.Error("bucket must be consumed exactly once")
	}
	if ec.PendingBuckets() != 0 {
		t.Errorf("PendingBuckets = %d after take", ec.PendingBuckets())
	}
}

func TestInternalState_SetGetClear(t *testing.T) {
	ec := NewExecContext("exec-1", ModeManual)

	if _, ok := ec.InternalState("Loop"); ok {
		t.Fatal("unexpected state for fresh node")
	}
	ec.SetInternalState("Loop", 3)
	v, ok := ec.InternalState("Loop")
	if !ok || v.(int) != 3 {
		t.Fatalf("InternalState = %v, %v", v, ok)
	}
	ec.ClearInternalState("Loop")
	if _, ok := ec.InternalState("Loop"); ok {
		t.Error("state survived clear")
	}
}

func TestAddError_KeepsOrder(t *testing.T) {
	ec := NewExecContext("exec-1", ModeManual)
	ec.AddError("A", "first")
	ec.AddError("B", "second")

	errs := ec.Errors()
	if len(errs) != 2 || errs[0].Node != "A" || errs[1].Node != "B" {
		t.Fatalf("Errors = %+v", errs)
	}
	if errs[0].Timestamp.IsZero() {
		t.Error("error lacks timestamp")
	}
}

func TestWebhookResponse_FirstWins(t *testing.T) {
	ec := NewExecContext("exec-1", ModeWebhook)
	ec.SetWebhookResponse(&WebhookResponse{Status: 201})
	ec.SetWebhookResponse(&WebhookResponse{Status: 500})

	if got := ec.WebhookResponse(); got == nil || got.Status != 201 {
		t.Fatalf("WebhookResponse = %+v, want first capture", got)
	}
}

func TestEmit_FillsIdentityAndSurvivesPanic(t *testing.T) {
	ec := NewExecContext("exec-1", ModeManual)

	// Nil sink is a no-op.
	ec.Emit(event.Event{Type: event.NodeStart})

	var got []event.Event
	ec.SetEventSink(func(ev event.Event) {
		got = append(got, ev)
		if len(got) == 1 {
			panic("subscriber bug")
		}
	})

	ec.Emit(event.Event{Type: event.NodeStart, NodeName: "A"})
	ec.Emit(event.Event{Type: event.NodeComplete, NodeName: "A"})

	if len(got) != 2 {
		t.Fatalf("delivered %d events, want 2", len(got))
	}
	for _, ev := range got {
		if ev.ExecutionID != "exec-1" {
			t.Errorf("ExecutionID = %q, want stamped", ev.ExecutionID)
		}
		if ev.Timestamp.IsZero() {
			t.Error("Timestamp not stamped")
		}
	}
}

func TestNodeState_ConcurrentWrites(t *testing.T) {
	ec := NewExecContext("exec-1", ModeManual)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("n%d", i)
			ec.SetNodeState(name, []*item.Item{item.New(map[string]any{"i": i})})
			ec.IncrementRunCount(name)
			ec.AddError(name, "x")
		}(i)
	}
	wg.Wait()

	if got := len(ec.NodeStates()); got != 32 {
		t.Errorf("NodeStates = %d entries, want 32", got)
	}
	if got := ec.CompletedNodes(); got != 32 {
		t.Errorf("CompletedNodes = %d, want 32", got)
	}
	if got := len(ec.Errors()); got != 32 {
		t.Errorf("Errors = %d, want 32", got)
	}
}

func TestRegistry_LookupAndUnknown(t *testing.T) {
	r := NewRegistry()
	r.Register(stubNode{typ: "set"})
	r.Register(stubNode{typ: "if"})

	n, err := r.Get("set")
	if err != nil || n.Type() != "set" {
		t.Fatalf("Get(set) = %v, %v", n, err)
	}

	_, err = r.Get("nope")
	var unknown *UnknownTypeError
	if !errors.As(err, &unknown) || unknown.Type != "nope" {
		t.Fatalf("Get(nope) error = %v, want UnknownTypeError", err)
	}

	types := r.Types()
	if len(types) != 2 || types[0] != "if" || types[1] != "set" {
		t.Errorf("Types = %v, want sorted [if set]", types)
	}
	if !r.Has("if") || r.Has("nope") {
		t.Error("Has misreports registration")
	}
}

func TestStopSignal_Severity(t *testing.T) {
	warn := StopWithWarning("responded")
	if !warn.IsWarning() || warn.Error() != "responded" {
		t.Errorf("warning signal = %+v", warn)
	}
	stop := StopWithError("bad input: %d", 7)
	if stop.IsWarning() || stop.Error() != "bad input: 7" {
		t.Errorf("error signal = %+v", stop)
	}
}
