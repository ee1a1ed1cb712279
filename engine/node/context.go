package node

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/lyzr/flowrunner/common/logger"
	"github.com/lyzr/flowrunner/engine/event"
	"github.com/lyzr/flowrunner/engine/expr"
	"github.com/lyzr/flowrunner/engine/item"
	"github.com/lyzr/flowrunner/engine/workflow"
)

// DefaultMaxDepth bounds sub-workflow nesting.
const DefaultMaxDepth = 10

// Run modes.
const (
	ModeManual  = "manual"
	ModeWebhook = "webhook"
	ModeCron    = "cron"
)

// WorkflowSource loads workflows for ExecuteWorkflow nodes. It is the
// narrow slice of the workflow repository the engine consumes.
type WorkflowSource interface {
	WorkflowByID(ctx context.Context, id string) (*workflow.Workflow, error)
}

// WorkflowSourceFunc adapts a function to the WorkflowSource interface.
type WorkflowSourceFunc func(ctx context.Context, id string) (*workflow.Workflow, error)

func (f WorkflowSourceFunc) WorkflowByID(ctx context.Context, id string) (*workflow.Workflow, error) {
	return f(ctx, id)
}

// SubWorkflowRunner executes a nested workflow on behalf of an
// ExecuteWorkflow node. The engine's runner implements it; nodes depend
// only on this interface.
type SubWorkflowRunner interface {
	RunSubWorkflow(ctx context.Context, parent *ExecContext, wf *workflow.Workflow, parentNode string, seed []*item.Item) (*SubWorkflowResult, error)
}

// SubWorkflowResult is what a finished sub-run hands back to its parent.
type SubWorkflowResult struct {
	ExecutionID string
	// Outputs maps each terminal node (no outgoing normal connection)
	// to its final items.
	Outputs map[string][]*item.Item
}

// ExecError is one recorded node failure.
type ExecError struct {
	Node      string    `json:"node"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// WebhookResponse is a custom HTTP response captured by a
// RespondToWebhook node for the dispatcher to return verbatim.
type WebhookResponse struct {
	Status      int               `json:"status"`
	Body        any               `json:"body"`
	Headers     map[string]string `json:"headers,omitempty"`
	ContentType string            `json:"content_type,omitempty"`
}

// ExecContext is the per-run state shared by the runner and the nodes it
// invokes. Jobs in one layer execute concurrently, so every mutable map
// sits behind the context mutex; plain fields are set once before the run
// starts and read-only after.
type ExecContext struct {
	ExecutionID string
	Mode        string
	StartTime   time.Time

	Expr       *expr.Engine
	HTTPClient *http.Client
	Log        *logger.Logger

	// CheckURL vets outbound request targets before HTTPRequest nodes
	// dial them; nil means every URL is allowed.
	CheckURL func(rawURL string) error

	// CodeTimeout and WaitCap bound Code executions and Wait suspensions;
	// zero falls back to the node defaults.
	CodeTimeout time.Duration
	WaitCap     time.Duration

	Depth             int
	MaxDepth          int
	ParentExecutionID string

	Workflows WorkflowSource
	SubRunner SubWorkflowRunner

	env map[string]string

	mu            sync.Mutex
	nodeStates    map[string][]*item.Item
	runCounts     map[string]int
	pendingInputs map[string]map[string]item.Output
	internalState map[string]any
	errors        []ExecError
	webhookResp   *WebhookResponse
	onEvent       event.Sink
}

// NewExecContext creates the state for one run. The environment snapshot
// used by $env expressions is taken here, once.
func NewExecContext(executionID, mode string) *ExecContext {
	return &ExecContext{
		ExecutionID:   executionID,
		Mode:          mode,
		StartTime:     time.Now().UTC(),
		MaxDepth:      DefaultMaxDepth,
		env:           expr.EnvMap(),
		nodeStates:    make(map[string][]*item.Item),
		runCounts:     make(map[string]int),
		pendingInputs: make(map[string]map[string]item.Output),
		internalState: make(map[string]any),
	}
}

// Child creates the context for a sub-workflow run, inheriting the
// parent's depth budget, repository, HTTP client, and engine handles.
func (ec *ExecContext) Child(executionID string) *ExecContext {
	child := NewExecContext(executionID, ec.Mode)
	child.Expr = ec.Expr
	child.HTTPClient = ec.HTTPClient
	child.Log = ec.Log
	child.CheckURL = ec.CheckURL
	child.CodeTimeout = ec.CodeTimeout
	child.WaitCap = ec.WaitCap
	child.Depth = ec.Depth + 1
	child.MaxDepth = ec.MaxDepth
	child.ParentExecutionID = ec.ExecutionID
	child.Workflows = ec.Workflows
	child.SubRunner = ec.SubRunner
	child.env = ec.env
	return child
}

// SetEventSink installs the event callback for this run.
func (ec *ExecContext) SetEventSink(sink event.Sink) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.onEvent = sink
}

// Emit delivers one event to the sink, if any. A panicking sink is
// logged and never aborts the run.
func (ec *ExecContext) Emit(ev event.Event) {
	ec.mu.Lock()
	sink := ec.onEvent
	ec.mu.Unlock()
	if sink == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil && ec.Log != nil {
			ec.Log.Warn("event sink panicked", "event_type", ev.Type, "panic", fmt.Sprint(r))
		}
	}()

	if ev.ExecutionID == "" {
		ev.ExecutionID = ec.ExecutionID
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	sink(ev)
}

// SetNodeState records a node's last-emitted items.
func (ec *ExecContext) SetNodeState(name string, items []*item.Item) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.nodeStates[name] = items
}

// NodeState returns a node's last-emitted items.
func (ec *ExecContext) NodeState(name string) ([]*item.Item, bool) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	items, ok := ec.nodeStates[name]
	return items, ok
}

// NodeStates returns a snapshot of every node's last output.
func (ec *ExecContext) NodeStates() map[string][]*item.Item {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	out := make(map[string][]*item.Item, len(ec.nodeStates))
	for name, items := range ec.nodeStates {
		out[name] = items
	}
	return out
}

// IncrementRunCount bumps a node's completed-run counter and returns the
// new count.
func (ec *ExecContext) IncrementRunCount(name string) int {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.runCounts[name]++
	return ec.runCounts[name]
}

// RunCount returns how many times a node completed successfully.
func (ec *ExecContext) RunCount(name string) int {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.runCounts[name]
}

// RunCounts returns a snapshot of all run counters.
func (ec *ExecContext) RunCounts() map[string]int {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	out := make(map[string]int, len(ec.runCounts))
	for name, n := range ec.runCounts {
		out[name] = n
	}
	return out
}

// CompletedNodes counts nodes that have run at least once.
func (ec *ExecContext) CompletedNodes() int {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return len(ec.runCounts)
}

// BucketKey builds the join-bucket key for a node at a loop generation.
func BucketKey(nodeName string, runIndex int) string {
	return fmt.Sprintf("%s:%d", nodeName, runIndex)
}

// AddPendingInput stores one branch arrival in a join bucket and returns
// how many distinct sources the bucket now holds.
func (ec *ExecContext) AddPendingInput(bucket, source string, out item.Output) int {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	b, ok := ec.pendingInputs[bucket]
	if !ok {
		b = make(map[string]item.Output)
		ec.pendingInputs[bucket] = b
	}
	b[source] = out
	return len(b)
}

// TakePendingInputs removes and returns a join bucket. The runner calls
// it exactly when the join fires, so a bucket is consumed once.
func (ec *ExecContext) TakePendingInputs(bucket string) (map[string]item.Output, bool) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	b, ok := ec.pendingInputs[bucket]
	if !ok {
		return nil, false
	}
	delete(ec.pendingInputs, bucket)
	return b, true
}

// PendingBuckets counts unfired join buckets, for tests and diagnostics.
func (ec *ExecContext) PendingBuckets() int {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return len(ec.pendingInputs)
}

// InternalState returns a node's private state (Loop counters,
// SplitInBatches queues).
func (ec *ExecContext) InternalState(name string) (any, bool) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	v, ok := ec.internalState[name]
	return v, ok
}

// SetInternalState stores a node's private state.
func (ec *ExecContext) SetInternalState(name string, v any) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.internalState[name] = v
}

// ClearInternalState drops a node's private state, typically when a loop
// finishes.
func (ec *ExecContext) ClearInternalState(name string) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	delete(ec.internalState, name)
}

// AddError records a node failure.
func (ec *ExecContext) AddError(nodeName, message string) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.errors = append(ec.errors, ExecError{
		Node:      nodeName,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}

// Errors returns a snapshot of recorded failures, in order.
func (ec *ExecContext) Errors() []ExecError {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	out := make([]ExecError, len(ec.errors))
	copy(out, ec.errors)
	return out
}

// SetWebhookResponse captures the custom response a RespondToWebhook node
// built. The first response wins.
func (ec *ExecContext) SetWebhookResponse(resp *WebhookResponse) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if ec.webhookResp == nil {
		ec.webhookResp = resp
	}
}

// WebhookResponse returns the captured custom response, if any.
func (ec *ExecContext) WebhookResponse() *WebhookResponse {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.webhookResp
}

// ExprContext builds the expression-evaluation context for one item of a
// job's input, carrying a snapshot of all node outputs for $node access.
func (ec *ExecContext) ExprContext(items []*item.Item, index int) *expr.Context {
	return expr.ContextForItem(items, index, ec.NodeStates(), ec.env, ec.ExecutionID, ec.Mode)
}
