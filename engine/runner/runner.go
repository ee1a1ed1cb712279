// Package runner executes workflows: a layered breadth-first scheduler
// that runs each layer's jobs concurrently, joins multi-input nodes on
// distinct upstream arrivals, and applies results serially so join
// bookkeeping and downstream scheduling stay deterministic.
package runner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/flowrunner/common/logger"
	"github.com/lyzr/flowrunner/engine/event"
	"github.com/lyzr/flowrunner/engine/expr"
	"github.com/lyzr/flowrunner/engine/item"
	"github.com/lyzr/flowrunner/engine/node"
	"github.com/lyzr/flowrunner/engine/nodes"
	"github.com/lyzr/flowrunner/engine/workflow"
)

// runnerNode is the node name run-level errors are attributed to.
const runnerNode = "WorkflowRunner"

// Runner executes workflows against a node registry. One runner serves
// the whole process; runs are independent and may proceed in parallel.
type Runner struct {
	registry      *node.Registry
	expr          *expr.Engine
	log           *logger.Logger
	httpClient    *http.Client
	checkURL      func(string) error
	maxDepth      int
	maxIterations int
	codeTimeout   time.Duration
	waitCap       time.Duration
}

// Opts configures a Runner. Zero fields get working defaults: the
// built-in node library, a discarding logger, and a 30 s HTTP client.
type Opts struct {
	Registry   *node.Registry
	Log        *logger.Logger
	HTTPClient *http.Client

	// CheckURL vets HTTPRequest targets before they are dialed; nil
	// allows every URL.
	CheckURL func(rawURL string) error

	// MaxDepth caps sub-workflow nesting; zero or negative keeps the
	// default of 10.
	MaxDepth int

	// MaxIterations bounds the scheduling loop for workflows whose
	// settings leave it unset; zero or negative keeps the default of
	// 1000.
	MaxIterations int

	// CodeTimeout and WaitCap bound Code executions and Wait suspensions;
	// zero keeps the node defaults of 5 s and 300 s.
	CodeTimeout time.Duration
	WaitCap     time.Duration
}

// New builds a runner. The expression engine is created here once so its
// compiled-program cache is shared across runs.
func New(opts Opts) *Runner {
	log := opts.Log
	if log == nil {
		log = logger.Discard()
	}
	registry := opts.Registry
	if registry == nil {
		registry = nodes.NewRegistry()
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = node.DefaultMaxDepth
	}
	return &Runner{
		registry:      registry,
		expr:          expr.MustNew(log),
		log:           log,
		httpClient:    client,
		checkURL:      opts.CheckURL,
		maxDepth:      maxDepth,
		maxIterations: opts.MaxIterations,
		codeTimeout:   opts.CodeTimeout,
		waitCap:       opts.WaitCap,
	}
}

// Request describes one workflow run.
type Request struct {
	Workflow *workflow.Workflow
	// StartNode names the entry point; empty picks Webhook, then Cron,
	// then Start, then the first declared node.
	StartNode string
	// Seed is the trigger's input; nil becomes a single empty item.
	Seed []*item.Item
	// Mode is manual, webhook, or cron; empty means manual.
	Mode string
	// ExecutionID is generated when empty.
	ExecutionID string
	// OnEvent receives execution events synchronously; may be nil.
	OnEvent event.Sink
	// Workflows lets ExecuteWorkflow nodes load sub-workflows; may be nil
	// when the workflow has none.
	Workflows node.WorkflowSource
}

// Run executes a workflow to completion and returns its final context.
// The error is non-nil only when the run could not start (invalid
// workflow, missing start node); every mid-run failure is recorded on
// the context and reported through the event stream instead.
func (r *Runner) Run(ctx context.Context, req Request) (*node.ExecContext, error) {
	wf := req.Workflow
	if wf == nil {
		return nil, errors.New("no workflow given")
	}
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	wf.Normalize()

	mode := req.Mode
	if mode == "" {
		mode = node.ModeManual
	}
	execID := req.ExecutionID
	if execID == "" {
		execID = uuid.NewString()
	}

	ec := node.NewExecContext(execID, mode)
	ec.Expr = r.expr
	ec.HTTPClient = r.httpClient
	ec.CheckURL = r.checkURL
	ec.CodeTimeout = r.codeTimeout
	ec.WaitCap = r.waitCap
	ec.Log = r.log.WithExecutionID(execID)
	ec.MaxDepth = r.maxDepth
	ec.Workflows = req.Workflows
	ec.SubRunner = r
	ec.SetEventSink(req.OnEvent)

	if err := r.execute(ctx, ec, wf, req.StartNode, req.Seed); err != nil {
		return ec, err
	}
	return ec, nil
}

// RunSubWorkflow executes a nested workflow for an ExecuteWorkflow node.
// The child context inherits the parent's depth budget, repository, and
// clients; its node-level events are tagged with the parent node name.
func (r *Runner) RunSubWorkflow(ctx context.Context, parent *node.ExecContext, wf *workflow.Workflow, parentNode string, seed []*item.Item) (*node.SubWorkflowResult, error) {
	if parent.Depth+1 > parent.MaxDepth {
		return nil, &node.RecursionError{Depth: parent.Depth + 1, Max: parent.MaxDepth}
	}
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	wf.Normalize()

	child := parent.Child(uuid.NewString())
	child.SetEventSink(event.WrapSubworkflow(parent.Emit, parentNode, wf.ID))

	startName := ""
	if trigger := wf.FirstNodeOfType(workflow.TypeExecuteWorkflowTrigger); trigger != nil {
		startName = trigger.Name
	}
	if err := r.execute(ctx, child, wf, startName, seed); err != nil {
		return nil, err
	}
	if errs := child.Errors(); len(errs) > 0 {
		return nil, fmt.Errorf("sub-workflow %q failed at node %q: %s", wf.Name, errs[0].Node, errs[0].Message)
	}

	return &node.SubWorkflowResult{
		ExecutionID: child.ExecutionID,
		Outputs:     terminalOutputs(wf, child),
	}, nil
}

// maxIterationsFor resolves the scheduling bound: workflow settings win,
// then the runner option, then the package default.
func (r *Runner) maxIterationsFor(wf *workflow.Workflow) int {
	if wf.Settings == nil || wf.Settings.MaxIterations <= 0 {
		if r.maxIterations > 0 {
			return r.maxIterations
		}
	}
	return wf.MaxIterations()
}

// execute drives the scheduling loop. Returning an error means the run
// never started; a run that started always finishes with a terminal
// execution event, whatever its node outcomes.
func (r *Runner) execute(ctx context.Context, ec *node.ExecContext, wf *workflow.Workflow, startName string, seed []*item.Item) error {
	total := len(wf.Nodes)
	ec.Emit(event.Event{Type: event.ExecutionStart, Progress: &event.Progress{Total: total}})

	var start *workflow.Node
	if startName != "" {
		start = wf.Node(startName)
	} else {
		start = wf.FindStartNode()
	}
	if start == nil {
		msg := "workflow has no start node"
		if startName != "" {
			msg = fmt.Sprintf("start node %q not found", startName)
		}
		ec.AddError(runnerNode, msg)
		ec.Emit(event.Event{Type: event.ExecutionError, Error: msg})
		return errors.New(msg)
	}

	if len(seed) == 0 {
		seed = []*item.Item{item.Empty()}
	}

	queue := []*job{{node: start, items: seed, srcOutput: item.PortMain}}
	maxIterations := r.maxIterationsFor(wf)
	iterations := 0

	for len(queue) > 0 {
		if iterations >= maxIterations {
			msg := fmt.Sprintf("exceeded maximum iterations (%d)", maxIterations)
			ec.AddError(runnerNode, msg)
			ec.Emit(event.Event{Type: event.ExecutionError, Error: msg, Progress: progressOf(ec, total)})
			return nil
		}
		iterations++

		batch := queue
		queue = nil

		for _, jb := range batch {
			if ec.RunCount(jb.node.Name) == 0 {
				ec.Emit(event.Event{Type: event.NodeStart, NodeName: jb.node.Name, NodeType: jb.node.Type})
			}
		}

		results := make([]*jobResult, len(batch))
		var wg sync.WaitGroup
		for i, jb := range batch {
			wg.Add(1)
			go func(i int, jb *job) {
				defer wg.Done()
				defer func() {
					if p := recover(); p != nil {
						results[i] = &jobResult{job: jb, execErr: fmt.Errorf("node panicked: %v", p)}
					}
				}()
				results[i] = r.process(ctx, ec, wf, jb)
			}(i, jb)
		}
		wg.Wait()

		if halt := r.apply(ec, wf, results, total, &queue); halt != nil {
			var stop *node.StopSignal
			if errors.As(halt, &stop) && stop.IsWarning() {
				break
			}
			ec.Emit(event.Event{Type: event.ExecutionError, Error: halt.Error(), Progress: progressOf(ec, total)})
			return nil
		}
	}

	ec.Emit(event.Event{Type: event.ExecutionComplete, Progress: progressOf(ec, total)})
	return nil
}

// apply folds a layer's results into the context one at a time: state
// stores, run counters, completion and error events, and downstream
// scheduling. A non-nil return halts the run after this layer.
func (r *Runner) apply(ec *node.ExecContext, wf *workflow.Workflow, results []*jobResult, total int, queue *[]*job) error {
	var halt error
	for _, res := range results {
		if res == nil || res.waiting {
			continue
		}
		name := res.job.node.Name
		nodeType := res.job.node.Type

		if res.execErr == nil {
			ec.SetNodeState(name, res.items)
			if ec.IncrementRunCount(name) == 1 {
				ec.Emit(event.Event{
					Type:     event.NodeComplete,
					NodeName: name,
					NodeType: nodeType,
					Data:     res.items,
					Progress: progressOf(ec, total),
				})
			}
			if halt == nil {
				r.schedule(ec, wf, res.job, res.output, queue)
			}
			continue
		}

		var stop *node.StopSignal
		if errors.As(res.execErr, &stop) {
			if !stop.IsWarning() {
				ec.AddError(name, stop.Message)
				ec.Emit(event.Event{Type: event.NodeError, NodeName: name, NodeType: nodeType, Error: stop.Message})
			}
			if halt == nil {
				halt = res.execErr
			}
			continue
		}

		ec.AddError(name, res.execErr.Error())
		ec.Emit(event.Event{Type: event.NodeError, NodeName: name, NodeType: nodeType, Error: res.execErr.Error()})

		var recursion *node.RecursionError
		if errors.As(res.execErr, &recursion) {
			if halt == nil {
				halt = res.execErr
			}
			continue
		}

		var unknown *node.UnknownTypeError
		if errors.As(res.execErr, &unknown) {
			continue
		}

		if res.job.node.ContinueOnFail {
			synthetic := []*item.Item{item.New(map[string]any{
				"error":      res.execErr.Error(),
				"_errorNode": name,
			})}
			ec.SetNodeState(name, synthetic)
			if halt == nil {
				r.schedule(ec, wf, res.job, item.MainResult(synthetic...), queue)
			}
			continue
		}

		if halt == nil {
			r.propagateNoOutput(ec, wf, res.job, queue)
		}
	}
	return halt
}

// schedule turns a node's result into next-layer jobs. Dead or empty
// ports satisfy downstream joins without scheduling anything; the loop
// port bumps the run index so cyclic graphs get fresh join buckets.
func (r *Runner) schedule(ec *node.ExecContext, wf *workflow.Workflow, jb *job, output item.Result, queue *[]*job) {
	ports := make([]string, 0, len(output))
	for port := range output {
		ports = append(ports, port)
	}
	sort.Strings(ports)

	for _, port := range ports {
		out := output[port]
		conns := wf.ConnectionsFrom(jb.node.Name, port)
		if len(conns) == 0 {
			continue
		}
		nextIndex := jb.runIndex
		if port == item.PortLoop {
			nextIndex++
		}

		items := out.Items()
		for _, c := range conns {
			target := wf.Node(c.TargetNode)
			if target == nil {
				continue
			}
			if out.IsNoOutput() || len(items) == 0 {
				r.deadArrival(ec, wf, target, jb.node.Name, port, nextIndex, out, queue)
				continue
			}
			*queue = append(*queue, &job{
				node:      target,
				items:     items,
				source:    jb.node.Name,
				srcOutput: port,
				runIndex:  nextIndex,
			})
		}
	}
}

// propagateNoOutput marks every multi-input node downstream of a failed
// node as satisfied-dead so joins over its branches can still fire.
func (r *Runner) propagateNoOutput(ec *node.ExecContext, wf *workflow.Workflow, jb *job, queue *[]*job) {
	for _, c := range wf.Connections {
		if !c.IsNormal() || c.SourceNode != jb.node.Name {
			continue
		}
		target := wf.Node(c.TargetNode)
		if target == nil {
			continue
		}
		nextIndex := jb.runIndex
		if c.SourceOutput == item.PortLoop {
			nextIndex++
		}
		r.deadArrival(ec, wf, target, c.SourceNode, c.SourceOutput, nextIndex, item.NoOutput(), queue)
	}
}

// deadArrival records a dead or empty branch against a downstream join.
// Single-input targets are simply not scheduled. When the arrival
// completes the join bucket, a bookkeeping job is enqueued so the join
// still fires this generation.
func (r *Runner) deadArrival(ec *node.ExecContext, wf *workflow.Workflow, target *workflow.Node, source, port string, runIndex int, out item.Output, queue *[]*job) {
	if !r.isMultiInputType(target.Type) {
		return
	}
	bucket := node.BucketKey(target.Name, runIndex)
	have := ec.AddPendingInput(bucket, source+":"+port, out)
	if have == len(wf.JoinSources(target.Name)) {
		*queue = append(*queue, &job{
			node:      target,
			source:    source,
			srcOutput: port,
			runIndex:  runIndex,
			joinReady: true,
		})
	}
}

func (r *Runner) isMultiInputType(nodeType string) bool {
	impl, err := r.registry.Get(nodeType)
	if err != nil {
		return false
	}
	return multiInput(impl)
}

func multiInput(impl node.Node) bool {
	n := impl.InputCount()
	return n > 1 || n == node.InputsDynamic
}

// terminalOutputs collects the final items of nodes with no outgoing
// normal connection; these are what a sub-workflow hands back.
func terminalOutputs(wf *workflow.Workflow, ec *node.ExecContext) map[string][]*item.Item {
	outgoing := make(map[string]bool)
	for _, c := range wf.Connections {
		if c.IsNormal() {
			outgoing[c.SourceNode] = true
		}
	}
	out := make(map[string][]*item.Item)
	for name, items := range ec.NodeStates() {
		if outgoing[name] || len(items) == 0 {
			continue
		}
		out[name] = items
	}
	return out
}

func progressOf(ec *node.ExecContext, total int) *event.Progress {
	return &event.Progress{Completed: ec.CompletedNodes(), Total: total}
}
