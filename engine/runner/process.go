package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lyzr/flowrunner/engine/item"
	"github.com/lyzr/flowrunner/engine/node"
	"github.com/lyzr/flowrunner/engine/workflow"
)

// job is one scheduled unit of work: a node plus the items one upstream
// port delivered to it.
type job struct {
	node      *workflow.Node
	items     []*item.Item
	source    string
	srcOutput string
	runIndex  int

	// joinReady marks a bookkeeping job enqueued when a dead or empty
	// branch completed the node's join bucket. It carries no items of
	// its own; the bucket holds everything.
	joinReady bool
}

// jobResult is what one processed job hands back to the serial apply
// phase.
type jobResult struct {
	job     *job
	items   []*item.Item
	output  item.Result
	execErr error

	// waiting means the job parked its input in a join bucket that is
	// not complete yet; nothing is stored or scheduled for it.
	waiting bool
}

// perItemParams marks node types whose parameters carry per-item
// expressions. The pre-pass resolves their parameter tree with
// $json/$itemIndex templates left literal, and the listed keys are not
// touched at all: they are whole expressions the node evaluates itself,
// so pre-resolving them would destroy the text.
var perItemParams = map[string][]string{
	workflow.TypeIf:          {"condition", "conditions"},
	workflow.TypeFilter:      {"condition", "conditions"},
	workflow.TypeSwitch:      {"rules", "output"},
	workflow.TypeLoop:        {"exitCondition"},
	workflow.TypeCode:        {"code"},
	workflow.TypeSet:         nil,
	workflow.TypeHTTPRequest: nil,
}

// process runs one job through the per-job pipeline: registry lookup,
// join synchronization, pinned data, parameter resolution, subnode
// configuration, then the node itself with retry. It never touches the
// queue; scheduling happens in the serial apply phase.
func (r *Runner) process(ctx context.Context, ec *node.ExecContext, wf *workflow.Workflow, jb *job) *jobResult {
	res := &jobResult{job: jb}

	impl, err := r.registry.Get(jb.node.Type)
	if err != nil {
		res.execErr = err
		return res
	}

	var branches []node.Branch
	if multiInput(impl) && jb.source != "" {
		branches, res.waiting = r.joinInput(ec, wf, jb)
		if res.waiting {
			return res
		}
	}

	if len(jb.node.PinnedData) > 0 {
		pinned := make([]*item.Item, len(jb.node.PinnedData))
		for i, payload := range jb.node.PinnedData {
			pinned[i] = item.New(item.CopyJSONMap(payload))
		}
		res.items = pinned
		res.output = item.MainResult(pinned...)
		return res
	}

	def := r.resolveParameters(ec, jb.node, jb.items)

	configs, err := r.subnodeConfigs(ec, wf, jb.node)
	if err != nil {
		res.execErr = err
		return res
	}

	in := &node.Input{
		Items:    jb.items,
		RunIndex: jb.runIndex,
		Branches: branches,
		Configs:  configs,
	}
	output, err := r.runWithRetry(ctx, ec, impl, def, in)
	if err != nil {
		res.execErr = err
		return res
	}

	res.output = output
	res.items = output.Main().Items()
	return res
}

// joinInput synchronizes a multi-input node. A regular job parks its
// items in the node's bucket and waits until every distinct upstream
// (source, output) has reported; a joinReady job arrives when a dead
// branch already completed the bucket. Whoever consumes the bucket
// builds the branch list in connection declaration order, with missing
// sources read as dead, and the job's items become the concatenation of
// all live branches.
func (r *Runner) joinInput(ec *node.ExecContext, wf *workflow.Workflow, jb *job) ([]node.Branch, bool) {
	bucket := node.BucketKey(jb.node.Name, jb.runIndex)
	expected := wf.JoinSources(jb.node.Name)

	if !jb.joinReady {
		have := ec.AddPendingInput(bucket, jb.source+":"+jb.srcOutput, item.NewOutput(jb.items...))
		if have < len(expected) {
			return nil, true
		}
	}

	arrived, ok := ec.TakePendingInputs(bucket)
	if !ok {
		// Another arrival already fired this join.
		return nil, true
	}

	branches := make([]node.Branch, 0, len(expected))
	var merged []*item.Item
	for _, key := range expected {
		out, ok := arrived[key]
		if !ok {
			out = item.NoOutput()
		}
		branches = append(branches, node.Branch{Source: key, Output: out})
		merged = append(merged, out.Items()...)
	}
	jb.items = merged
	return branches, false
}

// resolveParameters pre-resolves a node's parameter tree against item 0
// of the job's input, returning a copy so the shared workflow definition
// stays untouched. Per-item node types keep their deferred expressions
// for resolution inside Execute.
func (r *Runner) resolveParameters(ec *node.ExecContext, def *workflow.Node, items []*item.Item) *workflow.Node {
	if len(def.Parameters) == 0 {
		return def
	}

	deferred, perItem := perItemParams[def.Type]
	params := make(map[string]any, len(def.Parameters))
	for k, v := range def.Parameters {
		params[k] = v
	}
	for _, key := range deferred {
		delete(params, key)
	}

	resolved, ok := r.expr.Resolve(params, ec.ExprContext(items, 0), perItem).(map[string]any)
	if !ok {
		resolved = params
	}
	for _, key := range deferred {
		if v, present := def.Parameters[key]; present {
			resolved[key] = v
		}
	}

	out := *def
	out.Parameters = resolved
	return &out
}

// subnodeConfigs runs the pre-pass over a node's subnode connections,
// collecting each provider's configuration keyed by slot name (the
// provider's node name when the connection names no slot). Subnode edges
// never schedule jobs; this is the only place the runner reads them.
func (r *Runner) subnodeConfigs(ec *node.ExecContext, wf *workflow.Workflow, def *workflow.Node) (map[string]map[string]any, error) {
	conns := wf.SubnodeConnectionsTo(def.Name)
	if len(conns) == 0 {
		return nil, nil
	}

	configs := make(map[string]map[string]any, len(conns))
	for _, c := range conns {
		subDef := wf.Node(c.SourceNode)
		if subDef == nil {
			continue
		}
		impl, err := r.registry.Get(subDef.Type)
		if err != nil {
			return nil, err
		}
		provider, ok := impl.(node.ConfigProvider)
		if !ok {
			return nil, fmt.Errorf("node %q of type %q is wired as a subnode but provides no configuration", subDef.Name, subDef.Type)
		}
		cfg, err := provider.Config(ec, subDef)
		if err != nil {
			return nil, fmt.Errorf("subnode %q configuration: %w", subDef.Name, err)
		}
		slot := c.SlotName
		if slot == "" {
			slot = subDef.Name
		}
		configs[slot] = cfg
	}
	return configs, nil
}

// runWithRetry executes a node up to retry_on_fail+1 times, sleeping
// retry_delay between attempts. Retries are per job; other jobs in the
// layer keep running through the sleep. Stop signals and recursion
// errors are control flow, not failures, so they never retry. The final
// failure is annotated with the attempt count when retries were
// configured.
func (r *Runner) runWithRetry(ctx context.Context, ec *node.ExecContext, impl node.Node, def *workflow.Node, in *node.Input) (item.Result, error) {
	attempts := def.RetryOnFail + 1
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		output, err := impl.Execute(ctx, ec, def, in)
		if err == nil {
			return output, nil
		}
		lastErr = err

		var stop *node.StopSignal
		var recursion *node.RecursionError
		if errors.As(err, &stop) || errors.As(err, &recursion) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, err
		}

		if attempt < attempts {
			r.log.Warn("node failed, retrying",
				"node", def.Name,
				"attempt", attempt,
				"max_attempts", attempts,
				"retry_delay_ms", def.RetryDelayMS(),
				"error", err)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(def.RetryDelayMS()) * time.Millisecond):
			}
		}
	}

	if attempts > 1 {
		lastErr = fmt.Errorf("%w (after %d attempts)", lastErr, attempts)
	}
	return nil, lastErr
}
