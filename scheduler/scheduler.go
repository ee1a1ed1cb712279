// Package scheduler keeps cron entries in step with the active workflows
// that carry Cron trigger nodes. Sync is called at startup and after
// every workflow mutation; each tick runs its workflow in cron mode.
package scheduler

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/lyzr/flowrunner/common/logger"
	"github.com/lyzr/flowrunner/engine/event"
	"github.com/lyzr/flowrunner/engine/node"
	"github.com/lyzr/flowrunner/engine/runner"
	"github.com/lyzr/flowrunner/engine/workflow"
	"github.com/lyzr/flowrunner/store"
)

// defaultSchedule matches the Cron node's descriptor default.
const defaultSchedule = "*/5 * * * *"

// Scheduler owns the process-wide cron table. Entries are keyed by
// workflow id and node name so one workflow can carry several Cron
// triggers with independent schedules.
type Scheduler struct {
	cron       *cron.Cron
	workflows  store.WorkflowStore
	executions store.ExecutionStore
	runner     *runner.Runner
	log        *logger.Logger
	onEvent    event.Sink

	mu      sync.Mutex
	entries map[string]cron.EntryID
	specs   map[string]string
}

// Opts configures a Scheduler.
type Opts struct {
	Workflows  store.WorkflowStore
	Executions store.ExecutionStore
	Runner     *runner.Runner
	Log        *logger.Logger
	// OnEvent forwards run events to the relay; may be nil.
	OnEvent event.Sink
}

// New builds a scheduler with standard 5-field cron specs.
func New(opts Opts) *Scheduler {
	log := opts.Log
	if log == nil {
		log = logger.Discard()
	}
	return &Scheduler{
		cron:       cron.New(),
		workflows:  opts.Workflows,
		executions: opts.Executions,
		runner:     opts.Runner,
		log:        log,
		onEvent:    opts.OnEvent,
		entries:    make(map[string]cron.EntryID),
		specs:      make(map[string]string),
	}
}

// Start syncs the cron table and begins firing entries.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.Sync(ctx); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron table and waits for in-flight ticks to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Sync reconciles cron entries against the store: one entry per Cron
// node of every active workflow. Changed schedules are re-registered,
// entries whose workflow went away or inactive are removed.
func (s *Scheduler) Sync(ctx context.Context) error {
	stored, err := s.workflows.List(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	expected := make(map[string]bool)
	for _, sw := range stored {
		if !sw.Active || sw.Workflow == nil {
			continue
		}
		for _, n := range sw.Workflow.NodesOfType(workflow.TypeCron) {
			schedule := strings.TrimSpace(n.StringParam("schedule", defaultSchedule))
			if schedule == "" {
				continue
			}
			key := sw.ID + ":" + n.Name
			expected[key] = true

			if old, ok := s.specs[key]; ok {
				if old == schedule {
					continue
				}
				s.cron.Remove(s.entries[key])
				delete(s.entries, key)
				delete(s.specs, key)
			}

			workflowID, nodeName := sw.ID, n.Name
			id, err := s.cron.AddFunc(schedule, func() {
				s.tick(workflowID, nodeName)
			})
			if err != nil {
				s.log.Warn("invalid cron schedule",
					"workflow_id", sw.ID,
					"node", n.Name,
					"schedule", schedule,
					"error", err)
				continue
			}
			s.entries[key] = id
			s.specs[key] = schedule
		}
	}

	for key, id := range s.entries {
		if expected[key] {
			continue
		}
		s.cron.Remove(id)
		delete(s.entries, key)
		delete(s.specs, key)
	}
	return nil
}

// Entries reports the number of registered cron entries.
func (s *Scheduler) Entries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// tick runs one scheduled workflow. The definition is re-read at fire
// time so edits and deactivation between syncs take effect immediately.
func (s *Scheduler) tick(workflowID, nodeName string) {
	ctx := context.Background()
	log := s.log.WithWorkflowID(workflowID).WithNode(nodeName)

	stored, err := s.workflows.Get(ctx, workflowID)
	if err != nil {
		log.Warn("scheduled workflow not loadable", "error", err)
		return
	}
	if !stored.Active {
		return
	}
	if stored.Workflow.Node(nodeName) == nil {
		log.Warn("scheduled trigger node no longer exists")
		return
	}

	executionID := uuid.NewString()
	if _, err := s.executions.Start(ctx, executionID, stored.ID, stored.Name, node.ModeCron); err != nil {
		log.Error("failed to record execution start", "error", err)
	}

	ec, runErr := s.runner.Run(ctx, runner.Request{
		Workflow:    stored.Workflow,
		StartNode:   nodeName,
		Mode:        node.ModeCron,
		ExecutionID: executionID,
		OnEvent:     s.onEvent,
		Workflows:   store.WorkflowSource(s.workflows),
	})
	if ec != nil {
		if _, err := s.executions.Complete(ctx, ec, stored.ID, stored.Name); err != nil {
			log.Error("failed to record execution completion", "error", err)
		}
	}
	if runErr != nil {
		log.Error("scheduled run failed to start", "error", runErr)
		return
	}
	if errs := ec.Errors(); len(errs) > 0 {
		log.Warn("scheduled run finished with errors",
			"execution_id", ec.ExecutionID,
			"node", errs[0].Node,
			"error", errs[0].Message)
	}
}
