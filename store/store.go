// Package store persists workflow definitions and execution records. The
// engine consumes only the two interfaces here; the memory backend serves
// development and tests, the postgres backend production.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/lyzr/flowrunner/engine/item"
	"github.com/lyzr/flowrunner/engine/node"
	"github.com/lyzr/flowrunner/engine/workflow"
)

// ErrNotFound reports a lookup for an id the store does not hold.
var ErrNotFound = errors.New("not found")

// DefaultMaxExecutions caps retained execution records; the oldest are
// evicted first.
const DefaultMaxExecutions = 100

// Execution statuses.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// StoredWorkflow is a persisted workflow definition plus its metadata.
type StoredWorkflow struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Workflow  *workflow.Workflow `json:"workflow"`
	Active    bool               `json:"active"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// ExecutionRecord is the persisted outcome of one run.
type ExecutionRecord struct {
	ID           string                  `json:"id"`
	WorkflowID   string                  `json:"workflow_id"`
	WorkflowName string                  `json:"workflow_name"`
	Status       string                  `json:"status"`
	Mode         string                  `json:"mode"`
	StartedAt    time.Time               `json:"started_at"`
	FinishedAt   *time.Time              `json:"finished_at,omitempty"`
	NodeStates   map[string][]*item.Item `json:"node_states,omitempty"`
	Errors       []node.ExecError        `json:"errors,omitempty"`
}

// WorkflowStore persists workflow definitions.
type WorkflowStore interface {
	Create(ctx context.Context, wf *workflow.Workflow) (*StoredWorkflow, error)
	Get(ctx context.Context, id string) (*StoredWorkflow, error)
	List(ctx context.Context) ([]*StoredWorkflow, error)
	Update(ctx context.Context, id string, wf *workflow.Workflow) (*StoredWorkflow, error)
	SetActive(ctx context.Context, id string, active bool) error
	Delete(ctx context.Context, id string) error
}

// ExecutionStore persists execution records.
type ExecutionStore interface {
	Start(ctx context.Context, executionID, workflowID, workflowName, mode string) (*ExecutionRecord, error)
	Complete(ctx context.Context, ec *node.ExecContext, workflowID, workflowName string) (*ExecutionRecord, error)
	Get(ctx context.Context, id string) (*ExecutionRecord, error)
	List(ctx context.Context, workflowID string) ([]*ExecutionRecord, error)
	Delete(ctx context.Context, id string) error
	Clear(ctx context.Context) error
}

// RecordFromContext snapshots a finished run into an execution record.
// Status is failed exactly when the run recorded errors; a warning stop
// (webhook respond) records none and counts as success.
func RecordFromContext(ec *node.ExecContext, workflowID, workflowName string) *ExecutionRecord {
	now := time.Now().UTC()
	errs := ec.Errors()
	status := StatusSuccess
	if len(errs) > 0 {
		status = StatusFailed
	}
	return &ExecutionRecord{
		ID:           ec.ExecutionID,
		WorkflowID:   workflowID,
		WorkflowName: workflowName,
		Status:       status,
		Mode:         ec.Mode,
		StartedAt:    ec.StartTime,
		FinishedAt:   &now,
		NodeStates:   ec.NodeStates(),
		Errors:       errs,
	}
}

// WorkflowSource adapts a WorkflowStore to the loader interface
// ExecuteWorkflow nodes consume. Inactive workflows still load; activation
// gates webhooks, not sub-workflow calls.
func WorkflowSource(ws WorkflowStore) node.WorkflowSource {
	return node.WorkflowSourceFunc(func(ctx context.Context, id string) (*workflow.Workflow, error) {
		stored, err := ws.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return stored.Workflow, nil
	})
}
