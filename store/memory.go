package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/flowrunner/engine/node"
	"github.com/lyzr/flowrunner/engine/workflow"
)

// MemoryWorkflows is the in-process workflow store: a mutex-guarded map,
// for development and tests.
type MemoryWorkflows struct {
	mu        sync.Mutex
	workflows map[string]*StoredWorkflow
}

// NewMemoryWorkflows creates an empty in-memory workflow store.
func NewMemoryWorkflows() *MemoryWorkflows {
	return &MemoryWorkflows{
		workflows: make(map[string]*StoredWorkflow),
	}
}

// Create stores a new workflow, minting an id when the definition carries
// none. New workflows start active.
func (m *MemoryWorkflows) Create(ctx context.Context, wf *workflow.Workflow) (*StoredWorkflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := wf.ID
	if id == "" {
		id = uuid.NewString()
		wf.ID = id
	}
	now := time.Now().UTC()
	stored := &StoredWorkflow{
		ID:        id,
		Name:      wf.Name,
		Workflow:  wf,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.workflows[id] = stored
	return stored, nil
}

// Get returns a stored workflow by id.
func (m *MemoryWorkflows) Get(ctx context.Context, id string) (*StoredWorkflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.workflows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return stored, nil
}

// List returns all workflows ordered by creation time.
func (m *MemoryWorkflows) List(ctx context.Context) ([]*StoredWorkflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*StoredWorkflow, 0, len(m.workflows))
	for _, stored := range m.workflows {
		out = append(out, stored)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Update replaces a workflow's definition, keeping its activation state.
func (m *MemoryWorkflows) Update(ctx context.Context, id string, wf *workflow.Workflow) (*StoredWorkflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.workflows[id]
	if !ok {
		return nil, ErrNotFound
	}
	wf.ID = id
	stored.Workflow = wf
	stored.Name = wf.Name
	stored.UpdatedAt = time.Now().UTC()
	return stored, nil
}

// SetActive flips a workflow's activation flag.
func (m *MemoryWorkflows) SetActive(ctx context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.workflows[id]
	if !ok {
		return ErrNotFound
	}
	stored.Active = active
	stored.UpdatedAt = time.Now().UTC()
	return nil
}

// Delete removes a workflow.
func (m *MemoryWorkflows) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.workflows[id]; !ok {
		return ErrNotFound
	}
	delete(m.workflows, id)
	return nil
}

// MemoryExecutions is the in-process execution store: a mutex-guarded map
// with FIFO eviction beyond the record cap.
type MemoryExecutions struct {
	maxRecords int

	mu         sync.Mutex
	executions map[string]*ExecutionRecord
	order      []string
}

// NewMemoryExecutions creates an execution store retaining at most
// maxRecords records; zero or negative keeps the default of 100.
func NewMemoryExecutions(maxRecords int) *MemoryExecutions {
	if maxRecords <= 0 {
		maxRecords = DefaultMaxExecutions
	}
	return &MemoryExecutions{
		maxRecords: maxRecords,
		executions: make(map[string]*ExecutionRecord),
	}
}

// Start records a run in the running state.
func (m *MemoryExecutions) Start(ctx context.Context, executionID, workflowID, workflowName, mode string) (*ExecutionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := &ExecutionRecord{
		ID:           executionID,
		WorkflowID:   workflowID,
		WorkflowName: workflowName,
		Status:       StatusRunning,
		Mode:         mode,
		StartedAt:    time.Now().UTC(),
	}
	m.insert(rec)
	return rec, nil
}

// Complete snapshots a finished run over its running record, or inserts a
// fresh one when Start was never called.
func (m *MemoryExecutions) Complete(ctx context.Context, ec *node.ExecContext, workflowID, workflowName string) (*ExecutionRecord, error) {
	rec := RecordFromContext(ec, workflowID, workflowName)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.executions[rec.ID]; ok {
		m.executions[rec.ID] = rec
		return rec, nil
	}
	m.insert(rec)
	return rec, nil
}

// Get returns an execution record by id.
func (m *MemoryExecutions) Get(ctx context.Context, id string) (*ExecutionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.executions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

// List returns records newest first, optionally filtered by workflow id.
func (m *MemoryExecutions) List(ctx context.Context, workflowID string) ([]*ExecutionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*ExecutionRecord, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		rec := m.executions[m.order[i]]
		if rec == nil {
			continue
		}
		if workflowID != "" && rec.WorkflowID != workflowID {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Delete removes one record.
func (m *MemoryExecutions) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.executions[id]; !ok {
		return ErrNotFound
	}
	delete(m.executions, id)
	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// Clear drops every record.
func (m *MemoryExecutions) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.executions = make(map[string]*ExecutionRecord)
	m.order = nil
	return nil
}

// insert adds a record and evicts the oldest beyond the cap. Callers hold
// the mutex.
func (m *MemoryExecutions) insert(rec *ExecutionRecord) {
	m.executions[rec.ID] = rec
	m.order = append(m.order, rec.ID)
	for len(m.order) > m.maxRecords {
		oldest := m.order[0]
		m.order = m.order[1:]
		delete(m.executions, oldest)
	}
}
