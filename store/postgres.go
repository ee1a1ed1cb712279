package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lyzr/flowrunner/common/db"
	"github.com/lyzr/flowrunner/engine/node"
	"github.com/lyzr/flowrunner/engine/workflow"
)

// PostgresWorkflows stores workflow definitions as JSONB documents.
type PostgresWorkflows struct {
	db *db.DB
}

// NewPostgresWorkflows creates the workflow repository.
func NewPostgresWorkflows(db *db.DB) *PostgresWorkflows {
	return &PostgresWorkflows{db: db}
}

// Init creates the workflows table.
func (r *PostgresWorkflows) Init(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS workflows (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			definition JSONB NOT NULL,
			active     BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)
	`
	if _, err := r.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create workflows table: %w", err)
	}
	return nil
}

// Create inserts a new workflow, minting an id when the definition carries
// none. New workflows start active.
func (r *PostgresWorkflows) Create(ctx context.Context, wf *workflow.Workflow) (*StoredWorkflow, error) {
	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}
	definition, err := json.Marshal(wf)
	if err != nil {
		return nil, fmt.Errorf("failed to encode workflow: %w", err)
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO workflows (id, name, definition, active, created_at, updated_at)
		VALUES ($1, $2, $3, TRUE, $4, $4)
	`
	if _, err := r.db.Exec(ctx, query, wf.ID, wf.Name, definition, now); err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	return &StoredWorkflow{
		ID:        wf.ID,
		Name:      wf.Name,
		Workflow:  wf,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Get retrieves a workflow by id.
func (r *PostgresWorkflows) Get(ctx context.Context, id string) (*StoredWorkflow, error) {
	query := `
		SELECT id, name, definition, active, created_at, updated_at
		FROM workflows
		WHERE id = $1
	`
	return r.scanWorkflow(r.db.QueryRow(ctx, query, id))
}

// List retrieves all workflows, oldest first.
func (r *PostgresWorkflows) List(ctx context.Context) ([]*StoredWorkflow, error) {
	query := `
		SELECT id, name, definition, active, created_at, updated_at
		FROM workflows
		ORDER BY created_at ASC
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	var out []*StoredWorkflow
	for rows.Next() {
		stored, err := r.scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, stored)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}
	return out, nil
}

// Update replaces a workflow's definition, keeping its activation state.
func (r *PostgresWorkflows) Update(ctx context.Context, id string, wf *workflow.Workflow) (*StoredWorkflow, error) {
	wf.ID = id
	definition, err := json.Marshal(wf)
	if err != nil {
		return nil, fmt.Errorf("failed to encode workflow: %w", err)
	}

	query := `
		UPDATE workflows
		SET name = $2, definition = $3, updated_at = $4
		WHERE id = $1
	`
	now := time.Now().UTC()
	result, err := r.db.Exec(ctx, query, id, wf.Name, definition, now)
	if err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}
	if result.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return r.Get(ctx, id)
}

// SetActive flips a workflow's activation flag.
func (r *PostgresWorkflows) SetActive(ctx context.Context, id string, active bool) error {
	query := `UPDATE workflows SET active = $2, updated_at = $3 WHERE id = $1`

	result, err := r.db.Exec(ctx, query, id, active, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set workflow active: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a workflow.
func (r *PostgresWorkflows) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM workflows WHERE id = $1`

	result, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *PostgresWorkflows) scanWorkflow(row rowScanner) (*StoredWorkflow, error) {
	stored := &StoredWorkflow{}
	var definition []byte
	err := row.Scan(
		&stored.ID,
		&stored.Name,
		&definition,
		&stored.Active,
		&stored.CreatedAt,
		&stored.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}

	wf, err := workflow.Parse(definition)
	if err != nil {
		return nil, fmt.Errorf("failed to decode stored workflow %s: %w", stored.ID, err)
	}
	stored.Workflow = wf
	return stored, nil
}

// PostgresExecutions stores execution records with node-state snapshots as
// JSONB. The record cap is enforced by trimming rows beyond the newest N
// after every insert.
type PostgresExecutions struct {
	db         *db.DB
	maxRecords int
}

// NewPostgresExecutions creates the execution repository; zero or negative
// maxRecords keeps the default of 100.
func NewPostgresExecutions(db *db.DB, maxRecords int) *PostgresExecutions {
	if maxRecords <= 0 {
		maxRecords = DefaultMaxExecutions
	}
	return &PostgresExecutions{db: db, maxRecords: maxRecords}
}

// Init creates the executions table.
func (r *PostgresExecutions) Init(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS executions (
			seq           BIGSERIAL,
			id            TEXT PRIMARY KEY,
			workflow_id   TEXT NOT NULL,
			workflow_name TEXT NOT NULL,
			status        TEXT NOT NULL,
			mode          TEXT NOT NULL,
			started_at    TIMESTAMPTZ NOT NULL,
			finished_at   TIMESTAMPTZ,
			node_states   JSONB,
			errors        JSONB
		)
	`
	if _, err := r.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create executions table: %w", err)
	}
	return nil
}

// Start records a run in the running state.
func (r *PostgresExecutions) Start(ctx context.Context, executionID, workflowID, workflowName, mode string) (*ExecutionRecord, error) {
	rec := &ExecutionRecord{
		ID:           executionID,
		WorkflowID:   workflowID,
		WorkflowName: workflowName,
		Status:       StatusRunning,
		Mode:         mode,
		StartedAt:    time.Now().UTC(),
	}

	query := `
		INSERT INTO executions (id, workflow_id, workflow_name, status, mode, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := r.db.Exec(ctx, query, rec.ID, rec.WorkflowID, rec.WorkflowName, rec.Status, rec.Mode, rec.StartedAt); err != nil {
		return nil, fmt.Errorf("failed to start execution record: %w", err)
	}
	if err := r.trim(ctx); err != nil {
		return nil, err
	}
	return rec, nil
}

// Complete snapshots a finished run over its running record, inserting a
// fresh row when Start was never called.
func (r *PostgresExecutions) Complete(ctx context.Context, ec *node.ExecContext, workflowID, workflowName string) (*ExecutionRecord, error) {
	rec := RecordFromContext(ec, workflowID, workflowName)

	states, err := json.Marshal(rec.NodeStates)
	if err != nil {
		return nil, fmt.Errorf("failed to encode node states: %w", err)
	}
	errList, err := json.Marshal(rec.Errors)
	if err != nil {
		return nil, fmt.Errorf("failed to encode errors: %w", err)
	}

	query := `
		INSERT INTO executions (id, workflow_id, workflow_name, status, mode, started_at, finished_at, node_states, errors)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE
		SET status = $4, finished_at = $7, node_states = $8, errors = $9
	`
	_, err = r.db.Exec(ctx, query,
		rec.ID,
		rec.WorkflowID,
		rec.WorkflowName,
		rec.Status,
		rec.Mode,
		rec.StartedAt,
		rec.FinishedAt,
		states,
		errList,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to complete execution record: %w", err)
	}
	if err := r.trim(ctx); err != nil {
		return nil, err
	}
	return rec, nil
}

// Get retrieves an execution record by id.
func (r *PostgresExecutions) Get(ctx context.Context, id string) (*ExecutionRecord, error) {
	query := `
		SELECT id, workflow_id, workflow_name, status, mode, started_at, finished_at, node_states, errors
		FROM executions
		WHERE id = $1
	`
	return r.scanExecution(r.db.QueryRow(ctx, query, id))
}

// List retrieves records newest first, optionally filtered by workflow id.
func (r *PostgresExecutions) List(ctx context.Context, workflowID string) ([]*ExecutionRecord, error) {
	query := `
		SELECT id, workflow_id, workflow_name, status, mode, started_at, finished_at, node_states, errors
		FROM executions
	`
	args := []any{}
	if workflowID != "" {
		query += ` WHERE workflow_id = $1`
		args = append(args, workflowID)
	}
	query += ` ORDER BY seq DESC`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var out []*ExecutionRecord
	for rows.Next() {
		rec, err := r.scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}
	return out, nil
}

// Delete removes one record.
func (r *PostgresExecutions) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM executions WHERE id = $1`

	result, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete execution: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Clear drops every record.
func (r *PostgresExecutions) Clear(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM executions`); err != nil {
		return fmt.Errorf("failed to clear executions: %w", err)
	}
	return nil
}

// trim enforces the FIFO cap, deleting everything beyond the newest N.
func (r *PostgresExecutions) trim(ctx context.Context) error {
	query := `
		DELETE FROM executions
		WHERE seq NOT IN (SELECT seq FROM executions ORDER BY seq DESC LIMIT $1)
	`
	if _, err := r.db.Exec(ctx, query, r.maxRecords); err != nil {
		return fmt.Errorf("failed to trim executions: %w", err)
	}
	return nil
}

func (r *PostgresExecutions) scanExecution(row rowScanner) (*ExecutionRecord, error) {
	rec := &ExecutionRecord{}
	var states, errList []byte
	err := row.Scan(
		&rec.ID,
		&rec.WorkflowID,
		&rec.WorkflowName,
		&rec.Status,
		&rec.Mode,
		&rec.StartedAt,
		&rec.FinishedAt,
		&states,
		&errList,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	if len(states) > 0 {
		if err := json.Unmarshal(states, &rec.NodeStates); err != nil {
			return nil, fmt.Errorf("failed to decode node states for %s: %w", rec.ID, err)
		}
	}
	if len(errList) > 0 {
		if err := json.Unmarshal(errList, &rec.Errors); err != nil {
			return nil, fmt.Errorf("failed to decode errors for %s: %w", rec.ID, err)
		}
	}
	return rec, nil
}
