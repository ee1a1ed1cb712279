package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lyzr/flowrunner/cmd/flowrunner/container"
	"github.com/lyzr/flowrunner/common/validation"
	"github.com/lyzr/flowrunner/engine/item"
	"github.com/lyzr/flowrunner/engine/node"
	"github.com/lyzr/flowrunner/engine/runner"
	"github.com/lyzr/flowrunner/engine/workflow"
	"github.com/lyzr/flowrunner/store"
)

// WorkflowHandler handles workflow CRUD, activation, and manual runs.
type WorkflowHandler struct {
	c *container.Container
}

// NewWorkflowHandler creates a new workflow handler.
func NewWorkflowHandler(c *container.Container) *WorkflowHandler {
	return &WorkflowHandler{c: c}
}

// parseWorkflow runs the full admission pipeline on a workflow
// document: schema check, decode, semantic validation.
func parseWorkflow(body []byte) (*workflow.Workflow, error) {
	if err := workflow.ValidateJSON(body); err != nil {
		return nil, err
	}
	wf, err := workflow.Parse(body)
	if err != nil {
		return nil, err
	}
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	return wf, nil
}

// syncScheduler refreshes cron entries after a workflow mutation.
// Failures are logged, not surfaced; the mutation already succeeded.
func (h *WorkflowHandler) syncScheduler(c echo.Context) {
	if h.c.Scheduler == nil {
		return
	}
	if err := h.c.Scheduler.Sync(c.Request().Context()); err != nil {
		h.c.Components.Logger.Error("scheduler sync failed", "error", err)
	}
}

// CreateWorkflow stores a new workflow
// POST /api/v1/workflows
func (h *WorkflowHandler) CreateWorkflow(c echo.Context) error {
	ctx := c.Request().Context()

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "failed to read request body",
		})
	}

	wf, err := parseWorkflow(body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error":   "invalid workflow",
			"message": err.Error(),
		})
	}

	stored, err := h.c.Components.Workflows.Create(ctx, wf)
	if err != nil {
		h.c.Components.Logger.Error("failed to store workflow", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "failed to store workflow",
		})
	}

	h.c.Components.Logger.Info("workflow created",
		"workflow_id", stored.ID,
		"name", stored.Name,
		"nodes", len(wf.Nodes))

	h.syncScheduler(c)
	return c.JSON(http.StatusCreated, stored)
}

// ListWorkflows lists all stored workflows
// GET /api/v1/workflows
func (h *WorkflowHandler) ListWorkflows(c echo.Context) error {
	workflows, err := h.c.Components.Workflows.List(c.Request().Context())
	if err != nil {
		h.c.Components.Logger.Error("failed to list workflows", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "failed to list workflows",
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"workflows": workflows,
		"count":     len(workflows),
	})
}

// GetWorkflow retrieves a workflow by id
// GET /api/v1/workflows/:id
func (h *WorkflowHandler) GetWorkflow(c echo.Context) error {
	stored, err := h.c.Components.Workflows.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]interface{}{
				"error": "workflow not found",
			})
		}
		h.c.Components.Logger.Error("failed to load workflow", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "failed to load workflow",
		})
	}

	return c.JSON(http.StatusOK, stored)
}

// UpdateWorkflow replaces a stored workflow definition
// PUT /api/v1/workflows/:id
func (h *WorkflowHandler) UpdateWorkflow(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "failed to read request body",
		})
	}

	wf, err := parseWorkflow(body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error":   "invalid workflow",
			"message": err.Error(),
		})
	}

	stored, err := h.c.Components.Workflows.Update(ctx, id, wf)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]interface{}{
				"error": "workflow not found",
			})
		}
		h.c.Components.Logger.Error("failed to update workflow", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "failed to update workflow",
		})
	}

	h.syncScheduler(c)
	return c.JSON(http.StatusOK, stored)
}

// PatchWorkflow applies an RFC 6902 JSON Patch to the stored definition
// and revalidates the result before persisting it
// PATCH /api/v1/workflows/:id
func (h *WorkflowHandler) PatchWorkflow(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	stored, err := h.c.Components.Workflows.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]interface{}{
				"error": "workflow not found",
			})
		}
		h.c.Components.Logger.Error("failed to load workflow", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "failed to load workflow",
		})
	}

	patchJSON, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "failed to read request body",
		})
	}

	var operations []map[string]interface{}
	if err := json.Unmarshal(patchJSON, &operations); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error":   "invalid JSON patch",
			"message": "patch must be a JSON array of operations",
		})
	}
	if err := validation.NewPatchValidator().ValidateOperations(operations); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error":   "invalid JSON patch",
			"message": err.Error(),
		})
	}

	patch, err := jsonpatch.DecodePatch(patchJSON)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error":   "invalid JSON patch",
			"message": err.Error(),
		})
	}

	current, err := json.Marshal(stored.Workflow)
	if err != nil {
		h.c.Components.Logger.Error("failed to marshal workflow", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "failed to marshal workflow",
		})
	}

	modified, err := patch.Apply(current)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error":   "failed to apply patch",
			"message": err.Error(),
		})
	}

	wf, err := parseWorkflow(modified)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error":   "patched workflow is invalid",
			"message": err.Error(),
		})
	}

	updated, err := h.c.Components.Workflows.Update(ctx, id, wf)
	if err != nil {
		h.c.Components.Logger.Error("failed to update workflow", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "failed to update workflow",
		})
	}

	h.c.Components.Logger.Info("workflow patched",
		"workflow_id", id,
		"operations", len(patch))

	h.syncScheduler(c)
	return c.JSON(http.StatusOK, updated)
}

// SetActive toggles whether triggers fire for a workflow
// POST /api/v1/workflows/:id/activate
func (h *WorkflowHandler) SetActive(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	var req struct {
		Active bool `json:"active"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid request body",
		})
	}

	if err := h.c.Components.Workflows.SetActive(ctx, id, req.Active); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]interface{}{
				"error": "workflow not found",
			})
		}
		h.c.Components.Logger.Error("failed to set workflow state", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "failed to set workflow state",
		})
	}

	h.c.Components.Logger.Info("workflow activation changed",
		"workflow_id", id,
		"active", req.Active)

	h.syncScheduler(c)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"id":     id,
		"active": req.Active,
	})
}

// DeleteWorkflow removes a workflow; its execution history remains
// DELETE /api/v1/workflows/:id
func (h *WorkflowHandler) DeleteWorkflow(c echo.Context) error {
	id := c.Param("id")

	if err := h.c.Components.Workflows.Delete(c.Request().Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]interface{}{
				"error": "workflow not found",
			})
		}
		h.c.Components.Logger.Error("failed to delete workflow", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "failed to delete workflow",
		})
	}

	h.syncScheduler(c)
	return c.NoContent(http.StatusNoContent)
}

// RunWorkflow executes a workflow synchronously and returns the
// finished execution record
// POST /api/v1/workflows/:id/run
func (h *WorkflowHandler) RunWorkflow(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	stored, err := h.c.Components.Workflows.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]interface{}{
				"error": "workflow not found",
			})
		}
		h.c.Components.Logger.Error("failed to load workflow", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "failed to load workflow",
		})
	}

	var req struct {
		Payload   json.RawMessage `json:"payload,omitempty"`
		StartNode string          `json:"startNode,omitempty"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid request body",
		})
	}

	seed, err := seedItems(req.Payload)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error":   "invalid payload",
			"message": err.Error(),
		})
	}

	executionID := uuid.NewString()
	if _, err := h.c.Components.Executions.Start(ctx, executionID, stored.ID, stored.Name, node.ModeManual); err != nil {
		h.c.Components.Logger.Error("failed to record execution start", "error", err)
	}

	h.c.Components.Logger.Info("manual run starting",
		"workflow_id", stored.ID,
		"execution_id", executionID)

	ec, runErr := h.c.Runner.Run(ctx, runner.Request{
		Workflow:    stored.Workflow,
		StartNode:   req.StartNode,
		Seed:        seed,
		Mode:        node.ModeManual,
		ExecutionID: executionID,
		OnEvent:     h.c.Events,
		Workflows:   store.WorkflowSource(h.c.Components.Workflows),
	})

	var record *store.ExecutionRecord
	if ec != nil {
		record, err = h.c.Components.Executions.Complete(ctx, ec, stored.ID, stored.Name)
		if err != nil {
			h.c.Components.Logger.Error("failed to persist execution record", "error", err)
			record = store.RecordFromContext(ec, stored.ID, stored.Name)
		}
	}

	if runErr != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error":     "run failed to start",
			"message":   runErr.Error(),
			"execution": record,
		})
	}

	return c.JSON(http.StatusOK, record)
}

// seedItems converts the optional run payload to trigger input. An
// object becomes one item, an array becomes one item per element.
func seedItems(raw json.RawMessage) ([]*item.Item, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("payload is not valid JSON: %w", err)
	}
	switch p := v.(type) {
	case nil:
		return nil, nil
	case map[string]interface{}:
		return []*item.Item{item.New(p)}, nil
	case []interface{}:
		return item.FromJSONList(p), nil
	default:
		return nil, fmt.Errorf("payload must be a JSON object or array, got %T", v)
	}
}
