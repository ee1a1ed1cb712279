package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/flowrunner/cmd/flowrunner/container"
	"github.com/lyzr/flowrunner/store"
)

// ExecutionHandler serves execution history.
type ExecutionHandler struct {
	c *container.Container
}

// NewExecutionHandler creates a new execution handler.
func NewExecutionHandler(c *container.Container) *ExecutionHandler {
	return &ExecutionHandler{c: c}
}

// ListExecutions lists execution records, newest first
// GET /api/v1/executions?workflow_id={id}
func (h *ExecutionHandler) ListExecutions(c echo.Context) error {
	records, err := h.c.Components.Executions.List(c.Request().Context(), c.QueryParam("workflow_id"))
	if err != nil {
		h.c.Components.Logger.Error("failed to list executions", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "failed to list executions",
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"executions": records,
		"count":      len(records),
	})
}

// GetExecution retrieves one execution record with node states
// GET /api/v1/executions/:id
func (h *ExecutionHandler) GetExecution(c echo.Context) error {
	record, err := h.c.Components.Executions.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]interface{}{
				"error": "execution not found",
			})
		}
		h.c.Components.Logger.Error("failed to load execution", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "failed to load execution",
		})
	}

	return c.JSON(http.StatusOK, record)
}

// DeleteExecution removes one execution record
// DELETE /api/v1/executions/:id
func (h *ExecutionHandler) DeleteExecution(c echo.Context) error {
	if err := h.c.Components.Executions.Delete(c.Request().Context(), c.Param("id")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]interface{}{
				"error": "execution not found",
			})
		}
		h.c.Components.Logger.Error("failed to delete execution", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "failed to delete execution",
		})
	}

	return c.NoContent(http.StatusNoContent)
}

// ClearExecutions removes all execution history
// DELETE /api/v1/executions
func (h *ExecutionHandler) ClearExecutions(c echo.Context) error {
	if err := h.c.Components.Executions.Clear(c.Request().Context()); err != nil {
		h.c.Components.Logger.Error("failed to clear executions", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "failed to clear executions",
		})
	}

	return c.NoContent(http.StatusNoContent)
}
