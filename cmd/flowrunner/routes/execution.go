package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/lyzr/flowrunner/cmd/flowrunner/container"
	"github.com/lyzr/flowrunner/cmd/flowrunner/handlers"
)

// RegisterExecutionRoutes registers execution history endpoints.
func RegisterExecutionRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewExecutionHandler(c)

	ex := e.Group("/api/v1/executions")
	{
		ex.GET("", h.ListExecutions)         // GET    /api/v1/executions?workflow_id={id}
		ex.GET("/:id", h.GetExecution)       // GET    /api/v1/executions/{id}
		ex.DELETE("/:id", h.DeleteExecution) // DELETE /api/v1/executions/{id}
		ex.DELETE("", h.ClearExecutions)     // DELETE /api/v1/executions
	}
}
