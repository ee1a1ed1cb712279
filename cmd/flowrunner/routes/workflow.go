package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/lyzr/flowrunner/cmd/flowrunner/container"
	"github.com/lyzr/flowrunner/cmd/flowrunner/handlers"
)

// RegisterWorkflowRoutes registers workflow CRUD, patching, activation,
// and manual runs.
func RegisterWorkflowRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewWorkflowHandler(c)

	wf := e.Group("/api/v1/workflows")
	{
		wf.POST("", h.CreateWorkflow)         // POST   /api/v1/workflows
		wf.GET("", h.ListWorkflows)           // GET    /api/v1/workflows
		wf.GET("/:id", h.GetWorkflow)         // GET    /api/v1/workflows/{id}
		wf.PUT("/:id", h.UpdateWorkflow)      // PUT    /api/v1/workflows/{id}
		wf.PATCH("/:id", h.PatchWorkflow)     // PATCH  /api/v1/workflows/{id}
		wf.POST("/:id/activate", h.SetActive) // POST   /api/v1/workflows/{id}/activate
		wf.DELETE("/:id", h.DeleteWorkflow)   // DELETE /api/v1/workflows/{id}
		wf.POST("/:id/run", h.RunWorkflow)    // POST   /api/v1/workflows/{id}/run
	}
}
