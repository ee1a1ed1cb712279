package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/lyzr/flowrunner/cmd/flowrunner/container"
	"github.com/lyzr/flowrunner/cmd/flowrunner/handlers"
)

// RegisterNodeRoutes registers the node type catalog.
func RegisterNodeRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewNodeHandler(c)

	e.GET("/api/v1/nodes", h.ListNodeTypes) // GET /api/v1/nodes
}
