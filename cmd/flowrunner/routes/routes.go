// Package routes maps the HTTP surface onto container services.
package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/lyzr/flowrunner/cmd/flowrunner/container"
)

// Register attaches every route group to the echo instance.
func Register(e *echo.Echo, c *container.Container) {
	RegisterWorkflowRoutes(e, c)
	RegisterExecutionRoutes(e, c)
	RegisterEventRoutes(e, c)
	RegisterNodeRoutes(e, c)
	RegisterWebhookRoutes(e, c)
}
