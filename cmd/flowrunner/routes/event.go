package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/lyzr/flowrunner/cmd/flowrunner/container"
	"github.com/lyzr/flowrunner/common/relay"
)

// RegisterEventRoutes registers the live event stream endpoints.
func RegisterEventRoutes(e *echo.Echo, c *container.Container) {
	log := c.Components.Logger

	ev := e.Group("/api/v1/events")
	{
		ev.GET("", relay.ServeSSE(c.Hub, log))   // GET /api/v1/events
		ev.GET("/ws", relay.ServeWS(c.Hub, log)) // GET /api/v1/events/ws
	}
}
