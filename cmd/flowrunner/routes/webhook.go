package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/lyzr/flowrunner/cmd/flowrunner/container"
	"github.com/lyzr/flowrunner/cmd/flowrunner/handlers"
	"github.com/lyzr/flowrunner/common/middleware"
)

// RegisterWebhookRoutes registers the public trigger endpoint. Every
// HTTP method is accepted; the webhook node's configured method decides
// whether the dispatcher matches it.
func RegisterWebhookRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewWebhookHandler(c)

	if c.RateLimiter != nil {
		e.Any("/webhook/:workflowID", h.Handle,
			middleware.WebhookRateLimitMiddleware(c.RateLimiter, c.Components.Workflows))
		return
	}
	e.Any("/webhook/:workflowID", h.Handle)
}
