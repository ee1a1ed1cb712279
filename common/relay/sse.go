package relay

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// keepaliveInterval spaces SSE comment lines that keep idle connections
// from being reaped by proxies.
const keepaliveInterval = 15 * time.Second

// ServeSSE streams events as Server-Sent Events. An execution_id query
// parameter narrows the stream to one execution; without it the client
// receives every event.
func ServeSSE(hub *Hub, logger Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		executionID := c.QueryParam("execution_id")

		res := c.Response()
		res.Header().Set(echo.HeaderContentType, "text/event-stream")
		res.Header().Set("Cache-Control", "no-cache")
		res.Header().Set("Connection", "keep-alive")
		res.WriteHeader(http.StatusOK)
		res.Flush()

		sub := hub.Subscribe(executionID)
		defer hub.Unsubscribe(sub)

		logger.Debug("sse connected",
			"execution_id", executionID,
			"remote", c.Request().RemoteAddr)

		ctx := c.Request().Context()
		keepalive := time.NewTicker(keepaliveInterval)
		defer keepalive.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil

			case data, ok := <-sub.Events():
				if !ok {
					// Hub dropped the subscription
					return nil
				}
				if _, err := fmt.Fprintf(res, "data: %s\n\n", data); err != nil {
					return nil
				}
				res.Flush()

			case <-keepalive.C:
				if _, err := fmt.Fprint(res, ": keepalive\n\n"); err != nil {
					return nil
				}
				res.Flush()
			}
		}
	}
}
