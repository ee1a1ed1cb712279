package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/flowrunner/cmd/flowrunner/container"
	"github.com/lyzr/flowrunner/engine/webhook"
)

// WebhookHandler bridges raw HTTP requests into the webhook dispatcher.
type WebhookHandler struct {
	c *container.Container
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(c *container.Container) *WebhookHandler {
	return &WebhookHandler{c: c}
}

// Handle normalizes the request and hands it to the dispatcher
// ANY /webhook/:workflowID
func (h *WebhookHandler) Handle(c echo.Context) error {
	req := c.Request()

	// Header names become snake_case so expressions can reach them with
	// dot access: $json.headers.user_agent.
	headers := make(map[string]string, len(req.Header))
	for k, vals := range req.Header {
		headers[headerKey(k)] = strings.Join(vals, ", ")
	}

	query := make(map[string]string)
	for k, vals := range c.QueryParams() {
		if len(vals) > 0 {
			query[k] = vals[0]
		}
	}

	body := readBody(req)

	resp := h.c.Dispatcher.Dispatch(req.Context(), c.Param("workflowID"), req.Method, headers, query, body)
	return writeResponse(c, resp)
}

// headerKey lowercases a header name and swaps dashes for underscores.
func headerKey(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), "-", "_")
}

// readBody decodes the request body as JSON when possible, falling back
// to the raw string. A missing or empty body yields nil.
func readBody(req *http.Request) interface{} {
	if req.Body == nil {
		return nil
	}
	data, err := io.ReadAll(req.Body)
	if err != nil || len(data) == 0 {
		return nil
	}

	var body interface{}
	if err := json.Unmarshal(data, &body); err != nil {
		return string(data)
	}
	return body
}

// writeResponse maps a dispatcher response onto the echo context.
func writeResponse(c echo.Context, resp *webhook.Response) error {
	for k, v := range resp.Headers {
		c.Response().Header().Set(k, v)
	}

	if resp.Body == nil {
		return c.NoContent(resp.Status)
	}

	switch resp.ContentType {
	case "", webhook.ContentTypeJSON:
		return c.JSON(resp.Status, resp.Body)
	default:
		return c.Blob(resp.Status, resp.ContentType, []byte(stringify(resp.Body)))
	}
}

func stringify(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
