package nodes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lyzr/flowrunner/engine/item"
	"github.com/lyzr/flowrunner/engine/node"
	"github.com/lyzr/flowrunner/engine/workflow"
)

const (
	httpDefaultTimeout = 30 * time.Second
	httpMaxBody        = 10 << 20 // 10 MiB response cap
)

// HTTPRequest performs one HTTP call per item. URL, headers, query, and
// body parameters are re-resolved per item so they can reference $json.
type HTTPRequest struct{}

func (HTTPRequest) Type() string        { return workflow.TypeHTTPRequest }
func (HTTPRequest) Description() string { return "Calls an HTTP endpoint for every item" }
func (HTTPRequest) InputCount() int     { return 1 }

func (HTTPRequest) Descriptor() node.Descriptor {
	return node.Descriptor{
		Inputs:  node.MainPorts(),
		Outputs: node.MainPorts(),
		Groups:  []string{"transform"},
		Properties: []node.Property{
			{Name: "url", Type: "string"},
			{Name: "method", Type: "options", Default: "GET", Options: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD"}},
			{Name: "headers", Type: "collection"},
			{Name: "queryParameters", Type: "collection"},
			{Name: "body", Type: "json"},
			{Name: "timeout", Type: "number", Default: 30000, Description: "Request timeout in milliseconds"},
			{Name: "neverError", Type: "boolean", Default: false, Description: "Emit error responses as items instead of failing"},
		},
	}
}

func (HTTPRequest) Execute(ctx context.Context, ec *node.ExecContext, def *workflow.Node, in *node.Input) (item.Result, error) {
	client := ec.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: httpDefaultTimeout}
	}

	method := strings.ToUpper(def.StringParam("method", http.MethodGet))
	neverError := boolParam(def, "neverError", false)
	timeout := httpDefaultTimeout
	if ms := intParam(def, "timeout", 0); ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}

	out := make([]*item.Item, 0, len(in.Items))
	for i := range in.Items {
		result, err := doRequest(ctx, client, ec, def, in.Items, i, method, timeout)
		if err != nil {
			if !neverError {
				return nil, err
			}
			// Keep whatever the server said alongside the error.
			if result == nil {
				result = item.Empty()
			}
			result.JSON["error"] = err.Error()
			out = append(out, result)
			continue
		}
		out = append(out, result)
	}
	return item.MainResult(out...), nil
}

func doRequest(ctx context.Context, client *http.Client, ec *node.ExecContext, def *workflow.Node, items []*item.Item, idx int, method string, timeout time.Duration) (*item.Item, error) {
	rawURL := stringify(resolveForItem(ec, def, items, idx, def.StringParam("url", "")))
	if rawURL == "" {
		return nil, fmt.Errorf("url parameter is empty")
	}

	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	if query := mapParam(def, "queryParameters"); len(query) > 0 {
		q := target.Query()
		for k, v := range query {
			q.Set(k, stringify(resolveForItem(ec, def, items, idx, v)))
		}
		target.RawQuery = q.Encode()
	}

	var body io.Reader
	contentType := ""
	if raw := def.Param("body", nil); raw != nil {
		resolved := resolveForItem(ec, def, items, idx, raw)
		switch b := resolved.(type) {
		case string:
			body = strings.NewReader(b)
		default:
			data, err := json.Marshal(b)
			if err != nil {
				return nil, fmt.Errorf("body is not serializable: %w", err)
			}
			body = bytes.NewReader(data)
			contentType = "application/json"
		}
	}

	if ec.CheckURL != nil {
		if err := ec.CheckURL(target.String()); err != nil {
			return nil, fmt.Errorf("url rejected: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("User-Agent", "flowrunner/1.0")
	for k, v := range mapParam(def, "headers") {
		req.Header.Set(k, stringify(resolveForItem(ec, def, items, idx, v)))
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, httpMaxBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	// Parse response as JSON if possible, else keep the raw text.
	var responseData any
	if err := json.Unmarshal(respBody, &responseData); err != nil {
		responseData = string(respBody)
	}

	headers := make(map[string]any, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	result := item.New(map[string]any{
		"statusCode":  resp.StatusCode,
		"headers":     headers,
		"body":        responseData,
		"duration_ms": time.Since(start).Milliseconds(),
		"url":         target.String(),
		"method":      method,
	})

	if resp.StatusCode >= 400 {
		return result, fmt.Errorf("request to %s returned status %d", target.String(), resp.StatusCode)
	}
	return result, nil
}
