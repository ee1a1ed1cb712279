// Package webhook translates inbound HTTP requests into workflow runs
// and composes the HTTP response the caller gets back.
package webhook

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/flowrunner/common/logger"
	"github.com/lyzr/flowrunner/engine/event"
	"github.com/lyzr/flowrunner/engine/item"
	"github.com/lyzr/flowrunner/engine/node"
	"github.com/lyzr/flowrunner/engine/runner"
	"github.com/lyzr/flowrunner/engine/workflow"
	"github.com/lyzr/flowrunner/store"
)

// ContentTypeJSON is the default response content type.
const ContentTypeJSON = "application/json"

// Response is the HTTP reply computed for an inbound webhook request.
// A nil Body with a zero ContentType means a bodyless (204-style) reply.
type Response struct {
	Status      int
	Body        any
	Headers     map[string]string
	ContentType string
}

// Dispatcher resolves webhook requests to workflow runs.
type Dispatcher struct {
	workflows  store.WorkflowStore
	executions store.ExecutionStore
	runner     *runner.Runner
	log        *logger.Logger
	onEvent    event.Sink
}

// Opts configures a Dispatcher.
type Opts struct {
	Workflows  store.WorkflowStore
	Executions store.ExecutionStore
	Runner     *runner.Runner
	Log        *logger.Logger
	// OnEvent forwards run events to the relay; may be nil.
	OnEvent event.Sink
}

// NewDispatcher wires a dispatcher.
func NewDispatcher(opts Opts) *Dispatcher {
	log := opts.Log
	if log == nil {
		log = logger.Discard()
	}
	return &Dispatcher{
		workflows:  opts.Workflows,
		executions: opts.Executions,
		runner:     opts.Runner,
		log:        log,
		onEvent:    opts.OnEvent,
	}
}

// Dispatch resolves the workflow, checks the trigger, runs the workflow in
// webhook mode, persists the execution record, and composes the response.
// Every outcome maps to an HTTP response; persistence failures are logged
// but never block delivery.
func (d *Dispatcher) Dispatch(ctx context.Context, workflowID, method string, headers, query map[string]string, body any) *Response {
	stored, err := d.workflows.Get(ctx, workflowID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errorResponse(http.StatusNotFound, "Workflow not found")
		}
		d.log.Error("webhook workflow lookup failed", "workflow_id", workflowID, "error", err)
		return errorResponse(http.StatusInternalServerError, "Failed to load workflow")
	}

	if !stored.Active {
		return errorResponse(http.StatusBadRequest, "Workflow is not active")
	}

	trigger := stored.Workflow.FirstNodeOfType(workflow.TypeWebhook)
	if trigger == nil {
		return errorResponse(http.StatusBadRequest, "Workflow has no Webhook trigger")
	}

	configured := trigger.StringParam("method", "POST")
	if !strings.EqualFold(configured, method) {
		return errorResponse(http.StatusMethodNotAllowed, "Method not allowed")
	}

	executionID := uuid.NewString()
	log := d.log.WithWorkflowID(workflowID).WithExecutionID(executionID)

	if _, err := d.executions.Start(ctx, executionID, stored.ID, stored.Name, node.ModeWebhook); err != nil {
		log.Error("failed to record execution start", "error", err)
	}

	seed := item.New(map[string]any{
		"body":        body,
		"headers":     toAnyMap(headers),
		"query":       toAnyMap(query),
		"method":      strings.ToUpper(method),
		"triggeredAt": time.Now().UTC().Format(time.RFC3339),
	})

	// Track the last node output for responseMode=lastNode while
	// forwarding events to the relay.
	var lastOutput []*item.Item
	sink := func(ev event.Event) {
		if ev.Type == event.NodeComplete && len(ev.Data) > 0 {
			lastOutput = ev.Data
		}
		if d.onEvent != nil {
			d.onEvent(ev)
		}
	}

	ec, runErr := d.runner.Run(ctx, runner.Request{
		Workflow:    stored.Workflow,
		StartNode:   trigger.Name,
		Seed:        []*item.Item{seed},
		Mode:        node.ModeWebhook,
		ExecutionID: executionID,
		OnEvent:     sink,
		Workflows:   store.WorkflowSource(d.workflows),
	})
	if ec != nil {
		if _, err := d.executions.Complete(ctx, ec, stored.ID, stored.Name); err != nil {
			log.Error("failed to record execution completion", "error", err)
		}
	}
	if runErr != nil {
		log.Error("webhook run failed to start", "error", runErr)
		return errorResponse(http.StatusInternalServerError, "Workflow failed to start")
	}

	// A RespondToWebhook node's captured response wins over everything.
	if wr := ec.WebhookResponse(); wr != nil {
		return &Response{
			Status:      wr.Status,
			Body:        wr.Body,
			Headers:     wr.Headers,
			ContentType: wr.ContentType,
		}
	}

	if len(ec.Errors()) > 0 {
		first := ec.Errors()[0]
		return &Response{
			Status:      http.StatusInternalServerError,
			ContentType: ContentTypeJSON,
			Body: map[string]any{
				"status":      "error",
				"executionId": executionID,
				"message":     first.Message,
			},
		}
	}

	if trigger.StringParam("responseMode", "onReceived") == "lastNode" && lastOutput != nil {
		return &Response{
			Status:      http.StatusOK,
			ContentType: ContentTypeJSON,
			Body: map[string]any{
				"status":      "success",
				"executionId": executionID,
				"data":        lastOutput,
			},
		}
	}

	return &Response{
		Status:      http.StatusOK,
		ContentType: ContentTypeJSON,
		Body: map[string]any{
			"status":      "success",
			"executionId": executionID,
			"message":     "Workflow triggered",
		},
	}
}

func errorResponse(status int, message string) *Response {
	return &Response{
		Status:      status,
		ContentType: ContentTypeJSON,
		Body:        map[string]any{"error": message},
	}
}

func toAnyMap(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
