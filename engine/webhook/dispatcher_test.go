package webhook

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/flowrunner/common/logger"
	"github.com/lyzr/flowrunner/engine/event"
	"github.com/lyzr/flowrunner/engine/nodes"
	"github.com/lyzr/flowrunner/engine/runner"
	"github.com/lyzr/flowrunner/engine/workflow"
	"github.com/lyzr/flowrunner/store"
)

type env struct {
	workflows  *store.MemoryWorkflows
	executions *store.MemoryExecutions
	dispatcher *Dispatcher
	events     []event.Event
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		workflows:  store.NewMemoryWorkflows(),
		executions: store.NewMemoryExecutions(0),
	}
	r := runner.New(runner.Opts{
		Registry: nodes.NewRegistry(),
		Log:      logger.Discard(),
	})
	e.dispatcher = NewDispatcher(Opts{
		Workflows:  e.workflows,
		Executions: e.executions,
		Runner:     r,
		Log:        logger.Discard(),
		OnEvent:    func(ev event.Event) { e.events = append(e.events, ev) },
	})
	return e
}

func (e *env) create(t *testing.T, wf *workflow.Workflow) string {
	t.Helper()
	stored, err := e.workflows.Create(context.Background(), wf)
	require.NoError(t, err)
	return stored.ID
}

func approvalWorkflow() *workflow.Workflow {
	return &workflow.Workflow{
		Name: "order approval",
		Nodes: []*workflow.Node{
			{Name: "Hook", Type: workflow.TypeWebhook, Parameters: map[string]any{"method": "POST"}},
			{Name: "Route", Type: workflow.TypeSwitch, Parameters: map[string]any{
				"numberOfOutputs": 2,
				"mode":            "expression",
				"output":          "{{ $json.body.amount >= 100 ? 0 : 1 }}",
			}},
			{Name: "Auto Approve", Type: workflow.TypeSet, Parameters: map[string]any{
				"keepOnlySet": true,
				"values": map[string]any{
					"approved": true,
					"amount":   "{{ $json.body.amount }}",
				},
			}},
			{Name: "Reject", Type: workflow.TypeSet, Parameters: map[string]any{
				"keepOnlySet": true,
				"values":      map[string]any{"approved": false},
			}},
			{Name: "Respond", Type: workflow.TypeRespondToWebhook, Parameters: map[string]any{
				"statusCode":  200,
				"contentType": "application/json",
			}},
		},
		Connections: []*workflow.Connection{
			{SourceNode: "Hook", TargetNode: "Route"},
			{SourceNode: "Route", SourceOutput: "output0", TargetNode: "Auto Approve"},
			{SourceNode: "Route", SourceOutput: "output1", TargetNode: "Reject"},
			{SourceNode: "Auto Approve", TargetNode: "Respond"},
			{SourceNode: "Reject", TargetNode: "Respond"},
		},
	}
}

func TestDispatch_RespondToWebhookVerbatim(t *testing.T) {
	e := newEnv(t)
	id := e.create(t, approvalWorkflow())

	resp := e.dispatcher.Dispatch(context.Background(), id, "POST", nil, nil,
		map[string]any{"amount": float64(500)})

	require.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "application/json", resp.ContentType)

	body, ok := resp.Body.(map[string]any)
	require.True(t, ok, "body should be the Set node's item json, got %T", resp.Body)
	assert.Equal(t, true, body["approved"])
	assert.Equal(t, float64(500), body["amount"])

	// The run is recorded as a success: a webhook respond ends the run
	// without an error.
	records, err := e.executions.List(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, store.StatusSuccess, records[0].Status)
	assert.Equal(t, "webhook", records[0].Mode)
}

func TestDispatch_RoutesLowAmountToReject(t *testing.T) {
	e := newEnv(t)
	id := e.create(t, approvalWorkflow())

	resp := e.dispatcher.Dispatch(context.Background(), id, "POST", nil, nil,
		map[string]any{"amount": float64(30)})

	require.Equal(t, http.StatusOK, resp.Status)
	body, ok := resp.Body.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, body["approved"])
}

func TestDispatch_WorkflowNotFound(t *testing.T) {
	e := newEnv(t)

	resp := e.dispatcher.Dispatch(context.Background(), "missing", "POST", nil, nil, nil)

	assert.Equal(t, http.StatusNotFound, resp.Status)
	body := resp.Body.(map[string]any)
	assert.Equal(t, "Workflow not found", body["error"])
}

func TestDispatch_InactiveWorkflow(t *testing.T) {
	e := newEnv(t)
	id := e.create(t, approvalWorkflow())
	require.NoError(t, e.workflows.SetActive(context.Background(), id, false))

	resp := e.dispatcher.Dispatch(context.Background(), id, "POST", nil, nil, nil)

	assert.Equal(t, http.StatusBadRequest, resp.Status)
	body := resp.Body.(map[string]any)
	assert.Equal(t, "Workflow is not active", body["error"])
}

func TestDispatch_NoWebhookTrigger(t *testing.T) {
	e := newEnv(t)
	id := e.create(t, &workflow.Workflow{
		Name:  "manual only",
		Nodes: []*workflow.Node{{Name: "Start", Type: workflow.TypeStart}},
	})

	resp := e.dispatcher.Dispatch(context.Background(), id, "POST", nil, nil, nil)

	assert.Equal(t, http.StatusBadRequest, resp.Status)
	body := resp.Body.(map[string]any)
	assert.Equal(t, "Workflow has no Webhook trigger", body["error"])
}

func TestDispatch_MethodMismatch(t *testing.T) {
	e := newEnv(t)
	id := e.create(t, approvalWorkflow())

	resp := e.dispatcher.Dispatch(context.Background(), id, "GET", nil, nil, nil)

	assert.Equal(t, http.StatusMethodNotAllowed, resp.Status)
}

func TestDispatch_DefaultResponse(t *testing.T) {
	e := newEnv(t)
	id := e.create(t, &workflow.Workflow{
		Name: "fire and forget",
		Nodes: []*workflow.Node{
			{Name: "Hook", Type: workflow.TypeWebhook},
			{Name: "Tag", Type: workflow.TypeSet, Parameters: map[string]any{
				"values": map[string]any{"seen": true},
			}},
		},
		Connections: []*workflow.Connection{
			{SourceNode: "Hook", TargetNode: "Tag"},
		},
	})

	resp := e.dispatcher.Dispatch(context.Background(), id, "POST", nil, nil, nil)

	require.Equal(t, http.StatusOK, resp.Status)
	body := resp.Body.(map[string]any)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "Workflow triggered", body["message"])
	assert.NotEmpty(t, body["executionId"])
}

func TestDispatch_LastNodeResponseMode(t *testing.T) {
	e := newEnv(t)
	id := e.create(t, &workflow.Workflow{
		Name: "echo data",
		Nodes: []*workflow.Node{
			{Name: "Hook", Type: workflow.TypeWebhook, Parameters: map[string]any{
				"responseMode": "lastNode",
			}},
			{Name: "Shape", Type: workflow.TypeSet, Parameters: map[string]any{
				"keepOnlySet": true,
				"values":      map[string]any{"answer": float64(42)},
			}},
		},
		Connections: []*workflow.Connection{
			{SourceNode: "Hook", TargetNode: "Shape"},
		},
	})

	resp := e.dispatcher.Dispatch(context.Background(), id, "POST", nil, nil, nil)

	require.Equal(t, http.StatusOK, resp.Status)
	body := resp.Body.(map[string]any)
	assert.Equal(t, "success", body["status"])
	require.Contains(t, body, "data")
}

func TestDispatch_NoContentResponse(t *testing.T) {
	e := newEnv(t)
	id := e.create(t, &workflow.Workflow{
		Name: "no content",
		Nodes: []*workflow.Node{
			{Name: "Hook", Type: workflow.TypeWebhook},
			{Name: "Respond", Type: workflow.TypeRespondToWebhook, Parameters: map[string]any{
				"statusCode":  204,
				"contentType": "none",
			}},
		},
		Connections: []*workflow.Connection{
			{SourceNode: "Hook", TargetNode: "Respond"},
		},
	})

	resp := e.dispatcher.Dispatch(context.Background(), id, "POST", nil, nil, nil)

	assert.Equal(t, http.StatusNoContent, resp.Status)
	assert.Nil(t, resp.Body)
	assert.Empty(t, resp.ContentType)
}

func TestDispatch_FailedRunReturns500(t *testing.T) {
	e := newEnv(t)
	id := e.create(t, &workflow.Workflow{
		Name: "always fails",
		Nodes: []*workflow.Node{
			{Name: "Hook", Type: workflow.TypeWebhook},
			{Name: "Abort", Type: workflow.TypeStopAndError, Parameters: map[string]any{
				"message": "payment rejected",
			}},
		},
		Connections: []*workflow.Connection{
			{SourceNode: "Hook", TargetNode: "Abort"},
		},
	})

	resp := e.dispatcher.Dispatch(context.Background(), id, "POST", nil, nil, nil)

	require.Equal(t, http.StatusInternalServerError, resp.Status)
	body := resp.Body.(map[string]any)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "payment rejected", body["message"])

	records, err := e.executions.List(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, store.StatusFailed, records[0].Status)
}

func TestDispatch_SeedCarriesRequestFields(t *testing.T) {
	e := newEnv(t)
	id := e.create(t, &workflow.Workflow{
		Name: "inspect seed",
		Nodes: []*workflow.Node{
			{Name: "Hook", Type: workflow.TypeWebhook, Parameters: map[string]any{"method": "GET"}},
			{Name: "Respond", Type: workflow.TypeRespondToWebhook, Parameters: map[string]any{
				"body": map[string]any{
					"method": "{{ $json.method }}",
					"token":  "{{ $json.query.token }}",
					"agent":  "{{ $json.headers.user_agent }}",
				},
			}},
		},
		Connections: []*workflow.Connection{
			{SourceNode: "Hook", TargetNode: "Respond"},
		},
	})

	resp := e.dispatcher.Dispatch(context.Background(), id, "GET",
		map[string]string{"user_agent": "curl"},
		map[string]string{"token": "abc123"},
		nil)

	require.Equal(t, http.StatusOK, resp.Status)
	body, ok := resp.Body.(map[string]any)
	require.True(t, ok, "unexpected body type %T", resp.Body)
	assert.Equal(t, "GET", body["method"])
	assert.Equal(t, "abc123", body["token"])
	assert.Equal(t, "curl", body["agent"])
}

func TestDispatch_ForwardsEventsToSink(t *testing.T) {
	e := newEnv(t)
	id := e.create(t, approvalWorkflow())

	e.dispatcher.Dispatch(context.Background(), id, "POST", nil, nil,
		map[string]any{"amount": float64(500)})

	require.NotEmpty(t, e.events)
	assert.Equal(t, event.ExecutionStart, e.events[0].Type)
	last := e.events[len(e.events)-1]
	assert.Equal(t, event.ExecutionComplete, last.Type)
}
