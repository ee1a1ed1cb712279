package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/flowrunner/cmd/flowrunner/container"
	"github.com/lyzr/flowrunner/cmd/flowrunner/routes"
	"github.com/lyzr/flowrunner/common/bootstrap"
	"github.com/lyzr/flowrunner/common/config"
	"github.com/lyzr/flowrunner/common/logger"
	"github.com/lyzr/flowrunner/store"
)

// testAPI wires the full HTTP surface against memory stores so tests
// exercise routing, handlers, and the engine together.
type testAPI struct {
	e *echo.Echo
	c *container.Container
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	cfg := &config.Config{
		Service: config.ServiceConfig{Name: "flowrunner-test", Port: 8080, LogLevel: "error", LogFormat: "text"},
		Store:   config.StoreConfig{Backend: "memory", MaxExecutions: 50},
		Engine: config.EngineConfig{
			MaxIterations:     1000,
			MaxExecutionDepth: 10,
			CodeTimeout:       5 * time.Second,
			HTTPTimeout:       10 * time.Second,
			WaitCap:           time.Second,
		},
		Scheduler: config.SchedulerConfig{Enabled: true},
	}

	components, err := bootstrap.Setup(context.Background(), "flowrunner-test",
		bootstrap.WithCustomConfig(cfg),
		bootstrap.WithCustomLogger(logger.Discard()),
	)
	require.NoError(t, err)

	c, err := container.New(components)
	require.NoError(t, err)

	e := echo.New()
	routes.Register(e, c)
	return &testAPI{e: e, c: c}
}

// request fires one HTTP request through the router. A string body is
// sent raw; anything else is marshaled to JSON.
func (a *testAPI) request(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

// createWorkflow posts a raw workflow document and returns its id.
func (a *testAPI) createWorkflow(t *testing.T, doc string) string {
	t.Helper()
	rec := a.request(t, http.MethodPost, "/api/v1/workflows", doc)
	require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())
	id, _ := decodeJSON(t, rec)["id"].(string)
	require.NotEmpty(t, id)
	return id
}

const echoWorkflow = `{
	"name": "echo",
	"nodes": [
		{"name": "Hook", "type": "webhook", "parameters": {"method": "POST"}},
		{"name": "Respond", "type": "respondToWebhook", "parameters": {
			"statusCode": 201,
			"body": {"got": "{{ $json.body.msg }}"}
		}}
	],
	"connections": [
		{"source_node": "Hook", "target_node": "Respond"}
	]
}`

const greetWorkflow = `{
	"name": "greet",
	"nodes": [
		{"name": "Go", "type": "start"},
		{"name": "Greet", "type": "set", "parameters": {
			"values": {"greeting": "{{ $json.name }}"}
		}}
	],
	"connections": [
		{"source_node": "Go", "target_node": "Greet"}
	]
}`

const cronWorkflow = `{
	"name": "nightly",
	"nodes": [
		{"name": "Tick", "type": "cron", "parameters": {"schedule": "0 3 * * *"}},
		{"name": "Mark", "type": "set", "parameters": {"values": {"ran": true}}}
	],
	"connections": [
		{"source_node": "Tick", "target_node": "Mark"}
	]
}`

func TestAPI_WorkflowCRUDLifecycle(t *testing.T) {
	api := newTestAPI(t)

	id := api.createWorkflow(t, echoWorkflow)

	rec := api.request(t, http.MethodGet, "/api/v1/workflows/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeJSON(t, rec)
	assert.Equal(t, "echo", got["name"])
	assert.Equal(t, true, got["active"])

	rec = api.request(t, http.MethodGet, "/api/v1/workflows", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeJSON(t, rec)
	assert.Equal(t, float64(1), list["count"])

	updated := strings.Replace(echoWorkflow, `"name": "echo"`, `"name": "echo-v2"`, 1)
	rec = api.request(t, http.MethodPut, "/api/v1/workflows/"+id, updated)
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	assert.Equal(t, "echo-v2", decodeJSON(t, rec)["name"])

	rec = api.request(t, http.MethodDelete, "/api/v1/workflows/"+id, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = api.request(t, http.MethodGet, "/api/v1/workflows/"+id, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "workflow not found", decodeJSON(t, rec)["error"])
}

func TestAPI_CreateWorkflowRejectsInvalidDocuments(t *testing.T) {
	api := newTestAPI(t)

	// Schema violation: nodes is required.
	rec := api.request(t, http.MethodPost, "/api/v1/workflows", `{"name": "empty"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid workflow", decodeJSON(t, rec)["error"])

	// Semantic violation: connection references a missing node.
	bad := `{
		"name": "dangling",
		"nodes": [{"name": "A", "type": "set"}],
		"connections": [{"source_node": "A", "target_node": "Ghost"}]
	}`
	rec = api.request(t, http.MethodPost, "/api/v1/workflows", bad)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeJSON(t, rec)
	assert.Equal(t, "invalid workflow", body["error"])
	assert.Contains(t, body["message"], "Ghost")
}

func TestAPI_PatchWorkflowAppliesOperations(t *testing.T) {
	api := newTestAPI(t)
	id := api.createWorkflow(t, echoWorkflow)

	patch := `[
		{"op": "replace", "path": "/name", "value": "echo-patched"},
		{"op": "add", "path": "/nodes/-", "value": {
			"name": "Tail", "type": "set",
			"parameters": {"values": {"tagged": true}}
		}},
		{"op": "add", "path": "/connections/-", "value": {
			"source_node": "Respond", "target_node": "Tail"
		}}
	]`
	rec := api.request(t, http.MethodPatch, "/api/v1/workflows/"+id, patch)
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())

	stored, err := api.c.Components.Workflows.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "echo-patched", stored.Workflow.Name)
	assert.Len(t, stored.Workflow.Nodes, 3)
	require.NotNil(t, stored.Workflow.Node("Tail"))
}

func TestAPI_PatchWorkflowRejectsInvalidResults(t *testing.T) {
	api := newTestAPI(t)
	id := api.createWorkflow(t, echoWorkflow)

	rec := api.request(t, http.MethodPatch, "/api/v1/workflows/"+id, `{"not": "a patch"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid JSON patch", decodeJSON(t, rec)["error"])

	// The workflow id is the store key and cannot be edited in place.
	rec = api.request(t, http.MethodPatch, "/api/v1/workflows/"+id,
		`[{"op": "replace", "path": "/id", "value": "hijacked"}]`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeJSON(t, rec)["message"], "id cannot be patched")

	// The patch applies cleanly but breaks a connection target.
	breaking := `[{"op": "replace", "path": "/connections/0/target_node", "value": "Ghost"}]`
	rec = api.request(t, http.MethodPatch, "/api/v1/workflows/"+id, breaking)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "patched workflow is invalid", decodeJSON(t, rec)["error"])

	// The stored definition is untouched after a rejected patch.
	stored, err := api.c.Components.Workflows.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Respond", stored.Workflow.Connections[0].TargetNode)
}

func TestAPI_WebhookRoundTrip(t *testing.T) {
	api := newTestAPI(t)
	id := api.createWorkflow(t, echoWorkflow)

	// Deactivated workflows refuse webhook traffic.
	rec := api.request(t, http.MethodPost, "/api/v1/workflows/"+id+"/activate", map[string]bool{"active": false})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = api.request(t, http.MethodPost, "/webhook/"+id, map[string]string{"msg": "hi"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Workflow is not active", decodeJSON(t, rec)["error"])

	rec = api.request(t, http.MethodPost, "/api/v1/workflows/"+id+"/activate", map[string]bool{"active": true})
	require.Equal(t, http.StatusOK, rec.Code)

	// Wrong method is rejected by the trigger's configuration.
	rec = api.request(t, http.MethodGet, "/webhook/"+id, nil)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = api.request(t, http.MethodPost, "/webhook/"+id, map[string]string{"msg": "hi"})
	require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())
	assert.Equal(t, "hi", decodeJSON(t, rec)["got"])

	// The run left exactly one successful webhook execution behind.
	rec = api.request(t, http.MethodGet, "/api/v1/executions?workflow_id="+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeJSON(t, rec)
	require.Equal(t, float64(1), list["count"], "body: %s", rec.Body.String())

	records := list["executions"].([]interface{})
	first := records[0].(map[string]interface{})
	assert.Equal(t, store.StatusSuccess, first["status"])
	assert.Equal(t, "webhook", first["mode"])

	rec = api.request(t, http.MethodGet, "/api/v1/executions/"+first["id"].(string), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decodeJSON(t, rec)
	states := detail["node_states"].(map[string]interface{})
	assert.Contains(t, states, "Respond")
}

func TestAPI_WebhookUnknownWorkflow(t *testing.T) {
	api := newTestAPI(t)

	rec := api.request(t, http.MethodPost, "/webhook/nope", map[string]string{"msg": "hi"})
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Workflow not found", decodeJSON(t, rec)["error"])
}

func TestAPI_ManualRunReturnsFinishedRecord(t *testing.T) {
	api := newTestAPI(t)
	id := api.createWorkflow(t, greetWorkflow)

	rec := api.request(t, http.MethodPost, "/api/v1/workflows/"+id+"/run",
		map[string]interface{}{"payload": map[string]string{"name": "Ada"}})
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())

	record := decodeJSON(t, rec)
	assert.Equal(t, store.StatusSuccess, record["status"])
	assert.Equal(t, "manual", record["mode"])
	require.NotEmpty(t, record["id"])

	states := record["node_states"].(map[string]interface{})
	greet := states["Greet"].([]interface{})
	first := greet[0].(map[string]interface{})
	assert.Equal(t, "Ada", first["json"].(map[string]interface{})["greeting"])
}

func TestAPI_ManualRunReportsStartFailure(t *testing.T) {
	api := newTestAPI(t)
	id := api.createWorkflow(t, greetWorkflow)

	rec := api.request(t, http.MethodPost, "/api/v1/workflows/"+id+"/run",
		map[string]interface{}{"startNode": "Nope"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := decodeJSON(t, rec)
	assert.Equal(t, "run failed to start", body["error"])
	assert.Contains(t, body["message"], "Nope")

	// The pre-created record still exists, marked failed.
	records, err := api.c.Components.Executions.List(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, store.StatusFailed, records[0].Status)
}

func TestAPI_ExecutionHistoryDeleteAndClear(t *testing.T) {
	api := newTestAPI(t)
	id := api.createWorkflow(t, greetWorkflow)

	for i := 0; i < 2; i++ {
		rec := api.request(t, http.MethodPost, "/api/v1/workflows/"+id+"/run", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := api.request(t, http.MethodGet, "/api/v1/executions", nil)
	list := decodeJSON(t, rec)
	require.Equal(t, float64(2), list["count"])

	first := list["executions"].([]interface{})[0].(map[string]interface{})
	rec = api.request(t, http.MethodDelete, "/api/v1/executions/"+first["id"].(string), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = api.request(t, http.MethodDelete, "/api/v1/executions", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = api.request(t, http.MethodGet, "/api/v1/executions", nil)
	assert.Equal(t, float64(0), decodeJSON(t, rec)["count"])

	rec = api.request(t, http.MethodDelete, "/api/v1/executions/gone", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_NodeCatalogListsRegisteredTypes(t *testing.T) {
	api := newTestAPI(t)

	rec := api.request(t, http.MethodGet, "/api/v1/nodes", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeJSON(t, rec)
	nodes := body["nodes"].([]interface{})
	require.NotEmpty(t, nodes)
	assert.Equal(t, float64(len(nodes)), body["count"])

	types := make([]string, 0, len(nodes))
	for _, n := range nodes {
		types = append(types, n.(map[string]interface{})["type"].(string))
	}
	assert.Contains(t, types, "webhook")
	assert.Contains(t, types, "if")
	assert.Contains(t, types, "executeWorkflow")
	assert.IsIncreasing(t, types)
}

func TestAPI_WorkflowMutationsSyncScheduler(t *testing.T) {
	api := newTestAPI(t)
	require.NotNil(t, api.c.Scheduler)

	id := api.createWorkflow(t, cronWorkflow)
	assert.Equal(t, 1, api.c.Scheduler.Entries(), "create should register the cron trigger")

	rec := api.request(t, http.MethodPost, "/api/v1/workflows/"+id+"/activate", map[string]bool{"active": false})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, api.c.Scheduler.Entries(), "deactivation should drop the entry")

	rec = api.request(t, http.MethodPost, "/api/v1/workflows/"+id+"/activate", map[string]bool{"active": true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, api.c.Scheduler.Entries())

	rec = api.request(t, http.MethodDelete, "/api/v1/workflows/"+id, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, api.c.Scheduler.Entries(), "deletion should drop the entry")
}
