// Package event defines the typed execution events the runner emits.
// Delivery is best-effort and, within one run, in emission order; fan-out
// to SSE/WebSocket clients happens in the relay layer.
package event

import (
	"time"

	"github.com/lyzr/flowrunner/engine/item"
)

// Type discriminates execution events.
type Type string

const (
	ExecutionStart    Type = "execution:start"
	NodeStart         Type = "node:start"
	NodeComplete      Type = "node:complete"
	NodeError         Type = "node:error"
	ExecutionComplete Type = "execution:complete"
	ExecutionError    Type = "execution:error"
)

// Progress counts completed nodes against the workflow's node total.
type Progress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// Event is one execution event. Fields are present only when applicable:
// Data only on node:complete, Error on the error events, Progress on
// execution-level and node:complete events.
type Event struct {
	Type                  Type         `json:"type"`
	ExecutionID           string       `json:"execution_id"`
	Timestamp             time.Time    `json:"timestamp"`
	NodeName              string       `json:"node_name,omitempty"`
	NodeType              string       `json:"node_type,omitempty"`
	Data                  []*item.Item `json:"data,omitempty"`
	Error                 string       `json:"error,omitempty"`
	Progress              *Progress    `json:"progress,omitempty"`
	SubworkflowParentNode string       `json:"subworkflow_parent_node,omitempty"`
	SubworkflowID         string       `json:"subworkflow_id,omitempty"`
}

// New stamps a fresh event.
func New(t Type, executionID string) Event {
	return Event{Type: t, ExecutionID: executionID, Timestamp: time.Now().UTC()}
}

// Sink receives events synchronously from the runner. Sinks must not block
// for long; slow consumers belong behind the relay hub.
type Sink func(Event)

// WrapSubworkflow decorates node-level events with the parent's
// ExecuteWorkflow node name and the sub-workflow id before forwarding.
// Execution-level events pass through untouched; they already carry the
// sub-run's own execution id.
func WrapSubworkflow(sink Sink, parentNode, subworkflowID string) Sink {
	if sink == nil {
		return nil
	}
	return func(ev Event) {
		switch ev.Type {
		case NodeStart, NodeComplete, NodeError:
			ev.SubworkflowParentNode = parentNode
			ev.SubworkflowID = subworkflowID
		}
		sink(ev)
	}
}
