// Package workflow defines the persisted workflow document: nodes,
// connections, and settings. The runner, dispatcher, and HTTP layer all
// share this model; it carries no execution state.
package workflow

import (
	"encoding/json"
	"fmt"
)

// Canonical node type names. The node library registers implementations
// under these strings; the runner and dispatcher only ever compare types
// through them.
const (
	TypeStart                  = "start"
	TypeWebhook                = "webhook"
	TypeCron                   = "cron"
	TypeExecuteWorkflowTrigger = "executeWorkflowTrigger"
	TypeErrorTrigger           = "errorTrigger"
	TypeChatInput              = "chatInput"

	TypeSet         = "set"
	TypeCode        = "code"
	TypeHTTPRequest = "httpRequest"
	TypeFilter      = "filter"
	TypeItemLists   = "itemLists"

	TypeIf               = "if"
	TypeSwitch           = "switch"
	TypeMerge            = "merge"
	TypeWait             = "wait"
	TypeSplitInBatches   = "splitInBatches"
	TypeLoop             = "loop"
	TypeExecuteWorkflow  = "executeWorkflow"
	TypeStopAndError     = "stopAndError"
	TypeRespondToWebhook = "respondToWebhook"
)

// Connection kinds. Normal connections carry runtime items; subnode
// connections attach configuration providers to a parent node.
const (
	ConnectionNormal  = "normal"
	ConnectionSubnode = "subnode"
)

// DefaultMaxIterations bounds the runner's scheduling loop when the
// workflow settings leave it unset.
const DefaultMaxIterations = 1000

// DefaultRetryDelayMS is the pause between retry attempts when a node
// declares retry_on_fail without a retry_delay.
const DefaultRetryDelayMS = 1000

// Node is the static declaration of one node inside a workflow.
type Node struct {
	Name           string           `json:"name"`
	Type           string           `json:"type"`
	Parameters     map[string]any   `json:"parameters,omitempty"`
	Position       []float64        `json:"position,omitempty"`
	PinnedData     []map[string]any `json:"pinned_data,omitempty"`
	RetryOnFail    int              `json:"retry_on_fail,omitempty"`
	RetryDelay     *int             `json:"retry_delay,omitempty"`
	ContinueOnFail bool             `json:"continue_on_fail,omitempty"`
}

// RetryDelayMS returns the configured retry pause, defaulting to 1000 ms.
func (n *Node) RetryDelayMS() int {
	if n.RetryDelay == nil {
		return DefaultRetryDelayMS
	}
	return *n.RetryDelay
}

// Param reads a parameter with a fallback.
func (n *Node) Param(key string, def any) any {
	if n.Parameters == nil {
		return def
	}
	if v, ok := n.Parameters[key]; ok {
		return v
	}
	return def
}

// StringParam reads a string parameter with a fallback; non-string values
// fall back too.
func (n *Node) StringParam(key, def string) string {
	if v, ok := n.Param(key, def).(string); ok {
		return v
	}
	return def
}

// Connection is a directed edge between two nodes.
type Connection struct {
	SourceNode     string `json:"source_node"`
	TargetNode     string `json:"target_node"`
	SourceOutput   string `json:"source_output,omitempty"`
	TargetInput    string `json:"target_input,omitempty"`
	ConnectionType string `json:"connection_type,omitempty"`
	SlotName       string `json:"slot_name,omitempty"`
}

// IsNormal reports whether the connection carries runtime items.
func (c *Connection) IsNormal() bool {
	return c.ConnectionType == ConnectionNormal
}

// Settings holds workflow-level tunables.
type Settings struct {
	MaxIterations int `json:"max_iterations,omitempty"`
}

// Workflow is a persisted graph of nodes plus connections plus settings.
type Workflow struct {
	ID          string        `json:"id,omitempty"`
	Name        string        `json:"name,omitempty"`
	Nodes       []*Node       `json:"nodes"`
	Connections []*Connection `json:"connections"`
	Settings    *Settings     `json:"settings,omitempty"`
}

// Parse decodes a workflow document and fills connection defaults.
// Structural schema checking and semantic validation are separate steps;
// Parse only rejects malformed JSON.
func Parse(data []byte) (*Workflow, error) {
	var wf Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("failed to decode workflow: %w", err)
	}
	wf.Normalize()
	return &wf, nil
}

// Normalize fills omitted connection fields with their documented defaults:
// source_output="main", target_input="main", connection_type="normal".
func (w *Workflow) Normalize() {
	if w.Connections == nil {
		w.Connections = []*Connection{}
	}
	for _, c := range w.Connections {
		if c.SourceOutput == "" {
			c.SourceOutput = "main"
		}
		if c.TargetInput == "" {
			c.TargetInput = "main"
		}
		if c.ConnectionType == "" {
			c.ConnectionType = ConnectionNormal
		}
	}
}

// MaxIterations returns the scheduling bound, defaulting to 1000.
func (w *Workflow) MaxIterations() int {
	if w.Settings == nil || w.Settings.MaxIterations <= 0 {
		return DefaultMaxIterations
	}
	return w.Settings.MaxIterations
}

// Node finds a node by name; nil when absent.
func (w *Workflow) Node(name string) *Node {
	for _, n := range w.Nodes {
		if n.Name == name {
			return n
		}
	}
	return nil
}

// NodesOfType returns the nodes with the given type, in declaration order.
func (w *Workflow) NodesOfType(nodeType string) []*Node {
	var out []*Node
	for _, n := range w.Nodes {
		if n.Type == nodeType {
			out = append(out, n)
		}
	}
	return out
}

// FirstNodeOfType returns the first declared node of a type; nil when absent.
func (w *Workflow) FirstNodeOfType(nodeType string) *Node {
	for _, n := range w.Nodes {
		if n.Type == nodeType {
			return n
		}
	}
	return nil
}

// ConnectionsFrom lists normal connections leaving a node's output port,
// in declaration order.
func (w *Workflow) ConnectionsFrom(source, output string) []*Connection {
	var out []*Connection
	for _, c := range w.Connections {
		if c.IsNormal() && c.SourceNode == source && c.SourceOutput == output {
			out = append(out, c)
		}
	}
	return out
}

// ConnectionsTo lists normal connections entering a node, in declaration
// order.
func (w *Workflow) ConnectionsTo(target string) []*Connection {
	var out []*Connection
	for _, c := range w.Connections {
		if c.IsNormal() && c.TargetNode == target {
			out = append(out, c)
		}
	}
	return out
}

// SubnodeConnectionsTo lists subnode connections entering a parent node.
func (w *Workflow) SubnodeConnectionsTo(target string) []*Connection {
	var out []*Connection
	for _, c := range w.Connections {
		if c.ConnectionType == ConnectionSubnode && c.TargetNode == target {
			out = append(out, c)
		}
	}
	return out
}

// JoinSources returns the distinct upstream "{source}:{output}" keys feeding
// a node over normal connections, in first-declaration order. A multi-input
// node fires once every key has reported.
func (w *Workflow) JoinSources(target string) []string {
	seen := map[string]bool{}
	var out []string
	for _, c := range w.Connections {
		if !c.IsNormal() || c.TargetNode != target {
			continue
		}
		key := c.SourceNode + ":" + c.SourceOutput
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, key)
	}
	return out
}

// FindStartNode picks the automatic entry point: Webhook first, then Cron,
// then Start, then the first declared node.
func (w *Workflow) FindStartNode() *Node {
	for _, t := range []string{TypeWebhook, TypeCron, TypeStart} {
		if n := w.FirstNodeOfType(t); n != nil {
			return n
		}
	}
	if len(w.Nodes) > 0 {
		return w.Nodes[0]
	}
	return nil
}
