package workflow

import (
	"encoding/json"
	"fmt"
)

// ValidationError rejects a workflow before any execution begins.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid workflow: " + e.Reason
}

func validationErrorf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// Validate enforces the structural invariants: at least one node, unique
// non-empty node names, non-empty types, connection endpoints that exist,
// known connection kinds, and JSON-serializable parameters.
func (w *Workflow) Validate() error {
	if len(w.Nodes) == 0 {
		return validationErrorf("workflow has no nodes")
	}

	names := make(map[string]bool, len(w.Nodes))
	for i, n := range w.Nodes {
		if n == nil {
			return validationErrorf("node %d is null", i)
		}
		if n.Name == "" {
			return validationErrorf("node %d has no name", i)
		}
		if n.Type == "" {
			return validationErrorf("node %q has no type", n.Name)
		}
		if names[n.Name] {
			return validationErrorf("duplicate node name %q", n.Name)
		}
		names[n.Name] = true

		if n.Parameters != nil {
			if _, err := json.Marshal(n.Parameters); err != nil {
				return validationErrorf("node %q parameters are not serializable: %v", n.Name, err)
			}
		}
		if n.RetryOnFail < 0 {
			return validationErrorf("node %q retry_on_fail must be >= 0", n.Name)
		}
		if n.RetryDelay != nil && *n.RetryDelay < 0 {
			return validationErrorf("node %q retry_delay must be >= 0", n.Name)
		}
	}

	for i, c := range w.Connections {
		if c == nil {
			return validationErrorf("connection %d is null", i)
		}
		if !names[c.SourceNode] {
			return validationErrorf("connection %d references unknown source node %q", i, c.SourceNode)
		}
		if !names[c.TargetNode] {
			return validationErrorf("connection %d references unknown target node %q", i, c.TargetNode)
		}
		switch c.ConnectionType {
		case "", ConnectionNormal, ConnectionSubnode:
		default:
			return validationErrorf("connection %d has unknown type %q", i, c.ConnectionType)
		}
	}

	return nil
}
