package node

import (
	"fmt"
	"sort"
	"sync"
)

// UnknownTypeError reports a registry lookup for a type no node claims.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown node type: %q", e.Type)
}

// Registry maps node type strings to their single shared instance.
// Nodes are stateless, so one instance serves every workflow and run.
type Registry struct {
	mu    sync.RWMutex
	nodes map[string]Node
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		nodes: make(map[string]Node),
	}
}

// Register adds a node instance under its type, replacing any previous
// registration for the same type.
func (r *Registry) Register(n Node) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nodes[n.Type()] = n
}

// Get returns the node registered for the type.
func (r *Registry) Get(nodeType string) (Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.nodes[nodeType]
	if !ok {
		return nil, &UnknownTypeError{Type: nodeType}
	}
	return n, nil
}

// Has reports whether a type is registered.
func (r *Registry) Has(nodeType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.nodes[nodeType]
	return ok
}

// Types returns all registered type strings, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.nodes))
	for t := range r.nodes {
		names = append(names, t)
	}
	sort.Strings(names)
	return names
}

// Descriptors returns type → descriptor for every registered node, for
// the node-catalog API.
func (r *Registry) Descriptors() map[string]Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Descriptor, len(r.nodes))
	for t, n := range r.nodes {
		out[t] = n.Descriptor()
	}
	return out
}
