// Package node defines the contract every workflow node implements, the
// type registry the runner resolves nodes through, and the per-execution
// context shared between the runner and the nodes it invokes.
package node

import (
	"context"

	"github.com/lyzr/flowrunner/engine/item"
	"github.com/lyzr/flowrunner/engine/workflow"
)

// InputsDynamic marks nodes that accept any number of inbound edges,
// such as Merge.
const InputsDynamic = -1

// Node is the uniform execution contract. Implementations are stateless;
// per-run state lives on the ExecContext and per-node state in its
// internal-state map.
type Node interface {
	// Type returns the unique type string used in workflow definitions.
	Type() string

	// Description returns a short human-readable summary.
	Description() string

	// InputCount returns the number of inbound main connections the node
	// expects: 0 for triggers, 1 for transforms, InputsDynamic for joins.
	InputCount() int

	// Descriptor returns static port and property metadata for UI and
	// validation. The runner never consults it.
	Descriptor() Descriptor

	// Execute runs the node against one job's input. Parameters on def
	// arrive already resolved by the expression engine, except fields a
	// node re-resolves per item itself.
	Execute(ctx context.Context, ec *ExecContext, def *workflow.Node, in *Input) (item.Result, error)
}

// Input carries one job's data into Execute.
type Input struct {
	// Items is the inbound item list. For multi-input nodes it is the
	// concatenation of all live branches in connection order.
	Items []*item.Item

	// RunIndex is the job's loop generation, starting at 0.
	RunIndex int

	// Branches holds the per-branch breakdown for multi-input nodes, in
	// the workflow's connection declaration order. Nil for single-input
	// nodes.
	Branches []Branch

	// Configs maps slot name to the configuration collected from each
	// subnode provider attached to this node. Nil when the node has no
	// subnode connections.
	Configs map[string]map[string]any
}

// Branch is one upstream feed into a multi-input node.
type Branch struct {
	// Source identifies the upstream edge as "{source_node}:{source_output}".
	Source string

	// Output is the branch's payload; it may be the no-output sentinel
	// when the upstream port emitted nothing.
	Output item.Output
}

// LiveItems returns the branch's items, or nil when the branch carried
// the no-output sentinel.
func (b Branch) LiveItems() []*item.Item {
	if b.Output.IsNoOutput() {
		return nil
	}
	return b.Output.Items()
}

// Descriptor is static node metadata: ports, editable properties, and
// palette grouping.
type Descriptor struct {
	Inputs       []Port     `json:"inputs"`
	Outputs      []Port     `json:"outputs"`
	Properties   []Property `json:"properties,omitempty"`
	Groups       []string   `json:"groups,omitempty"`
	SubnodeSlots []string   `json:"subnode_slots,omitempty"`
}

// Port names one input or output connector.
type Port struct {
	Name  string `json:"name"`
	Label string `json:"label,omitempty"`
}

// Property describes one editable node parameter.
type Property struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Default     any      `json:"default,omitempty"`
	Description string   `json:"description,omitempty"`
	Options     []string `json:"options,omitempty"`
}

// MainPorts is a convenience for the common single-main shape.
func MainPorts() []Port {
	return []Port{{Name: item.PortMain}}
}

// ConfigProvider is implemented by subnode types (models, memory, tools).
// Providers never enter the scheduler; the runner collects their
// configuration in a pre-pass and hands it to the parent node's Execute.
type ConfigProvider interface {
	Config(ec *ExecContext, def *workflow.Node) (map[string]any, error)
}
