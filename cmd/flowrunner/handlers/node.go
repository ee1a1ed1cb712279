package handlers

import (
	"net/http"
	"sort"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/flowrunner/cmd/flowrunner/container"
	"github.com/lyzr/flowrunner/engine/node"
)

// NodeHandler serves the node type catalog.
type NodeHandler struct {
	c *container.Container
}

// NewNodeHandler creates a new node catalog handler.
func NewNodeHandler(c *container.Container) *NodeHandler {
	return &NodeHandler{c: c}
}

type nodeType struct {
	Type string `json:"type"`
	node.Descriptor
}

// ListNodeTypes lists every registered node type and its descriptor,
// sorted by type name for a stable response
// GET /api/v1/nodes
func (h *NodeHandler) ListNodeTypes(c echo.Context) error {
	descriptors := h.c.Registry.Descriptors()

	nodes := make([]nodeType, 0, len(descriptors))
	for t, d := range descriptors {
		nodes = append(nodes, nodeType{Type: t, Descriptor: d})
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Type < nodes[j].Type })

	return c.JSON(http.StatusOK, map[string]interface{}{
		"nodes": nodes,
		"count": len(nodes),
	})
}
