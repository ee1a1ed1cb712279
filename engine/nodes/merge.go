package nodes

import (
	"context"
	"fmt"

	"github.com/lyzr/flowrunner/engine/item"
	"github.com/lyzr/flowrunner/engine/node"
	"github.com/lyzr/flowrunner/engine/workflow"
)

// Merge modes.
const (
	MergeAppend       = "append"
	MergeWaitForAll   = "waitForAll"
	MergeKeepMatches  = "keepMatches"
	MergeCombinePairs = "combinePairs"
)

// Merge joins multiple inbound branches. The runner only fires it once
// every expected branch has arrived; branches that emitted the no-output
// sentinel count as arrived but carry no items.
type Merge struct{}

func (Merge) Type() string        { return workflow.TypeMerge }
func (Merge) Description() string { return "Joins items from multiple branches" }
func (Merge) InputCount() int     { return node.InputsDynamic }

func (Merge) Descriptor() node.Descriptor {
	return node.Descriptor{
		Inputs:  node.MainPorts(),
		Outputs: node.MainPorts(),
		Groups:  []string{"flow"},
		Properties: []node.Property{
			{Name: "mode", Type: "options", Default: MergeAppend,
				Options: []string{MergeAppend, MergeWaitForAll, MergeKeepMatches, MergeCombinePairs}},
			{Name: "matchField", Type: "string", Description: "Key field for keepMatches"},
		},
	}
}

func (Merge) Execute(ctx context.Context, ec *node.ExecContext, def *workflow.Node, in *node.Input) (item.Result, error) {
	branches := in.Branches
	if branches == nil {
		// Single wired input still behaves like a one-branch join.
		branches = []node.Branch{{Source: "", Output: item.NewOutput(in.Items...)}}
	}

	switch mode := def.StringParam("mode", MergeAppend); mode {
	case MergeAppend:
		var out []*item.Item
		for _, b := range branches {
			out = append(out, b.LiveItems()...)
		}
		return item.Result{item.PortMain: portOutput(out)}, nil

	case MergeWaitForAll:
		out := make([]*item.Item, 0, len(branches))
		for _, b := range branches {
			out = append(out, item.New(map[string]any{
				"source": b.Source,
				"items":  item.JSONList(b.LiveItems()),
			}))
		}
		return item.MainResult(out...), nil

	case MergeKeepMatches:
		return keepMatches(def, branches)

	case MergeCombinePairs:
		return combinePairs(branches)

	default:
		return nil, fmt.Errorf("unknown merge mode: %q", mode)
	}
}

// keepMatches keeps the first branch's items whose key value occurs in
// every other branch. A no-output branch is an empty set, so the
// intersection is empty.
func keepMatches(def *workflow.Node, branches []node.Branch) (item.Result, error) {
	field := def.StringParam("matchField", "")
	if field == "" {
		return nil, fmt.Errorf("keepMatches requires matchField")
	}
	if len(branches) == 0 {
		return item.Result{item.PortMain: item.NoOutput()}, nil
	}

	base := branches[0].LiveItems()
	var kept []*item.Item
	for _, it := range base {
		key := stringify(fieldValue(it, field))
		inAll := true
		for _, other := range branches[1:] {
			if !branchHasKey(other, field, key) {
				inAll = false
				break
			}
		}
		if inAll {
			kept = append(kept, it)
		}
	}
	return item.Result{item.PortMain: portOutput(kept)}, nil
}

func branchHasKey(b node.Branch, field, key string) bool {
	for _, it := range b.LiveItems() {
		if stringify(fieldValue(it, field)) == key {
			return true
		}
	}
	return false
}

// combinePairs zips branches positionally: output item i merges the json
// of every branch's item i, later branches winning key conflicts. The
// output length is the shortest branch.
func combinePairs(branches []node.Branch) (item.Result, error) {
	shortest := -1
	for _, b := range branches {
		n := len(b.LiveItems())
		if shortest < 0 || n < shortest {
			shortest = n
		}
	}
	if shortest <= 0 {
		return item.Result{item.PortMain: item.NoOutput()}, nil
	}

	out := make([]*item.Item, shortest)
	for i := 0; i < shortest; i++ {
		merged := item.Empty()
		for _, b := range branches {
			entry := b.LiveItems()[i]
			for k, v := range entry.JSON {
				merged.JSON[k] = v
			}
			for name, blob := range entry.Binary {
				if merged.Binary == nil {
					merged.Binary = make(map[string][]byte)
				}
				merged.Binary[name] = blob
			}
		}
		out[i] = merged
	}
	return item.MainResult(out...), nil
}
