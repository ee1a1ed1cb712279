package nodes

import (
	"context"
	"fmt"
	"sort"

	"github.com/lyzr/flowrunner/engine/item"
	"github.com/lyzr/flowrunner/engine/node"
	"github.com/lyzr/flowrunner/engine/workflow"
)

// ExecuteWorkflow runs another workflow as a child of this run, seeding
// it with the inbound items and returning the child's terminal outputs.
type ExecuteWorkflow struct{}

func (ExecuteWorkflow) Type() string        { return workflow.TypeExecuteWorkflow }
func (ExecuteWorkflow) Description() string { return "Runs another workflow and returns its output" }
func (ExecuteWorkflow) InputCount() int     { return 1 }

func (ExecuteWorkflow) Descriptor() node.Descriptor {
	return node.Descriptor{
		Inputs:  node.MainPorts(),
		Outputs: node.MainPorts(),
		Groups:  []string{"flow"},
		Properties: []node.Property{
			{Name: "workflowId", Type: "string"},
		},
	}
}

func (ExecuteWorkflow) Execute(ctx context.Context, ec *node.ExecContext, def *workflow.Node, in *node.Input) (item.Result, error) {
	workflowID := def.StringParam("workflowId", "")
	if workflowID == "" {
		return nil, fmt.Errorf("workflowId parameter is empty")
	}
	if ec.Depth+1 > ec.MaxDepth {
		return nil, &node.RecursionError{Depth: ec.Depth + 1, Max: ec.MaxDepth}
	}
	if ec.Workflows == nil {
		return nil, fmt.Errorf("no workflow repository attached to execution context")
	}
	if ec.SubRunner == nil {
		return nil, fmt.Errorf("no sub-workflow runner attached to execution context")
	}

	wf, err := ec.Workflows.WorkflowByID(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("load workflow %q: %w", workflowID, err)
	}

	sub, err := ec.SubRunner.RunSubWorkflow(ctx, ec, wf, def.Name, in.Items)
	if err != nil {
		return nil, err
	}

	// Terminal outputs concatenate in node-name order so the result is
	// stable, each item tagged with where it came from.
	names := make([]string, 0, len(sub.Outputs))
	for name := range sub.Outputs {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []*item.Item
	for _, name := range names {
		for _, it := range sub.Outputs[name] {
			tagged := it.Clone()
			tagged.JSON["_subWorkflowId"] = workflowID
			tagged.JSON["_subExecutionId"] = sub.ExecutionID
			out = append(out, tagged)
		}
	}
	if len(out) == 0 {
		out = []*item.Item{item.New(map[string]any{
			"_subWorkflowId":  workflowID,
			"_subExecutionId": sub.ExecutionID,
		})}
	}
	return item.MainResult(out...), nil
}
