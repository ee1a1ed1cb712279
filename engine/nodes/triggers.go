package nodes

import (
	"context"

	"github.com/lyzr/flowrunner/engine/item"
	"github.com/lyzr/flowrunner/engine/node"
	"github.com/lyzr/flowrunner/engine/workflow"
)

// Start is the manual entry point. When the caller supplies initial data
// it passes through untouched; otherwise it synthesizes a seed item.
type Start struct{}

func (Start) Type() string        { return workflow.TypeStart }
func (Start) Description() string { return "Manual entry point for a workflow run" }
func (Start) InputCount() int     { return 0 }

func (Start) Descriptor() node.Descriptor {
	return node.Descriptor{
		Outputs: node.MainPorts(),
		Groups:  []string{"trigger"},
	}
}

func (Start) Execute(ctx context.Context, ec *node.ExecContext, def *workflow.Node, in *node.Input) (item.Result, error) {
	return passthroughOrSeed(in, map[string]any{
		"triggeredAt": nowISO(),
		"mode":        ec.Mode,
	}), nil
}

// WebhookTrigger receives the seed the dispatcher built from the inbound
// HTTP request: {body, headers, query, method, triggeredAt}.
type WebhookTrigger struct{}

func (WebhookTrigger) Type() string        { return workflow.TypeWebhook }
func (WebhookTrigger) Description() string { return "Starts the workflow from an inbound HTTP request" }
func (WebhookTrigger) InputCount() int     { return 0 }

func (WebhookTrigger) Descriptor() node.Descriptor {
	return node.Descriptor{
		Outputs: node.MainPorts(),
		Groups:  []string{"trigger"},
		Properties: []node.Property{
			{Name: "method", Type: "options", Default: "POST", Options: []string{"GET", "POST", "PUT", "DELETE"}},
			{Name: "responseMode", Type: "options", Default: "onReceived", Options: []string{"onReceived", "lastNode"}},
		},
	}
}

func (WebhookTrigger) Execute(ctx context.Context, ec *node.ExecContext, def *workflow.Node, in *node.Input) (item.Result, error) {
	return passthroughOrSeed(in, map[string]any{
		"triggeredAt": nowISO(),
		"mode":        ec.Mode,
	}), nil
}

// CronTrigger fires on a schedule owned by the external scheduler; at
// execution time it only stamps the seed item.
type CronTrigger struct{}

func (CronTrigger) Type() string        { return workflow.TypeCron }
func (CronTrigger) Description() string { return "Starts the workflow on a cron schedule" }
func (CronTrigger) InputCount() int     { return 0 }

func (CronTrigger) Descriptor() node.Descriptor {
	return node.Descriptor{
		Outputs: node.MainPorts(),
		Groups:  []string{"trigger"},
		Properties: []node.Property{
			{Name: "schedule", Type: "string", Default: "*/5 * * * *", Description: "Cron expression"},
		},
	}
}

func (CronTrigger) Execute(ctx context.Context, ec *node.ExecContext, def *workflow.Node, in *node.Input) (item.Result, error) {
	return passthroughOrSeed(in, map[string]any{
		"triggeredAt": nowISO(),
		"mode":        node.ModeCron,
		"schedule":    def.StringParam("schedule", ""),
	}), nil
}

// SubworkflowTrigger is the entry node of a workflow invoked by
// ExecuteWorkflow. It annotates the parent-supplied items with trigger
// metadata.
type SubworkflowTrigger struct{}

func (SubworkflowTrigger) Type() string { return workflow.TypeExecuteWorkflowTrigger }
func (SubworkflowTrigger) Description() string {
	return "Entry point when the workflow is called from another workflow"
}
func (SubworkflowTrigger) InputCount() int { return 0 }

func (SubworkflowTrigger) Descriptor() node.Descriptor {
	return node.Descriptor{
		Outputs: node.MainPorts(),
		Groups:  []string{"trigger"},
	}
}

func (SubworkflowTrigger) Execute(ctx context.Context, ec *node.ExecContext, def *workflow.Node, in *node.Input) (item.Result, error) {
	triggerType := "manual"
	if ec.ParentExecutionID != "" {
		triggerType = "subworkflow"
	}
	meta := map[string]any{
		"_triggeredAt":    nowISO(),
		"_triggerType":    triggerType,
		"_executionDepth": ec.Depth,
	}

	if len(in.Items) == 0 {
		return item.MainResult(item.New(meta)), nil
	}

	out := make([]*item.Item, len(in.Items))
	for i, it := range in.Items {
		annotated := it.Clone()
		for k, v := range meta {
			annotated.JSON[k] = v
		}
		out[i] = annotated
	}
	return item.MainResult(out...), nil
}

// ErrorTrigger is the entry node of an error-handler workflow. The caller
// seeds it with the failing execution's details.
type ErrorTrigger struct{}

func (ErrorTrigger) Type() string        { return workflow.TypeErrorTrigger }
func (ErrorTrigger) Description() string { return "Starts the workflow when another run fails" }
func (ErrorTrigger) InputCount() int     { return 0 }

func (ErrorTrigger) Descriptor() node.Descriptor {
	return node.Descriptor{
		Outputs: node.MainPorts(),
		Groups:  []string{"trigger"},
	}
}

func (ErrorTrigger) Execute(ctx context.Context, ec *node.ExecContext, def *workflow.Node, in *node.Input) (item.Result, error) {
	return passthroughOrSeed(in, map[string]any{
		"triggeredAt": nowISO(),
		"mode":        ec.Mode,
	}), nil
}

// ChatInput starts a workflow from a chat message; the message text rides
// in on the seed item or falls back to the node's configured default.
type ChatInput struct{}

func (ChatInput) Type() string        { return workflow.TypeChatInput }
func (ChatInput) Description() string { return "Starts the workflow from a chat message" }
func (ChatInput) InputCount() int     { return 0 }

func (ChatInput) Descriptor() node.Descriptor {
	return node.Descriptor{
		Outputs: node.MainPorts(),
		Groups:  []string{"trigger"},
		Properties: []node.Property{
			{Name: "message", Type: "string", Description: "Default message when none is supplied"},
		},
	}
}

func (ChatInput) Execute(ctx context.Context, ec *node.ExecContext, def *workflow.Node, in *node.Input) (item.Result, error) {
	return passthroughOrSeed(in, map[string]any{
		"message":     def.StringParam("message", ""),
		"triggeredAt": nowISO(),
		"mode":        ec.Mode,
	}), nil
}
