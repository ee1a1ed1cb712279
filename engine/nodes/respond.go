package nodes

import (
	"context"

	"github.com/lyzr/flowrunner/engine/item"
	"github.com/lyzr/flowrunner/engine/node"
	"github.com/lyzr/flowrunner/engine/workflow"
)

// Supported response content types. "none" answers with no body.
var respondContentTypes = []string{"application/json", "text/plain", "text/html", "application/xml", "none"}

// RespondToWebhook builds the HTTP response for a webhook-triggered run
// and ends the run successfully. Outside webhook mode it is a pass-through
// so the same workflow still runs manually.
type RespondToWebhook struct{}

func (RespondToWebhook) Type() string        { return workflow.TypeRespondToWebhook }
func (RespondToWebhook) Description() string { return "Answers the webhook call with a custom response" }
func (RespondToWebhook) InputCount() int     { return 1 }

func (RespondToWebhook) Descriptor() node.Descriptor {
	return node.Descriptor{
		Inputs:  node.MainPorts(),
		Outputs: node.MainPorts(),
		Groups:  []string{"flow"},
		Properties: []node.Property{
			{Name: "statusCode", Type: "number", Default: 200},
			{Name: "body", Type: "json", Description: "Response body; defaults to the first item's json"},
			{Name: "headers", Type: "collection"},
			{Name: "contentType", Type: "options", Default: "application/json", Options: respondContentTypes},
		},
	}
}

func (RespondToWebhook) Execute(ctx context.Context, ec *node.ExecContext, def *workflow.Node, in *node.Input) (item.Result, error) {
	if ec.Mode != node.ModeWebhook {
		return item.MainResult(in.Items...), nil
	}

	status := intParam(def, "statusCode", 200)
	contentType := def.StringParam("contentType", "application/json")

	var body any
	if raw := def.Param("body", nil); raw != nil {
		body = resolveForItem(ec, def, in.Items, 0, raw)
	} else if len(in.Items) > 0 {
		body = in.Items[0].JSON
	}
	if contentType == "none" {
		body = nil
		contentType = ""
	}

	headers := make(map[string]string)
	for k, v := range mapParam(def, "headers") {
		headers[k] = stringify(resolveForItem(ec, def, in.Items, 0, v))
	}

	ec.SetWebhookResponse(&node.WebhookResponse{
		Status:      status,
		Body:        body,
		Headers:     headers,
		ContentType: contentType,
	})
	return nil, node.StopWithWarning("webhook response sent")
}
