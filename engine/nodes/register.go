package nodes

import "github.com/lyzr/flowrunner/engine/node"

// RegisterAll installs the built-in node library into a registry.
func RegisterAll(r *node.Registry) {
	// Triggers.
	r.Register(Start{})
	r.Register(WebhookTrigger{})
	r.Register(CronTrigger{})
	r.Register(SubworkflowTrigger{})
	r.Register(ErrorTrigger{})
	r.Register(ChatInput{})

	// Transforms.
	r.Register(Set{})
	r.Register(NewCode())
	r.Register(HTTPRequest{})
	r.Register(Filter{})
	r.Register(ItemLists{})

	// Flow control.
	r.Register(If{})
	r.Register(Switch{})
	r.Register(Merge{})
	r.Register(Wait{})
	r.Register(SplitInBatches{})
	r.Register(Loop{})
	r.Register(ExecuteWorkflow{})
	r.Register(StopAndError{})
	r.Register(RespondToWebhook{})
}

// NewRegistry builds a registry preloaded with the built-in library.
func NewRegistry() *node.Registry {
	r := node.NewRegistry()
	RegisterAll(r)
	return r
}
