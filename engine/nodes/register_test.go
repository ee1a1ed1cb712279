package nodes

import (
	"testing"

	"github.com/lyzr/flowrunner/engine/workflow"
)

func TestNewRegistry_CarriesTheWholeLibrary(t *testing.T) {
	reg := NewRegistry()

	wantTypes := []string{
		workflow.TypeStart, workflow.TypeWebhook, workflow.TypeCron,
		workflow.TypeExecuteWorkflowTrigger, workflow.TypeErrorTrigger, workflow.TypeChatInput,
		workflow.TypeSet, workflow.TypeCode, workflow.TypeHTTPRequest,
		workflow.TypeFilter, workflow.TypeItemLists,
		workflow.TypeIf, workflow.TypeSwitch, workflow.TypeMerge, workflow.TypeWait,
		workflow.TypeSplitInBatches, workflow.TypeLoop, workflow.TypeExecuteWorkflow,
		workflow.TypeStopAndError, workflow.TypeRespondToWebhook,
	}
	for _, typ := range wantTypes {
		if !reg.Has(typ) {
			t.Errorf("registry is missing %q", typ)
		}
	}
	if got := len(reg.Types()); got != len(wantTypes) {
		t.Errorf("registry holds %d types, want %d", got, len(wantTypes))
	}
}

func TestRegistry_DescriptorsAreWellFormed(t *testing.T) {
	reg := NewRegistry()

	for _, typ := range reg.Types() {
		n, err := reg.Get(typ)
		if err != nil {
			t.Fatalf("get %q: %v", typ, err)
		}
		desc := n.Descriptor()
		if len(desc.Outputs) == 0 {
			t.Errorf("%q declares no output ports", typ)
		}
		if n.InputCount() == 0 && len(desc.Groups) > 0 && desc.Groups[0] != "trigger" {
			t.Errorf("%q takes no input but is not a trigger", typ)
		}
		if n.Description() == "" {
			t.Errorf("%q has no description", typ)
		}
	}
}
