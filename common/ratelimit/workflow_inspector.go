package ratelimit

import "github.com/lyzr/flowrunner/engine/workflow"

// WorkflowTier represents the rate limit tier based on workflow complexity
type WorkflowTier string

const (
	TierSimple   WorkflowTier = "simple"   // No outbound nodes
	TierStandard WorkflowTier = "standard" // 1-2 outbound nodes
	TierHeavy    WorkflowTier = "heavy"    // 3+ outbound nodes
)

// WorkflowProfile contains analysis of a workflow's complexity
type WorkflowProfile struct {
	Tier          WorkflowTier // Determined tier
	OutboundCount int          // Nodes that call out or spawn work
	TotalNodes    int          // Total node count
}

// outboundTypes are the node types whose execution reaches beyond the
// process: HTTP calls, sub-workflow spawns, and sandboxed code.
var outboundTypes = map[string]bool{
	workflow.TypeHTTPRequest:     true,
	workflow.TypeExecuteWorkflow: true,
	workflow.TypeCode:            true,
}

// InspectWorkflow analyzes a workflow and determines its complexity tier
func InspectWorkflow(wf *workflow.Workflow) WorkflowProfile {
	profile := WorkflowProfile{Tier: TierSimple}
	if wf == nil {
		return profile
	}

	profile.TotalNodes = len(wf.Nodes)
	for _, n := range wf.Nodes {
		if outboundTypes[n.Type] {
			profile.OutboundCount++
		}
	}

	profile.Tier = determineTier(profile.OutboundCount)
	return profile
}

// determineTier returns the appropriate tier based on outbound node count
func determineTier(outboundCount int) WorkflowTier {
	switch {
	case outboundCount == 0:
		return TierSimple
	case outboundCount <= 2:
		return TierStandard
	default: // 3+
		return TierHeavy
	}
}

// String returns a human-readable description of the tier
func (t WorkflowTier) String() string {
	switch t {
	case TierSimple:
		return "simple"
	case TierStandard:
		return "standard"
	case TierHeavy:
		return "heavy"
	default:
		return "unknown"
	}
}
