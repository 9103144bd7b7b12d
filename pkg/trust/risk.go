package trust

import (
	"slices"

	"aide/pkg/protocol"
)

// catalogue lists the actions each sub-agent performs and their risk tier.
// Actions not listed classify as write.
var catalogue = map[protocol.AgentType]map[string]protocol.RiskTier{ //nolint:gochecknoglobals // static table
	protocol.AgentEmail: {
		"read":      protocol.RiskRead,
		"search":    protocol.RiskRead,
		"summarize": protocol.RiskRead,
		"draft":     protocol.RiskWrite,
		"send":      protocol.RiskSend,
		"reply":     protocol.RiskSend,
		"delete":    protocol.RiskDelete,
	},
	protocol.AgentCalendar: {
		"list":       protocol.RiskRead,
		"create":     protocol.RiskWrite,
		"reschedule": protocol.RiskWrite,
		"invite":     protocol.RiskSend,
		"cancel":     protocol.RiskDelete,
	},
	protocol.AgentResearch: {
		"search":    protocol.RiskRead,
		"summarize": protocol.RiskRead,
	},
	protocol.AgentBriefing: {
		"daily":     protocol.RiskRead,
		"summarize": protocol.RiskRead,
	},
}

// ClassifyRisk returns the risk tier of an agent action.
func ClassifyRisk(agentType protocol.AgentType, actionType string) protocol.RiskTier {
	if tier, ok := catalogue[agentType][actionType]; ok {
		return tier
	}
	return protocol.RiskWrite
}

// Actions returns the catalogued action names for agentType, sorted.
func Actions(agentType protocol.AgentType) []string {
	actions := catalogue[agentType]
	out := make([]string, 0, len(actions))
	for name := range actions {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// KnownAction reports whether actionType is catalogued for agentType.
func KnownAction(agentType protocol.AgentType, actionType string) bool {
	_, ok := catalogue[agentType][actionType]
	return ok
}
