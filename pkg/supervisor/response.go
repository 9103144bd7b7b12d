package supervisor

import (
	"fmt"
	"strings"

	"aide/pkg/protocol"
	"aide/pkg/turn"
)

// render builds the user-facing response for st: one paragraph per
// attempted action, then one line per pending approval.
func render(st turn.State, pending []protocol.ApprovalRequest) string {
	if st.Err == "classification_failed" {
		return "Sorry, I couldn't tell which assistant should handle that. Try rephrasing it."
	}

	var parts []string
	for _, a := range st.Results {
		parts = append(parts, renderAction(a))
	}
	for _, req := range pending {
		parts = append(parts, fmt.Sprintf("Waiting for your approval to %s %s (request %s, expires %s).",
			req.AgentType, req.ActionType, req.ID, req.ExpiresAt.Format("15:04 MST")))
	}
	if st.Phase == turn.PhaseError && st.Err != "" {
		parts = append(parts, "Stopped: "+st.Err)
	}
	if len(parts) == 0 {
		return "Nothing to do."
	}
	return strings.Join(parts, "\n\n")
}

func renderAction(a turn.AgentAction) string {
	switch a.Outcome {
	case protocol.OutcomeSuccess, protocol.OutcomeApproved:
		if a.Result != "" {
			return a.Result
		}
		return fmt.Sprintf("Done: %s %s.", a.AgentType, a.ActionType)
	case protocol.OutcomeRejected:
		return fmt.Sprintf("Skipped %s %s: you declined it.", a.AgentType, a.ActionType)
	case protocol.OutcomeTimeout:
		return fmt.Sprintf("Skipped %s %s: the approval request timed out.", a.AgentType, a.ActionType)
	default:
		return fmt.Sprintf("The %s assistant couldn't %s: %s", a.AgentType, a.ActionType, a.Error)
	}
}

func describePlan(plan []protocol.Intent) string {
	steps := make([]string, len(plan))
	for i, in := range plan {
		steps[i] = string(in.AgentType) + "/" + in.Action
	}
	return strings.Join(steps, ", ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
