// Package turn defines the supervisor's per-turn state, persists suspended
// turns under their correlation token and stores conversation history.
package turn

import (
	"time"

	"aide/pkg/protocol"
)

// Phase is the supervisor state-machine position of a turn.
type Phase uint8

// Turn phases. Done and Error are terminal.
const (
	PhasePlanning Phase = iota
	PhaseDispatching
	PhaseExecuting
	PhaseAwaitingApproval
	PhaseReflecting
	PhaseDone
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhasePlanning:
		return "planning"
	case PhaseDispatching:
		return "dispatching"
	case PhaseExecuting:
		return "executing"
	case PhaseAwaitingApproval:
		return "awaiting_approval"
	case PhaseReflecting:
		return "reflecting"
	case PhaseDone:
		return "done"
	case PhaseError:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether p ends the turn.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseError
}

// AgentAction is the result of one plan item.
type AgentAction struct {
	AgentType  protocol.AgentType `json:"agent_type" cbor:"agent_type"`
	ActionType string             `json:"action_type" cbor:"action_type"`
	RiskTier   protocol.RiskTier  `json:"risk_tier" cbor:"risk_tier"`
	Outcome    protocol.Outcome   `json:"outcome" cbor:"outcome"`
	Result     string             `json:"result,omitempty" cbor:"result,omitempty"`
	Error      string             `json:"error,omitempty" cbor:"error,omitempty"`
	ApprovalID string             `json:"approval_id,omitempty" cbor:"approval_id,omitempty"`
}

// PendingAction is the gated action a suspended turn is waiting on.
type PendingAction struct {
	Intent     protocol.Intent   `cbor:"intent"`
	RiskTier   protocol.RiskTier `cbor:"risk_tier"`
	ApprovalID string            `cbor:"approval_id"`
	Payload    string            `cbor:"payload"`
}

// State is the explicit state of one in-flight turn. It is owned by the
// supervisor call processing it and handed between phases by value; it is
// persisted only while suspended on an approval.
type State struct {
	Token          string              `cbor:"token"`
	UserID         string              `cbor:"user_id"`
	ConversationID string              `cbor:"conversation_id"`
	Message        string              `cbor:"message"`
	Plan           []protocol.Intent   `cbor:"plan"`
	Cursor         int                 `cbor:"cursor"` // index of the next plan item
	Results        []AgentAction       `cbor:"results,omitempty"`
	Phase          Phase               `cbor:"phase"`
	Err            string              `cbor:"err,omitempty"`
	TrustLevel     protocol.TrustLevel `cbor:"trust_level,omitempty"` // snapshot at dispatch
	Pending        *PendingAction      `cbor:"pending,omitempty"`
	CreatedAt      time.Time           `cbor:"created_at"`
}

// Next returns the next plan item and true, or false when the plan is
// exhausted.
func (s State) Next() (protocol.Intent, bool) {
	if s.Cursor >= len(s.Plan) {
		return protocol.Intent{}, false
	}
	return s.Plan[s.Cursor], true
}

// Remaining returns the plan items after the cursor.
func (s State) Remaining() []protocol.Intent {
	if s.Cursor >= len(s.Plan) {
		return nil
	}
	return s.Plan[s.Cursor:]
}

// Advance returns s with the cursor moved past the current item and the
// result appended. Results is copied so earlier values of s are unaffected.
func (s State) Advance(a AgentAction) State {
	results := make([]AgentAction, len(s.Results), len(s.Results)+1)
	copy(results, s.Results)
	s.Results = append(results, a)
	s.Cursor++
	s.Pending = nil
	return s
}

// WithPhase returns s in phase p.
func (s State) WithPhase(p Phase) State {
	s.Phase = p
	return s
}

// Fail returns s in the error phase with msg recorded.
func (s State) Fail(msg string) State {
	s.Phase = PhaseError
	s.Err = msg
	return s
}
