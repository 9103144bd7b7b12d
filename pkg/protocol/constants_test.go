package protocol_test

import (
	"testing"

	"aide/pkg/protocol"
)

func TestOutcomeSucceeded(t *testing.T) {
	tests := []struct {
		outcome protocol.Outcome
		want    bool
	}{
		{protocol.OutcomeSuccess, true},
		{protocol.OutcomeApproved, true},
		{protocol.OutcomeRejected, false},
		{protocol.OutcomeFailed, false},
		{protocol.OutcomeTimeout, false},
	}
	for _, tt := range tests {
		if got := tt.outcome.Succeeded(); got != tt.want {
			t.Errorf("%s.Succeeded() = %v, want %v", tt.outcome, got, tt.want)
		}
	}
}

func TestApprovalStatusTerminal(t *testing.T) {
	if protocol.ApprovalPending.Terminal() {
		t.Error("pending must not be terminal")
	}
	for _, s := range []protocol.ApprovalStatus{protocol.ApprovalApproved, protocol.ApprovalRejected, protocol.ApprovalExpired} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}

func TestTrustLevelValid(t *testing.T) {
	for l := protocol.TrustLevel(-1); l <= 5; l++ {
		want := l >= 1 && l <= 3
		if got := l.Valid(); got != want {
			t.Errorf("TrustLevel(%d).Valid() = %v, want %v", l, got, want)
		}
	}
}

func TestAgentTypeValid(t *testing.T) {
	for _, a := range protocol.AgentTypes {
		if !a.Valid() {
			t.Errorf("%s should be valid", a)
		}
	}
	if protocol.AgentType("shopping").Valid() {
		t.Error("unknown agent type reported valid")
	}
}
