package protocol_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"aide/pkg/protocol"
)

func TestClassificationError_ErrorsAs(t *testing.T) {
	cause := errors.New("model unavailable")
	wrapped := fmt.Errorf("submit turn: %w", &protocol.ClassificationError{
		UserID: "u-1",
		Reason: "classifier error",
		Err:    cause,
	})

	var target *protocol.ClassificationError
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As failed to extract ClassificationError")
	}
	if target.UserID != "u-1" {
		t.Errorf("expected UserID 'u-1', got %q", target.UserID)
	}
	if !errors.Is(wrapped, cause) {
		t.Error("expected ClassificationError to unwrap to its cause")
	}
}

func TestAuthError_DistinctFromExecutorError(t *testing.T) {
	authErr := error(&protocol.AuthError{AgentType: protocol.AgentEmail, Reason: "token revoked"})

	var execErr *protocol.ExecutorError
	if errors.As(authErr, &execErr) {
		t.Fatal("AuthError must not match ExecutorError")
	}

	var target *protocol.AuthError
	if !errors.As(fmt.Errorf("execute: %w", authErr), &target) {
		t.Fatal("errors.As failed to extract AuthError")
	}
	if !strings.Contains(target.Error(), "token revoked") {
		t.Errorf("expected reason in message, got %q", target.Error())
	}
}

func TestExecutorError_Unwrap(t *testing.T) {
	cause := errors.New("smtp 451")
	err := &protocol.ExecutorError{AgentType: protocol.AgentEmail, ActionType: "send", Err: cause}
	if !errors.Is(err, cause) {
		t.Error("expected ExecutorError to unwrap to its cause")
	}
	if got := err.Error(); !strings.Contains(got, "email agent send failed") {
		t.Errorf("unexpected message %q", got)
	}
}

func TestNotFoundErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"approval", &protocol.ApprovalNotFoundError{ID: "a-1"}, "approval a-1 not found"},
		{"turn", &protocol.TurnNotFoundError{Token: "t-1"}, "suspended turn t-1 not found"},
		{"level", &protocol.InvalidLevelError{Level: 4}, "trust level 4 out of range [1,3]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
