package protocol

import "fmt"

// ClassificationError is returned when a turn cannot be planned. It is fatal
// to the turn and surfaces to the caller.
type ClassificationError struct {
	UserID string
	Reason string // "classification_failed" detail, e.g. "no agent matched"
	Err    error
}

func (e *ClassificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("classification failed for user %s: %s: %v", e.UserID, e.Reason, e.Err)
	}
	return fmt.Sprintf("classification failed for user %s: %s", e.UserID, e.Reason)
}

func (e *ClassificationError) Unwrap() error { return e.Err }

// ExecutorError wraps a non-fatal sub-agent failure. The plan continues and
// the attempt is reflected as failed.
type ExecutorError struct {
	AgentType  AgentType
	ActionType string
	Err        error
}

func (e *ExecutorError) Error() string {
	return fmt.Sprintf("%s agent %s failed: %v", e.AgentType, e.ActionType, e.Err)
}

func (e *ExecutorError) Unwrap() error { return e.Err }

// AuthError reports an authorization failure in a sub-agent's external I/O.
// It is fatal: the remaining plan items are skipped because they would fail
// the same way.
type AuthError struct {
	AgentType AgentType
	Reason    string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s agent not authorized: %s", e.AgentType, e.Reason)
}

// ApprovalNotFoundError represents an approval lookup failure.
type ApprovalNotFoundError struct {
	ID string
}

func (e *ApprovalNotFoundError) Error() string {
	return fmt.Sprintf("approval %s not found", e.ID)
}

// TurnNotFoundError is returned when no suspended turn exists for a
// correlation token, usually because another resolver already claimed it.
type TurnNotFoundError struct {
	Token string
}

func (e *TurnNotFoundError) Error() string {
	return fmt.Sprintf("suspended turn %s not found", e.Token)
}

// InvalidLevelError rejects a trust level outside [1,3].
type InvalidLevelError struct {
	Level int
}

func (e *InvalidLevelError) Error() string {
	return fmt.Sprintf("trust level %d out of range [1,3]", e.Level)
}
