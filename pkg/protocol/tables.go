package protocol

import "time"

// TrustScore represents a row in the trust_scores SQLite table.
// One row per (user, agent_type, action_type); created lazily at LevelNew.
type TrustScore struct {
	UserID            string     `json:"user_id"`
	AgentType         AgentType  `json:"agent_type"`
	ActionType        string     `json:"action_type"`
	Level             TrustLevel `json:"level"`
	SuccessfulActions int        `json:"successful_actions"`
	TotalActions      int        `json:"total_actions"`
	ManualOverride    bool       `json:"manual_override"`
	LastEscalationAt  *time.Time `json:"last_escalation_at,omitempty"`
	LastViolationAt   *time.Time `json:"last_violation_at,omitempty"`
}

// SuccessRatio returns successful/total, or 0 when nothing has been recorded.
func (s TrustScore) SuccessRatio() float64 {
	if s.TotalActions == 0 {
		return 0
	}
	return float64(s.SuccessfulActions) / float64(s.TotalActions)
}

// ApprovalRequest represents a row in the approvals SQLite table.
// Payload is opaque to the gate; TurnToken links back to the suspended turn.
type ApprovalRequest struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id"`
	AgentType      AgentType      `json:"agent_type"`
	ActionType     string         `json:"action_type"`
	Payload        string         `json:"payload"`
	Status         ApprovalStatus `json:"status"`
	TimeoutSeconds int            `json:"timeout_seconds"`
	TurnToken      string         `json:"turn_token"`
	Reason         string         `json:"reason,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	ExpiresAt      time.Time      `json:"expires_at"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty"`
}

// ActivityRecord represents a row in the activities SQLite table.
// Rows are immutable once written.
type ActivityRecord struct {
	ID        int64          `json:"id"`
	UserID    string         `json:"user_id"`
	TurnToken string         `json:"turn_token,omitempty"`
	AgentType AgentType      `json:"agent_type,omitempty"`
	Status    ActivityStatus `json:"status"`
	Detail    string         `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ReflexionRecord represents a row in the reflexions SQLite table.
// Written once per terminal action attempt.
type ReflexionRecord struct {
	ID         int64     `json:"id"`
	UserID     string    `json:"user_id"`
	AgentType  AgentType `json:"agent_type"`
	ActionType string    `json:"action_type"`
	Outcome    Outcome   `json:"outcome"`
	ApprovalID string    `json:"approval_id,omitempty"`
	TurnToken  string    `json:"turn_token,omitempty"`
	Critique   string    `json:"critique,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Message represents a row in the messages SQLite table.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// Mail represents a row in the mailbox SQLite table.
type Mail struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Folder    string    `json:"folder"` // inbox | drafts | sent
	Recipient string    `json:"recipient,omitempty"`
	Subject   string    `json:"subject,omitempty"`
	Body      string    `json:"body,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Mailbox folders.
const (
	FolderInbox  = "inbox"
	FolderDrafts = "drafts"
	FolderSent   = "sent"
)

// CalendarEvent represents a row in the calendar_events SQLite table.
type CalendarEvent struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Attendees []string  `json:"attendees,omitempty"`
	StartsAt  time.Time `json:"starts_at"`
	EndsAt    time.Time `json:"ends_at"`
	Cancelled bool      `json:"cancelled,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// MillisToTime converts a stored unix-millisecond column to time.Time (UTC).
func MillisToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// NullMillisToTime converts a nullable unix-millisecond column.
func NullMillisToTime(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := MillisToTime(*ms)
	return &t
}
