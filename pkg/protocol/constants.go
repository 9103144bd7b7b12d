package protocol

// Directory and path constants used throughout aide.
const (
	// AideDir is the user-level state directory (e.g., ~/.aide).
	AideDir = ".aide"

	// StateDBName is the default SQLite database file inside AideDir.
	StateDBName = "state.db"
)

// AgentType tags one member of the closed sub-agent set.
type AgentType string

// Sub-agent tags.
const (
	AgentEmail    AgentType = "email"
	AgentCalendar AgentType = "calendar"
	AgentResearch AgentType = "research"
	AgentBriefing AgentType = "briefing"
)

// AgentTypes lists every sub-agent tag in display order.
var AgentTypes = []AgentType{AgentEmail, AgentCalendar, AgentResearch, AgentBriefing} //nolint:gochecknoglobals // closed set

// Valid reports whether a is one of the known sub-agent tags.
func (a AgentType) Valid() bool {
	switch a {
	case AgentEmail, AgentCalendar, AgentResearch, AgentBriefing:
		return true
	default:
		return false
	}
}

// RiskTier classifies the side-effect severity of an action.
type RiskTier string

// Risk tiers, least to most severe.
const (
	RiskRead   RiskTier = "read"
	RiskWrite  RiskTier = "write"
	RiskSend   RiskTier = "send"
	RiskDelete RiskTier = "delete"
)

// Valid reports whether r is a known tier.
func (r RiskTier) Valid() bool {
	switch r {
	case RiskRead, RiskWrite, RiskSend, RiskDelete:
		return true
	default:
		return false
	}
}

// TrustLevel is the autonomy level for one (user, agent, action) triple.
type TrustLevel int

// Trust levels.
const (
	LevelNew        TrustLevel = 1
	LevelTrusted    TrustLevel = 2
	LevelAutonomous TrustLevel = 3
)

// Valid reports whether l is within [LevelNew, LevelAutonomous].
func (l TrustLevel) Valid() bool {
	return l >= LevelNew && l <= LevelAutonomous
}

// String returns the level's name.
func (l TrustLevel) String() string {
	switch l {
	case LevelNew:
		return "new"
	case LevelTrusted:
		return "trusted"
	case LevelAutonomous:
		return "autonomous"
	default:
		return "unknown"
	}
}

// ApprovalStatus is the lifecycle state of an approval request.
// Pending is the only non-terminal value.
type ApprovalStatus string

// Approval statuses.
const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalExpired  ApprovalStatus = "expired"
)

// Terminal reports whether s can no longer change.
func (s ApprovalStatus) Terminal() bool {
	return s == ApprovalApproved || s == ApprovalRejected || s == ApprovalExpired
}

// ActivityStatus is the status written to the durable activity log and
// published on the live stream.
type ActivityStatus string

// Activity statuses.
const (
	ActivityStarted          ActivityStatus = "started"
	ActivityThinking         ActivityStatus = "thinking"
	ActivityApprovalRequired ActivityStatus = "approval_required"
	ActivityCompleted        ActivityStatus = "completed"
	ActivityError            ActivityStatus = "error"
	ActivityCancelled        ActivityStatus = "cancelled"
)

// Stream-only event types. They are never written to the activities table.
const (
	EventConnected = "connected"
	EventPing      = "ping"
)

// Outcome is the result of one terminal action attempt.
type Outcome string

// Reflexion outcomes.
const (
	OutcomeApproved Outcome = "approved"
	OutcomeRejected Outcome = "rejected"
	OutcomeFailed   Outcome = "failed"
	OutcomeTimeout  Outcome = "timeout"
	OutcomeSuccess  Outcome = "success"
)

// Succeeded reports whether o counts as a success for trust purposes.
// A timeout is a violation, not a neutral outcome.
func (o Outcome) Succeeded() bool {
	return o == OutcomeApproved || o == OutcomeSuccess
}

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeApproved, OutcomeRejected, OutcomeFailed, OutcomeTimeout, OutcomeSuccess:
		return true
	default:
		return false
	}
}

// ViolationOutcomes are the outcomes counted toward demotion.
var ViolationOutcomes = []Outcome{OutcomeRejected, OutcomeFailed, OutcomeTimeout} //nolint:gochecknoglobals // closed set
