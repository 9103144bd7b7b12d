package trust

import (
	"errors"
	"fmt"
	"time"

	"aide/pkg/protocol"
)

// Policy holds the escalation and demotion rules. Every threshold is
// configuration; DefaultPolicy only supplies starting values.
type Policy struct {
	// EscalationThresholds maps a level to the successful_actions count
	// required to leave it. Level 3 has no entry.
	EscalationThresholds map[protocol.TrustLevel]int

	// SuccessRatioMin is the minimum successful/total ratio for escalation.
	SuccessRatioMin float64

	// ViolationWindow is the trailing window in which violations are counted.
	ViolationWindow time.Duration

	// ViolationLimit is the number of violations the window tolerates;
	// exceeding it demotes by one level.
	ViolationLimit int

	// RequiredLevels maps a risk tier to the minimum level for auto-execution.
	RequiredLevels map[protocol.RiskTier]protocol.TrustLevel
}

// DefaultPolicy returns the starting policy: 5 successes to reach trusted,
// 20 to reach autonomous, a 0.8 success ratio, and demotion after more than
// 2 violations in 7 days. Writes and sends need trusted, deletes need
// autonomous.
func DefaultPolicy() Policy {
	return Policy{
		EscalationThresholds: map[protocol.TrustLevel]int{
			protocol.LevelNew:     5,
			protocol.LevelTrusted: 20,
		},
		SuccessRatioMin: 0.8,
		ViolationWindow: 7 * 24 * time.Hour,
		ViolationLimit:  2,
		RequiredLevels: map[protocol.RiskTier]protocol.TrustLevel{
			protocol.RiskRead:   protocol.LevelNew,
			protocol.RiskWrite:  protocol.LevelTrusted,
			protocol.RiskSend:   protocol.LevelTrusted,
			protocol.RiskDelete: protocol.LevelAutonomous,
		},
	}
}

// Validate reports the first inconsistency in p.
func (p Policy) Validate() error {
	for _, lvl := range []protocol.TrustLevel{protocol.LevelNew, protocol.LevelTrusted} {
		n, ok := p.EscalationThresholds[lvl]
		if !ok {
			return fmt.Errorf("escalation threshold for level %d missing", lvl)
		}
		if n <= 0 {
			return fmt.Errorf("escalation threshold for level %d must be positive, got %d", lvl, n)
		}
	}
	if p.SuccessRatioMin < 0 || p.SuccessRatioMin > 1 {
		return fmt.Errorf("success ratio minimum %.2f outside [0,1]", p.SuccessRatioMin)
	}
	if p.ViolationWindow <= 0 {
		return errors.New("violation window must be positive")
	}
	if p.ViolationLimit < 0 {
		return fmt.Errorf("violation limit must not be negative, got %d", p.ViolationLimit)
	}
	for _, tier := range []protocol.RiskTier{protocol.RiskWrite, protocol.RiskSend, protocol.RiskDelete} {
		lvl, ok := p.RequiredLevels[tier]
		if !ok {
			return fmt.Errorf("required level for %s missing", tier)
		}
		if !lvl.Valid() {
			return fmt.Errorf("required level for %s: %w", tier, &protocol.InvalidLevelError{Level: int(lvl)})
		}
	}
	return nil
}

// threshold returns the escalation threshold for lvl, or 0 when lvl cannot
// escalate further.
func (p Policy) threshold(lvl protocol.TrustLevel) int {
	if lvl >= protocol.LevelAutonomous {
		return 0
	}
	return p.EscalationThresholds[lvl]
}

// RequiredLevel maps a risk tier to the minimum trust level for
// auto-execution. Reads always auto-execute.
func (p Policy) RequiredLevel(tier protocol.RiskTier) protocol.TrustLevel {
	if tier == protocol.RiskRead {
		return protocol.LevelNew
	}
	if lvl, ok := p.RequiredLevels[tier]; ok && lvl.Valid() {
		return lvl
	}
	return protocol.LevelAutonomous
}
