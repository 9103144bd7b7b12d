// Package trust implements the autonomy ledger: one TrustScore per
// (user, agent type, action type), escalated after sustained success and
// demoted after repeated violations. The ledger also classifies action risk
// and maps risk tiers to the level required for auto-execution.
package trust

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"aide/pkg/protocol"
)

// Ledger stores trust scores in SQLite. It is safe for concurrent use:
// counter updates are single upsert statements inside write transactions,
// so concurrent RecordOutcome calls never lose an increment.
type Ledger struct {
	db     *sql.DB
	policy atomic.Pointer[Policy]
	logger *zap.Logger

	// nowFunc allows tests to control time.
	nowFunc func() time.Time
}

// NewLedger creates a Ledger backed by db. A nil logger disables logging.
func NewLedger(db *sql.DB, policy Policy, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Ledger{
		db:      db,
		logger:  logger.Named("trust"),
		nowFunc: time.Now,
	}
	l.policy.Store(&policy)
	return l
}

// Policy returns the active policy.
func (l *Ledger) Policy() Policy {
	return *l.policy.Load()
}

// SetPolicy validates p and swaps it in. In-flight evaluations finish with
// the policy they started with.
func (l *Ledger) SetPolicy(p Policy) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("set trust policy: %w", err)
	}
	l.policy.Store(&p)
	l.logger.Info("trust policy updated",
		zap.Int("level1_threshold", p.EscalationThresholds[protocol.LevelNew]),
		zap.Int("level2_threshold", p.EscalationThresholds[protocol.LevelTrusted]),
		zap.Float64("success_ratio_min", p.SuccessRatioMin))
	return nil
}

// ClassifyRisk returns the risk tier of an agent action.
func (l *Ledger) ClassifyRisk(agentType protocol.AgentType, actionType string) protocol.RiskTier {
	return ClassifyRisk(agentType, actionType)
}

// RequiredLevel returns the minimum level for auto-executing tier under the
// active policy.
func (l *Ledger) RequiredLevel(tier protocol.RiskTier) protocol.TrustLevel {
	return l.Policy().RequiredLevel(tier)
}

const scoreColumns = `user_id, agent_type, action_type, level, successful_actions, total_actions,
	manual_override, last_escalation_at, last_violation_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanScore(r rowScanner) (protocol.TrustScore, error) {
	var (
		s          protocol.TrustScore
		agent      string
		level      int
		override   int
		escalation sql.NullInt64
		violation  sql.NullInt64
	)
	if err := r.Scan(&s.UserID, &agent, &s.ActionType, &level, &s.SuccessfulActions,
		&s.TotalActions, &override, &escalation, &violation); err != nil {
		return protocol.TrustScore{}, err
	}
	s.AgentType = protocol.AgentType(agent)
	s.Level = protocol.TrustLevel(level)
	s.ManualOverride = override != 0
	if escalation.Valid {
		s.LastEscalationAt = protocol.NullMillisToTime(&escalation.Int64)
	}
	if violation.Valid {
		s.LastViolationAt = protocol.NullMillisToTime(&violation.Int64)
	}
	return s, nil
}

// GetOrCreate returns the score for the triple, creating it at level 1 if
// absent.
func (l *Ledger) GetOrCreate(ctx context.Context, user string, agentType protocol.AgentType, actionType string) (protocol.TrustScore, error) {
	now := l.nowFunc().UnixMilli()
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO trust_scores (user_id, agent_type, action_type, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, agent_type, action_type) DO NOTHING`,
		user, string(agentType), actionType, now, now)
	if err != nil {
		return protocol.TrustScore{}, fmt.Errorf("trust get-or-create: %w", err)
	}

	s, err := scanScore(l.db.QueryRowContext(ctx,
		`SELECT `+scoreColumns+` FROM trust_scores
		 WHERE user_id = ? AND agent_type = ? AND action_type = ?`,
		user, string(agentType), actionType))
	if err != nil {
		return protocol.TrustScore{}, fmt.Errorf("trust get-or-create scan: %w", err)
	}
	return s, nil
}

// RecordOutcome applies one action outcome to the triple's score in its own
// transaction. See RecordOutcomeTx.
func (l *Ledger) RecordOutcome(ctx context.Context, user string, agentType protocol.AgentType, actionType string, success bool) (protocol.TrustScore, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return protocol.TrustScore{}, fmt.Errorf("trust record outcome begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	s, err := l.RecordOutcomeTx(ctx, tx, user, agentType, actionType, success)
	if err != nil {
		return protocol.TrustScore{}, err
	}
	if err := tx.Commit(); err != nil {
		return protocol.TrustScore{}, fmt.Errorf("trust record outcome commit: %w", err)
	}
	return s, nil
}

// RecordOutcomeTx applies one outcome inside tx:
//  1. total_actions += 1, successful_actions += success (atomic upsert)
//  2. a pending manual override absorbs this evaluation and is cleared
//  3. on success, escalate one level when the threshold and ratio are met
//     and the violation window is within limits
//  4. on failure, stamp last_violation_at and demote one level when the
//     violations in the trailing window exceed the limit
//
// Violations are counted from the reflexions table, so callers that record a
// reflexion in the same transaction see it counted.
func (l *Ledger) RecordOutcomeTx(ctx context.Context, tx *sql.Tx, user string, agentType protocol.AgentType, actionType string, success bool) (protocol.TrustScore, error) {
	policy := l.Policy()
	now := l.nowFunc()
	nowMs := now.UnixMilli()

	inc := 0
	if success {
		inc = 1
	}

	s, err := scanScore(tx.QueryRowContext(ctx,
		`INSERT INTO trust_scores (user_id, agent_type, action_type, successful_actions, total_actions, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 1, ?, ?)
		 ON CONFLICT(user_id, agent_type, action_type) DO UPDATE SET
		     total_actions = total_actions + 1,
		     successful_actions = successful_actions + excluded.successful_actions,
		     updated_at = excluded.updated_at
		 RETURNING `+scoreColumns,
		user, string(agentType), actionType, inc, nowMs, nowMs))
	if err != nil {
		return protocol.TrustScore{}, fmt.Errorf("trust increment: %w", err)
	}

	if s.ManualOverride {
		if _, err := tx.ExecContext(ctx,
			`UPDATE trust_scores SET manual_override = 0
			 WHERE user_id = ? AND agent_type = ? AND action_type = ?`,
			user, string(agentType), actionType); err != nil {
			return protocol.TrustScore{}, fmt.Errorf("trust clear override: %w", err)
		}
		s.ManualOverride = false
		return s, nil
	}

	if success {
		threshold := policy.threshold(s.Level)
		if threshold > 0 &&
			s.SuccessfulActions >= threshold &&
			s.SuccessRatio() >= policy.SuccessRatioMin {
			if _, err := tx.ExecContext(ctx,
				`UPDATE trust_scores SET level = level + 1, last_escalation_at = ?
				 WHERE user_id = ? AND agent_type = ? AND action_type = ? AND level < 3`,
				nowMs, user, string(agentType), actionType); err != nil {
				return protocol.TrustScore{}, fmt.Errorf("trust escalate: %w", err)
			}
			s.Level++
			s.LastEscalationAt = &now
			l.logger.Info("trust escalated",
				zap.String("user", user),
				zap.String("agent", string(agentType)),
				zap.String("action", actionType),
				zap.Int("level", int(s.Level)))
		}
		return s, nil
	}

	violations, err := countViolations(ctx, tx, user, agentType, actionType, now.Add(-policy.ViolationWindow))
	if err != nil {
		return protocol.TrustScore{}, err
	}
	demote := violations > policy.ViolationLimit && s.Level > protocol.LevelNew
	q := `UPDATE trust_scores SET last_violation_at = ?
	      WHERE user_id = ? AND agent_type = ? AND action_type = ?`
	if demote {
		q = `UPDATE trust_scores SET last_violation_at = ?, level = MAX(1, level - 1)
		     WHERE user_id = ? AND agent_type = ? AND action_type = ?`
	}
	if _, err := tx.ExecContext(ctx, q, nowMs, user, string(agentType), actionType); err != nil {
		return protocol.TrustScore{}, fmt.Errorf("trust record violation: %w", err)
	}
	s.LastViolationAt = &now
	if demote {
		s.Level--
		l.logger.Warn("trust demoted",
			zap.String("user", user),
			zap.String("agent", string(agentType)),
			zap.String("action", actionType),
			zap.Int("violations", violations),
			zap.Int("level", int(s.Level)))
	}
	return s, nil
}

// countViolations counts non-success reflexions for the triple since since.
func countViolations(ctx context.Context, tx *sql.Tx, user string, agentType protocol.AgentType, actionType string, since time.Time) (int, error) {
	placeholders := make([]string, len(protocol.ViolationOutcomes))
	args := []any{user, string(agentType), actionType, since.UnixMilli()}
	for i, o := range protocol.ViolationOutcomes {
		placeholders[i] = "?"
		args = append(args, string(o))
	}

	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reflexions
		 WHERE user_id = ? AND agent_type = ? AND action_type = ? AND created_at >= ?
		   AND outcome IN (`+strings.Join(placeholders, ", ")+`)`,
		args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("trust count violations: %w", err)
	}
	return n, nil
}

// SetLevel manually sets the level for every action of agentType for user,
// creating catalogued rows as needed. Each affected row skips its next
// automatic re-evaluation.
func (l *Ledger) SetLevel(ctx context.Context, user string, agentType protocol.AgentType, level protocol.TrustLevel) ([]protocol.TrustScore, error) {
	if !level.Valid() {
		return nil, &protocol.InvalidLevelError{Level: int(level)}
	}
	if !agentType.Valid() {
		return nil, fmt.Errorf("set trust level: unknown agent type %q", agentType)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("set trust level begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	nowMs := l.nowFunc().UnixMilli()
	for _, action := range Actions(agentType) {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO trust_scores (user_id, agent_type, action_type, level, manual_override, created_at, updated_at)
			 VALUES (?, ?, ?, ?, 1, ?, ?)
			 ON CONFLICT(user_id, agent_type, action_type) DO UPDATE SET
			     level = excluded.level, manual_override = 1, updated_at = excluded.updated_at`,
			user, string(agentType), action, int(level), nowMs, nowMs); err != nil {
			return nil, fmt.Errorf("set trust level %s: %w", action, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE trust_scores SET level = ?, manual_override = 1, updated_at = ?
		 WHERE user_id = ? AND agent_type = ?`,
		int(level), nowMs, user, string(agentType)); err != nil {
		return nil, fmt.Errorf("set trust level: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("set trust level commit: %w", err)
	}

	l.logger.Info("trust level set manually",
		zap.String("user", user),
		zap.String("agent", string(agentType)),
		zap.Int("level", int(level)))

	scores, err := l.Overview(ctx, user)
	if err != nil {
		return nil, err
	}
	out := scores[:0]
	for _, s := range scores {
		if s.AgentType == agentType {
			out = append(out, s)
		}
	}
	return out, nil
}

// Overview lists every score recorded for user, ordered by agent and action.
func (l *Ledger) Overview(ctx context.Context, user string) ([]protocol.TrustScore, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT `+scoreColumns+` FROM trust_scores
		 WHERE user_id = ? ORDER BY agent_type, action_type`, user)
	if err != nil {
		return nil, fmt.Errorf("trust overview: %w", err)
	}
	defer rows.Close()

	var scores []protocol.TrustScore
	for rows.Next() {
		s, err := scanScore(rows)
		if err != nil {
			return nil, fmt.Errorf("trust overview scan: %w", err)
		}
		scores = append(scores, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("trust overview rows: %w", err)
	}
	return scores, nil
}
