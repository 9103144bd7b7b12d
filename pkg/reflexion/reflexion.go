// Package reflexion records the outcome of every terminal action attempt and
// feeds it into the trust ledger. It is the only write path into trust score
// counters.
//
// Recorded critiques double as lessons: ForPrompt formats the most recent
// ones for an agent so the next attempt can see what went wrong before.
package reflexion

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"aide/pkg/protocol"
	"aide/pkg/trust"
)

// Attempt describes one terminal action attempt.
type Attempt struct {
	UserID     string
	AgentType  protocol.AgentType
	ActionType string
	Outcome    protocol.Outcome
	ApprovalID string
	TurnToken  string
	// Detail is free text folded into the critique: the rejection reason,
	// the executor error, or the result summary.
	Detail string
}

// Logger writes reflexion rows and updates the ledger in the same
// transaction.
type Logger struct {
	db     *sql.DB
	ledger *trust.Ledger
	logger *zap.Logger

	nowFunc func() time.Time
}

// NewLogger creates a Logger. A nil logger disables logging.
func NewLogger(db *sql.DB, ledger *trust.Ledger, logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{
		db:      db,
		ledger:  ledger,
		logger:  logger.Named("reflexion"),
		nowFunc: time.Now,
	}
}

// Critique builds the stored critique for an attempt.
func Critique(a Attempt) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: ", a.AgentType, a.ActionType)
	switch a.Outcome {
	case protocol.OutcomeSuccess:
		b.WriteString("completed without approval")
	case protocol.OutcomeApproved:
		b.WriteString("approved by user and completed")
	case protocol.OutcomeRejected:
		b.WriteString("rejected by user")
	case protocol.OutcomeTimeout:
		b.WriteString("approval timed out with no decision")
	case protocol.OutcomeFailed:
		b.WriteString("failed")
	default:
		b.WriteString(string(a.Outcome))
	}
	if d := strings.TrimSpace(a.Detail); d != "" {
		b.WriteString(" (")
		b.WriteString(truncate(d, 160))
		b.WriteString(")")
	}
	return b.String()
}

// truncate keeps the first n runes of s, so the result stays valid UTF-8.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// Record writes the reflexion row and applies the outcome to the ledger.
// Timeouts, rejections and failures count as violations.
func (l *Logger) Record(ctx context.Context, a Attempt) (protocol.ReflexionRecord, protocol.TrustScore, error) {
	if !a.Outcome.Valid() {
		return protocol.ReflexionRecord{}, protocol.TrustScore{}, fmt.Errorf("record reflexion: unknown outcome %q", a.Outcome)
	}

	rec := protocol.ReflexionRecord{
		UserID:     a.UserID,
		AgentType:  a.AgentType,
		ActionType: a.ActionType,
		Outcome:    a.Outcome,
		ApprovalID: a.ApprovalID,
		TurnToken:  a.TurnToken,
		Critique:   Critique(a),
		CreatedAt:  l.nowFunc(),
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return protocol.ReflexionRecord{}, protocol.TrustScore{}, fmt.Errorf("record reflexion begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx,
		`INSERT INTO reflexions (user_id, agent_type, action_type, outcome, approval_id, turn_token, critique, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		rec.UserID, string(rec.AgentType), rec.ActionType, string(rec.Outcome), rec.ApprovalID,
		rec.TurnToken, rec.Critique, rec.CreatedAt.UnixMilli()).Scan(&rec.ID)
	if err != nil {
		return protocol.ReflexionRecord{}, protocol.TrustScore{}, fmt.Errorf("insert reflexion: %w", err)
	}

	score, err := l.ledger.RecordOutcomeTx(ctx, tx, a.UserID, a.AgentType, a.ActionType, a.Outcome.Succeeded())
	if err != nil {
		return protocol.ReflexionRecord{}, protocol.TrustScore{}, err
	}
	if err := tx.Commit(); err != nil {
		return protocol.ReflexionRecord{}, protocol.TrustScore{}, fmt.Errorf("record reflexion commit: %w", err)
	}

	l.logger.Info("reflexion recorded",
		zap.String("user", a.UserID),
		zap.String("agent", string(a.AgentType)),
		zap.String("action", a.ActionType),
		zap.String("outcome", string(a.Outcome)),
		zap.Int("level", int(score.Level)),
		zap.Int("successful", score.SuccessfulActions),
		zap.Int("total", score.TotalActions))
	return rec, score, nil
}

// RecentOpts filters Recent.
type RecentOpts struct {
	UserID     string
	AgentType  protocol.AgentType // optional
	ActionType string             // optional
	Limit      int                // default 5
}

// Recent returns the newest reflexions matching opts, newest first.
func (l *Logger) Recent(ctx context.Context, opts RecentOpts) ([]protocol.ReflexionRecord, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 5
	}

	var conditions []string
	var args []any
	conditions = append(conditions, "user_id = ?")
	args = append(args, opts.UserID)
	if opts.AgentType != "" {
		conditions = append(conditions, "agent_type = ?")
		args = append(args, string(opts.AgentType))
	}
	if opts.ActionType != "" {
		conditions = append(conditions, "action_type = ?")
		args = append(args, opts.ActionType)
	}
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx,
		`SELECT id, user_id, agent_type, action_type, outcome, approval_id, turn_token, critique, created_at
		 FROM reflexions WHERE `+strings.Join(conditions, " AND ")+`
		 ORDER BY created_at DESC, id DESC LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("recent reflexions: %w", err)
	}
	defer rows.Close()

	var out []protocol.ReflexionRecord
	for rows.Next() {
		var (
			rec       protocol.ReflexionRecord
			agent     string
			outcome   string
			createdAt int64
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &agent, &rec.ActionType, &outcome,
			&rec.ApprovalID, &rec.TurnToken, &rec.Critique, &createdAt); err != nil {
			return nil, fmt.Errorf("recent reflexions scan: %w", err)
		}
		rec.AgentType = protocol.AgentType(agent)
		rec.Outcome = protocol.Outcome(outcome)
		rec.CreatedAt = protocol.MillisToTime(createdAt)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recent reflexions rows: %w", err)
	}
	return out, nil
}

// Lessons returns the critiques of the most recent attempts by agentType for
// user, newest first. Only non-success outcomes are lessons.
func (l *Logger) Lessons(ctx context.Context, user string, agentType protocol.AgentType, limit int) ([]string, error) {
	recent, err := l.Recent(ctx, RecentOpts{UserID: user, AgentType: agentType, Limit: limit * 2})
	if err != nil {
		return nil, err
	}
	var lessons []string
	for _, r := range recent {
		if r.Outcome.Succeeded() {
			continue
		}
		lessons = append(lessons, r.Critique)
		if len(lessons) == limit {
			break
		}
	}
	return lessons, nil
}

// ForPrompt formats lessons as a markdown section for a system prompt, capped
// at roughly maxTokens (word count / 0.75). Returns "" when there are none.
func ForPrompt(lessons []string, maxTokens int) string {
	if len(lessons) == 0 {
		return ""
	}
	if maxTokens <= 0 {
		maxTokens = 200
	}

	lines := []string{"## Past Outcomes"}
	for _, l := range lessons {
		lines = append(lines, "- "+l)
	}
	output := strings.Join(lines, "\n")

	words := strings.Fields(output)
	if int(float64(len(words))/0.75) > maxTokens {
		target := int(float64(maxTokens) * 0.75)
		if target < len(words) {
			output = strings.Join(words[:target], " ") + "..."
		}
	}
	return output
}
