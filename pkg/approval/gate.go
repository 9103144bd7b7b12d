// Package approval implements the human-in-the-loop approval gate.
//
// An approval request is created pending and becomes terminal exactly once:
// approved or rejected by Decide, or expired by ExpireSweep. Both paths use a
// conditional UPDATE on status='pending', so when they race on the same row
// exactly one of them wins and the loser observes a no-op.
package approval

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"aide/pkg/protocol"
)

// DefaultTimeoutSeconds is the approval window used when none is given.
const DefaultTimeoutSeconds = 300

// Resolution reports whether a Decide call performed the transition.
type Resolution int

// Decide results.
const (
	// Resolved means this call moved the request out of pending.
	Resolved Resolution = iota
	// AlreadyResolved means the request was terminal before this call.
	// Callers treat it as a no-op.
	AlreadyResolved
)

func (r Resolution) String() string {
	if r == Resolved {
		return "resolved"
	}
	return "already_resolved"
}

// MarshalText renders r by name in JSON output.
func (r Resolution) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// CreateParams describes a new approval request.
type CreateParams struct {
	ID             string // empty assigns a new id
	UserID         string
	AgentType      protocol.AgentType
	ActionType     string
	Payload        string // opaque to the gate
	TimeoutSeconds int    // <= 0 uses the gate default
	TurnToken      string // correlation token of the suspended turn
}

// Gate creates and resolves approval requests.
type Gate struct {
	db     *sql.DB
	logger *zap.Logger

	defaultTimeout atomic.Int64 // seconds; swapped by config reload

	// nowFunc allows tests to control time.
	nowFunc func() time.Time
}

// NewGate creates a Gate backed by db. A nil logger disables logging.
func NewGate(db *sql.DB, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gate{
		db:      db,
		logger:  logger.Named("approval"),
		nowFunc: time.Now,
	}
	g.defaultTimeout.Store(DefaultTimeoutSeconds)
	return g
}

// SetDefaultTimeout changes the timeout applied when CreateParams leaves it
// unset. Non-positive values restore DefaultTimeoutSeconds.
func (g *Gate) SetDefaultTimeout(seconds int) {
	if seconds <= 0 {
		seconds = DefaultTimeoutSeconds
	}
	g.defaultTimeout.Store(int64(seconds))
}

// DefaultTimeout returns the timeout in seconds applied to new requests.
func (g *Gate) DefaultTimeout() int {
	return int(g.defaultTimeout.Load())
}

const requestColumns = `id, user_id, agent_type, action_type, payload, status, timeout_seconds,
	turn_token, reason, created_at, expires_at, resolved_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(r rowScanner) (protocol.ApprovalRequest, error) {
	var (
		req       protocol.ApprovalRequest
		agent     string
		status    string
		createdAt int64
		expiresAt int64
		resolved  sql.NullInt64
	)
	if err := r.Scan(&req.ID, &req.UserID, &agent, &req.ActionType, &req.Payload, &status,
		&req.TimeoutSeconds, &req.TurnToken, &req.Reason, &createdAt, &expiresAt, &resolved); err != nil {
		return protocol.ApprovalRequest{}, err
	}
	req.AgentType = protocol.AgentType(agent)
	req.Status = protocol.ApprovalStatus(status)
	req.CreatedAt = protocol.MillisToTime(createdAt)
	req.ExpiresAt = protocol.MillisToTime(expiresAt)
	if resolved.Valid {
		req.ResolvedAt = protocol.NullMillisToTime(&resolved.Int64)
	}
	return req, nil
}

// Create inserts a pending request expiring TimeoutSeconds from now.
func (g *Gate) Create(ctx context.Context, p CreateParams) (protocol.ApprovalRequest, error) {
	timeout := p.TimeoutSeconds
	if timeout <= 0 {
		timeout = g.DefaultTimeout()
	}
	id := p.ID
	if id == "" {
		id = uuid.NewString()
	}
	payload := p.Payload
	if payload == "" {
		payload = "{}"
	}

	now := g.nowFunc()
	req, err := scanRequest(g.db.QueryRowContext(ctx,
		`INSERT INTO approvals (id, user_id, agent_type, action_type, payload, status, timeout_seconds,
		     turn_token, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, 'pending', ?, ?, ?, ?)
		 RETURNING `+requestColumns,
		id, p.UserID, string(p.AgentType), p.ActionType, payload, timeout,
		p.TurnToken, now.UnixMilli(), now.Add(time.Duration(timeout)*time.Second).UnixMilli()))
	if err != nil {
		return protocol.ApprovalRequest{}, fmt.Errorf("create approval: %w", err)
	}

	g.logger.Info("approval requested",
		zap.String("id", req.ID),
		zap.String("user", req.UserID),
		zap.String("agent", string(req.AgentType)),
		zap.String("action", req.ActionType),
		zap.Time("expires_at", req.ExpiresAt))
	return req, nil
}

// Get returns the request with id.
func (g *Gate) Get(ctx context.Context, id string) (protocol.ApprovalRequest, error) {
	req, err := scanRequest(g.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM approvals WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return protocol.ApprovalRequest{}, &protocol.ApprovalNotFoundError{ID: id}
	}
	if err != nil {
		return protocol.ApprovalRequest{}, fmt.Errorf("get approval %s: %w", id, err)
	}
	return req, nil
}

// Decide moves a pending request to approved or rejected. A request that is
// still pending may be decided even after its expiry time, as long as the
// sweeper has not claimed it yet. If the request is already terminal, Decide
// returns its current state with AlreadyResolved and no error.
func (g *Gate) Decide(ctx context.Context, id string, approved bool, reason string) (protocol.ApprovalRequest, Resolution, error) {
	status := protocol.ApprovalRejected
	if approved {
		status = protocol.ApprovalApproved
	}

	req, err := scanRequest(g.db.QueryRowContext(ctx,
		`UPDATE approvals SET status = ?, reason = ?, resolved_at = ?
		 WHERE id = ? AND status = 'pending'
		 RETURNING `+requestColumns,
		string(status), reason, g.nowFunc().UnixMilli(), id))
	if err == nil {
		g.logger.Info("approval decided",
			zap.String("id", id),
			zap.String("status", string(req.Status)))
		return req, Resolved, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return protocol.ApprovalRequest{}, AlreadyResolved, fmt.Errorf("decide approval %s: %w", id, err)
	}

	current, err := g.Get(ctx, id)
	if err != nil {
		return protocol.ApprovalRequest{}, AlreadyResolved, err
	}
	g.logger.Debug("approval already resolved",
		zap.String("id", id),
		zap.String("status", string(current.Status)))
	return current, AlreadyResolved, nil
}

// ExpireSweep transitions every pending request whose expiry has passed to
// expired and returns the requests this call expired. Terminal rows are never
// touched, so repeated calls are idempotent.
func (g *Gate) ExpireSweep(ctx context.Context) ([]protocol.ApprovalRequest, error) {
	now := g.nowFunc().UnixMilli()
	rows, err := g.db.QueryContext(ctx,
		`UPDATE approvals SET status = 'expired', reason = 'timeout', resolved_at = ?
		 WHERE status = 'pending' AND expires_at < ?
		 RETURNING `+requestColumns,
		now, now)
	if err != nil {
		return nil, fmt.Errorf("expire approvals: %w", err)
	}
	defer rows.Close()

	var expired []protocol.ApprovalRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("expire approvals scan: %w", err)
		}
		expired = append(expired, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("expire approvals rows: %w", err)
	}

	if len(expired) > 0 {
		g.logger.Info("approvals expired", zap.Int("count", len(expired)))
	}
	return expired, nil
}

// Stranded returns terminal requests whose suspended turn is still stored
// and that were resolved more than grace ago. Such a turn was never resumed,
// usually because the process stopped between resolving the request and
// claiming the turn. Oldest first.
func (g *Gate) Stranded(ctx context.Context, grace time.Duration) ([]protocol.ApprovalRequest, error) {
	rows, err := g.db.QueryContext(ctx,
		`SELECT `+requestColumns+` FROM approvals
		 WHERE status != 'pending' AND resolved_at < ?
		   AND EXISTS (SELECT 1 FROM turns WHERE turns.token = approvals.turn_token)
		 ORDER BY resolved_at, id`,
		g.nowFunc().Add(-grace).UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("list stranded approvals: %w", err)
	}
	defer rows.Close()

	var out []protocol.ApprovalRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("list stranded approvals scan: %w", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list stranded approvals rows: %w", err)
	}
	return out, nil
}

// ListPending returns pending requests, oldest first. An empty user lists
// every user's requests.
func (g *Gate) ListPending(ctx context.Context, user string) ([]protocol.ApprovalRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM approvals WHERE status = 'pending'`
	var args []any
	if user != "" {
		query += ` AND user_id = ?`
		args = append(args, user)
	}
	query += ` ORDER BY created_at, id`

	rows, err := g.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pending approvals: %w", err)
	}
	defer rows.Close()

	out := []protocol.ApprovalRequest{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("list pending approvals scan: %w", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pending approvals rows: %w", err)
	}
	return out, nil
}
