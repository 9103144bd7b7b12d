package activity

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"aide/pkg/protocol"

	_ "modernc.org/sqlite" // SQLite driver
)

// QueryOpts specifies filter criteria for querying the activity log.
type QueryOpts struct {
	// UserID filters to one user's activity.
	UserID string

	// TurnToken filters to a single turn.
	TurnToken string

	// Status filters to one status (e.g., "approval_required").
	Status protocol.ActivityStatus

	// After filters records created at or after this time.
	After *time.Time

	// Before filters records created at or before this time.
	Before *time.Time

	// Limit restricts the number of results (0 = no limit).
	Limit int
}

// Reader provides read-only access to the activity log.
type Reader struct {
	db   *sql.DB
	owns bool
}

// NewReader opens the database at dbPath read-only so that readers such as
// aide-dash never block the daemon's writers.
func NewReader(dbPath string) (*Reader, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("database not found: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(5000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Reader{db: db, owns: true}, nil
}

// NewDBReader wraps an already open database. Close leaves db open.
func NewDBReader(db *sql.DB) *Reader {
	return &Reader{db: db}
}

// DB returns the underlying handle.
func (r *Reader) DB() *sql.DB {
	return r.db
}

// Close releases the database connection if the Reader opened it.
// Safe to call multiple times.
func (r *Reader) Close() error {
	if r.owns && r.db != nil {
		err := r.db.Close()
		r.db = nil
		return err
	}
	return nil
}

// Query returns matching records, newest first. Returns an empty slice if no
// records match.
func (r *Reader) Query(ctx context.Context, opts QueryOpts) ([]protocol.ActivityRecord, error) {
	query, args := buildQuery(opts)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query activity: %w", err)
	}
	defer rows.Close()

	records := []protocol.ActivityRecord{}
	for rows.Next() {
		var (
			rec       protocol.ActivityRecord
			agent     string
			status    string
			createdAt int64
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.TurnToken, &agent, &status, &rec.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		rec.AgentType = protocol.AgentType(agent)
		rec.Status = protocol.ActivityStatus(status)
		rec.CreatedAt = protocol.MillisToTime(createdAt)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity: %w", err)
	}
	return records, nil
}

// buildQuery constructs the SQL query and arguments from QueryOpts.
func buildQuery(opts QueryOpts) (string, []any) {
	var conditions []string
	var args []any

	query := "SELECT id, user_id, turn_token, agent_type, status, detail, created_at FROM activities WHERE 1=1"

	if opts.UserID != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, opts.UserID)
	}
	if opts.TurnToken != "" {
		conditions = append(conditions, "turn_token = ?")
		args = append(args, opts.TurnToken)
	}
	if opts.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(opts.Status))
	}
	if opts.After != nil {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, opts.After.UnixMilli())
	}
	if opts.Before != nil {
		conditions = append(conditions, "created_at <= ?")
		args = append(args, opts.Before.UnixMilli())
	}

	if len(conditions) > 0 {
		query += " AND " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY id DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	return query, args
}

// Counts returns the number of records per status for user (all users when
// empty). Used by the dashboard summary.
func (r *Reader) Counts(ctx context.Context, user string) (map[protocol.ActivityStatus]int, error) {
	query := "SELECT status, COUNT(*) FROM activities"
	var args []any
	if user != "" {
		query += " WHERE user_id = ?"
		args = append(args, user)
	}
	query += " GROUP BY status"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("count activity: %w", err)
	}
	defer rows.Close()

	counts := make(map[protocol.ActivityStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan activity count: %w", err)
		}
		counts[protocol.ActivityStatus(status)] = n
	}
	return counts, rows.Err()
}
