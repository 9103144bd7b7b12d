package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"aide/pkg/protocol"
)

// Calendar is the local calendar behind the calendar and briefing agents.
type Calendar struct {
	db *sql.DB

	nowFunc func() time.Time
}

// NewCalendar creates a Calendar backed by db.
func NewCalendar(db *sql.DB) *Calendar {
	return &Calendar{db: db, nowFunc: time.Now}
}

const eventColumns = `id, user_id, title, attendees, starts_at, ends_at, cancelled, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(r rowScanner) (protocol.CalendarEvent, error) {
	var (
		e                         protocol.CalendarEvent
		attendees                 string
		startsAt, endsAt, created int64
		cancelled                 int
	)
	if err := r.Scan(&e.ID, &e.UserID, &e.Title, &attendees, &startsAt, &endsAt, &cancelled, &created); err != nil {
		return protocol.CalendarEvent{}, err
	}
	if attendees != "" {
		if err := json.Unmarshal([]byte(attendees), &e.Attendees); err != nil {
			return protocol.CalendarEvent{}, fmt.Errorf("decode attendees: %w", err)
		}
	}
	e.StartsAt = protocol.MillisToTime(startsAt)
	e.EndsAt = protocol.MillisToTime(endsAt)
	e.Cancelled = cancelled != 0
	e.CreatedAt = protocol.MillisToTime(created)
	return e, nil
}

func attendeesJSON(a []string) (string, error) {
	if len(a) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("encode attendees: %w", err)
	}
	return string(b), nil
}

// Create stores e, assigning an ID and timestamp when unset.
func (c *Calendar) Create(ctx context.Context, e protocol.CalendarEvent) (protocol.CalendarEvent, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = c.nowFunc()
	}
	if !e.EndsAt.After(e.StartsAt) {
		return protocol.CalendarEvent{}, fmt.Errorf("create event %q: end must be after start", e.Title)
	}
	attendees, err := attendeesJSON(e.Attendees)
	if err != nil {
		return protocol.CalendarEvent{}, err
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO calendar_events (`+eventColumns+`) VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		e.ID, e.UserID, e.Title, attendees, e.StartsAt.UnixMilli(), e.EndsAt.UnixMilli(), e.CreatedAt.UnixMilli())
	if err != nil {
		return protocol.CalendarEvent{}, fmt.Errorf("create event: %w", err)
	}
	return e, nil
}

// Between returns non-cancelled events starting in [from, to), earliest
// first.
func (c *Calendar) Between(ctx context.Context, user string, from, to time.Time) ([]protocol.CalendarEvent, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM calendar_events
		 WHERE user_id = ? AND cancelled = 0 AND starts_at >= ? AND starts_at < ?
		 ORDER BY starts_at, id`,
		user, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []protocol.CalendarEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// Find returns the next non-cancelled event whose title contains query,
// preferring upcoming events over past ones.
func (c *Calendar) Find(ctx context.Context, user, query string) (protocol.CalendarEvent, error) {
	like := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"
	e, err := scanEvent(c.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM calendar_events
		 WHERE user_id = ? AND cancelled = 0 AND LOWER(title) LIKE ?
		 ORDER BY (starts_at < ?), starts_at LIMIT 1`,
		user, like, c.nowFunc().UnixMilli()))
	if errors.Is(err, sql.ErrNoRows) {
		return protocol.CalendarEvent{}, fmt.Errorf("find event %q: %w", query, ErrNotFound)
	}
	if err != nil {
		return protocol.CalendarEvent{}, fmt.Errorf("find event %q: %w", query, err)
	}
	return e, nil
}

// Update rewrites the title, attendees and times of an existing event.
func (c *Calendar) Update(ctx context.Context, e protocol.CalendarEvent) error {
	if !e.EndsAt.After(e.StartsAt) {
		return fmt.Errorf("update event %s: end must be after start", e.ID)
	}
	attendees, err := attendeesJSON(e.Attendees)
	if err != nil {
		return err
	}
	res, err := c.db.ExecContext(ctx,
		`UPDATE calendar_events SET title = ?, attendees = ?, starts_at = ?, ends_at = ?
		 WHERE user_id = ? AND id = ?`,
		e.Title, attendees, e.StartsAt.UnixMilli(), e.EndsAt.UnixMilli(), e.UserID, e.ID)
	if err != nil {
		return fmt.Errorf("update event %s: %w", e.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update event %s: %w", e.ID, ErrNotFound)
	}
	return nil
}

// Cancel marks an event cancelled. Cancelled events are kept for audit.
func (c *Calendar) Cancel(ctx context.Context, user, id string) error {
	res, err := c.db.ExecContext(ctx,
		`UPDATE calendar_events SET cancelled = 1 WHERE user_id = ? AND id = ? AND cancelled = 0`, user, id)
	if err != nil {
		return fmt.Errorf("cancel event %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("cancel event %s: %w", id, ErrNotFound)
	}
	return nil
}
