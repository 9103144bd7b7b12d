package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"aide/pkg/protocol"
)

// ErrNotFound is returned when a mailbox or calendar row does not exist for
// the user.
var ErrNotFound = errors.New("not found")

// Mailbox is the local mail store behind the email agent.
type Mailbox struct {
	db *sql.DB

	nowFunc func() time.Time
}

// NewMailbox creates a Mailbox backed by db.
func NewMailbox(db *sql.DB) *Mailbox {
	return &Mailbox{db: db, nowFunc: time.Now}
}

const mailColumns = `id, user_id, folder, recipient, subject, body, created_at`

func scanMail(rows *sql.Rows) ([]protocol.Mail, error) {
	defer rows.Close()
	var out []protocol.Mail
	for rows.Next() {
		var m protocol.Mail
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.UserID, &m.Folder, &m.Recipient, &m.Subject, &m.Body, &createdAt); err != nil {
			return nil, fmt.Errorf("scan mail: %w", err)
		}
		m.CreatedAt = protocol.MillisToTime(createdAt)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mail: %w", err)
	}
	return out, nil
}

// Save stores m, assigning an ID and timestamp when unset.
func (mb *Mailbox) Save(ctx context.Context, m protocol.Mail) (protocol.Mail, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Folder == "" {
		m.Folder = protocol.FolderInbox
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = mb.nowFunc()
	}
	_, err := mb.db.ExecContext(ctx,
		`INSERT INTO mailbox (`+mailColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.UserID, m.Folder, m.Recipient, m.Subject, m.Body, m.CreatedAt.UnixMilli())
	if err != nil {
		return protocol.Mail{}, fmt.Errorf("save mail: %w", err)
	}
	return m, nil
}

// List returns the newest messages in folder (all folders when empty).
func (mb *Mailbox) List(ctx context.Context, user, folder string, limit int) ([]protocol.Mail, error) {
	query := `SELECT ` + mailColumns + ` FROM mailbox WHERE user_id = ?`
	args := []any{user}
	if folder != "" {
		query += ` AND folder = ?`
		args = append(args, folder)
	}
	query += ` ORDER BY created_at DESC, id`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := mb.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list mail: %w", err)
	}
	return scanMail(rows)
}

// Search matches query against subject, body and recipient, newest first.
func (mb *Mailbox) Search(ctx context.Context, user, query string, limit int) ([]protocol.Mail, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return mb.List(ctx, user, "", limit)
	}
	like := "%" + strings.ToLower(query) + "%"
	q := `SELECT ` + mailColumns + ` FROM mailbox
	      WHERE user_id = ? AND (LOWER(subject) LIKE ? OR LOWER(body) LIKE ? OR LOWER(recipient) LIKE ?)
	      ORDER BY created_at DESC, id`
	if limit > 0 {
		q += fmt.Sprintf(` LIMIT %d`, limit)
	}
	rows, err := mb.db.QueryContext(ctx, q, user, like, like, like)
	if err != nil {
		return nil, fmt.Errorf("search mail: %w", err)
	}
	return scanMail(rows)
}

// Delete removes one message.
func (mb *Mailbox) Delete(ctx context.Context, user, id string) error {
	res, err := mb.db.ExecContext(ctx, `DELETE FROM mailbox WHERE user_id = ? AND id = ?`, user, id)
	if err != nil {
		return fmt.Errorf("delete mail %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete mail %s: %w", id, ErrNotFound)
	}
	return nil
}
