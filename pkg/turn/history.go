package turn

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"aide/pkg/llm"
	"aide/pkg/protocol"
)

// History stores conversation messages.
type History struct {
	db *sql.DB

	nowFunc func() time.Time
}

// NewHistory creates a History backed by db.
func NewHistory(db *sql.DB) *History {
	return &History{db: db, nowFunc: time.Now}
}

// Append adds one message to a conversation.
func (h *History) Append(ctx context.Context, conversationID, user, role, content string) error {
	_, err := h.db.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, user_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		conversationID, user, role, content, h.nowFunc().UnixMilli())
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// Recent returns the last n messages of a conversation, oldest first.
func (h *History) Recent(ctx context.Context, conversationID string, n int) ([]llm.Message, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := h.db.QueryContext(ctx,
		`SELECT role, content FROM (
		     SELECT id, role, content FROM messages WHERE conversation_id = ? ORDER BY id DESC LIMIT ?
		 ) ORDER BY id`,
		conversationID, n)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()

	var out []llm.Message
	for rows.Next() {
		var m llm.Message
		if err := rows.Scan(&m.Role, &m.Content); err != nil {
			return nil, fmt.Errorf("recent messages scan: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recent messages rows: %w", err)
	}
	return out, nil
}

// Messages returns every stored row of a conversation, oldest first.
func (h *History) Messages(ctx context.Context, conversationID string) ([]protocol.Message, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT id, conversation_id, user_id, role, content, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []protocol.Message
	for rows.Next() {
		var m protocol.Message
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.UserID, &m.Role, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("list messages scan: %w", err)
		}
		m.CreatedAt = protocol.MillisToTime(createdAt)
		out = append(out, m)
	}
	return out, rows.Err()
}
