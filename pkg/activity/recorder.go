package activity

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"aide/pkg/protocol"
)

// Recorder writes ActivityRecord rows and then publishes them. The row is
// written first so the durable log never misses an event the stream showed.
type Recorder struct {
	db        *sql.DB
	publisher *Publisher
	logger    *zap.Logger

	nowFunc func() time.Time
}

// NewRecorder creates a Recorder. publisher may be nil to record without
// streaming.
func NewRecorder(db *sql.DB, publisher *Publisher, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		db:        db,
		publisher: publisher,
		logger:    logger.Named("activity"),
		nowFunc:   time.Now,
	}
}

// Record appends rec to the activity log and publishes it to rec.UserID's
// stream. It returns the stored record with ID and CreatedAt set.
func (r *Recorder) Record(ctx context.Context, rec protocol.ActivityRecord) (protocol.ActivityRecord, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.nowFunc()
	}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO activities (user_id, turn_token, agent_type, status, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?) RETURNING id`,
		rec.UserID, rec.TurnToken, string(rec.AgentType), string(rec.Status), rec.Detail,
		rec.CreatedAt.UnixMilli()).Scan(&rec.ID)
	if err != nil {
		return protocol.ActivityRecord{}, fmt.Errorf("record activity %s: %w", rec.Status, err)
	}

	r.logger.Debug("activity",
		zap.String("user", rec.UserID),
		zap.String("token", rec.TurnToken),
		zap.String("agent", string(rec.AgentType)),
		zap.String("status", string(rec.Status)))

	if r.publisher != nil {
		r.publisher.Publish(rec.UserID, Event{
			Type:      string(rec.Status),
			TurnToken: rec.TurnToken,
			AgentType: rec.AgentType,
			Detail:    rec.Detail,
			At:        rec.CreatedAt,
		})
	}
	return rec, nil
}
