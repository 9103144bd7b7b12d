package turn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"aide/pkg/protocol"
)

// encMode uses Core Deterministic Encoding with nanosecond RFC 3339 times, so
// a state round-trips without losing timestamp precision.
var encMode cbor.EncMode //nolint:gochecknoglobals // initialised once

var decMode cbor.DecMode //nolint:gochecknoglobals // initialised once

func init() {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	var err error
	encMode, err = opts.EncMode()
	if err != nil {
		panic("turn: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("turn: CBOR decoder initialization failed: " + err.Error())
	}
}

// Encode serializes s.
func Encode(s State) ([]byte, error) {
	return encMode.Marshal(s)
}

// Decode deserializes a state written by Encode.
func Decode(data []byte) (State, error) {
	var s State
	if err := decMode.Unmarshal(data, &s); err != nil {
		return State{}, err
	}
	return s, nil
}

// NewToken returns a fresh correlation token.
func NewToken() string {
	return uuid.NewString()
}

// Store persists suspended turns keyed by correlation token.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store backed by db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Save persists s under s.Token, replacing any earlier state for that token.
func (st *Store) Save(ctx context.Context, s State) error {
	if s.Token == "" {
		return errors.New("save turn: empty token")
	}
	blob, err := Encode(s)
	if err != nil {
		return fmt.Errorf("encode turn %s: %w", s.Token, err)
	}
	_, err = st.db.ExecContext(ctx,
		`INSERT INTO turns (token, user_id, state, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(token) DO UPDATE SET state = excluded.state`,
		s.Token, s.UserID, blob, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save turn %s: %w", s.Token, err)
	}
	return nil
}

// Claim removes and returns the state for token. Only one caller can claim a
// given token; the rest get *protocol.TurnNotFoundError.
func (st *Store) Claim(ctx context.Context, token string) (State, error) {
	var blob []byte
	err := st.db.QueryRowContext(ctx,
		`DELETE FROM turns WHERE token = ? RETURNING state`, token).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return State{}, &protocol.TurnNotFoundError{Token: token}
	}
	if err != nil {
		return State{}, fmt.Errorf("claim turn %s: %w", token, err)
	}
	s, err := Decode(blob)
	if err != nil {
		return State{}, fmt.Errorf("decode turn %s: %w", token, err)
	}
	return s, nil
}

// Peek returns the state for token without claiming it.
func (st *Store) Peek(ctx context.Context, token string) (State, error) {
	var blob []byte
	err := st.db.QueryRowContext(ctx, `SELECT state FROM turns WHERE token = ?`, token).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return State{}, &protocol.TurnNotFoundError{Token: token}
	}
	if err != nil {
		return State{}, fmt.Errorf("peek turn %s: %w", token, err)
	}
	return Decode(blob)
}

// Suspended counts persisted turns for user (all users when empty).
func (st *Store) Suspended(ctx context.Context, user string) (int, error) {
	query := `SELECT COUNT(*) FROM turns`
	var args []any
	if user != "" {
		query += ` WHERE user_id = ?`
		args = append(args, user)
	}
	var n int
	if err := st.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count suspended turns: %w", err)
	}
	return n, nil
}
