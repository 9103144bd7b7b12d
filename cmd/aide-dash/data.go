package main

import (
	"context"

	"aide/pkg/activity"
	"aide/pkg/approval"
	"aide/pkg/protocol"
	"aide/pkg/trust"
)

// recentActivity is how many activity rows the dashboard shows.
const recentActivity = 200

// Snapshot is everything one dashboard refresh reads.
type Snapshot struct {
	Activity []protocol.ActivityRecord       `json:"activity"`
	Pending  []protocol.ApprovalRequest      `json:"pending_approvals"`
	Trust    []protocol.TrustScore           `json:"trust"`
	Counts   map[protocol.ActivityStatus]int `json:"counts"`
}

// source reads snapshots through the read-only activity Reader. The gate
// and ledger share its connection and are only used for queries.
type source struct {
	reader *activity.Reader
	gate   *approval.Gate
	ledger *trust.Ledger
	user   string
}

func newSource(r *activity.Reader, user string) *source {
	return &source{
		reader: r,
		gate:   approval.NewGate(r.DB(), nil),
		ledger: trust.NewLedger(r.DB(), trust.DefaultPolicy(), nil),
		user:   user,
	}
}

// load reads a snapshot. Trust scores are per user, so they are empty when
// the dashboard shows everyone.
func (s *source) load(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	var err error

	snap.Activity, err = s.reader.Query(ctx, activity.QueryOpts{UserID: s.user, Limit: recentActivity})
	if err != nil {
		return Snapshot{}, err
	}
	snap.Counts, err = s.reader.Counts(ctx, s.user)
	if err != nil {
		return Snapshot{}, err
	}
	snap.Pending, err = s.gate.ListPending(ctx, s.user)
	if err != nil {
		return Snapshot{}, err
	}
	if s.user != "" {
		snap.Trust, err = s.ledger.Overview(ctx, s.user)
		if err != nil {
			return Snapshot{}, err
		}
	}
	return snap, nil
}
