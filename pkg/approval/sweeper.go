package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"aide/pkg/protocol"
)

// DefaultSweepInterval is how often Run checks for overdue requests.
const DefaultSweepInterval = 15 * time.Second

// Resumer continues the suspended turn behind a terminal request. It is
// called once for each request a sweep expires, and again on later sweeps
// for any terminal request whose turn is still stored.
type Resumer interface {
	Resume(ctx context.Context, req protocol.ApprovalRequest) error
}

// Sweeper periodically expires overdue requests and resumes their turns with
// a timeout outcome. It also picks up turns left behind by a resolved request
// whose resume never ran.
type Sweeper struct {
	gate     *Gate
	resumer  Resumer
	interval time.Duration
	logger   *zap.Logger
}

// NewSweeper creates a Sweeper. A non-positive interval uses
// DefaultSweepInterval.
func NewSweeper(gate *Gate, resumer Resumer, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		gate:     gate,
		resumer:  resumer,
		interval: interval,
		logger:   logger.Named("sweeper"),
	}
}

// SweepOnce expires overdue requests and resumes each one, then resumes
// stranded turns resolved more than one interval ago. A resume failure does
// not stop the others; all failures are joined into the returned error. It
// returns the number of requests expired by this call.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	expired, err := s.gate.ExpireSweep(ctx)
	if err != nil {
		return 0, err
	}

	var errs []error
	resume := func(req protocol.ApprovalRequest) {
		if err := s.resumer.Resume(ctx, req); err != nil {
			s.logger.Error("resume turn",
				zap.String("approval", req.ID),
				zap.String("status", string(req.Status)),
				zap.String("token", req.TurnToken),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("resume %s: %w", req.ID, err))
		}
	}
	for _, req := range expired {
		resume(req)
	}

	stranded, err := s.gate.Stranded(ctx, s.interval)
	if err != nil {
		errs = append(errs, err)
	}
	for _, req := range stranded {
		s.logger.Warn("resuming stranded turn",
			zap.String("approval", req.ID),
			zap.String("token", req.TurnToken))
		resume(req)
	}
	return len(expired), errors.Join(errs...)
}

// Run sweeps every interval until ctx is cancelled. Sweep errors are logged,
// never returned, so one bad row cannot stop expiry for everyone else.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("sweeper started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return nil
		case <-ticker.C:
			n, err := s.SweepOnce(ctx)
			if err != nil && ctx.Err() == nil {
				s.logger.Warn("sweep failed", zap.Error(err))
			}
			if n > 0 {
				s.logger.Debug("sweep complete", zap.Int("expired", n))
			}
		}
	}
}
