package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"go.uber.org/zap"

	"aide/pkg/activity"
	"aide/pkg/agent"
	"aide/pkg/classify"
	"aide/pkg/config"
	"aide/pkg/llm"
	"aide/pkg/store"
	"aide/pkg/supervisor"
)

// runtime is an opened state database with a supervisor wired over it.
type runtime struct {
	db        *sql.DB
	sup       *supervisor.Supervisor
	publisher *activity.Publisher
	reader    *activity.Reader
}

// Close closes the publisher and the database.
func (r *runtime) Close() error {
	if r.publisher != nil {
		r.publisher.Close()
	}
	return r.db.Close()
}

// openRuntime opens the state database and builds the supervisor from cfg.
// The publisher is only created when stream is set, since one-shot commands
// have no live observers.
func openRuntime(ctx context.Context, dbPath string, cfg config.Config, stream bool, logger *zap.Logger) (*runtime, error) {
	gen, err := newGenerator(ctx, cfg.LLM)
	if err != nil {
		return nil, err
	}

	db, err := store.Open(ctx, dbPath)
	if err != nil {
		return nil, err
	}

	var classifier classify.Classifier = classify.Keyword{}
	if cfg.Classifier == "model" {
		classifier = classify.NewModel(gen, classify.Keyword{}, logger)
	}

	var publisher *activity.Publisher
	if stream {
		publisher = activity.NewPublisher(activity.Options{
			QueueCapacity: cfg.Activity.QueueCapacity,
			PingInterval:  cfg.Activity.PingInterval.Duration,
		}, logger)
	}

	agents := agent.Defaults(gen, store.NewMailbox(db), store.NewCalendar(db))
	sup, err := supervisor.New(supervisor.Config{
		Policy:                 cfg.Policy(),
		ApprovalTimeoutSeconds: cfg.Approval.TimeoutSeconds,
		SweepInterval:          cfg.Approval.SweepInterval.Duration,
	}, db, classifier, agents, publisher, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &runtime{db: db, sup: sup, publisher: publisher, reader: activity.NewDBReader(db)}, nil
}

// newGenerator builds the configured text generator.
func newGenerator(ctx context.Context, cfg config.LLM) (llm.Generator, error) {
	switch cfg.Provider {
	case "gemini":
		gen, err := llm.NewGemini(ctx, os.Getenv(cfg.APIKeyEnv), cfg.Model)
		if err != nil {
			return nil, fmt.Errorf("gemini (key from $%s): %w", cfg.APIKeyEnv, err)
		}
		return gen, nil
	default:
		return llm.Offline{}, nil
	}
}

// applyConfig pushes the hot-reloadable parts of cfg into a running supervisor.
func applyConfig(sup *supervisor.Supervisor, cfg config.Config, logger *zap.Logger) {
	if err := sup.Ledger().SetPolicy(cfg.Policy()); err != nil {
		logger.Error("trust policy not applied", zap.Error(err))
		return
	}
	sup.Gate().SetDefaultTimeout(cfg.Approval.TimeoutSeconds)
}
