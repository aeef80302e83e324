package app

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"streakline/internal/clock"
	"streakline/internal/config"
	"streakline/internal/db"
	"streakline/internal/engine"
	"streakline/internal/migrate"
	"streakline/internal/notify"
	"streakline/internal/repo"
)

// Env bundles everything a command needs for one workspace.
type Env struct {
	Config  *config.Config
	DB      *sql.DB
	Repo    repo.Repo
	Clock   clock.Clock
	Inbox   *notify.Recorder
	Service *Service
	Logger  *zap.Logger
}

// inboxLimit bounds the in-memory notification history served by the API.
const inboxLimit = 1000

// Open migrates the workspace database, loads the aggregate and builds the
// service with the notifiers configured in cfg.
func Open(ctx context.Context, workspace string, cfg *config.Config, logger *zap.Logger) (*Env, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	clk, err := clock.New(cfg.Clock.Timezone)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	r := repo.Repo{DB: conn, Now: clk.Current}
	inbox := &notify.Recorder{Limit: inboxLimit}
	notifier := notify.Multi{
		notify.LogNotifier{Logger: logger.Named("notify")},
		inbox,
	}
	if len(cfg.Notifications.Webhooks) > 0 {
		notifier = append(notifier, notify.NewWebhookNotifier(cfg.Notifications.Webhooks))
	}
	svc, err := NewService(ctx, Options{
		Store:               r,
		Notifier:            notifier,
		Clock:               clk,
		Policy:              PolicyFromConfig(cfg),
		RegistrationTimeout: cfg.RegistrationTimeout(),
		Admins:              cfg.Admins,
		Logger:              logger,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("load state: %w", err)
	}
	return &Env{
		Config:  cfg,
		DB:      conn,
		Repo:    r,
		Clock:   clk,
		Inbox:   inbox,
		Service: svc,
		Logger:  logger,
	}, nil
}

// PolicyFromConfig maps the accounting section onto engine policy.
func PolicyFromConfig(cfg *config.Config) engine.Policy {
	return engine.Policy{
		CutoffHour:         cfg.Clock.CutoffHour,
		MissedLookbackDays: cfg.Accounting.MissedLookbackDays,
		NeglectDays:        cfg.Accounting.NeglectDays,
		ExemptionsNeutral:  cfg.Accounting.ExemptionsNeutral,
	}
}

func (e *Env) Close() error {
	e.Service.Close()
	return e.DB.Close()
}
