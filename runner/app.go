package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Tpgainz/companyatlas/atlas"
	"github.com/Tpgainz/companyatlas/bodacc"
	"github.com/Tpgainz/companyatlas/entreprise"
	"github.com/Tpgainz/companyatlas/postgres"
	"github.com/Tpgainz/companyatlas/sqlite"
	"github.com/Tpgainz/companyatlas/telemetry"
)

// NewRegistry registers every built-in backend.
func NewRegistry() *atlas.Registry {
	registry := atlas.NewRegistry()

	bodacc.Register(registry)
	entreprise.Register(registry)

	return registry
}

// App holds what a command needs for one invocation.
type App struct {
	Config       *Config
	Orchestrator *atlas.Orchestrator
	History      atlas.History

	tracker *telemetry.Tracker
}

func NewApp(ctx context.Context, cfg *Config, registry *atlas.Registry, logger *slog.Logger) (*App, error) {
	app := &App{Config: cfg}

	opts := []atlas.Option{atlas.WithLogger(logger)}

	if cfg.DSN != "" {
		history, err := OpenHistory(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}

		app.History = history
		opts = append(opts, atlas.WithRecorder(history))
	}

	tracker, err := telemetry.NewTracker(cfg.PosthogKey, cfg.PosthogEndpoint)
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	app.tracker = tracker
	opts = append(opts, atlas.WithRecorder(tracker))

	if cfg.WebhookURL != "" {
		opts = append(opts, atlas.WithRecorder(telemetry.NewWebhook(cfg.WebhookURL)))
	}

	app.Orchestrator = atlas.New(registry, cfg.BackendConfig(), opts...)

	return app, nil
}

// OpenHistory picks the store from the DSN: postgres:// and postgresql://
// URLs go to PostgreSQL, anything else is a SQLite file path.
func OpenHistory(ctx context.Context, dsn string) (atlas.History, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		store, err := postgres.Open(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("opening postgres history: %w", err)
		}

		return store, nil
	}

	store, err := sqlite.Open(ctx, strings.TrimPrefix(dsn, "sqlite://"))
	if err != nil {
		return nil, fmt.Errorf("opening sqlite history: %w", err)
	}

	return store, nil
}

func (a *App) Close() error {
	var errs []error

	if a.tracker != nil {
		errs = append(errs, a.tracker.Close())
	}

	if a.History != nil {
		errs = append(errs, a.History.Close())
	}

	return errors.Join(errs...)
}
