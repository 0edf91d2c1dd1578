// Package app wires configuration into the stores, the pipeline and the
// service surfaces shared by the server, the worker and the CLI.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/LabelDrop/internal/config"
	"github.com/dharsanguruparan/LabelDrop/internal/database"
	"github.com/dharsanguruparan/LabelDrop/internal/entitlement"
	"github.com/dharsanguruparan/LabelDrop/internal/layout"
	"github.com/dharsanguruparan/LabelDrop/internal/ledger"
	"github.com/dharsanguruparan/LabelDrop/internal/logger"
	"github.com/dharsanguruparan/LabelDrop/internal/matrix"
	"github.com/dharsanguruparan/LabelDrop/internal/observability"
	"github.com/dharsanguruparan/LabelDrop/internal/pairing"
	"github.com/dharsanguruparan/LabelDrop/internal/pipeline"
	"github.com/dharsanguruparan/LabelDrop/internal/preflight"
	"github.com/dharsanguruparan/LabelDrop/internal/redisclient"
	"github.com/dharsanguruparan/LabelDrop/internal/render"
	"github.com/dharsanguruparan/LabelDrop/internal/scanner"
)

// App holds the long-lived collaborators of one process.
type App struct {
	Cfg          *config.Config
	Log          *logger.Logger
	Registry     *layout.Registry
	Ledger       ledger.Ledger
	Entitlements *entitlement.MemoryStore
	Pipeline     *pipeline.Pipeline

	// DB and Redis are nil when not configured.
	DB    *pgxpool.Pool
	Redis *redisclient.Client

	closers []func(context.Context)
}

// New connects the configured backends and builds the pipeline. service names
// the process in traces.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, service string) (*App, error) {
	a := &App{Cfg: cfg, Log: log}
	if err := a.init(ctx, service); err != nil {
		a.Close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context, service string) error {
	cfg, log := a.Cfg, a.Log

	shutdown, err := observability.Init(ctx, log, service, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	a.closers = append(a.closers, func(ctx context.Context) { _ = shutdown(ctx) })

	if cfg.DatabaseURL != "" {
		if err := database.Migrate(ctx, cfg.DatabaseURL); err != nil {
			return err
		}
		pool, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("init postgres: %w", err)
		}
		a.DB = pool
		a.closers = append(a.closers, func(context.Context) { pool.Close() })
	}
	rc, err := redisclient.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return fmt.Errorf("init redis: %w", err)
	}
	if rc != nil {
		a.Redis = rc
		a.closers = append(a.closers, func(context.Context) { _ = rc.Close() })
	}

	if cfg.TemplatesFile != "" {
		a.Registry, err = layout.LoadFile(cfg.TemplatesFile)
	} else {
		a.Registry, err = layout.Default()
	}
	if err != nil {
		return fmt.Errorf("load templates: %w", err)
	}

	a.Ledger = a.ledger()
	a.Entitlements = entitlement.NewMemoryStore(entitlement.Entitlement{
		Visible:      layout.AllFields(),
		DailyQuota:   cfg.DailyQuota,
		MonthlyQuota: cfg.MonthlyQuota,
	})

	fonts, err := render.LoadFonts()
	if err != nil {
		return fmt.Errorf("load fonts: %w", err)
	}
	codec := matrix.New(cfg.DPI)
	sc := scanner.New(log.With("component", "scanner"), cfg.Workers)
	a.Pipeline = pipeline.New(pipeline.Deps{
		Registry:     a.Registry,
		Items:        sc,
		Codes:        a.codeScanner(sc),
		Pairer:       pairing.New(a.counter()),
		Validator:    preflight.New(codec, cfg.MinMatrixMM),
		Ledger:       a.Ledger,
		Renderer:     render.New(codec, fonts, log.With("component", "render")),
		Entitlements: a.Entitlements,
		Workers:      cfg.Workers,
		Log:          log.With("component", "pipeline"),
	})
	log.Info("pipeline ready",
		"dpi", cfg.DPI,
		"ledger", cfg.LedgerBackend,
		"counter", cfg.CounterBackend,
		"cache", cfg.CacheBackend,
		"layouts", a.Registry.Layouts(),
	)
	return nil
}

// Close releases backends in reverse order of acquisition.
func (a *App) Close(ctx context.Context) {
	if a == nil {
		return
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i](ctx)
	}
	a.closers = nil
	if a.Log != nil {
		a.Log.Sync()
	}
}
