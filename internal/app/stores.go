package app

import (
	"context"

	"github.com/dharsanguruparan/LabelDrop/internal/cache"
	"github.com/dharsanguruparan/LabelDrop/internal/ledger"
	"github.com/dharsanguruparan/LabelDrop/internal/pairing"
	"github.com/dharsanguruparan/LabelDrop/internal/pipeline"
	"github.com/dharsanguruparan/LabelDrop/internal/repository"
	"github.com/dharsanguruparan/LabelDrop/internal/s3storage"
	"github.com/dharsanguruparan/LabelDrop/internal/scanner"
	"github.com/dharsanguruparan/LabelDrop/internal/storage"
)

// config.Validate guarantees the store behind each non-memory backend.

func (a *App) ledger() ledger.Ledger {
	if a.Cfg.LedgerBackend == "postgres" {
		return ledger.NewPostgres(a.DB, a.Cfg.ReservationTTL)
	}
	return ledger.NewMemory(a.Cfg.ReservationTTL)
}

func (a *App) counter() pairing.Counter {
	switch a.Cfg.CounterBackend {
	case "postgres":
		return pairing.NewPostgresCounter(a.DB)
	case "redis":
		return pairing.NewRedisCounter(a.Redis.Client)
	}
	return pairing.NewMemoryCounter()
}

func (a *App) codeScanner(sc *scanner.Scanner) pipeline.CodeScanner {
	var c cache.Cache = cache.NewMemory()
	if a.Cfg.CacheBackend == "redis" {
		c = cache.NewRedis(a.Redis.Client)
	}
	return cache.NewCachedScanner(sc, c, a.Cfg.CacheTTL, a.Log.With("component", "cache"))
}

// Generations returns the PostgreSQL repository when a database is configured
// and an in-memory store otherwise.
func (a *App) Generations() repository.Store {
	if a.DB != nil {
		return repository.NewGenerationRepository(a.DB)
	}
	return storage.NewMemoryStore()
}

// Objects returns the MinIO store when an endpoint is configured and an
// in-memory store otherwise.
func (a *App) Objects(ctx context.Context) (storage.Objects, error) {
	if a.Cfg.S3Endpoint == "" {
		return storage.NewMemoryObjects(), nil
	}
	s3, err := s3storage.New(a.Cfg)
	if err != nil {
		return nil, err
	}
	if err := s3.EnsureBuckets(ctx); err != nil {
		return nil, err
	}
	return s3, nil
}
