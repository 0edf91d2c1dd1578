package cache

import (
	"context"
	"time"

	"github.com/dharsanguruparan/LabelDrop/internal/logger"
	"github.com/dharsanguruparan/LabelDrop/internal/metrics"
	"github.com/dharsanguruparan/LabelDrop/internal/model"
	"github.com/dharsanguruparan/LabelDrop/internal/scanner"
)

// CodeScanner is the part of scanner.Scanner the cache wraps.
type CodeScanner interface {
	ScanCodes(ctx context.Context, doc scanner.Document) ([]model.CodeRecord, error)
}

// CachedScanner memoizes ScanCodes. Only fully decoded documents are stored,
// so per-record decode failures are always recomputed.
type CachedScanner struct {
	inner CodeScanner
	cache Cache
	ttl   time.Duration
	log   *logger.Logger
}

// NewCachedScanner wraps inner.
func NewCachedScanner(inner CodeScanner, c Cache, ttl time.Duration, log *logger.Logger) *CachedScanner {
	if log == nil {
		log = logger.Nop()
	}
	return &CachedScanner{inner: inner, cache: c, ttl: ttl, log: log}
}

func (s *CachedScanner) ScanCodes(ctx context.Context, doc scanner.Document) ([]model.CodeRecord, error) {
	key := string(doc.Kind) + ":" + Digest(doc.Data)

	codes, ok, err := s.cache.Get(ctx, key)
	switch {
	case err != nil:
		metrics.CacheLookups.WithLabelValues("error").Inc()
		s.log.Warn("parse cache get failed", "digest", key, "error", err)
	case ok:
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		records := make([]model.CodeRecord, len(codes))
		for i, c := range codes {
			records[i] = model.CodeRecord{Index: i, Payload: c}
		}
		return records, nil
	default:
		metrics.CacheLookups.WithLabelValues("miss").Inc()
	}

	records, err := s.inner.ScanCodes(ctx, doc)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if r.Err != nil {
			return records, nil
		}
	}
	if err := s.cache.Set(ctx, key, model.Payloads(records), s.ttl); err != nil {
		s.log.Warn("parse cache set failed", "digest", key, "error", err)
	}
	return records, nil
}
