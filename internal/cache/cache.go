// Package cache memoizes extracted code lists by the content digest of the
// input document. The cache is best-effort: callers treat any backend error as
// a miss.
package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Cache stores code lists keyed by digest.
type Cache interface {
	Get(ctx context.Context, digest string) ([]string, bool, error)
	Set(ctx context.Context, digest string, codes []string, ttl time.Duration) error
}

// Entry is a cached code list.
type Entry struct {
	Digest    string        `json:"digest"`
	Codes     []string      `json:"codes"`
	CreatedAt time.Time     `json:"createdAt"`
	TTL       time.Duration `json:"ttl"`
}

func (e Entry) expired(now time.Time) bool {
	return e.TTL > 0 && !now.Before(e.CreatedAt.Add(e.TTL))
}

// Digest is the xxhash64 of data in hex. Collisions are accepted.
func Digest(data []byte) string {
	return strconv.FormatUint(xxhash.Sum64(data), 16)
}
