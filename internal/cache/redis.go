package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dharsanguruparan/LabelDrop/internal/errs"
)

const keyPrefix = "labeldrop:codes:"

// RedisCache stores entries as JSON with a Redis expiry.
type RedisCache struct {
	client *redis.Client
}

// NewRedis returns a cache over client. The client lifecycle is managed by
// the caller.
func NewRedis(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (r *RedisCache) Get(ctx context.Context, digest string) ([]string, bool, error) {
	raw, err := r.client.Get(ctx, keyPrefix+digest).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: cache get: %v", errs.ErrStorageUnavailable, err)
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, false, fmt.Errorf("decode cache entry: %w", err)
	}
	return e.Codes, true, nil
}

func (r *RedisCache) Set(ctx context.Context, digest string, codes []string, ttl time.Duration) error {
	raw, err := json.Marshal(Entry{Digest: digest, Codes: codes, CreatedAt: time.Now().UTC(), TTL: ttl})
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := r.client.Set(ctx, keyPrefix+digest, raw, ttl).Err(); err != nil {
		return fmt.Errorf("%w: cache set: %v", errs.ErrStorageUnavailable, err)
	}
	return nil
}
