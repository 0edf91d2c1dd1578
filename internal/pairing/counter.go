package pairing

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"github.com/dharsanguruparan/LabelDrop/internal/database"
	"github.com/dharsanguruparan/LabelDrop/internal/errs"
)

// Counter is a per-owner monotonic serial source. Add atomically increases the
// owner's counter by n and returns the new value, so the block handed out is
// (value-n, value].
type Counter interface {
	Add(ctx context.Context, owner string, n int64) (int64, error)
}

// Reserve draws n serials and returns the first one.
func Reserve(ctx context.Context, c Counter, owner string, n int) (int64, error) {
	if n <= 0 {
		return 0, fmt.Errorf("reserve serials: non-positive count %d", n)
	}
	last, err := c.Add(ctx, owner, int64(n))
	if err != nil {
		return 0, err
	}
	return last - int64(n) + 1, nil
}

// MemoryCounter keeps counters in process.
type MemoryCounter struct {
	mu     sync.Mutex
	owners map[string]*atomic.Int64
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{owners: make(map[string]*atomic.Int64)}
}

func (m *MemoryCounter) Add(_ context.Context, owner string, n int64) (int64, error) {
	m.mu.Lock()
	c, ok := m.owners[owner]
	if !ok {
		c = new(atomic.Int64)
		m.owners[owner] = c
	}
	m.mu.Unlock()
	return c.Add(n), nil
}

// PostgresCounter keeps counters in the serial_counters table.
type PostgresCounter struct {
	pool database.Pool
}

func NewPostgresCounter(pool database.Pool) *PostgresCounter {
	return &PostgresCounter{pool: pool}
}

func (p *PostgresCounter) Add(ctx context.Context, owner string, n int64) (int64, error) {
	const q = `
INSERT INTO serial_counters (owner_id, value, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (owner_id) DO UPDATE
SET value = serial_counters.value + EXCLUDED.value, updated_at = now()
RETURNING value`
	var v int64
	if err := p.pool.QueryRow(ctx, q, owner, n).Scan(&v); err != nil {
		return 0, fmt.Errorf("%w: serial counter: %v", errs.ErrStorageUnavailable, err)
	}
	return v, nil
}

// RedisCounter keeps counters under labeldrop:serial:<owner> with INCRBY.
type RedisCounter struct {
	client *redis.Client
}

func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

func (r *RedisCounter) Add(ctx context.Context, owner string, n int64) (int64, error) {
	v, err := r.client.IncrBy(ctx, "labeldrop:serial:"+owner, n).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: serial counter: %v", errs.ErrStorageUnavailable, err)
	}
	return v, nil
}
