package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dharsanguruparan/LabelDrop/internal/database"
	"github.com/dharsanguruparan/LabelDrop/internal/errs"
)

// PostgresLedger stores usage rows in code_usage. Reserve is a single
// conditional upsert, so concurrent reservations of one digest serialize on
// the primary key.
type PostgresLedger struct {
	pool database.Pool
	ttl  time.Duration
}

// NewPostgres returns a ledger over pool. ttl <= 0 selects DefaultReservationTTL.
func NewPostgres(pool database.Pool, ttl time.Duration) *PostgresLedger {
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	return &PostgresLedger{pool: pool, ttl: ttl}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: ledger %s: %v", errs.ErrStorageUnavailable, op, err)
}

func (p *PostgresLedger) Reserve(ctx context.Context, digest, owner, generationRef string) error {
	const q = `
INSERT INTO code_usage (code_digest, owner_id, generation_ref, state, used_at)
VALUES ($1, $2, $3, 'reserved', now())
ON CONFLICT (code_digest) DO UPDATE
SET owner_id = EXCLUDED.owner_id, generation_ref = EXCLUDED.generation_ref, used_at = now()
WHERE code_usage.generation_ref = EXCLUDED.generation_ref
   OR (code_usage.state = 'reserved' AND code_usage.used_at < now() - $4::interval)
RETURNING generation_ref`
	var ref string
	err := p.pool.QueryRow(ctx, q, digest, owner, generationRef, p.ttl).Scan(&ref)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return unavailable("reserve", err)
	}

	holder, err := p.Lookup(ctx, digest)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			// The holder rolled back between the two statements.
			return p.Reserve(ctx, digest, owner, generationRef)
		}
		return err
	}
	return &AlreadyUsedError{
		CodeDigest:    digest,
		GenerationRef: holder.GenerationRef,
		State:         holder.State,
		UsedAt:        holder.UsedAt,
	}
}

func (p *PostgresLedger) Commit(ctx context.Context, generationRef string) error {
	const q = `UPDATE code_usage SET state = 'used', used_at = now() WHERE generation_ref = $1 AND state = 'reserved'`
	if _, err := p.pool.Exec(ctx, q, generationRef); err != nil {
		return unavailable("commit", err)
	}
	return nil
}

func (p *PostgresLedger) Rollback(ctx context.Context, generationRef string, digests []string) error {
	if len(digests) == 0 {
		return nil
	}
	const q = `DELETE FROM code_usage WHERE generation_ref = $1 AND state = 'reserved' AND code_digest = ANY($2)`
	if _, err := p.pool.Exec(ctx, q, generationRef, digests); err != nil {
		return unavailable("rollback", err)
	}
	return nil
}

func (p *PostgresLedger) Lookup(ctx context.Context, digest string) (UsageRecord, error) {
	const q = `SELECT code_digest, owner_id, generation_ref, state, used_at FROM code_usage WHERE code_digest = $1`
	var (
		r     UsageRecord
		state string
	)
	err := p.pool.QueryRow(ctx, q, digest).Scan(&r.CodeDigest, &r.OwnerID, &r.GenerationRef, &state, &r.UsedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return UsageRecord{}, errs.ErrNotFound
	}
	if err != nil {
		return UsageRecord{}, unavailable("lookup", err)
	}
	r.State = State(state)
	return r, nil
}
