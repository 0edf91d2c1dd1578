package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/LabelDrop/internal/errs"
)

func TestMemory_ConcurrentReserveSingleWinner(t *testing.T) {
	l := NewMemory(0)
	ctx := context.Background()
	const n = 32
	var (
		wg      sync.WaitGroup
		wins    atomic.Int32
		refused atomic.Int32
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.Reserve(ctx, "digest", "o", fmt.Sprintf("gen-%d", i))
			var au *AlreadyUsedError
			switch {
			case err == nil:
				wins.Add(1)
			case errors.As(err, &au):
				refused.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(n-1), refused.Load())
}

func TestMemory_CommitThenRefuse(t *testing.T) {
	l := NewMemory(0)
	ctx := context.Background()
	require.NoError(t, l.Reserve(ctx, "d1", "o", "g1"))
	require.NoError(t, l.Reserve(ctx, "d1", "o", "g1"), "same generation re-reserves")
	require.NoError(t, l.Commit(ctx, "g1"))

	rec, err := l.Lookup(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, StateUsed, rec.State)

	err = l.Reserve(ctx, "d1", "o", "g2")
	var au *AlreadyUsedError
	require.True(t, errors.As(err, &au))
	assert.Equal(t, "g1", au.GenerationRef)
	assert.Equal(t, StateUsed, au.State)
	assert.Equal(t, errs.KindAlreadyUsed, errs.Kind(err))
	assert.Contains(t, err.Error(), "already used")

	// Committed rows survive a rollback.
	require.NoError(t, l.Rollback(ctx, "g1", []string{"d1"}))
	_, err = l.Lookup(ctx, "d1")
	assert.NoError(t, err)
}

func TestMemory_RollbackReleases(t *testing.T) {
	l := NewMemory(0)
	ctx := context.Background()
	require.NoError(t, l.Reserve(ctx, "d1", "o", "g1"))
	require.NoError(t, l.Reserve(ctx, "d2", "o", "g1"))
	require.NoError(t, l.Reserve(ctx, "d3", "o", "other"))
	require.NoError(t, l.Rollback(ctx, "g1", []string{"d1", "d2", "d3"}))

	_, err := l.Lookup(ctx, "d1")
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.NoError(t, l.Reserve(ctx, "d2", "o", "g2"))
	_, err = l.Lookup(ctx, "d3")
	assert.NoError(t, err, "another generation's reservation is kept")
}

func TestMemory_StaleReservationTakenOver(t *testing.T) {
	l := NewMemory(time.Minute)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()
	require.NoError(t, l.Reserve(ctx, "d1", "o", "crashed"))

	err := l.Reserve(ctx, "d1", "o", "g2")
	var au *AlreadyUsedError
	require.True(t, errors.As(err, &au))
	assert.Equal(t, StateReserved, au.State)

	now = now.Add(2 * time.Minute)
	require.NoError(t, l.Reserve(ctx, "d1", "o", "g2"))
	rec, err := l.Lookup(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "g2", rec.GenerationRef)
}

func TestPostgres_ReserveOK(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`INSERT INTO code_usage`).
		WithArgs("d1", "o", "g1", DefaultReservationTTL).
		WillReturnRows(pgxmock.NewRows([]string{"generation_ref"}).AddRow("g1"))

	require.NoError(t, NewPostgres(mock, 0).Reserve(context.Background(), "d1", "o", "g1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ReserveConflict(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	usedAt := time.Date(2026, 2, 1, 8, 30, 0, 0, time.UTC)
	mock.ExpectQuery(`INSERT INTO code_usage`).
		WithArgs("d1", "o", "g2", DefaultReservationTTL).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`SELECT code_digest, owner_id, generation_ref, state, used_at FROM code_usage`).
		WithArgs("d1").
		WillReturnRows(pgxmock.NewRows([]string{"code_digest", "owner_id", "generation_ref", "state", "used_at"}).
			AddRow("d1", "o", "g1", "used", usedAt))

	err = NewPostgres(mock, 0).Reserve(context.Background(), "d1", "o", "g2")
	var au *AlreadyUsedError
	require.True(t, errors.As(err, &au))
	assert.Equal(t, "g1", au.GenerationRef)
	assert.Equal(t, usedAt, au.UsedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CommitRollback(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`UPDATE code_usage SET state = 'used'`).
		WithArgs("g1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	mock.ExpectExec(`DELETE FROM code_usage`).
		WithArgs("g2", []string{"d1"}).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	l := NewPostgres(mock, 0)
	require.NoError(t, l.Commit(context.Background(), "g1"))
	require.NoError(t, l.Rollback(context.Background(), "g2", []string{"d1"}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_StorageUnavailable(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`INSERT INTO code_usage`).
		WithArgs("d1", "o", "g1", DefaultReservationTTL).
		WillReturnError(&pgconn.PgError{Code: "08006"})
	mock.ExpectExec(`UPDATE code_usage`).
		WithArgs("g1").
		WillReturnError(errors.New("connection reset"))

	l := NewPostgres(mock, 0)
	err = l.Reserve(context.Background(), "d1", "o", "g1")
	assert.ErrorIs(t, err, errs.ErrStorageUnavailable)
	assert.Equal(t, errs.KindStorageUnavailable, errs.Kind(err))
	assert.ErrorIs(t, l.Commit(context.Background(), "g1"), errs.ErrStorageUnavailable)
}
