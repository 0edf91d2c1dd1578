package pairing

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/LabelDrop/internal/errs"
	"github.com/dharsanguruparan/LabelDrop/internal/model"
)

func items(barcodes ...string) []model.ItemRecord {
	out := make([]model.ItemRecord, len(barcodes))
	for i, b := range barcodes {
		out[i] = model.ItemRecord{Barcode: b}
	}
	return out
}

func TestPair_PreservesOrder(t *testing.T) {
	p := New(nil)
	labels, err := p.Pair(context.Background(), "o", model.NumberingNone, items("1", "2", "3"), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, labels, 3)
	for i, l := range labels {
		assert.Equal(t, i, l.Index)
		assert.Nil(t, l.SerialNumber)
	}
	assert.Equal(t, "2", labels[1].Item.Barcode)
	assert.Equal(t, "b", labels[1].Code)
}

func TestPair_CountMismatch(t *testing.T) {
	counter := NewMemoryCounter()
	p := New(counter)
	labels, err := p.Pair(context.Background(), "o", model.NumberingGlobal, items("1", "2", "3"), []string{"a", "b"})
	assert.Nil(t, labels)
	var cm *CountMismatchError
	require.True(t, errors.As(err, &cm))
	assert.Equal(t, 3, cm.Expected)
	assert.Equal(t, 2, cm.Actual)
	assert.Equal(t, errs.KindCountMismatch, errs.Kind(err))

	// The counter is untouched by a rejected batch.
	v, _ := counter.Add(context.Background(), "o", 0)
	assert.Equal(t, int64(0), v)
}

func TestPair_LocalNumbering(t *testing.T) {
	labels, err := New(nil).Pair(context.Background(), "o", model.NumberingLocal, items("1", "2"), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), *labels[0].SerialNumber)
	assert.Equal(t, int64(2), *labels[1].SerialNumber)
}

func TestPair_GlobalNumberingContinues(t *testing.T) {
	p := New(NewMemoryCounter())
	ctx := context.Background()
	first, err := p.Pair(ctx, "o", model.NumberingGlobal, items("1", "2"), []string{"a", "b"})
	require.NoError(t, err)
	second, err := p.Pair(ctx, "o", model.NumberingGlobal, items("3"), []string{"c"})
	require.NoError(t, err)
	other, err := p.Pair(ctx, "someone-else", model.NumberingGlobal, items("9"), []string{"z"})
	require.NoError(t, err)

	assert.Equal(t, int64(1), *first[0].SerialNumber)
	assert.Equal(t, int64(2), *first[1].SerialNumber)
	assert.Equal(t, int64(3), *second[0].SerialNumber)
	assert.Equal(t, int64(1), *other[0].SerialNumber)
}

func TestPair_Errors(t *testing.T) {
	ctx := context.Background()
	_, err := New(nil).Pair(ctx, "o", model.NumberingGlobal, items("1"), []string{"a"})
	assert.Error(t, err)
	_, err = New(nil).Pair(ctx, "o", "roman", items("1"), []string{"a"})
	assert.Error(t, err)

	labels, err := New(nil).Pair(ctx, "o", model.NumberingGlobal, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, labels)
}

func TestMemoryCounter_ConcurrentBlocksDisjoint(t *testing.T) {
	c := NewMemoryCounter()
	ctx := context.Background()
	const workers, block = 16, 5
	firsts := make([]int64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f, err := Reserve(ctx, c, "o", block)
			assert.NoError(t, err)
			firsts[i] = f
		}()
	}
	wg.Wait()

	seen := make(map[int64]bool)
	for _, f := range firsts {
		for s := f; s < f+block; s++ {
			assert.False(t, seen[s], "serial %d handed out twice", s)
			seen[s] = true
		}
	}
	assert.Len(t, seen, workers*block)
}

func TestPostgresCounter_Add(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`INSERT INTO serial_counters`).
		WithArgs("owner-1", int64(3)).
		WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow(int64(10)))

	first, err := Reserve(context.Background(), NewPostgresCounter(mock), "owner-1", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(8), first)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCounter_StorageUnavailable(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`INSERT INTO serial_counters`).
		WithArgs("owner-1", int64(1)).
		WillReturnError(&pgconn.PgError{Code: "08006"})

	_, err = NewPostgresCounter(mock).Add(context.Background(), "owner-1", 1)
	assert.ErrorIs(t, err, errs.ErrStorageUnavailable)
}
