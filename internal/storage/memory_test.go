package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/LabelDrop/internal/errs"
	"github.com/dharsanguruparan/LabelDrop/internal/model"
)

func TestMemoryStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	gen := &model.Generation{ID: "g1", OwnerID: "o1"}
	require.NoError(t, store.Create(ctx, gen))
	assert.Error(t, store.Create(ctx, &model.Generation{ID: "g1"}))

	require.NoError(t, store.MarkProcessing(ctx, "g1"))
	require.NoError(t, store.MarkFailed(ctx, "g1", errs.KindDecodeFailure, "label 2: undecodable"))
	got, err := store.Get(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Equal(t, errs.KindDecodeFailure, *got.ErrorKind)

	require.NoError(t, store.MarkCompleted(ctx, "g1", model.Outcome{OutputKey: "g1/labels.pdf", Pages: 4, Skipped: 1}))
	got, err = store.Get(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Equal(t, "g1/labels.pdf", *got.OutputKey)
	assert.Nil(t, got.ErrorKind)

	// Returned values are copies.
	got.Pages = 99
	again, _ := store.Get(ctx, "g1")
	assert.Equal(t, 4, again.Pages)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.ErrorIs(t, store.MarkProcessing(ctx, "missing"), errs.ErrNotFound)
}

func TestMemoryObjects(t *testing.T) {
	ctx := context.Background()
	objs := NewMemoryObjects()
	data := []byte("%PDF-1.4")
	require.NoError(t, objs.PutInput(ctx, "g1/items.pdf", data, "application/pdf"))
	data[0] = 'X'

	got, err := objs.GetInput(ctx, "g1/items.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4"), got)

	_, err = objs.GetOutput(ctx, "g1/items.pdf")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	_, err = objs.PresignOutput(ctx, "g1/labels.pdf", 0)
	assert.ErrorIs(t, err, ErrPresignUnsupported)
}
