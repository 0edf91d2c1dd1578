package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/LabelDrop/internal/errs"
	"github.com/dharsanguruparan/LabelDrop/internal/model"
	"github.com/dharsanguruparan/LabelDrop/internal/pairing"
	"github.com/dharsanguruparan/LabelDrop/internal/pipeline"
	"github.com/dharsanguruparan/LabelDrop/internal/preflight"
	"github.com/dharsanguruparan/LabelDrop/internal/queue"
	"github.com/dharsanguruparan/LabelDrop/internal/storage"
)

type fakeGenerator struct {
	got pipeline.Request
	res *pipeline.Result
	err error
}

func (f *fakeGenerator) Generate(_ context.Context, req pipeline.Request) (*pipeline.Result, error) {
	f.got = req
	return f.res, f.err
}

func setup(t *testing.T, gen Generator) (*Processor, *storage.MemoryStore, *storage.MemoryObjects) {
	t.Helper()
	ctx := context.Background()
	repo := storage.NewMemoryStore()
	objs := storage.NewMemoryObjects()
	require.NoError(t, repo.Create(ctx, &model.Generation{
		ID: "g1", OwnerID: "o1", Layout: "basic", Size: "58x40",
		Mode: model.ModePartial, Numbering: model.NumberingLocal,
		ItemsKey: "g1/items.csv", ItemsKind: model.KindCSV,
		CodesKey: "g1/codes.txt", CodesKind: model.KindTXT,
	}))
	require.NoError(t, objs.PutInput(ctx, "g1/items.csv", []byte("barcode\n4601234567893\n"), "text/csv"))
	require.NoError(t, objs.PutInput(ctx, "g1/codes.txt", []byte("code\n"), "text/plain"))
	return NewProcessor(repo, objs, gen, nil), repo, objs
}

func TestRun_Completed(t *testing.T) {
	gen := &fakeGenerator{res: &pipeline.Result{
		Document:  []byte("%PDF-1.4 labels"),
		Pages:     2,
		Skipped:   []pipeline.ItemFailure{{Index: 1, Kind: errs.KindDecodeFailure}},
		Preflight: preflight.Result{Passed: true},
	}}
	p, repo, objs := setup(t, gen)
	ctx := context.Background()

	require.NoError(t, p.Run(ctx, "g1"))
	assert.Equal(t, "g1", gen.got.GenerationRef)
	assert.Equal(t, model.ModePartial, gen.got.Mode)
	assert.Equal(t, model.KindCSV, gen.got.Items.Kind)
	assert.Equal(t, []byte("code\n"), gen.got.Codes.Data)

	row, err := repo.Get(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, row.Status)
	assert.Equal(t, 2, row.Pages)
	assert.Equal(t, 1, row.Skipped)
	assert.True(t, row.PreflightPassed)

	pdf, err := objs.GetOutput(ctx, OutputKey("g1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4 labels"), pdf)
}

func TestRun_FailedRecordsKind(t *testing.T) {
	gen := &fakeGenerator{err: fmt.Errorf("pair: %w", &pairing.CountMismatchError{Expected: 3, Actual: 2})}
	p, repo, _ := setup(t, gen)
	ctx := context.Background()

	err := p.Run(ctx, "g1")
	require.Error(t, err)
	assert.False(t, Retryable(err))

	row, err := repo.Get(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, row.Status)
	assert.Equal(t, errs.KindCountMismatch, *row.ErrorKind)
	assert.Contains(t, *row.ErrorMessage, "3")
}

func TestRun_MissingGeneration(t *testing.T) {
	p, _, _ := setup(t, &fakeGenerator{})
	assert.ErrorIs(t, p.Run(context.Background(), "nope"), errs.ErrNotFound)
}

func TestHandleGenerate_SkipRetry(t *testing.T) {
	gen := &fakeGenerator{err: errs.ErrQuotaExceeded}
	p, _, _ := setup(t, gen)
	task, err := queue.NewGenerateTask(queue.GeneratePayload{GenerationID: "g1"})
	require.NoError(t, err)

	err = p.handleGenerate(context.Background(), task)
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	gen.err = fmt.Errorf("%w: ledger reserve: timeout", errs.ErrStorageUnavailable)
	err = p.handleGenerate(context.Background(), task)
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))

	err = p.handleGenerate(context.Background(), asynq.NewTask(queue.GenerateLabelsTask, []byte("{")))
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}
