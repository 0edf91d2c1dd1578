package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/LabelDrop/internal/cache"
	"github.com/dharsanguruparan/LabelDrop/internal/entitlement"
	"github.com/dharsanguruparan/LabelDrop/internal/errs"
	"github.com/dharsanguruparan/LabelDrop/internal/layout"
	"github.com/dharsanguruparan/LabelDrop/internal/ledger"
	"github.com/dharsanguruparan/LabelDrop/internal/logger"
	"github.com/dharsanguruparan/LabelDrop/internal/matrix"
	"github.com/dharsanguruparan/LabelDrop/internal/model"
	"github.com/dharsanguruparan/LabelDrop/internal/pairing"
	pdfutil "github.com/dharsanguruparan/LabelDrop/internal/pdf"
	"github.com/dharsanguruparan/LabelDrop/internal/preflight"
	"github.com/dharsanguruparan/LabelDrop/internal/render"
	"github.com/dharsanguruparan/LabelDrop/internal/scanner"
	"github.com/dharsanguruparan/LabelDrop/internal/trustcode"
)

const (
	codeA = "0104607104123456215550001234abc"
	codeB = "0104607104123456215550001234abd"
	codeC = "0104607104123456215550001234abe"
)

type fixture struct {
	p       *Pipeline
	ledger  *ledger.MemoryLedger
	store   *entitlement.MemoryStore
	counter *pairing.MemoryCounter
}

func newFixture(t *testing.T, reg *layout.Registry) *fixture {
	t.Helper()
	if reg == nil {
		var err error
		reg, err = layout.Default()
		require.NoError(t, err)
	}
	fonts, err := render.LoadFonts()
	require.NoError(t, err)
	codec := matrix.New(layout.DefaultDPI)
	sc := scanner.New(logger.Nop(), 2)
	f := &fixture{
		ledger:  ledger.NewMemory(0),
		store:   entitlement.NewMemoryStore(entitlement.Entitlement{Visible: layout.AllFields()}),
		counter: pairing.NewMemoryCounter(),
	}
	f.p = New(Deps{
		Registry:     reg,
		Items:        sc,
		Codes:        cache.NewCachedScanner(sc, cache.NewMemory(), time.Hour, logger.Nop()),
		Pairer:       pairing.New(f.counter),
		Validator:    preflight.New(codec, 0),
		Ledger:       f.ledger,
		Renderer:     render.New(codec, fonts, logger.Nop()),
		Entitlements: f.store,
		Workers:      2,
		Log:          logger.Nop(),
	})
	return f
}

func itemsCSV(barcodes ...string) scanner.Document {
	var b strings.Builder
	b.WriteString("barcode,article,size,name\n")
	for i, bc := range barcodes {
		b.WriteString(bc + ",TS-0" + string(rune('1'+i)) + ",M,Футболка\n")
	}
	return scanner.Document{Name: "items.csv", Kind: model.KindCSV, Data: []byte(b.String())}
}

func codesTXT(codes ...string) scanner.Document {
	return scanner.Document{Name: "codes.txt", Kind: model.KindTXT, Data: []byte(strings.Join(codes, "\n") + "\n")}
}

func request(items, codes scanner.Document) Request {
	return Request{
		OwnerID: "owner-1",
		Layout:  "basic",
		Size:    "58x40",
		Mode:    model.ModeStrict,
		Items:   items,
		Codes:   codes,
	}
}

func assertNotReserved(t *testing.T, l ledger.Ledger, codes ...string) {
	t.Helper()
	for _, c := range codes {
		_, err := l.Lookup(context.Background(), trustcode.Digest(c))
		assert.ErrorIs(t, err, errs.ErrNotFound, "code %s", trustcode.Mask(c))
	}
}

func TestGenerate_SingleLabel(t *testing.T) {
	f := newFixture(t, nil)
	res, err := f.p.Generate(context.Background(), request(itemsCSV("4601234567893"), codesTXT(codeA)))
	require.NoError(t, err)

	assert.Equal(t, 1, res.Pages)
	assert.True(t, res.Preflight.Passed)
	assert.Empty(t, res.Skipped)
	assert.NotEmpty(t, res.GenerationRef)
	require.Len(t, res.Labels, 1)
	assert.Equal(t, codeA, res.Labels[0].Code)

	doc, err := pdfutil.Open(res.Document)
	require.NoError(t, err)
	assert.Equal(t, 1, doc.NumPages())

	rec, err := f.ledger.Lookup(context.Background(), trustcode.Digest(codeA))
	require.NoError(t, err)
	assert.Equal(t, ledger.StateUsed, rec.State)
	assert.Equal(t, res.GenerationRef, rec.GenerationRef)
}

func TestGenerate_CountMismatch(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.p.Generate(context.Background(),
		request(itemsCSV("4601234567893", "2000000000015", "4601234567893"), codesTXT(codeA, codeB)))

	var cm *pairing.CountMismatchError
	require.True(t, errors.As(err, &cm))
	assert.Equal(t, 3, cm.Expected)
	assert.Equal(t, 2, cm.Actual)
	assertNotReserved(t, f.ledger, codeA, codeB)
}

func TestGenerate_CodeUsedTwice(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	first, err := f.p.Generate(ctx, request(itemsCSV("4601234567893"), codesTXT(codeA)))
	require.NoError(t, err)

	_, err = f.p.Generate(ctx, request(itemsCSV("4601234567893"), codesTXT(codeA)))
	var au *ledger.AlreadyUsedError
	require.True(t, errors.As(err, &au))
	assert.Equal(t, first.GenerationRef, au.GenerationRef)
	assert.Equal(t, errs.KindAlreadyUsed, errs.Kind(err))
}

func TestGenerate_RetrySameGeneration(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	req := request(itemsCSV("4601234567893"), codesTXT(codeA))
	req.GenerationRef = "gen-retry"
	_, err := f.p.Generate(ctx, req)
	require.NoError(t, err)

	res, err := f.p.Generate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pages)
	rec, err := f.ledger.Lookup(ctx, trustcode.Digest(codeA))
	require.NoError(t, err)
	assert.Equal(t, "gen-retry", rec.GenerationRef)
	assert.Equal(t, ledger.StateUsed, rec.State)
}

func TestGenerate_DuplicateInsideBatch(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.p.Generate(context.Background(),
		request(itemsCSV("4601234567893", "2000000000015"), codesTXT(codeA, codeA)))
	var dup *DuplicateCodeError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, 1, dup.Index)
	assert.Equal(t, 0, dup.First)
	assertNotReserved(t, f.ledger, codeA)
}

func TestGenerate_StrictVersusPartial(t *testing.T) {
	items := itemsCSV("4601234567893", "2000000000015", "4601234567893")
	codes := codesTXT(codeA, "not-a-trust-code", codeC)

	f := newFixture(t, nil)
	_, err := f.p.Generate(context.Background(), request(items, codes))
	var mc *trustcode.MalformedCodeError
	require.True(t, errors.As(err, &mc))
	assert.Contains(t, err.Error(), "label 2")
	assertNotReserved(t, f.ledger, codeA, codeC)

	req := request(items, codes)
	req.Mode = model.ModePartial
	res, err := f.p.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Pages)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, 1, res.Skipped[0].Index)
	assert.Equal(t, errs.KindMalformedInput, res.Skipped[0].Kind)
	assert.Equal(t, 3, res.Skipped[0].Source.Row)
	assert.Equal(t, []int{0, 2}, []int{res.Labels[0].Index, res.Labels[1].Index})
}

func TestGenerate_PartialAllFailed(t *testing.T) {
	f := newFixture(t, nil)
	req := request(itemsCSV("4601234567893"), codesTXT("garbage"))
	req.Mode = model.ModePartial
	_, err := f.p.Generate(context.Background(), req)
	assert.Equal(t, errs.KindMalformedInput, errs.Kind(err))
}

func TestGenerate_QuotaExceeded(t *testing.T) {
	f := newFixture(t, nil)
	f.store.Set(entitlement.Entitlement{SubjectID: "owner-1", DailyQuota: 1})
	_, err := f.p.Generate(context.Background(),
		request(itemsCSV("4601234567893", "2000000000015"), codesTXT(codeA, codeB)))
	assert.ErrorIs(t, err, errs.ErrQuotaExceeded)
	assertNotReserved(t, f.ledger, codeA, codeB)
}

func TestGenerate_NotEntitled(t *testing.T) {
	f := newFixture(t, nil)
	f.store.Set(entitlement.Entitlement{SubjectID: "owner-1", Layouts: []string{"basic"}})
	req := request(itemsCSV("4601234567893"), codesTXT(codeA))
	req.Layout = "extended"
	_, err := f.p.Generate(context.Background(), req)
	assert.ErrorIs(t, err, errs.ErrNotEntitled)
}

func TestGenerate_UnknownTemplate(t *testing.T) {
	f := newFixture(t, nil)
	req := request(itemsCSV("4601234567893"), codesTXT(codeA))
	req.Size = "100x150"
	_, err := f.p.Generate(context.Background(), req)
	assert.Equal(t, errs.KindUnknownTemplate, errs.Kind(err))
}

func TestGenerate_MatrixTooSmall(t *testing.T) {
	reg, err := layout.Load(strings.NewReader(`
version: 1
sizes:
  40x25: {width: 40, height: 25}
layouts:
  tiny:
    40x25:
      zones:
        - {name: datamatrix, x: 1, y: 1, width: 18, height: 18}
        - {name: text, x: 20, y: 1, width: 19, height: 23}
`))
	require.NoError(t, err)
	f := newFixture(t, reg)
	req := request(itemsCSV("4601234567893"), codesTXT(codeA))
	req.Layout, req.Size = "tiny", "40x25"

	_, err = f.p.Generate(context.Background(), req)
	var pe *preflight.Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, errs.KindMatrixTooSmall, errs.Kind(err))
	require.Len(t, pe.Result.Failures, 1)
	assert.Less(t, pe.Result.Failures[0].ActualMM, preflight.MinimumMatrixMM)
	assertNotReserved(t, f.ledger, codeA)
}

func TestGenerate_GlobalNumbering(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	req := request(itemsCSV("4601234567893", "2000000000015"), codesTXT(codeA, codeB))
	req.Numbering = model.NumberingGlobal
	res, err := f.p.Generate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(1), *res.Labels[0].SerialNumber)
	assert.Equal(t, int64(2), *res.Labels[1].SerialNumber)

	req = request(itemsCSV("4601234567893"), codesTXT(codeC))
	req.Numbering = model.NumberingGlobal
	res, err = f.p.Generate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(3), *res.Labels[0].SerialNumber)
}

func TestGenerate_CanceledBeforeStart(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.p.Generate(ctx, request(itemsCSV("4601234567893"), codesTXT(codeA)))
	assert.Equal(t, errs.KindCanceled, errs.Kind(err))
	assertNotReserved(t, f.ledger, codeA)
}

// cancelingLedger cancels the generation once the first code is reserved.
type cancelingLedger struct {
	*ledger.MemoryLedger
	cancel   context.CancelFunc
	reserved int
}

func (l *cancelingLedger) Reserve(ctx context.Context, digest, owner, generationRef string) error {
	if err := l.MemoryLedger.Reserve(ctx, digest, owner, generationRef); err != nil {
		return err
	}
	l.reserved++
	l.cancel()
	return nil
}

func TestGenerate_CanceledBetweenReservations(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := &cancelingLedger{MemoryLedger: f.ledger, cancel: cancel}
	f.p.Ledger = l

	_, err := f.p.Generate(ctx,
		request(itemsCSV("4601234567893", "2000000000015", "4601234567893"), codesTXT(codeA, codeB, codeC)))
	assert.Equal(t, errs.KindCanceled, errs.Kind(err))
	assert.Equal(t, 1, l.reserved)
	assertNotReserved(t, f.ledger, codeA, codeB, codeC)
}

type failingRenderer struct{}

func (failingRenderer) Document(context.Context, layout.Template, []model.PairedLabel, render.Options) ([]byte, error) {
	return nil, errors.New("raster failed")
}

func TestGenerate_RenderFailureReleasesCodes(t *testing.T) {
	f := newFixture(t, nil)
	f.p.Renderer = failingRenderer{}

	_, err := f.p.Generate(context.Background(),
		request(itemsCSV("4601234567893", "2000000000015"), codesTXT(codeA, codeB)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "raster failed")
	assertNotReserved(t, f.ledger, codeA, codeB)
}

// failingCommitLedger reserves normally and refuses to commit.
type failingCommitLedger struct {
	*ledger.MemoryLedger
}

func (failingCommitLedger) Commit(context.Context, string) error {
	return errs.ErrStorageUnavailable
}

func TestGenerate_CommitFailureReleasesCodes(t *testing.T) {
	f := newFixture(t, nil)
	f.p.Ledger = failingCommitLedger{MemoryLedger: f.ledger}

	res, err := f.p.Generate(context.Background(),
		request(itemsCSV("4601234567893", "2000000000015"), codesTXT(codeA, codeB)))
	assert.Nil(t, res)
	assert.ErrorIs(t, err, errs.ErrStorageUnavailable)
	assertNotReserved(t, f.ledger, codeA, codeB)
}

func TestPreview_ReportsWithoutSideEffects(t *testing.T) {
	f := newFixture(t, nil)
	f.store.Set(entitlement.Entitlement{SubjectID: "owner-1", DailyQuota: 1})
	req := request(itemsCSV("4601234567893", "2000000000015"), codesTXT(codeA, "bad"))

	res, err := f.p.Preview(context.Background(), req)
	require.NoError(t, err)
	assert.Nil(t, res.Document)
	assert.Len(t, res.Labels, 1)
	assert.Len(t, res.Skipped, 1)
	assertNotReserved(t, f.ledger, codeA)

	ok, err := f.store.ConsumeQuota(context.Background(), "owner-1", 1)
	require.NoError(t, err)
	assert.True(t, ok, "preview consumed no quota")
}
