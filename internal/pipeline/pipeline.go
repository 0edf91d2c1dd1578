// Package pipeline composes marketplace items and trust codes into a label PDF:
// scan, pair, check, reserve, render, commit.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/dharsanguruparan/LabelDrop/internal/entitlement"
	"github.com/dharsanguruparan/LabelDrop/internal/errs"
	"github.com/dharsanguruparan/LabelDrop/internal/layout"
	"github.com/dharsanguruparan/LabelDrop/internal/ledger"
	"github.com/dharsanguruparan/LabelDrop/internal/logger"
	"github.com/dharsanguruparan/LabelDrop/internal/metrics"
	"github.com/dharsanguruparan/LabelDrop/internal/model"
	"github.com/dharsanguruparan/LabelDrop/internal/observability"
	"github.com/dharsanguruparan/LabelDrop/internal/pairing"
	"github.com/dharsanguruparan/LabelDrop/internal/preflight"
	"github.com/dharsanguruparan/LabelDrop/internal/render"
	"github.com/dharsanguruparan/LabelDrop/internal/scanner"
	"github.com/dharsanguruparan/LabelDrop/internal/trustcode"
)

// ItemScanner reads marketplace item documents.
type ItemScanner interface {
	ScanItems(ctx context.Context, doc scanner.Document) ([]model.ItemRecord, error)
}

// CodeScanner reads trust code documents, possibly through the parse cache.
type CodeScanner interface {
	ScanCodes(ctx context.Context, doc scanner.Document) ([]model.CodeRecord, error)
}

// LabelRenderer produces the output document.
type LabelRenderer interface {
	Document(ctx context.Context, tpl layout.Template, labels []model.PairedLabel, opts render.Options) ([]byte, error)
}

// Request is one generation.
type Request struct {
	OwnerID string
	// GenerationRef identifies the generation in the ledger. A new UUID is
	// used when empty.
	GenerationRef string
	Layout        string
	Size          string
	Mode          model.BatchMode
	Numbering     model.Numbering
	// Visible overrides the entitlement's field toggles when set.
	Visible    *layout.VisibleFields
	Priorities []layout.FieldID
	Items      scanner.Document
	Codes      scanner.Document
}

// ItemFailure is a label that failed its checks. In partial mode it is skipped
// and reported; in strict mode the first one aborts the batch.
type ItemFailure struct {
	Index   int          `json:"index"`
	Kind    string       `json:"kind"`
	Message string       `json:"message"`
	Source  model.Source `json:"source"`
	Err     error        `json:"-"`
}

// Result of Generate or Preview. Document is nil for a preview.
type Result struct {
	GenerationRef string               `json:"generationRef"`
	Document      []byte               `json:"-"`
	Pages         int                  `json:"pages"`
	Labels        []model.PairedLabel  `json:"labels"`
	Skipped       []ItemFailure        `json:"skipped,omitempty"`
	Preflight     preflight.Result     `json:"preflight"`
	Template      layout.Template      `json:"-"`
	Visible       layout.VisibleFields `json:"-"`
}

// DuplicateCodeError reports a code repeated inside one batch.
type DuplicateCodeError struct {
	Index int
	First int
}

func (e *DuplicateCodeError) Error() string {
	return fmt.Sprintf("label %d repeats the code of label %d", e.Index+1, e.First+1)
}

// ErrorKind implements errs.Kinded.
func (e *DuplicateCodeError) ErrorKind() string { return errs.KindAlreadyUsed }

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Registry     *layout.Registry
	Items        ItemScanner
	Codes        CodeScanner
	Pairer       *pairing.Pairer
	Validator    *preflight.Validator
	Ledger       ledger.Ledger
	Renderer     LabelRenderer
	Entitlements entitlement.Store
	// Workers bounds per-item checks. Zero means 4.
	Workers int
	Log     *logger.Logger
}

// Pipeline runs generations. It is safe for concurrent use.
type Pipeline struct {
	Deps
	tracer trace.Tracer
}

// New returns a pipeline over d.
func New(d Deps) *Pipeline {
	if d.Workers <= 0 {
		d.Workers = 4
	}
	if d.Log == nil {
		d.Log = logger.Nop()
	}
	return &Pipeline{Deps: d, tracer: observability.Tracer()}
}

func (p *Pipeline) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := p.tracer.Start(ctx, "pipeline."+name)
	defer span.End()
	start := time.Now()
	err := fn(ctx)
	metrics.PipelineDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, errs.Kind(err))
	}
	return err
}

// Generate runs the whole flow and returns the rendered document. Every
// reservation made for the generation is rolled back when it fails.
func (p *Pipeline) Generate(ctx context.Context, req Request) (res *Result, err error) {
	if req.GenerationRef == "" {
		req.GenerationRef = uuid.NewString()
	}
	ctx, span := p.tracer.Start(ctx, "pipeline.generate", trace.WithAttributes(
		attribute.String("generation", req.GenerationRef),
		attribute.String("layout", req.Layout),
		attribute.String("size", req.Size),
		attribute.String("mode", string(req.Mode)),
	))
	defer span.End()
	log := p.Log.With("generation", req.GenerationRef, "owner", req.OwnerID)
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = errs.Kind(err)
			span.SetStatus(otelcodes.Error, outcome)
			log.Warn("generation failed", "kind", outcome, "error", err)
		}
		metrics.Generations.WithLabelValues(outcome).Inc()
	}()

	res, err = p.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := enforce(req.Mode, res); err != nil {
		return nil, err
	}

	if err := p.stage(ctx, "quota", func(ctx context.Context) error {
		ok, err := p.Entitlements.ConsumeQuota(ctx, req.OwnerID, len(res.Labels))
		if err != nil {
			return fmt.Errorf("consume quota: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: %d labels requested", errs.ErrQuotaExceeded, len(res.Labels))
		}
		return nil
	}); err != nil {
		return nil, err
	}

	var reserved []string
	rollback := func() {
		if len(reserved) == 0 {
			return
		}
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if rerr := p.Ledger.Rollback(rctx, req.GenerationRef, reserved); rerr != nil {
			log.Error("ledger rollback failed", "codes", len(reserved), "error", rerr)
			return
		}
		log.Info("ledger reservations rolled back", "codes", len(reserved))
	}

	if err := p.stage(ctx, "reserve", func(ctx context.Context) error {
		for _, l := range res.Labels {
			if err := ctx.Err(); err != nil {
				return err
			}
			digest := trustcode.Digest(l.Code)
			if err := p.Ledger.Reserve(ctx, digest, req.OwnerID, req.GenerationRef); err != nil {
				var au *ledger.AlreadyUsedError
				if errors.As(err, &au) {
					metrics.LedgerConflicts.Inc()
				}
				return fmt.Errorf("label %d: %w", l.Index+1, err)
			}
			reserved = append(reserved, digest)
		}
		return nil
	}); err != nil {
		rollback()
		return nil, err
	}

	if err := p.Pairer.Number(ctx, req.OwnerID, req.Numbering, res.Labels); err != nil {
		rollback()
		return nil, fmt.Errorf("number labels: %w", err)
	}

	if err := p.stage(ctx, "render", func(ctx context.Context) error {
		doc, err := p.Renderer.Document(ctx, res.Template, res.Labels, render.Options{
			Visible:    res.Visible,
			Priorities: req.Priorities,
		})
		if err != nil {
			return fmt.Errorf("render: %w", err)
		}
		res.Document = doc
		return nil
	}); err != nil {
		rollback()
		return nil, err
	}

	if err := p.stage(ctx, "commit", func(ctx context.Context) error {
		return p.Ledger.Commit(ctx, req.GenerationRef)
	}); err != nil {
		rollback()
		return nil, err
	}

	res.Pages = len(res.Labels)
	metrics.LabelsRendered.Add(float64(res.Pages))
	log.Info("generation completed", "pages", res.Pages, "skipped", len(res.Skipped))
	return res, nil
}

// Preview scans, pairs and checks without touching quota, ledger or renderer.
// Every label failure is reported regardless of mode.
func (p *Pipeline) Preview(ctx context.Context, req Request) (*Result, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.preview")
	defer span.End()
	return p.prepare(ctx, req)
}

// enforce applies the batch mode to the check outcome.
func enforce(mode model.BatchMode, res *Result) error {
	if len(res.Skipped) == 0 {
		return nil
	}
	first := res.Skipped[0]
	switch mode {
	case model.ModePartial:
		if len(res.Labels) == 0 {
			return fmt.Errorf("every label failed, first: label %d: %w", first.Index+1, first.Err)
		}
		for _, f := range res.Skipped {
			metrics.ItemsSkipped.WithLabelValues(f.Kind).Inc()
		}
		return nil
	case "", model.ModeStrict:
		return fmt.Errorf("label %d: %w", first.Index+1, first.Err)
	}
	return fmt.Errorf("unknown batch mode %q", mode)
}

// prepare resolves the template, scans, pairs and checks. Result.Labels holds
// the labels that passed, Result.Skipped the ones that did not.
func (p *Pipeline) prepare(ctx context.Context, req Request) (*Result, error) {
	res := &Result{GenerationRef: req.GenerationRef}

	ent, err := p.Entitlements.Lookup(ctx, req.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("lookup entitlement: %w", err)
	}
	if err := ent.Check(req.Layout, req.Size); err != nil {
		return nil, err
	}
	tpl, err := p.Registry.Resolve(req.Layout, req.Size)
	if err != nil {
		return nil, err
	}
	res.Template = tpl
	res.Visible = ent.Visible
	if req.Visible != nil {
		res.Visible = *req.Visible
	}
	if tf := p.Validator.CheckTemplate(tpl); len(tf) > 0 {
		res.Preflight = preflight.Result{Failures: tf}
		countPreflight(tf)
		return nil, &preflight.Error{Result: res.Preflight}
	}

	var (
		items   []model.ItemRecord
		records []model.CodeRecord
	)
	if err := p.stage(ctx, "scan", func(ctx context.Context) error {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			if items, err = p.Items.ScanItems(gctx, req.Items); err != nil {
				return fmt.Errorf("scan items: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			var err error
			if records, err = p.Codes.ScanCodes(gctx, req.Codes); err != nil {
				return fmt.Errorf("scan codes: %w", err)
			}
			return nil
		})
		return g.Wait()
	}); err != nil {
		return nil, err
	}

	labels, err := p.Pairer.Pair(ctx, req.OwnerID, model.NumberingNone, items, model.Payloads(records))
	if err != nil {
		return nil, err
	}

	var failures []ItemFailure
	if err := p.stage(ctx, "check", func(ctx context.Context) error {
		failures, err = p.check(ctx, req.GenerationRef, tpl, labels, records)
		return err
	}); err != nil {
		return nil, err
	}

	failed := make(map[int]bool, len(failures))
	for _, f := range failures {
		failed[f.Index] = true
		var pe *preflight.Error
		if errors.As(f.Err, &pe) {
			res.Preflight.Failures = append(res.Preflight.Failures, pe.Result.Failures...)
		}
	}
	res.Preflight.Passed = len(res.Preflight.Failures) == 0
	res.Skipped = failures
	res.Labels = make([]model.PairedLabel, 0, len(labels)-len(failures))
	for _, l := range labels {
		if !failed[l.Index] {
			res.Labels = append(res.Labels, l)
		}
	}
	return res, nil
}

// check runs the per-label checks on a bounded worker group. Labels are
// updated in place with the normalized code. Ledger lookups that fail with a
// storage error abort the whole check. Codes already used by generationRef
// itself pass, so a retried job converges.
func (p *Pipeline) check(ctx context.Context, generationRef string, tpl layout.Template, labels []model.PairedLabel, records []model.CodeRecord) ([]ItemFailure, error) {
	errsByIndex := make([]error, len(labels))

	first := make(map[string]int, len(labels))
	for i, r := range records {
		if r.Err != nil {
			continue
		}
		d := trustcode.Digest(r.Payload)
		if j, dup := first[d]; dup {
			errsByIndex[i] = &DuplicateCodeError{Index: i, First: j}
			continue
		}
		first[d] = i
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.Workers)
	for i := range labels {
		if errsByIndex[i] != nil {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := records[i].Err; err != nil {
				metrics.DecodeFailures.Inc()
				errsByIndex[i] = err
				return nil
			}
			tc, err := trustcode.Parse(labels[i].Code)
			if err != nil {
				errsByIndex[i] = err
				return nil
			}
			labels[i].Code = tc.Raw
			if fs := p.Validator.CheckLabel(tpl, i, tc.Raw, labels[i].Item.Barcode); len(fs) > 0 {
				countPreflight(fs)
				errsByIndex[i] = &preflight.Error{Result: preflight.Result{Failures: fs}}
				return nil
			}
			rec, err := p.Ledger.Lookup(gctx, trustcode.Digest(tc.Raw))
			switch {
			case errors.Is(err, errs.ErrNotFound):
			case err != nil:
				return fmt.Errorf("label %d: %w", i+1, err)
			case rec.State == ledger.StateUsed && rec.GenerationRef != generationRef:
				errsByIndex[i] = &ledger.AlreadyUsedError{
					CodeDigest:    rec.CodeDigest,
					GenerationRef: rec.GenerationRef,
					State:         rec.State,
					UsedAt:        rec.UsedAt,
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []ItemFailure
	// index order, so strict mode reports the first failing label
	for i, err := range errsByIndex {
		if err == nil {
			continue
		}
		out = append(out, ItemFailure{
			Index:   i,
			Kind:    errs.Kind(err),
			Message: err.Error(),
			Source:  labels[i].Item.Source,
			Err:     err,
		})
	}
	return out, nil
}

func countPreflight(fs []preflight.Failure) {
	for _, f := range fs {
		metrics.PreflightFailures.WithLabelValues(string(f.Kind)).Inc()
	}
}
