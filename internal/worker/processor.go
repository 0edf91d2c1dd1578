package worker

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/LabelDrop/internal/errs"
	"github.com/dharsanguruparan/LabelDrop/internal/logger"
	"github.com/dharsanguruparan/LabelDrop/internal/model"
	"github.com/dharsanguruparan/LabelDrop/internal/pipeline"
	"github.com/dharsanguruparan/LabelDrop/internal/queue"
	"github.com/dharsanguruparan/LabelDrop/internal/repository"
	"github.com/dharsanguruparan/LabelDrop/internal/scanner"
	"github.com/dharsanguruparan/LabelDrop/internal/storage"
)

// Generator is the part of pipeline.Pipeline the worker drives.
type Generator interface {
	Generate(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// Processor runs queued generations. It is plugged into the asynq worker loop
// or, without Redis, into processing.Pool.
type Processor struct {
	repo    repository.Store
	objects storage.Objects
	gen     Generator
	log     *logger.Logger
}

// NewProcessor constructs a worker processor.
func NewProcessor(repo repository.Store, objects storage.Objects, gen Generator, log *logger.Logger) *Processor {
	if log == nil {
		log = logger.Nop()
	}
	return &Processor{repo: repo, objects: objects, gen: gen, log: log}
}

// Handler registers the generate job handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.GenerateLabelsTask, p.handleGenerate)
	return mux
}

func (p *Processor) handleGenerate(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.DecodeGenerate(task)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	err = p.Run(ctx, payload.GenerationID)
	if err != nil && !Retryable(err) {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}

// Retryable reports whether a failed generation may succeed on a later
// attempt. Input and entitlement errors never will.
func Retryable(err error) bool {
	switch errs.Kind(err) {
	case errs.KindStorageUnavailable, errs.KindCanceled, errs.KindInternal:
		return true
	}
	return false
}

// OutputKey is the processed-bucket key of a generation's label document.
func OutputKey(generationID string) string {
	return generationID + "/labels.pdf"
}

// Run loads the generation, renders its labels and records the outcome.
func (p *Processor) Run(ctx context.Context, id string) error {
	log := p.log.With("generation", id)
	gen, err := p.repo.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("load generation: %w", err)
	}
	failure := func(err error) error {
		kind := errs.Kind(err)
		log.Warn("generation failed", "kind", kind, "error", err)
		if merr := p.repo.MarkFailed(context.WithoutCancel(ctx), id, kind, err.Error()); merr != nil {
			log.Error("mark failed", "error", merr)
		}
		return err
	}
	if err := p.repo.MarkProcessing(ctx, id); err != nil {
		return failure(err)
	}

	items, err := p.objects.GetInput(ctx, gen.ItemsKey)
	if err != nil {
		return failure(fmt.Errorf("download items: %w", err))
	}
	codes, err := p.objects.GetInput(ctx, gen.CodesKey)
	if err != nil {
		return failure(fmt.Errorf("download codes: %w", err))
	}

	res, err := p.gen.Generate(ctx, pipeline.Request{
		OwnerID:       gen.OwnerID,
		GenerationRef: gen.ID,
		Layout:        gen.Layout,
		Size:          gen.Size,
		Mode:          gen.Mode,
		Numbering:     gen.Numbering,
		Items:         scanner.Document{Name: gen.ItemsKey, Kind: gen.ItemsKind, Data: items},
		Codes:         scanner.Document{Name: gen.CodesKey, Kind: gen.CodesKind, Data: codes},
	})
	if err != nil {
		return failure(err)
	}

	key := OutputKey(id)
	if err := p.objects.PutOutput(ctx, key, res.Document); err != nil {
		return failure(fmt.Errorf("upload labels: %w", err))
	}
	out := model.Outcome{
		OutputKey:       key,
		Pages:           res.Pages,
		Skipped:         len(res.Skipped),
		PreflightPassed: res.Preflight.Passed,
	}
	if err := p.repo.MarkCompleted(ctx, id, out); err != nil {
		return failure(err)
	}
	log.Info("generation completed", "pages", res.Pages, "skipped", len(res.Skipped))
	return nil
}
