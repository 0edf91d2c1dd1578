package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dharsanguruparan/LabelDrop/internal/database"
	"github.com/dharsanguruparan/LabelDrop/internal/errs"
	"github.com/dharsanguruparan/LabelDrop/internal/model"
)

// Store is the generation persistence used by the API and the worker.
// storage.MemoryStore is the in-process implementation.
type Store interface {
	Create(ctx context.Context, gen *model.Generation) error
	Get(ctx context.Context, id string) (*model.Generation, error)
	MarkProcessing(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, kind, msg string) error
	MarkCompleted(ctx context.Context, id string, out model.Outcome) error
}

// GenerationRepository wraps all SQL touching the generations table.
type GenerationRepository struct {
	pool database.Pool
}

// NewGenerationRepository constructs a repository.
func NewGenerationRepository(pool database.Pool) *GenerationRepository {
	return &GenerationRepository{pool: pool}
}

// Create inserts a queued generation before the job is enqueued.
func (r *GenerationRepository) Create(ctx context.Context, gen *model.Generation) error {
	now := time.Now().UTC()
	gen.Status = model.StatusQueued
	gen.CreatedAt = now
	gen.UpdatedAt = now
	_, err := r.pool.Exec(ctx, `
		INSERT INTO generations (id, owner_id, layout, size, mode, numbering, items_key, items_kind, codes_key, codes_kind, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, gen.ID, gen.OwnerID, gen.Layout, gen.Size, gen.Mode, gen.Numbering,
		gen.ItemsKey, gen.ItemsKind, gen.CodesKey, gen.CodesKind, gen.Status, gen.CreatedAt, gen.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%w: insert generation: %v", errs.ErrStorageUnavailable, err)
	}
	return nil
}

// Get returns a generation by id, errs.ErrNotFound when absent.
func (r *GenerationRepository) Get(ctx context.Context, id string) (*model.Generation, error) {
	var (
		gen       model.Generation
		outputKey sql.NullString
		errKind   sql.NullString
		errMsg    sql.NullString
	)
	row := r.pool.QueryRow(ctx, `
		SELECT id, owner_id, layout, size, mode, numbering, items_key, items_kind, codes_key, codes_kind,
			output_key, status, pages, skipped, preflight_passed, error_kind, error_message, created_at, updated_at
		FROM generations WHERE id=$1
	`, id)
	err := row.Scan(&gen.ID, &gen.OwnerID, &gen.Layout, &gen.Size, &gen.Mode, &gen.Numbering,
		&gen.ItemsKey, &gen.ItemsKind, &gen.CodesKey, &gen.CodesKind,
		&outputKey, &gen.Status, &gen.Pages, &gen.Skipped, &gen.PreflightPassed, &errKind, &errMsg,
		&gen.CreatedAt, &gen.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("generation %s: %w", id, errs.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: select generation: %v", errs.ErrStorageUnavailable, err)
	}
	gen.OutputKey = nullable(outputKey)
	gen.ErrorKind = nullable(errKind)
	gen.ErrorMessage = nullable(errMsg)
	return &gen, nil
}

// MarkProcessing sets the status to processing.
func (r *GenerationRepository) MarkProcessing(ctx context.Context, id string) error {
	return r.exec(ctx, `
		UPDATE generations SET status=$1, error_kind=NULL, error_message=NULL, updated_at=$2 WHERE id=$3
	`, model.StatusProcessing, time.Now().UTC(), id)
}

// MarkFailed records the failure kind and message.
func (r *GenerationRepository) MarkFailed(ctx context.Context, id, kind, msg string) error {
	return r.exec(ctx, `
		UPDATE generations SET status=$1, error_kind=$2, error_message=$3, updated_at=$4 WHERE id=$5
	`, model.StatusFailed, kind, msg, time.Now().UTC(), id)
}

// MarkCompleted stores the output reference and the batch summary.
func (r *GenerationRepository) MarkCompleted(ctx context.Context, id string, out model.Outcome) error {
	return r.exec(ctx, `
		UPDATE generations
		SET status=$1, output_key=$2, pages=$3, skipped=$4, preflight_passed=$5,
			error_kind=NULL, error_message=NULL, updated_at=$6
		WHERE id=$7
	`, model.StatusCompleted, out.OutputKey, out.Pages, out.Skipped, out.PreflightPassed, time.Now().UTC(), id)
}

func (r *GenerationRepository) exec(ctx context.Context, q string, args ...any) error {
	tag, err := r.pool.Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("%w: update generation: %v", errs.ErrStorageUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("generation %v: %w", args[len(args)-1], errs.ErrNotFound)
	}
	return nil
}

func nullable(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
