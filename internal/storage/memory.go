// Package storage holds the in-process stand-ins for PostgreSQL and MinIO used
// by local runs and tests.
package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dharsanguruparan/LabelDrop/internal/errs"
	"github.com/dharsanguruparan/LabelDrop/internal/model"
)

// MemoryStore keeps generation rows in a map guarded by an RWMutex.
// It satisfies repository.Store.
type MemoryStore struct {
	mu   sync.RWMutex
	gens map[string]*model.Generation
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{gens: make(map[string]*model.Generation)}
}

// Create inserts a queued generation. Ids must be unique.
func (m *MemoryStore) Create(_ context.Context, gen *model.Generation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.gens[gen.ID]; ok {
		return fmt.Errorf("generation %s already exists", gen.ID)
	}
	now := time.Now().UTC()
	gen.Status = model.StatusQueued
	gen.CreatedAt = now
	gen.UpdatedAt = now
	cp := *gen
	m.gens[gen.ID] = &cp
	return nil
}

// Get returns a copy of the generation.
func (m *MemoryStore) Get(_ context.Context, id string) (*model.Generation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	gen, ok := m.gens[id]
	if !ok {
		return nil, fmt.Errorf("generation %s: %w", id, errs.ErrNotFound)
	}
	cp := *gen
	return &cp, nil
}

func (m *MemoryStore) MarkProcessing(_ context.Context, id string) error {
	return m.update(id, func(gen *model.Generation) {
		gen.Status = model.StatusProcessing
		gen.ErrorKind, gen.ErrorMessage = nil, nil
	})
}

func (m *MemoryStore) MarkFailed(_ context.Context, id, kind, msg string) error {
	return m.update(id, func(gen *model.Generation) {
		gen.Status = model.StatusFailed
		gen.ErrorKind, gen.ErrorMessage = &kind, &msg
	})
}

func (m *MemoryStore) MarkCompleted(_ context.Context, id string, out model.Outcome) error {
	return m.update(id, func(gen *model.Generation) {
		key := out.OutputKey
		gen.Status = model.StatusCompleted
		gen.OutputKey = &key
		gen.Pages = out.Pages
		gen.Skipped = out.Skipped
		gen.PreflightPassed = out.PreflightPassed
		gen.ErrorKind, gen.ErrorMessage = nil, nil
	})
}

func (m *MemoryStore) update(id string, apply func(*model.Generation)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	gen, ok := m.gens[id]
	if !ok {
		return fmt.Errorf("generation %s: %w", id, errs.ErrNotFound)
	}
	apply(gen)
	gen.UpdatedAt = time.Now().UTC()
	return nil
}
