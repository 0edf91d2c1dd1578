package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dharsanguruparan/LabelDrop/internal/errs"
)

// ErrPresignUnsupported is returned by object stores that cannot mint
// direct download URLs; callers fall back to HMAC-signed links.
var ErrPresignUnsupported = errors.New("presigned urls not supported")

// Objects stores uploaded inputs and rendered label documents.
// s3storage.Storage is the MinIO implementation.
type Objects interface {
	PutInput(ctx context.Context, key string, data []byte, contentType string) error
	GetInput(ctx context.Context, key string) ([]byte, error)
	PutOutput(ctx context.Context, key string, data []byte) error
	GetOutput(ctx context.Context, key string) ([]byte, error)
	PresignOutput(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// MemoryObjects is an Objects backed by two maps.
type MemoryObjects struct {
	mu      sync.RWMutex
	inputs  map[string][]byte
	outputs map[string][]byte
}

func NewMemoryObjects() *MemoryObjects {
	return &MemoryObjects{inputs: make(map[string][]byte), outputs: make(map[string][]byte)}
}

func (m *MemoryObjects) PutInput(_ context.Context, key string, data []byte, _ string) error {
	m.put(m.inputs, key, data)
	return nil
}

func (m *MemoryObjects) GetInput(_ context.Context, key string) ([]byte, error) {
	return m.get(m.inputs, key)
}

func (m *MemoryObjects) PutOutput(_ context.Context, key string, data []byte) error {
	m.put(m.outputs, key, data)
	return nil
}

func (m *MemoryObjects) GetOutput(_ context.Context, key string) ([]byte, error) {
	return m.get(m.outputs, key)
}

func (m *MemoryObjects) PresignOutput(context.Context, string, time.Duration) (string, error) {
	return "", ErrPresignUnsupported
}

func (m *MemoryObjects) put(bucket map[string][]byte, key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket[key] = append([]byte(nil), data...)
}

func (m *MemoryObjects) get(bucket map[string][]byte, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := bucket[key]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", key, errs.ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}
