package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/dharsanguruparan/LabelDrop/internal/errs"
)

// MemoryLedger is a process-local ledger guarded by a mutex.
type MemoryLedger struct {
	mu   sync.Mutex
	rows map[string]UsageRecord
	ttl  time.Duration
	now  func() time.Time
}

// NewMemory returns an empty ledger. ttl <= 0 selects DefaultReservationTTL.
func NewMemory(ttl time.Duration) *MemoryLedger {
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	return &MemoryLedger{rows: make(map[string]UsageRecord), ttl: ttl, now: time.Now}
}

func (m *MemoryLedger) Reserve(_ context.Context, digest, owner, generationRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	if cur, ok := m.rows[digest]; ok {
		switch {
		case cur.GenerationRef == generationRef:
			return nil
		case cur.State == StateReserved && now.Sub(cur.UsedAt) > m.ttl:
			// stale reservation of a crashed generation
		default:
			return &AlreadyUsedError{CodeDigest: digest, GenerationRef: cur.GenerationRef, State: cur.State, UsedAt: cur.UsedAt}
		}
	}
	m.rows[digest] = UsageRecord{
		CodeDigest:    digest,
		OwnerID:       owner,
		GenerationRef: generationRef,
		State:         StateReserved,
		UsedAt:        now,
	}
	return nil
}

func (m *MemoryLedger) Commit(_ context.Context, generationRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	for k, r := range m.rows {
		if r.GenerationRef == generationRef && r.State == StateReserved {
			r.State = StateUsed
			r.UsedAt = now
			m.rows[k] = r
		}
	}
	return nil
}

func (m *MemoryLedger) Rollback(_ context.Context, generationRef string, digests []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range digests {
		if r, ok := m.rows[d]; ok && r.GenerationRef == generationRef && r.State == StateReserved {
			delete(m.rows, d)
		}
	}
	return nil
}

func (m *MemoryLedger) Lookup(_ context.Context, digest string) (UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[digest]
	if !ok {
		return UsageRecord{}, errs.ErrNotFound
	}
	return r, nil
}
