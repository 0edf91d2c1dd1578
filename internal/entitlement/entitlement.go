// Package entitlement answers what a subject may print: allowed layouts and
// sizes, visible text fields and the daily and monthly label quota.
package entitlement

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dharsanguruparan/LabelDrop/internal/errs"
	"github.com/dharsanguruparan/LabelDrop/internal/layout"
)

// Entitlement is the configuration of one subject. Empty Layouts or Sizes allow
// everything; a zero quota is unlimited.
type Entitlement struct {
	SubjectID    string               `json:"subjectId"`
	Layouts      []string             `json:"layouts,omitempty"`
	Sizes        []string             `json:"sizes,omitempty"`
	Visible      layout.VisibleFields `json:"visible"`
	DailyQuota   int                  `json:"dailyQuota"`
	MonthlyQuota int                  `json:"monthlyQuota"`
}

// Allows reports whether the (layout, size) pair is permitted.
func (e Entitlement) Allows(layoutName, size string) bool {
	if len(e.Layouts) > 0 && !slices.Contains(e.Layouts, layoutName) {
		return false
	}
	return len(e.Sizes) == 0 || slices.Contains(e.Sizes, size)
}

// Check returns errs.ErrNotEntitled when the pair is not allowed.
func (e Entitlement) Check(layoutName, size string) error {
	if !e.Allows(layoutName, size) {
		return fmt.Errorf("%w: %s/%s", errs.ErrNotEntitled, layoutName, size)
	}
	return nil
}

// Store is the identity and entitlement collaborator.
type Store interface {
	Lookup(ctx context.Context, subject string) (Entitlement, error)
	// ConsumeQuota atomically takes n labels from the subject's quota and
	// reports false, consuming nothing, when either window would overflow.
	ConsumeQuota(ctx context.Context, subject string, n int) (bool, error)
}

type usage struct {
	day   string
	daily int
	month string
	total int
}

// MemoryStore serves one default entitlement, optionally overridden per
// subject, and counts usage in process.
type MemoryStore struct {
	mu        sync.Mutex
	defaults  Entitlement
	overrides map[string]Entitlement
	usage     map[string]*usage
	now       func() time.Time
}

// NewMemoryStore returns a store that hands defaults to every subject.
func NewMemoryStore(defaults Entitlement) *MemoryStore {
	return &MemoryStore{
		defaults:  defaults,
		overrides: make(map[string]Entitlement),
		usage:     make(map[string]*usage),
		now:       time.Now,
	}
}

// Set overrides the entitlement of one subject.
func (s *MemoryStore) Set(e Entitlement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[e.SubjectID] = e
}

func (s *MemoryStore) lookup(subject string) Entitlement {
	if e, ok := s.overrides[subject]; ok {
		return e
	}
	e := s.defaults
	e.SubjectID = subject
	return e
}

func (s *MemoryStore) Lookup(_ context.Context, subject string) (Entitlement, error) {
	if subject == "" {
		return Entitlement{}, fmt.Errorf("%w: empty subject", errs.ErrNotEntitled)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookup(subject), nil
}

func (s *MemoryStore) ConsumeQuota(_ context.Context, subject string, n int) (bool, error) {
	if n < 0 {
		return false, fmt.Errorf("consume quota: negative count %d", n)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(subject)
	now := s.now().UTC()
	day, month := now.Format("2006-01-02"), now.Format("2006-01")

	u, ok := s.usage[subject]
	if !ok {
		u = &usage{}
		s.usage[subject] = u
	}
	if u.day != day {
		u.day, u.daily = day, 0
	}
	if u.month != month {
		u.month, u.total = month, 0
	}

	if e.DailyQuota > 0 && u.daily+n > e.DailyQuota {
		return false, nil
	}
	if e.MonthlyQuota > 0 && u.total+n > e.MonthlyQuota {
		return false, nil
	}
	u.daily += n
	u.total += n
	return true, nil
}
