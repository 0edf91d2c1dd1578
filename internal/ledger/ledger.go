// Package ledger records which trust codes have been consumed. A code is first
// reserved for a generation, then committed as used once the output exists,
// or rolled back so it can be printed again. Only SHA-256 digests are stored.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/dharsanguruparan/LabelDrop/internal/errs"
)

// State of a usage row.
type State string

const (
	StateReserved State = "reserved"
	StateUsed     State = "used"
)

// UsageRecord is one row of the ledger.
type UsageRecord struct {
	CodeDigest    string
	OwnerID       string
	GenerationRef string
	State         State
	UsedAt        time.Time
}

// AlreadyUsedError reports a digest held by another generation.
type AlreadyUsedError struct {
	CodeDigest    string
	GenerationRef string
	State         State
	UsedAt        time.Time
}

func (e *AlreadyUsedError) Error() string {
	if e.State == StateReserved {
		return fmt.Sprintf("code already reserved by generation %s at %s", e.GenerationRef, e.UsedAt.Format(time.RFC3339))
	}
	return fmt.Sprintf("code already used by generation %s at %s", e.GenerationRef, e.UsedAt.Format(time.RFC3339))
}

// ErrorKind implements errs.Kinded.
func (e *AlreadyUsedError) ErrorKind() string { return errs.KindAlreadyUsed }

// Ledger is implemented by the memory and PostgreSQL backends. Any backend
// failure wraps errs.ErrStorageUnavailable.
type Ledger interface {
	// Reserve provisionally claims digest for generationRef. Reserving a digest
	// the same generation already holds is a no-op.
	Reserve(ctx context.Context, digest, owner, generationRef string) error
	// Commit marks every reservation of generationRef as used.
	Commit(ctx context.Context, generationRef string) error
	// Rollback releases the listed digests still provisionally held by
	// generationRef. Committed rows are left alone.
	Rollback(ctx context.Context, generationRef string, digests []string) error
	// Lookup returns the record for digest, or errs.ErrNotFound.
	Lookup(ctx context.Context, digest string) (UsageRecord, error)
}

// DefaultReservationTTL is how long a reservation may stay provisional before
// another generation may take it over.
const DefaultReservationTTL = 15 * time.Minute
