// Package errs holds the sentinels shared by the pipeline layers and maps any
// pipeline error onto a stable kind string for API bodies, job rows and metrics.
package errs

import (
	"context"
	"errors"
)

var (
	// ErrStorageUnavailable wraps failures of a backing store (ledger, cache,
	// serial counter).
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrQuotaExceeded is returned when the owner's entitlement cannot cover the batch.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrNotEntitled indicates the requested layout or size is not allowed for the owner.
	ErrNotEntitled = errors.New("layout or size not entitled")

	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")
)

// Kind values reported by Kind.
const (
	KindMalformedInput     = "malformed_input"
	KindCountMismatch      = "count_mismatch"
	KindDecodeFailure      = "decode_failure"
	KindMatrixTooSmall     = "matrix_too_small"
	KindPreflight          = "preflight_failed"
	KindAlreadyUsed        = "already_used"
	KindStorageUnavailable = "storage_unavailable"
	KindQuotaExceeded      = "quota_exceeded"
	KindNotEntitled        = "not_entitled"
	KindUnknownTemplate    = "unknown_template"
	KindCanceled           = "canceled"
	KindInternal           = "internal"
)

// Kinded is implemented by typed errors that know their own kind.
type Kinded interface {
	ErrorKind() string
}

type kindError struct {
	msg  string
	kind string
}

func (e *kindError) Error() string     { return e.msg }
func (e *kindError) ErrorKind() string { return e.kind }

// New returns a sentinel error that classifies as kind.
func New(kind, msg string) error {
	return &kindError{msg: msg, kind: kind}
}

// Kind classifies err. Typed errors anywhere in the wrap chain win over sentinels.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	var k Kinded
	if errors.As(err, &k) {
		return k.ErrorKind()
	}
	switch {
	case errors.Is(err, ErrStorageUnavailable):
		return KindStorageUnavailable
	case errors.Is(err, ErrQuotaExceeded):
		return KindQuotaExceeded
	case errors.Is(err, ErrNotEntitled):
		return KindNotEntitled
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	}
	return KindInternal
}
