// Package pairing matches items to trust codes one to one by position and
// assigns serial numbers.
package pairing

import (
	"context"
	"fmt"

	"github.com/dharsanguruparan/LabelDrop/internal/errs"
	"github.com/dharsanguruparan/LabelDrop/internal/model"
)

// CountMismatchError is returned when the item and code counts differ.
type CountMismatchError struct {
	Expected int
	Actual   int
}

func (e *CountMismatchError) Error() string {
	return fmt.Sprintf("count mismatch: %d items, %d codes", e.Expected, e.Actual)
}

// ErrorKind implements errs.Kinded.
func (e *CountMismatchError) ErrorKind() string { return errs.KindCountMismatch }

// Pairer pairs records and numbers them.
type Pairer struct {
	counter Counter
}

// New returns a Pairer. counter may be nil when global numbering is unused.
func New(counter Counter) *Pairer {
	return &Pairer{counter: counter}
}

// Pair zips items and codes in order. Nothing is returned on a count mismatch.
// Global numbering draws one block of len(items) serials from the owner's
// counter.
func (p *Pairer) Pair(ctx context.Context, owner string, numbering model.Numbering, items []model.ItemRecord, codes []string) ([]model.PairedLabel, error) {
	if len(items) != len(codes) {
		return nil, &CountMismatchError{Expected: len(items), Actual: len(codes)}
	}
	labels := make([]model.PairedLabel, len(items))
	for i := range items {
		labels[i] = model.PairedLabel{Index: i, Item: items[i], Code: codes[i]}
	}
	if err := p.Number(ctx, owner, numbering, labels); err != nil {
		return nil, err
	}
	return labels, nil
}

// Number assigns serials to labels in place.
func (p *Pairer) Number(ctx context.Context, owner string, numbering model.Numbering, labels []model.PairedLabel) error {
	switch numbering {
	case "", model.NumberingNone:
		for i := range labels {
			labels[i].SerialNumber = nil
		}
		return nil
	case model.NumberingLocal:
		for i := range labels {
			n := int64(i + 1)
			labels[i].SerialNumber = &n
		}
		return nil
	case model.NumberingGlobal:
		if len(labels) == 0 {
			return nil
		}
		if p.counter == nil {
			return fmt.Errorf("global numbering: no counter configured")
		}
		first, err := Reserve(ctx, p.counter, owner, len(labels))
		if err != nil {
			return err
		}
		for i := range labels {
			n := first + int64(i)
			labels[i].SerialNumber = &n
		}
		return nil
	}
	return fmt.Errorf("unknown numbering mode %q", numbering)
}
