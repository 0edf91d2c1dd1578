// Package preflight checks a batch against its template before any output is
// produced: matrix footprint, payload capacity, zone geometry and barcode fit.
package preflight

import (
	"fmt"
	"strings"

	"github.com/dharsanguruparan/LabelDrop/internal/errs"
	"github.com/dharsanguruparan/LabelDrop/internal/layout"
	"github.com/dharsanguruparan/LabelDrop/internal/linear"
	"github.com/dharsanguruparan/LabelDrop/internal/matrix"
)

// MinimumMatrixMM is the smallest printed matrix footprint the trust
// infrastructure accepts.
const MinimumMatrixMM = 22.0

// FailureKind classifies a preflight failure.
type FailureKind string

const (
	MatrixTooSmall      FailureKind = "matrix_too_small"
	PayloadTooLarge     FailureKind = "payload_too_large"
	ZoneCollision       FailureKind = "zone_collision"
	OutOfBounds         FailureKind = "out_of_bounds"
	BarcodeUnrenderable FailureKind = "barcode_unrenderable"
)

const templateLevel = -1

// Failure is one preflight finding. Index is the label position, or -1 for
// findings about the template itself.
type Failure struct {
	Kind      FailureKind `json:"kind"`
	Index     int         `json:"index"`
	Zone      string      `json:"zone,omitempty"`
	ActualMM  float64     `json:"actualMm,omitempty"`
	MinimumMM float64     `json:"minimumMm,omitempty"`
	Detail    string      `json:"detail,omitempty"`
}

// TemplateLevel reports whether the failure concerns the template and so
// blocks every label.
func (f Failure) TemplateLevel() bool { return f.Index == templateLevel }

func (f Failure) String() string {
	if f.TemplateLevel() {
		return fmt.Sprintf("%s (%s)", f.Kind, f.Detail)
	}
	if f.Kind == MatrixTooSmall {
		return fmt.Sprintf("label %d: %s %.2fmm < %.2fmm", f.Index+1, f.Kind, f.ActualMM, f.MinimumMM)
	}
	return fmt.Sprintf("label %d: %s (%s)", f.Index+1, f.Kind, f.Detail)
}

// Result is the outcome of a batch check.
type Result struct {
	Passed   bool      `json:"passed"`
	Failures []Failure `json:"failures,omitempty"`
}

// Blocking returns the template-level failures.
func (r Result) Blocking() []Failure {
	var out []Failure
	for _, f := range r.Failures {
		if f.TemplateLevel() {
			out = append(out, f)
		}
	}
	return out
}

// ByIndex groups label failures by position.
func (r Result) ByIndex() map[int][]Failure {
	out := make(map[int][]Failure)
	for _, f := range r.Failures {
		if !f.TemplateLevel() {
			out[f.Index] = append(out[f.Index], f)
		}
	}
	return out
}

// Error wraps a failed Result for callers that abort on it.
type Error struct {
	Result Result
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Result.Failures))
	for i, f := range e.Result.Failures {
		if i == 5 {
			parts = append(parts, fmt.Sprintf("and %d more", len(e.Result.Failures)-5))
			break
		}
		parts = append(parts, f.String())
	}
	return "preflight failed: " + strings.Join(parts, "; ")
}

// ErrorKind implements errs.Kinded. A batch that failed only on matrix size
// reports the narrower kind.
func (e *Error) ErrorKind() string {
	for _, f := range e.Result.Failures {
		if f.Kind != MatrixTooSmall {
			return errs.KindPreflight
		}
	}
	return errs.KindMatrixTooSmall
}

// Validator runs the checks at one printer resolution.
type Validator struct {
	codec     *matrix.Codec
	minimumMM float64
}

// New returns a Validator. minimumMM <= 0 selects MinimumMatrixMM.
func New(codec *matrix.Codec, minimumMM float64) *Validator {
	if minimumMM <= 0 {
		minimumMM = MinimumMatrixMM
	}
	return &Validator{codec: codec, minimumMM: minimumMM}
}

// MinimumMM returns the configured minimum matrix footprint.
func (v *Validator) MinimumMM() float64 { return v.minimumMM }

// CheckTemplate validates zone geometry.
func (v *Validator) CheckTemplate(tpl layout.Template) []Failure {
	var out []Failure
	for _, z := range tpl.Zones {
		if z.X < 0 || z.Y < 0 || z.Right() > tpl.WidthMM || z.Bottom() > tpl.HeightMM {
			out = append(out, Failure{
				Kind:   OutOfBounds,
				Index:  templateLevel,
				Zone:   z.Name,
				Detail: fmt.Sprintf("zone %s exceeds %gx%gmm label", z.Name, tpl.WidthMM, tpl.HeightMM),
			})
		}
	}
	dm, ok := tpl.Zone(layout.ZoneMatrix)
	if !ok {
		return append(out, Failure{Kind: OutOfBounds, Index: templateLevel, Detail: "template has no matrix zone"})
	}
	for _, z := range tpl.Zones {
		if z.Name != dm.Name && dm.Overlaps(z) {
			out = append(out, Failure{
				Kind:   ZoneCollision,
				Index:  templateLevel,
				Zone:   z.Name,
				Detail: fmt.Sprintf("matrix zone overlaps %s", z.Name),
			})
		}
	}
	return out
}

// CheckLabel validates one label's matrix payload and barcode.
func (v *Validator) CheckLabel(tpl layout.Template, index int, payload, barcode string) []Failure {
	var out []Failure
	dm, ok := tpl.Zone(layout.ZoneMatrix)
	if !ok {
		return nil
	}
	size := min(dm.Width, dm.Height)
	g, err := v.codec.Measure(payload, size)
	switch {
	case err != nil:
		out = append(out, Failure{Kind: PayloadTooLarge, Index: index, Zone: dm.Name, Detail: err.Error()})
	case g.SideMM < v.minimumMM:
		out = append(out, Failure{
			Kind:      MatrixTooSmall,
			Index:     index,
			Zone:      dm.Name,
			ActualMM:  g.SideMM,
			MinimumMM: v.minimumMM,
		})
	}

	if bz, ok := tpl.Zone(layout.ZoneBarcode); ok && barcode != "" {
		bc, _, err := linear.Encode(barcode)
		if err != nil {
			out = append(out, Failure{Kind: BarcodeUnrenderable, Index: index, Zone: bz.Name, Detail: err.Error()})
		} else if avail := layout.MMToDevice(bz.Width, v.codec.DPI); linear.Modules(bc) > avail {
			out = append(out, Failure{
				Kind:   BarcodeUnrenderable,
				Index:  index,
				Zone:   bz.Name,
				Detail: fmt.Sprintf("%d modules do not fit %d px", linear.Modules(bc), avail),
			})
		}
	}
	return out
}

// Label is the per-label input of Run.
type Label struct {
	Payload string
	Barcode string
}

// Run checks the template and every label.
func (v *Validator) Run(tpl layout.Template, labels []Label) Result {
	res := Result{Failures: v.CheckTemplate(tpl)}
	for i, l := range labels {
		res.Failures = append(res.Failures, v.CheckLabel(tpl, i, l.Payload, l.Barcode)...)
	}
	res.Passed = len(res.Failures) == 0
	return res
}
