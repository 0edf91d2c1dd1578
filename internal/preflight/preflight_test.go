package preflight

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/LabelDrop/internal/errs"
	"github.com/dharsanguruparan/LabelDrop/internal/layout"
	"github.com/dharsanguruparan/LabelDrop/internal/matrix"
)

const code = "0104607104123456215550001234abc"

func basic(t *testing.T) layout.Template {
	t.Helper()
	reg, err := layout.Default()
	require.NoError(t, err)
	tpl, err := reg.Resolve("basic", "58x40")
	require.NoError(t, err)
	return tpl
}

func withMatrix(tpl layout.Template, z layout.Zone) layout.Template {
	for i := range tpl.Zones {
		if tpl.Zones[i].Name == layout.ZoneMatrix {
			z.Name = layout.ZoneMatrix
			tpl.Zones[i] = z
		}
	}
	return tpl
}

func TestRun_DefaultTemplatePasses(t *testing.T) {
	v := New(matrix.New(203), 0)
	res := v.Run(basic(t), []Label{{Payload: code, Barcode: "4601234567893"}})
	assert.True(t, res.Passed, "%v", res.Failures)
	assert.Empty(t, res.Failures)
}

func TestRun_MatrixTooSmall(t *testing.T) {
	tpl := withMatrix(basic(t), layout.Zone{X: 1.5, Y: 7.5, Width: 18, Height: 18})
	v := New(matrix.New(203), 0)
	res := v.Run(tpl, []Label{{Payload: code}, {Payload: code}})
	require.False(t, res.Passed)
	require.Len(t, res.Failures, 2)
	f := res.Failures[1]
	assert.Equal(t, MatrixTooSmall, f.Kind)
	assert.Equal(t, 1, f.Index)
	assert.Less(t, f.ActualMM, 22.0)
	assert.Equal(t, 22.0, f.MinimumMM)
	assert.Empty(t, res.Blocking())
	assert.Len(t, res.ByIndex()[0], 1)

	err := &Error{Result: res}
	assert.Equal(t, errs.KindMatrixTooSmall, errs.Kind(err))
	assert.Contains(t, err.Error(), "label 2: matrix_too_small")
}

func TestRun_ConfigurableMinimum(t *testing.T) {
	v := New(matrix.New(203), 30)
	res := v.Run(basic(t), []Label{{Payload: code}})
	require.False(t, res.Passed)
	assert.Equal(t, 30.0, res.Failures[0].MinimumMM)
	assert.Equal(t, 30.0, v.MinimumMM())
}

func TestRun_PayloadTooLarge(t *testing.T) {
	v := New(matrix.New(203), 0)
	res := v.Run(basic(t), []Label{{Payload: strings.Repeat("9Z", 1500)}})
	require.Len(t, res.Failures, 1)
	assert.Equal(t, PayloadTooLarge, res.Failures[0].Kind)
	assert.Equal(t, errs.KindPreflight, errs.Kind(&Error{Result: res}))
}

func TestCheckTemplate_CollisionAndBounds(t *testing.T) {
	tpl := withMatrix(basic(t), layout.Zone{X: 20, Y: 7.5, Width: 25, Height: 25})
	tpl.Zones = append(tpl.Zones, layout.Zone{Name: "logo", X: 50, Y: 35, Width: 10, Height: 10})

	v := New(matrix.New(203), 0)
	res := v.Run(tpl, []Label{{Payload: code}})
	require.False(t, res.Passed)

	kinds := map[FailureKind][]string{}
	for _, f := range res.Blocking() {
		kinds[f.Kind] = append(kinds[f.Kind], f.Zone)
	}
	assert.Contains(t, kinds[ZoneCollision], layout.ZoneText)
	assert.Contains(t, kinds[ZoneCollision], layout.ZoneBarcode)
	assert.Equal(t, []string{"logo"}, kinds[OutOfBounds])
	for _, f := range res.Blocking() {
		assert.True(t, f.TemplateLevel())
	}
}

func TestCheckLabel_BarcodeUnrenderable(t *testing.T) {
	v := New(matrix.New(203), 0)
	tpl := basic(t)
	fails := v.CheckLabel(tpl, 0, code, strings.Repeat("LONG-ARTICLE-", 12))
	require.Len(t, fails, 1)
	assert.Equal(t, BarcodeUnrenderable, fails[0].Kind)

	fails = v.CheckLabel(tpl, 0, code, "bad\x80")
	require.Len(t, fails, 1)
	assert.Equal(t, BarcodeUnrenderable, fails[0].Kind)
}

func TestErrorTruncatesMessage(t *testing.T) {
	res := Result{}
	for i := 0; i < 8; i++ {
		res.Failures = append(res.Failures, Failure{Kind: PayloadTooLarge, Index: i, Detail: "x"})
	}
	var pe *Error
	err := error(&Error{Result: res})
	require.True(t, errors.As(err, &pe))
	assert.Contains(t, err.Error(), "and 3 more")
}
