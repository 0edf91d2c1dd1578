// Package matrix encodes trust codes into DataMatrix rasters and reads them
// back from scanned or embedded images.
package matrix

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/datamatrix"

	"github.com/dharsanguruparan/LabelDrop/internal/layout"
)

// QuietZoneModules is the blank margin drawn around the symbol, per side.
const QuietZoneModules = 1

// ErrPayloadTooLarge means the payload does not fit the largest symbol or the
// symbol cannot be drawn at one device pixel per module in the requested size.
var ErrPayloadTooLarge = errors.New("matrix: payload too large for symbol")

// Geometry describes how a payload lands on the device grid.
type Geometry struct {
	// Modules is the symbol side in modules, without the quiet zone.
	Modules  int
	ModulePx int
	// SidePx and SideMM are the printed footprint including the quiet zone.
	SidePx int
	SideMM float64
	// CanvasPx is the side of the square raster Encode returns.
	CanvasPx int
}

// Codec renders symbols for one printer resolution.
type Codec struct {
	DPI int
}

// New returns a codec for dpi, falling back to the reference resolution.
func New(dpi int) *Codec {
	if dpi <= 0 {
		dpi = layout.DefaultDPI
	}
	return &Codec{DPI: dpi}
}

func (c *Codec) symbol(payload string) (barcode.Barcode, error) {
	if payload == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrPayloadTooLarge)
	}
	sym, err := datamatrix.Encode(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPayloadTooLarge, err)
	}
	return sym, nil
}

func (c *Codec) geometry(sym barcode.Barcode, sizeMM float64) (Geometry, error) {
	b := sym.Bounds()
	n := max(b.Dx(), b.Dy())
	canvas := layout.MMToDevice(sizeMM, c.DPI)
	span := n + 2*QuietZoneModules
	modulePx := canvas / span
	if modulePx < 1 {
		return Geometry{}, fmt.Errorf("%w: %d modules in %d px", ErrPayloadTooLarge, span, canvas)
	}
	side := span * modulePx
	return Geometry{
		Modules:  n,
		ModulePx: modulePx,
		SidePx:   side,
		SideMM:   layout.DeviceToMM(side, c.DPI),
		CanvasPx: canvas,
	}, nil
}

// Measure computes the geometry Encode would produce without drawing.
func (c *Codec) Measure(payload string, sizeMM float64) (Geometry, error) {
	sym, err := c.symbol(payload)
	if err != nil {
		return Geometry{}, err
	}
	return c.geometry(sym, sizeMM)
}

// Encode draws payload as a DataMatrix centered on a white square canvas of
// sizeMM. Module size is a whole number of device pixels, so the output is
// identical for identical inputs.
func (c *Codec) Encode(payload string, sizeMM float64) (*image.Gray, Geometry, error) {
	sym, err := c.symbol(payload)
	if err != nil {
		return nil, Geometry{}, err
	}
	g, err := c.geometry(sym, sizeMM)
	if err != nil {
		return nil, Geometry{}, err
	}

	img := image.NewGray(image.Rect(0, 0, g.CanvasPx, g.CanvasPx))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	origin := (g.CanvasPx-g.SidePx)/2 + QuietZoneModules*g.ModulePx
	b := sym.Bounds()
	for my := 0; my < b.Dy(); my++ {
		for mx := 0; mx < b.Dx(); mx++ {
			if !dark(sym.At(b.Min.X+mx, b.Min.Y+my)) {
				continue
			}
			x0 := origin + mx*g.ModulePx
			y0 := origin + my*g.ModulePx
			for y := y0; y < y0+g.ModulePx; y++ {
				row := img.Pix[y*img.Stride:]
				for x := x0; x < x0+g.ModulePx; x++ {
					row[x] = 0
				}
			}
		}
	}
	return img, g, nil
}

func dark(c color.Color) bool {
	return color.GrayModel.Convert(c).(color.Gray).Y < 0x80
}
