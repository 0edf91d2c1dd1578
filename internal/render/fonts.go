package render

import (
	"fmt"
	"sync"

	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/dharsanguruparan/LabelDrop/internal/layout"
)

// Fonts holds the parsed Go font family. The Go fonts cover Latin and
// Cyrillic, which is all a label carries.
type Fonts struct {
	regular *truetype.Font
	bold    *truetype.Font

	// measure faces are shared, truetype faces are not safe for concurrent use
	mu       sync.Mutex
	measures map[float64]font.Face
}

// LoadFonts parses the embedded Go Regular and Go Bold faces.
func LoadFonts() (*Fonts, error) {
	regular, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse regular font: %w", err)
	}
	bold, err := truetype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse bold font: %w", err)
	}
	return &Fonts{regular: regular, bold: bold, measures: make(map[float64]font.Face)}, nil
}

// Face returns a new face at sizePt for a raster of dpi.
func (f *Fonts) Face(sizePt float64, dpi int, bold bool) font.Face {
	ttf := f.regular
	if bold {
		ttf = f.bold
	}
	return truetype.NewFace(ttf, &truetype.Options{
		Size:    sizePt,
		DPI:     float64(dpi),
		Hinting: font.HintingNone,
	})
}

// measureDPI is high enough that advance rounding is well below a printer dot.
const measureDPI = 720

// TextWidthMM implements layout.Measurer with Go Regular metrics.
func (f *Fonts) TextWidthMM(text string, sizePt float64) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	face, ok := f.measures[sizePt]
	if !ok {
		face = f.Face(sizePt, measureDPI, false)
		f.measures[sizePt] = face
	}
	adv := font.MeasureString(face, text)
	return layout.PointsToMM(float64(adv) / 64 * 72 / measureDPI)
}

var _ layout.Measurer = (*Fonts)(nil)
