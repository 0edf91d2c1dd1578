package matrix

import (
	"fmt"
	"image"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/datamatrix"
	"golang.org/x/image/draw"

	"github.com/dharsanguruparan/LabelDrop/internal/errs"
)

// minDecodeSide is the raster side below which the crop variant upscales.
const minDecodeSide = 160

// DecodeFailure is returned when no variant yields a symbol.
type DecodeFailure struct {
	Attempts int
	Last     error
}

func (e *DecodeFailure) Error() string {
	if e.Last == nil {
		return fmt.Sprintf("matrix: no symbol found after %d attempts", e.Attempts)
	}
	return fmt.Sprintf("matrix: no symbol found after %d attempts: %v", e.Attempts, e.Last)
}

func (e *DecodeFailure) Unwrap() error { return e.Last }

// ErrorKind implements errs.Kinded.
func (e *DecodeFailure) ErrorKind() string { return errs.KindDecodeFailure }

type variant struct {
	name  string
	apply func(*image.Gray) *image.Gray
}

// variants is the full retry budget of Decode, tried in order.
var variants = []variant{
	{"identity", func(g *image.Gray) *image.Gray { return g }},
	{"crop", smartCrop},
	{"rot90", rotate90},
	{"rot180", func(g *image.Gray) *image.Gray { return Rotate(g, 180) }},
	{"rot270", func(g *image.Gray) *image.Gray { return Rotate(g, 270) }},
}

var (
	pureHints = map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_PURE_BARCODE: true,
	}
	detectHints = map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}
)

// Decode reads the first DataMatrix symbol in img. Each variant is tried in
// pure-symbol mode and then with the detector; the first hit wins.
func Decode(img image.Image) (string, error) {
	if img == nil || img.Bounds().Empty() {
		return "", &DecodeFailure{}
	}
	base := toGray(img)
	fail := &DecodeFailure{}
	for _, v := range variants {
		candidate := v.apply(base)
		for _, hints := range []map[gozxing.DecodeHintType]interface{}{pureHints, detectHints} {
			fail.Attempts++
			text, err := decodeOnce(candidate, hints)
			if err == nil {
				return text, nil
			}
			fail.Last = fmt.Errorf("%s: %w", v.name, err)
		}
	}
	return "", fail
}

func decodeOnce(img *image.Gray, hints map[gozxing.DecodeHintType]interface{}) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reader panic: %v", r)
		}
	}()
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", err
	}
	res, err := datamatrix.NewDataMatrixReader().Decode(bmp, hints)
	if err != nil {
		return "", err
	}
	return res.GetText(), nil
}

func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Bounds().Min == (image.Point{}) {
		return g
	}
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	// Transparent pixels must read as paper, not ink.
	draw.Draw(g, g.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(g, g.Bounds(), img, b.Min, draw.Over)
	return g
}

// Rotate turns g clockwise by degrees, which is rounded down to a multiple of
// 90. PDF /Rotate values are clockwise too.
func Rotate(g *image.Gray, degrees int) *image.Gray {
	turns := ((degrees/90)%4 + 4) % 4
	for i := 0; i < turns; i++ {
		g = rotate90(g)
	}
	return g
}

// rotate90 turns the raster a quarter turn clockwise.
func rotate90(src *image.Gray) *image.Gray {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewGray(image.Rect(0, 0, h, w))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.Pix[x*dst.Stride+(h-1-y)] = src.Pix[y*src.Stride+x]
		}
	}
	return dst
}

// smartCrop trims everything outside the ink bounding box, re-adds a quiet
// margin and upscales small rasters with nearest-neighbour sampling so module
// edges stay sharp.
func smartCrop(src *image.Gray) *image.Gray {
	box, ok := inkBounds(src)
	if !ok {
		return src
	}
	margin := max(box.Dx(), box.Dy())/10 + 2
	side := max(box.Dx(), box.Dy()) + 2*margin
	scale := 1
	if side < minDecodeSide {
		scale = (minDecodeSide + side - 1) / side
	}
	dst := image.NewGray(image.Rect(0, 0, side*scale, side*scale))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	off := image.Pt((side-box.Dx())/2*scale, (side-box.Dy())/2*scale)
	target := image.Rectangle{Min: off, Max: off.Add(image.Pt(box.Dx()*scale, box.Dy()*scale))}
	draw.NearestNeighbor.Scale(dst, target, src, box, draw.Src, nil)
	return dst
}

func inkBounds(g *image.Gray) (image.Rectangle, bool) {
	b := g.Bounds()
	minX, minY, maxX, maxY := b.Max.X, b.Max.Y, b.Min.X-1, b.Min.Y-1
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if g.GrayAt(x, y).Y >= 0x80 {
				continue
			}
			minX, minY = min(minX, x), min(minY, y)
			maxX, maxY = max(maxX, x), max(maxY, y)
		}
	}
	if maxX < minX {
		return image.Rectangle{}, false
	}
	return image.Rect(minX, minY, maxX+1, maxY+1), true
}
