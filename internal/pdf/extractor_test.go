package pdfutil

import (
	"errors"
	"image"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/LabelDrop/internal/pdf/pdftest"
)

func checker(w, h int) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x/4+y/4)%2 == 0 {
				g.Pix[y*g.Stride+x] = 0xff
			}
		}
	}
	return g
}

func TestOpen_Corrupt(t *testing.T) {
	_, err := Open([]byte("not a pdf"))
	assert.ErrorIs(t, err, ErrCorrupt)

	_, err = Open(nil)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestLines(t *testing.T) {
	data := pdftest.Build(
		pdftest.Page{Lines: []string{"4601234567890", "Article: TS-01", "Size: M (RU 46)"}},
		pdftest.Page{Lines: []string{"second page"}},
	)
	doc, err := Open(data)
	require.NoError(t, err)
	require.Equal(t, 2, doc.NumPages())

	lines, err := doc.Lines(1)
	require.NoError(t, err)
	assert.Equal(t, []string{"4601234567890", "Article: TS-01", "Size: M (RU 46)"}, lines)

	text, err := ExtractText(data)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(text, "second page\n"))
}

func TestImages_ContentOrderAndSamples(t *testing.T) {
	a, b := checker(24, 24), checker(16, 32)
	data := pdftest.Build(pdftest.Page{Images: []pdftest.Image{
		{Gray: a},
		{Gray: b, Filter: "FlateDecode"},
	}})
	doc, err := Open(data)
	require.NoError(t, err)

	imgs, err := doc.Images(1)
	require.NoError(t, err)
	require.Len(t, imgs, 2)
	require.NoError(t, imgs[0].Err)
	require.NoError(t, imgs[1].Err)
	assert.Equal(t, a.Pix, imgs[0].Gray.Pix)
	assert.Equal(t, b.Bounds(), imgs[1].Gray.Bounds())
	assert.Equal(t, b.Pix, imgs[1].Gray.Pix)
}

func TestImages_InsideForm(t *testing.T) {
	data := pdftest.Build(pdftest.Page{InForm: true, Images: []pdftest.Image{{Gray: checker(8, 8)}}})
	doc, err := Open(data)
	require.NoError(t, err)
	imgs, err := doc.Images(1)
	require.NoError(t, err)
	require.Len(t, imgs, 1)
	assert.NoError(t, imgs[0].Err)
}

func TestImages_UnsupportedFilter(t *testing.T) {
	data := pdftest.Build(pdftest.Page{Images: []pdftest.Image{
		{Gray: checker(8, 8), Filter: "DCTDecode"},
		{Gray: checker(8, 8)},
	}})
	doc, err := Open(data)
	require.NoError(t, err)
	imgs, err := doc.Images(1)
	require.NoError(t, err)
	require.Len(t, imgs, 2)
	assert.True(t, errors.Is(imgs[0].Err, ErrUnsupportedImage))
	assert.Nil(t, imgs[0].Gray)
	assert.NoError(t, imgs[1].Err)
}

func TestRotation(t *testing.T) {
	data := pdftest.Build(pdftest.Page{Rotate: 90}, pdftest.Page{}, pdftest.Page{Rotate: -90})
	doc, err := Open(data)
	require.NoError(t, err)
	assert.Equal(t, 90, doc.Rotation(1))
	assert.Equal(t, 0, doc.Rotation(2))
	assert.Equal(t, 270, doc.Rotation(3))
}
