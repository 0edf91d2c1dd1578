package pdfutil

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"
	"sort"
	"strings"

	pdf "github.com/ledongthuc/pdf"
)

// ErrCorrupt is returned when the bytes are not a readable PDF.
var ErrCorrupt = errors.New("pdf: corrupt document")

// ErrUnsupportedImage marks an image XObject whose encoding cannot be read.
var ErrUnsupportedImage = errors.New("pdf: unsupported image encoding")

// maxFormDepth bounds recursion through nested form XObjects.
const maxFormDepth = 4

// Document is an opened PDF.
type Document struct {
	r *pdf.Reader
}

// Image is one image XObject drawn on a page, in content order. Gray is nil
// when Err is set.
type Image struct {
	Name string
	Gray *image.Gray
	Err  error
}

// Open parses PDF bytes with ledongthuc/pdf.
func Open(data []byte) (doc *Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			doc, err = nil, fmt.Errorf("%w: %v", ErrCorrupt, r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return &Document{r: r}, nil
}

// NumPages returns the page count.
func (d *Document) NumPages() int { return d.r.NumPage() }

func (d *Document) page(n int) (pdf.Page, bool) {
	p := d.r.Page(n)
	return p, !p.V.IsNull()
}

// Rotation returns the clockwise /Rotate of page n, inherited from the page
// tree when the page itself does not set it.
func (d *Document) Rotation(n int) int {
	p, ok := d.page(n)
	if !ok {
		return 0
	}
	for v, depth := p.V, 0; !v.IsNull() && depth < 32; v, depth = v.Key("Parent"), depth+1 {
		if r := v.Key("Rotate"); r.Kind() == pdf.Integer {
			return int(((r.Int64() % 360) + 360) % 360)
		}
	}
	return 0
}

// Lines returns the text of page n row by row, top to bottom. Fragments on a
// row are joined with a single space.
func (d *Document) Lines(n int) (lines []string, err error) {
	p, ok := d.page(n)
	if !ok {
		return nil, nil
	}
	defer func() {
		if r := recover(); r != nil {
			lines, err = nil, fmt.Errorf("%w: page %d text: %v", ErrCorrupt, n, r)
		}
	}()
	rows, err := p.GetTextByRow()
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", n, err)
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Position > rows[j].Position })
	for _, row := range rows {
		texts := append([]pdf.Text(nil), row.Content...)
		sort.SliceStable(texts, func(i, j int) bool { return texts[i].X < texts[j].X })
		parts := make([]string, 0, len(texts))
		for _, t := range texts {
			if s := strings.TrimSpace(t.S); s != "" {
				parts = append(parts, s)
			}
		}
		if len(parts) > 0 {
			lines = append(lines, strings.Join(parts, " "))
		}
	}
	return lines, nil
}

// Images returns the image XObjects painted by page n, following form
// XObjects. A content stream that cannot be interpreted is a corrupt page; a
// single unreadable image is reported through Image.Err.
func (d *Document) Images(n int) (images []Image, err error) {
	p, ok := d.page(n)
	if !ok {
		return nil, nil
	}
	defer func() {
		if r := recover(); r != nil {
			images, err = nil, fmt.Errorf("%w: page %d content: %v", ErrCorrupt, n, r)
		}
	}()
	w := &walker{}
	contents := p.V.Key("Contents")
	res := p.Resources()
	if contents.Kind() == pdf.Array {
		for i := 0; i < contents.Len(); i++ {
			w.walk(contents.Index(i), res, 0)
		}
	} else {
		w.walk(contents, res, 0)
	}
	return w.images, nil
}

type walker struct {
	images []Image
}

func (w *walker) walk(strm, res pdf.Value, depth int) {
	if strm.Kind() != pdf.Stream {
		return
	}
	pdf.Interpret(strm, func(stk *pdf.Stack, op string) {
		if op != "Do" {
			for stk.Len() > 0 {
				stk.Pop()
			}
			return
		}
		if stk.Len() < 1 {
			return
		}
		name := stk.Pop().Name()
		xobj := res.Key("XObject").Key(name)
		switch xobj.Key("Subtype").Name() {
		case "Image":
			g, err := readImage(xobj)
			w.images = append(w.images, Image{Name: name, Gray: g, Err: err})
		case "Form":
			if depth+1 >= maxFormDepth {
				return
			}
			inner := xobj.Key("Resources")
			if inner.IsNull() {
				inner = res
			}
			w.walk(xobj, inner, depth+1)
		}
	})
}

// ExtractText returns the plain text of every page, one line per row.
func ExtractText(data []byte) (string, error) {
	doc, err := Open(data)
	if err != nil {
		return "", err
	}
	var builder strings.Builder
	for page := 1; page <= doc.NumPages(); page++ {
		lines, err := doc.Lines(page)
		if err != nil {
			return "", err
		}
		for _, l := range lines {
			builder.WriteString(l)
			builder.WriteString("\n")
		}
	}
	return builder.String(), nil
}

// readStream drains a stream after checking that ledongthuc can decode its
// filters; the library panics on the ones it does not implement.
func readStream(v pdf.Value) (data []byte, err error) {
	if err := checkFilters(v); err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			data, err = nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, r)
		}
	}()
	rc := v.Reader()
	defer rc.Close()
	return io.ReadAll(rc)
}

func checkFilters(v pdf.Value) error {
	filter := v.Key("Filter")
	params := v.Key("DecodeParms")
	switch filter.Kind() {
	case pdf.Null:
		return nil
	case pdf.Name:
		return checkFilter(filter.Name(), params)
	case pdf.Array:
		for i := 0; i < filter.Len(); i++ {
			var p pdf.Value
			if params.Kind() == pdf.Array {
				p = params.Index(i)
			}
			if err := checkFilter(filter.Index(i).Name(), p); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: filter of kind %v", ErrUnsupportedImage, filter.Kind())
	}
}

func checkFilter(name string, params pdf.Value) error {
	switch name {
	case "ASCII85Decode":
		return nil
	case "FlateDecode":
		pred := params.Key("Predictor")
		if pred.IsNull() {
			return nil
		}
		switch pred.Int64() {
		case 1, 12:
			return nil
		}
		return fmt.Errorf("%w: flate predictor %d", ErrUnsupportedImage, pred.Int64())
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedImage, name)
	}
}
