// Package pdftest writes small, valid PDFs for scanner and extractor tests:
// Helvetica text rows and gray image XObjects with an exact xref table.
package pdftest

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"image"
	"strings"
)

// Image is an image XObject. Filter "" stores raw samples, "FlateDecode"
// compresses them, any other name is written verbatim over the raw samples.
type Image struct {
	Gray   *image.Gray
	Filter string
}

// Page describes one page. Lines are drawn top to bottom; images are painted
// in order, wrapped in a form XObject when InForm is set.
type Page struct {
	Rotate int
	Lines  []string
	Images []Image
	InForm bool
}

const (
	pageW = 300
	pageH = 420
)

type writer struct {
	objs [][]byte
}

func (w *writer) reserve() int {
	w.objs = append(w.objs, nil)
	return len(w.objs)
}

func (w *writer) set(n int, body string) { w.objs[n-1] = []byte(body) }

func (w *writer) setStream(n int, dict string, data []byte) {
	var b bytes.Buffer
	fmt.Fprintf(&b, "<< %s /Length %d >>\nstream\n", dict, len(data))
	b.Write(data)
	b.WriteString("\nendstream")
	w.objs[n-1] = b.Bytes()
}

// Build renders pages into PDF bytes.
func Build(pages ...Page) []byte {
	w := &writer{}
	catalog := w.reserve()
	tree := w.reserve()
	font := w.reserve()
	w.set(catalog, fmt.Sprintf("<< /Type /Catalog /Pages %d 0 R >>", tree))
	w.set(font, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")

	kids := make([]string, 0, len(pages))
	for _, p := range pages {
		pageObj := w.reserve()
		contentObj := w.reserve()
		kids = append(kids, fmt.Sprintf("%d 0 R", pageObj))

		var content strings.Builder
		for i, line := range p.Lines {
			fmt.Fprintf(&content, "BT /F1 10 Tf 20 %d Td (%s) Tj ET\n", pageH-30-i*16, escape(line))
		}

		imgRefs := make([]string, 0, len(p.Images))
		var paint strings.Builder
		for i, img := range p.Images {
			n := w.reserve()
			writeImage(w, n, img)
			imgRefs = append(imgRefs, fmt.Sprintf("/Im%d %d 0 R", i, n))
			fmt.Fprintf(&paint, "q 100 0 0 100 %d %d cm /Im%d Do Q\n", 20+(i%2)*140, 20+(i/2)*110, i)
		}

		xobjects := strings.Join(imgRefs, " ")
		if p.InForm && len(p.Images) > 0 {
			form := w.reserve()
			w.setStream(form, fmt.Sprintf(
				"/Type /XObject /Subtype /Form /BBox [0 0 %d %d] /Resources << /XObject << %s >> >>",
				pageW, pageH, xobjects), []byte(paint.String()))
			xobjects = fmt.Sprintf("/Fm0 %d 0 R", form)
			content.WriteString("q /Fm0 Do Q\n")
		} else {
			content.WriteString(paint.String())
		}

		rotate := ""
		if p.Rotate != 0 {
			rotate = fmt.Sprintf(" /Rotate %d", p.Rotate)
		}
		w.set(pageObj, fmt.Sprintf(
			"<< /Type /Page /Parent %d 0 R /MediaBox [0 0 %d %d]%s /Resources << /Font << /F1 %d 0 R >> /XObject << %s >> >> /Contents %d 0 R >>",
			tree, pageW, pageH, rotate, font, xobjects, contentObj))
		w.setStream(contentObj, "", []byte(content.String()))
	}
	w.set(tree, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)))

	var out bytes.Buffer
	out.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(w.objs))
	for i, body := range w.objs {
		offsets[i] = out.Len()
		fmt.Fprintf(&out, "%d 0 obj\n", i+1)
		out.Write(body)
		out.WriteString("\nendobj\n")
	}
	xref := out.Len()
	fmt.Fprintf(&out, "xref\n0 %d\n0000000000 65535 f \n", len(w.objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&out, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&out, "trailer\n<< /Size %d /Root %d 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(w.objs)+1, catalog, xref)
	return out.Bytes()
}

func writeImage(w *writer, n int, img Image) {
	b := img.Gray.Bounds()
	raw := make([]byte, 0, b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		off := img.Gray.PixOffset(b.Min.X, y)
		raw = append(raw, img.Gray.Pix[off:off+b.Dx()]...)
	}
	dict := fmt.Sprintf("/Type /XObject /Subtype /Image /Width %d /Height %d /ColorSpace /DeviceGray /BitsPerComponent 8",
		b.Dx(), b.Dy())
	switch img.Filter {
	case "":
	case "FlateDecode":
		var z bytes.Buffer
		zw := zlib.NewWriter(&z)
		_, _ = zw.Write(raw)
		_ = zw.Close()
		raw = z.Bytes()
		dict += " /Filter /FlateDecode"
	default:
		dict += " /Filter /" + img.Filter
	}
	w.setStream(n, dict, raw)
}

func escape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
	return r.Replace(s)
}
