package scanner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/dharsanguruparan/LabelDrop/internal/matrix"
	"github.com/dharsanguruparan/LabelDrop/internal/model"
	pdfutil "github.com/dharsanguruparan/LabelDrop/internal/pdf"
	"github.com/dharsanguruparan/LabelDrop/internal/trustcode"
)

// codeHeaders name the code column of a tabular codes document.
var codeHeaders = map[string]bool{
	"code": true, "codes": true, "cis": true, "км": true, "код": true, "код маркировки": true,
	"datamatrix": true, "data matrix": true, "marking code": true, "киз": true,
}

// gsEscapes are the textual forms exporters use for the group separator.
var gsEscapes = strings.NewReplacer(`<GS>`, "\x1d", `<gs>`, "\x1d", `\x1d`, "\x1d", `\u001d`, "\x1d", `\u001D`, "\x1d", `{GS}`, "\x1d")

// RestoreGS replaces textual group separator escapes with the GS byte.
func RestoreGS(s string) string {
	return gsEscapes.Replace(s)
}

// ScanCodes extracts code records in document order. Records whose image could
// not be decoded carry Err; ErrNoDecodableCodes is returned only when every
// record failed.
func (s *Scanner) ScanCodes(ctx context.Context, doc Document) ([]model.CodeRecord, error) {
	var (
		records []model.CodeRecord
		err     error
	)
	switch doc.Kind {
	case model.KindPDF:
		records, err = s.pdfCodes(ctx, doc.Data)
	case model.KindTXT, model.KindCSV, model.KindXLSX:
		records, err = tabularCodes(doc.Kind, doc.Data)
	default:
		return nil, fmt.Errorf("%w: codes from %q", ErrUnsupportedKind, doc.Kind)
	}
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrEmptyDocument
	}
	failed := 0
	for _, r := range records {
		if r.Err != nil {
			failed++
		}
	}
	if failed == len(records) {
		return nil, fmt.Errorf("%w: %d records: %v", ErrNoDecodableCodes, failed, records[0].Err)
	}
	if failed > 0 {
		s.log.Warn("undecodable code images", "document", doc.Name, "failed", failed, "total", len(records))
	}
	return records, nil
}

type pageImage struct {
	page   int
	rotate int
	img    pdfutil.Image
}

func (s *Scanner) pdfCodes(ctx context.Context, data []byte) ([]model.CodeRecord, error) {
	doc, err := pdfutil.Open(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptDocument, err)
	}

	var (
		slots   []pageImage
		records []model.CodeRecord
		// textual holds codes printed as text on image-less pages, keyed by
		// the slot index they occupy.
		textual = make(map[int]string)
	)
	for page := 1; page <= doc.NumPages(); page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		imgs, err := doc.Images(page)
		if err != nil {
			return nil, corrupt(err)
		}
		if len(imgs) == 0 {
			lines, err := doc.Lines(page)
			if err != nil {
				return nil, corrupt(err)
			}
			for _, l := range lines {
				if code := RestoreGS(strings.TrimSpace(l)); trustcode.Valid(code) {
					textual[len(slots)] = code
					slots = append(slots, pageImage{page: page})
				}
			}
			continue
		}
		rotate := doc.Rotation(page)
		for _, img := range imgs {
			slots = append(slots, pageImage{page: page, rotate: rotate, img: img})
		}
	}

	records = make([]model.CodeRecord, len(slots))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.Workers)
	for i, slot := range slots {
		records[i] = model.CodeRecord{Index: i, Source: model.Source{Page: slot.page}}
		if code, ok := textual[i]; ok {
			records[i].Payload = code
			continue
		}
		if slot.img.Err != nil {
			records[i].Err = &matrix.DecodeFailure{Last: slot.img.Err}
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			payload, err := matrix.Decode(matrix.Rotate(slot.img.Gray, slot.rotate))
			if err != nil {
				records[i].Err = err
				return nil
			}
			records[i].Payload = payload
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return records, nil
}

func corrupt(err error) error {
	if errors.Is(err, pdfutil.ErrCorrupt) {
		return fmt.Errorf("%w: %v", ErrCorruptDocument, err)
	}
	return err
}

// tabularCodes reads one code per row. A CSV is split into columns only under
// a recognised code header; otherwise every line is one whole code, since
// serials may contain the delimiter characters.
func tabularCodes(kind model.DocumentKind, data []byte) ([]model.CodeRecord, error) {
	var (
		rows [][]string
		err  error
	)
	if kind == model.KindCSV {
		rows, err = csvCodeRows(data)
	} else {
		rows, err = readRows(kind, data)
	}
	if err != nil {
		return nil, err
	}

	first := -1
	for i, r := range rows {
		if !blank(r) {
			first = i
			break
		}
	}
	if first < 0 {
		return nil, nil
	}
	col, start, width := 0, first, 0
	if j := headerColumn(rows[first]); j >= 0 {
		col, start, width = j, first+1, len(rows[first])
	} else if unlabeledHeader(rows, first) {
		start = first + 1
	}

	var records []model.CodeRecord
	for i := start; i < len(rows); i++ {
		if kind == model.KindCSV && width > 0 && len(rows[i]) > width && !blank(rows[i][width:]) {
			return nil, fmt.Errorf("%w: row %d has %d cells under a %d-column header; quote codes that contain the delimiter",
				ErrCorruptDocument, i+1, len(rows[i]), width)
		}
		v := RestoreGS(cell(rows[i], col))
		if v == "" {
			continue
		}
		records = append(records, model.CodeRecord{
			Index:   len(records),
			Payload: v,
			Source:  model.Source{Row: i + 1},
		})
	}
	return records, nil
}

func headerColumn(row []string) int {
	for j, h := range row {
		if codeHeaders[normalizeLabel(h)] {
			return j
		}
	}
	return -1
}

// unlabeledHeader reports whether the first row is a caption above the codes:
// it is not a code itself and a later row is.
func unlabeledHeader(rows [][]string, first int) bool {
	if trustcode.Valid(RestoreGS(cell(rows[first], 0))) {
		return false
	}
	for _, r := range rows[first+1:] {
		if trustcode.Valid(RestoreGS(cell(r, 0))) {
			return true
		}
	}
	return false
}

// csvCodeRows splits on the sniffed delimiter only when the first non-blank
// line carries a code header. Headerless files are read one code per line.
func csvCodeRows(data []byte) ([][]string, error) {
	lines := readLines(data)
	for _, l := range lines {
		line := strings.TrimSpace(l[0])
		if line == "" {
			continue
		}
		comma := sniffDelimiter([]byte(line))
		header, err := readDelimited([]byte(line), comma)
		if err == nil && len(header) == 1 && headerColumn(header[0]) >= 0 {
			return readDelimited(data, comma)
		}
		break
	}
	for i, l := range lines {
		lines[i][0] = unquote(l[0])
	}
	return lines, nil
}

// unquote strips CSV quoting from a whole-line cell.
func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return strings.ReplaceAll(s[1:len(s)-1], `""`, `"`)
	}
	return s
}
