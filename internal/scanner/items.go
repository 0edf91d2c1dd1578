package scanner

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/dharsanguruparan/LabelDrop/internal/model"
	pdfutil "github.com/dharsanguruparan/LabelDrop/internal/pdf"
)

// Item fields a label or a column header can name.
const (
	fieldBarcode      = "barcode"
	fieldArticle      = "article"
	fieldSize         = "size"
	fieldColor        = "color"
	fieldName         = "name"
	fieldBrand        = "brand"
	fieldComposition  = "composition"
	fieldOrganization = "organization"
	extraCountry      = "country"
	extraTNVED        = "tnved"
)

// synonyms maps a normalized label or header to an item field.
var synonyms = map[string]string{
	"barcode": fieldBarcode, "штрихкод": fieldBarcode, "шк": fieldBarcode, "ean": fieldBarcode, "баркод": fieldBarcode,
	"article": fieldArticle, "артикул": fieldArticle, "арт": fieldArticle, "vendor code": fieldArticle, "sku": fieldArticle,
	"size": fieldSize, "размер": fieldSize,
	"color": fieldColor, "colour": fieldColor, "цвет": fieldColor,
	"name": fieldName, "наименование": fieldName, "название": fieldName, "товар": fieldName, "product": fieldName,
	"brand": fieldBrand, "бренд": fieldBrand,
	"composition": fieldComposition, "состав": fieldComposition,
	"organization": fieldOrganization, "организация": fieldOrganization, "продавец": fieldOrganization,
	"seller": fieldOrganization, "поставщик": fieldOrganization,
	"country": extraCountry, "страна": extraCountry, "страна производства": extraCountry,
	"tnved": extraTNVED, "тнвэд": extraTNVED, "тн вэд": extraTNVED,
}

var (
	digitRun  = regexp.MustCompile(`\d{8,14}`)
	labelLine = regexp.MustCompile(`^\s*([^:]{1,40}?)\s*:\s*(.*?)\s*$`)
)

func normalizeLabel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimRight(s, ".")
	return strings.Join(strings.Fields(s), " ")
}

func setField(it *model.ItemRecord, field, value string) {
	switch field {
	case fieldBarcode:
		it.Barcode = value
	case fieldArticle:
		it.Article = value
	case fieldSize:
		it.Size = value
	case fieldColor:
		it.Color = value
	case fieldName:
		it.Name = value
	case fieldBrand:
		it.Brand = value
	case fieldComposition:
		it.Composition = value
	case fieldOrganization:
		it.Organization = value
	default:
		if it.Extra == nil {
			it.Extra = make(map[string]string)
		}
		it.Extra[field] = value
	}
}

// ScanItems extracts item records in document order.
func (s *Scanner) ScanItems(ctx context.Context, doc Document) ([]model.ItemRecord, error) {
	var (
		items []model.ItemRecord
		err   error
	)
	switch doc.Kind {
	case model.KindPDF:
		items, err = s.pdfItems(ctx, doc.Data)
	case model.KindCSV, model.KindXLSX:
		items, err = tabularItems(doc.Kind, doc.Data)
	default:
		return nil, fmt.Errorf("%w: items from %q", ErrUnsupportedKind, doc.Kind)
	}
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrEmptyDocument
	}
	s.log.Debug("items scanned", "document", doc.Name, "kind", doc.Kind, "count", len(items))
	return items, nil
}

func (s *Scanner) pdfItems(ctx context.Context, data []byte) ([]model.ItemRecord, error) {
	doc, err := pdfutil.Open(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptDocument, err)
	}
	var items []model.ItemRecord
	for page := 1; page <= doc.NumPages(); page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lines, err := doc.Lines(page)
		if err != nil {
			if errors.Is(err, pdfutil.ErrCorrupt) {
				return nil, fmt.Errorf("%w: %v", ErrCorruptDocument, err)
			}
			return nil, err
		}
		if it, ok := parseItemPage(lines); ok {
			it.Source = model.Source{Page: page}
			items = append(items, it)
		}
	}
	return items, nil
}

// parseItemPage reads one sheet page. Pages without a barcode are not items.
func parseItemPage(lines []string) (model.ItemRecord, bool) {
	var it model.ItemRecord
	it.Barcode = pickBarcode(lines)
	if it.Barcode == "" {
		return it, false
	}
	var plain []string
	for _, l := range lines {
		m := labelLine.FindStringSubmatch(l)
		if m == nil {
			if t := strings.TrimSpace(l); t != "" && t != it.Barcode {
				plain = append(plain, t)
			}
			continue
		}
		key, value := normalizeLabel(m[1]), m[2]
		if value == "" {
			continue
		}
		field, ok := synonyms[key]
		if !ok {
			field = key
		}
		if field == fieldBarcode {
			continue
		}
		setField(&it, field, value)
	}
	if it.Name == "" && len(plain) > 0 {
		it.Name = plain[0]
	}
	return it, true
}

// pickBarcode returns the first EAN-13 with a valid check digit among 8-14
// digit runs, else the longest run.
func pickBarcode(lines []string) string {
	var longest string
	for _, l := range lines {
		for _, run := range digitRun.FindAllString(l, -1) {
			if len(run) == 13 && ValidEAN13(run) {
				return run
			}
			if len(run) > len(longest) {
				longest = run
			}
		}
	}
	return longest
}

// ValidEAN13 checks length, digits and the GS1 mod-10 check digit.
func ValidEAN13(s string) bool {
	if len(s) != 13 {
		return false
	}
	sum := 0
	for i := 0; i < 12; i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return false
		}
		d := int(c - '0')
		if i%2 == 1 {
			d *= 3
		}
		sum += d
	}
	last := s[12]
	if last < '0' || last > '9' {
		return false
	}
	return (10-sum%10)%10 == int(last-'0')
}

type fieldColumn struct {
	col   int
	field string
}

func tabularItems(kind model.DocumentKind, data []byte) ([]model.ItemRecord, error) {
	rows, err := readRows(kind, data)
	if err != nil {
		return nil, err
	}
	header := -1
	for i, r := range rows {
		if !blank(r) {
			header = i
			break
		}
	}
	if header < 0 {
		return nil, ErrEmptyDocument
	}
	// Each field is read from the first column whose header names it.
	var columns []fieldColumn
	seen := make(map[string]bool)
	barcodeCol := -1
	for i, h := range rows[header] {
		field, ok := synonyms[normalizeLabel(h)]
		if !ok || seen[field] {
			continue
		}
		seen[field] = true
		columns = append(columns, fieldColumn{col: i, field: field})
		if field == fieldBarcode {
			barcodeCol = i
		}
	}
	if barcodeCol < 0 {
		return nil, &SchemaError{Missing: fieldBarcode, Columns: rows[header]}
	}

	var items []model.ItemRecord
	for i := header + 1; i < len(rows); i++ {
		row := rows[i]
		if blank(row) {
			continue
		}
		it := model.ItemRecord{Source: model.Source{Row: i + 1}}
		for _, c := range columns {
			if v := cell(row, c.col); v != "" {
				setField(&it, c.field, v)
			}
		}
		it.Barcode = cell(row, barcodeCol)
		items = append(items, it)
	}
	return items, nil
}
