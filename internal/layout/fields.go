package layout

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/dharsanguruparan/LabelDrop/internal/model"
)

// FieldID identifies a text field of the label text block.
type FieldID string

const (
	FieldName         FieldID = "name"
	FieldArticle      FieldID = "article"
	FieldSize         FieldID = "size"
	FieldColor        FieldID = "color"
	FieldBrand        FieldID = "brand"
	FieldComposition  FieldID = "composition"
	FieldOrganization FieldID = "organization"
	FieldCountry      FieldID = "country"
)

// VisibleFields holds the show_* toggles of an entitlement or request.
type VisibleFields struct {
	Name         bool `json:"showName"`
	Article      bool `json:"showArticle"`
	Size         bool `json:"showSize"`
	Color        bool `json:"showColor"`
	Brand        bool `json:"showBrand"`
	Composition  bool `json:"showComposition"`
	Organization bool `json:"showOrganization"`
	Country      bool `json:"showCountry"`
}

// AllFields shows every field.
func AllFields() VisibleFields {
	return VisibleFields{
		Name: true, Article: true, Size: true, Color: true,
		Brand: true, Composition: true, Organization: true, Country: true,
	}
}

// FieldSpec describes one field: its display order is its position in the
// list, Priority decides truncation (lower is dropped first).
type FieldSpec struct {
	ID       FieldID
	Label    string
	Priority int
	Visible  func(VisibleFields) bool
	Value    func(model.ItemRecord) string
}

// DefaultFields is the display order and default priority of text fields.
func DefaultFields() []FieldSpec {
	return []FieldSpec{
		{ID: FieldName, Label: "", Priority: 80,
			Visible: func(v VisibleFields) bool { return v.Name },
			Value:   func(it model.ItemRecord) string { return it.Name }},
		{ID: FieldArticle, Label: "Арт.", Priority: 100,
			Visible: func(v VisibleFields) bool { return v.Article },
			Value:   func(it model.ItemRecord) string { return it.Article }},
		{ID: FieldSize, Label: "Размер", Priority: 90,
			Visible: func(v VisibleFields) bool { return v.Size },
			Value:   func(it model.ItemRecord) string { return it.Size }},
		{ID: FieldColor, Label: "Цвет", Priority: 70,
			Visible: func(v VisibleFields) bool { return v.Color },
			Value:   func(it model.ItemRecord) string { return it.Color }},
		{ID: FieldBrand, Label: "Бренд", Priority: 60,
			Visible: func(v VisibleFields) bool { return v.Brand },
			Value:   func(it model.ItemRecord) string { return it.Brand }},
		{ID: FieldComposition, Label: "Состав", Priority: 30,
			Visible: func(v VisibleFields) bool { return v.Composition },
			Value:   func(it model.ItemRecord) string { return it.Composition }},
		{ID: FieldOrganization, Label: "", Priority: 40,
			Visible: func(v VisibleFields) bool { return v.Organization },
			Value:   func(it model.ItemRecord) string { return it.Organization }},
		{ID: FieldCountry, Label: "Страна", Priority: 20,
			Visible: func(v VisibleFields) bool { return v.Country },
			Value:   func(it model.ItemRecord) string { return it.Extra["country"] }},
	}
}

// WithPriorities re-ranks specs from an external list, most important first.
// Fields missing from order keep their relative default ranking below the
// listed ones. Unknown ids are ignored.
func WithPriorities(specs []FieldSpec, order []FieldID) []FieldSpec {
	if len(order) == 0 {
		return specs
	}
	rank := make(map[FieldID]int, len(order))
	for i, id := range order {
		if _, dup := rank[id]; !dup {
			rank[id] = len(order) - i
		}
	}
	out := make([]FieldSpec, len(specs))
	for i, s := range specs {
		if r, ok := rank[s.ID]; ok {
			s.Priority = 1000 + r
		}
		out[i] = s
	}
	return out
}

// FieldValue is a rendered field text with its priority.
type FieldValue struct {
	ID       FieldID
	Priority int
	Text     string
}

// Collect evaluates specs against an item, keeping visible non-empty fields in
// display order.
func Collect(item model.ItemRecord, visible VisibleFields, specs []FieldSpec) []FieldValue {
	out := make([]FieldValue, 0, len(specs))
	for _, s := range specs {
		if s.Visible == nil || !s.Visible(visible) {
			continue
		}
		v := strings.TrimSpace(s.Value(item))
		if v == "" {
			continue
		}
		text := v
		if s.Label != "" {
			text = s.Label + ": " + v
		}
		out = append(out, FieldValue{ID: s.ID, Priority: s.Priority, Text: text})
	}
	return out
}

// Measurer reports the rendered width of text in millimeters at a font size.
type Measurer interface {
	TextWidthMM(text string, sizePt float64) float64
}

// EstimateMeasurer approximates widths with a fixed average advance expressed as
// a fraction of the em size.
type EstimateMeasurer struct {
	AdvanceEm float64
}

// TextWidthMM implements Measurer.
func (m EstimateMeasurer) TextWidthMM(text string, sizePt float64) float64 {
	adv := m.AdvanceEm
	if adv <= 0 {
		adv = 0.55
	}
	return float64(utf8.RuneCountInString(text)) * PointsToMM(sizePt) * adv
}

// FittedField is a kept field broken into lines.
type FittedField struct {
	ID    FieldID
	Lines []string
}

// Fit is the outcome of FitFields.
type Fit struct {
	Fields       []FittedField
	Dropped      []FieldID
	LineHeightMM float64
}

// Lines flattens the kept fields.
func (f Fit) Lines() []string {
	var out []string
	for _, ff := range f.Fields {
		out = append(out, ff.Lines...)
	}
	return out
}

const (
	defaultFontPt      = 6
	defaultLineSpacing = 1.15
)

// FontSizePt returns the zone font size, defaulting to 6pt.
func FontSizePt(style ZoneStyle) float64 {
	if style.FontSizePt <= 0 {
		return defaultFontPt
	}
	return style.FontSizePt
}

// LineHeightMM returns the line pitch of a zone.
func LineHeightMM(style ZoneStyle) float64 {
	size := FontSizePt(style)
	spacing := style.LineSpacing
	if spacing <= 0 {
		spacing = defaultLineSpacing
	}
	return PointsToMM(size) * spacing
}

// FitFields word-wraps every field to the block width and drops whole fields,
// lowest priority first, until the remaining lines fit the block height (and
// MaxLines when set). Fields are never shortened.
func FitFields(block Zone, fields []FieldValue, m Measurer) Fit {
	size := FontSizePt(block.ZoneStyle)
	lh := LineHeightMM(block.ZoneStyle)
	capacity := int(math.Floor(block.Height/lh + 1e-9))
	if block.MaxLines > 0 && block.MaxLines < capacity {
		capacity = block.MaxLines
	}

	wrapped := make([]FittedField, len(fields))
	total := 0
	for i, f := range fields {
		lines := Wrap(f.Text, block.Width, size, m)
		wrapped[i] = FittedField{ID: f.ID, Lines: lines}
		total += len(lines)
	}

	kept := make([]bool, len(fields))
	for i := range kept {
		kept[i] = true
	}
	var dropped []FieldID
	for total > capacity {
		victim := -1
		for i, f := range fields {
			if !kept[i] {
				continue
			}
			// Ties go to the later field so display order degrades from the bottom.
			if victim < 0 || f.Priority <= fields[victim].Priority {
				victim = i
			}
		}
		if victim < 0 {
			break
		}
		kept[victim] = false
		total -= len(wrapped[victim].Lines)
		dropped = append(dropped, fields[victim].ID)
	}

	out := Fit{LineHeightMM: lh, Dropped: dropped}
	for i, w := range wrapped {
		if kept[i] {
			out.Fields = append(out.Fields, w)
		}
	}
	return out
}

// Wrap breaks text into lines no wider than widthMM. Words longer than a line
// are split at rune boundaries so no text is lost.
func Wrap(text string, widthMM, sizePt float64, m Measurer) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	var lines []string
	current := ""
	for _, w := range words {
		candidate := w
		if current != "" {
			candidate = current + " " + w
		}
		if m.TextWidthMM(candidate, sizePt) <= widthMM {
			current = candidate
			continue
		}
		if current != "" {
			lines = append(lines, current)
			current = ""
		}
		for m.TextWidthMM(w, sizePt) > widthMM {
			head, tail := splitToWidth(w, widthMM, sizePt, m)
			lines = append(lines, head)
			w = tail
		}
		current = w
	}
	if current != "" {
		lines = append(lines, current)
	}
	return lines
}

func splitToWidth(word string, widthMM, sizePt float64, m Measurer) (string, string) {
	runes := []rune(word)
	n := 1
	for n < len(runes) && m.TextWidthMM(string(runes[:n+1]), sizePt) <= widthMM {
		n++
	}
	return string(runes[:n]), string(runes[n:])
}
