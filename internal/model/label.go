// Package model contains the records shared across the label pipeline packages.
package model

// ItemRecord is one physical item read from a marketplace sheet. Records are
// immutable once extracted and keep document order. Extra carries compliance
// fields (country, TNVED code, ...) keyed by a normalized lower-case label.
type ItemRecord struct {
	Barcode      string            `json:"barcode"`
	Article      string            `json:"article,omitempty"`
	Size         string            `json:"size,omitempty"`
	Color        string            `json:"color,omitempty"`
	Name         string            `json:"name,omitempty"`
	Brand        string            `json:"brand,omitempty"`
	Composition  string            `json:"composition,omitempty"`
	Organization string            `json:"organization,omitempty"`
	Extra        map[string]string `json:"extra,omitempty"`
	Source       Source            `json:"source"`
}

// Source locates a record inside its input document. Page and Row are 1-based;
// the unused one is zero.
type Source struct {
	Page int `json:"page,omitempty"`
	Row  int `json:"row,omitempty"`
}

// CodeRecord is one trust code slot read from a codes document. Err is set when
// the slot exists (an embedded image) but could not be decoded.
type CodeRecord struct {
	Index   int    `json:"index"`
	Payload string `json:"-"`
	Source  Source `json:"source"`
	Err     error  `json:"-"`
}

// PairedLabel is the unit of rendering: item i paired with code i.
type PairedLabel struct {
	Index        int        `json:"index"`
	Item         ItemRecord `json:"item"`
	Code         string     `json:"-"`
	SerialNumber *int64     `json:"serialNumber,omitempty"`
}

// Payloads returns the code payloads of records in order.
func Payloads(records []CodeRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Payload
	}
	return out
}
