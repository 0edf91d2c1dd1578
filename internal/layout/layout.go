// Package layout owns the label template registry. Templates are loaded once
// from YAML (embedded or an override file) and are read-only afterwards, so a
// Registry is safe for concurrent use without locking.
package layout

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/dharsanguruparan/LabelDrop/internal/errs"
)

// Zone names the renderer and preflight know about.
const (
	ZoneMatrix      = "datamatrix"
	ZoneText        = "text"
	ZoneBarcode     = "barcode"
	ZoneBarcodeText = "barcode_text"
	ZoneSerial      = "serial"
)

// DefaultDPI is the reference thermal printer resolution.
const DefaultDPI = 203

const mmPerInch = 25.4

//go:embed templates.yaml
var embeddedTemplates []byte

// ZoneStyle carries the text attributes of a zone. Zero values mean defaults.
type ZoneStyle struct {
	FontSizePt  float64 `yaml:"font_size" json:"fontSize,omitempty"`
	LineSpacing float64 `yaml:"line_spacing" json:"lineSpacing,omitempty"`
	Bold        bool    `yaml:"bold" json:"bold,omitempty"`
	Align       string  `yaml:"align" json:"align,omitempty"`
	MaxLines    int     `yaml:"max_lines" json:"maxLines,omitempty"`
}

// Zone is a rectangle on the label in millimeters, origin top-left.
type Zone struct {
	Name   string  `yaml:"name" json:"-"`
	X      float64 `yaml:"x" json:"x"`
	Y      float64 `yaml:"y" json:"y"`
	Width  float64 `yaml:"width" json:"width"`
	Height float64 `yaml:"height" json:"height"`

	ZoneStyle `yaml:",inline"`
}

// Right returns the x coordinate of the right edge.
func (z Zone) Right() float64 { return z.X + z.Width }

// Bottom returns the y coordinate of the bottom edge.
func (z Zone) Bottom() float64 { return z.Y + z.Height }

// Overlaps reports whether two zones share a non-empty area. Touching edges do
// not count.
func (z Zone) Overlaps(o Zone) bool {
	return z.X < o.Right() && o.X < z.Right() && z.Y < o.Bottom() && o.Y < z.Bottom()
}

// Template is a layout resolved for one label size.
type Template struct {
	Layout   string
	Size     string
	WidthMM  float64
	HeightMM float64
	Zones    []Zone
}

// Zone looks a zone up by name.
func (t Template) Zone(name string) (Zone, bool) {
	for _, z := range t.Zones {
		if z.Name == name {
			return z, true
		}
	}
	return Zone{}, false
}

// UnknownTemplateError is returned by Resolve when the layout or the size is not
// registered.
type UnknownTemplateError struct {
	Layout string
	Size   string
}

func (e *UnknownTemplateError) Error() string {
	return fmt.Sprintf("unknown template %q/%q", e.Layout, e.Size)
}

// ErrorKind implements errs.Kinded.
func (e *UnknownTemplateError) ErrorKind() string { return errs.KindUnknownTemplate }

type sizeSpec struct {
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"`
}

type templateSpec struct {
	Zones []Zone `yaml:"zones"`
}

type registrySpec struct {
	Version int                                `yaml:"version"`
	Sizes   map[string]sizeSpec                `yaml:"sizes"`
	Layouts map[string]map[string]templateSpec `yaml:"layouts"`
}

// Registry is the immutable template lookup table.
type Registry struct {
	templates map[string]map[string]Template
}

// Load parses a registry document.
func Load(r io.Reader) (*Registry, error) {
	var spec registrySpec
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode templates: %w", err)
	}
	return build(spec)
}

// LoadFile parses a registry from path.
func LoadFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open templates: %w", err)
	}
	defer f.Close()
	return Load(f)
}

var defaultRegistry = sync.OnceValues(func() (*Registry, error) {
	return Load(bytes.NewReader(embeddedTemplates))
})

// Default returns the registry compiled into the binary.
func Default() (*Registry, error) {
	return defaultRegistry()
}

func build(spec registrySpec) (*Registry, error) {
	if len(spec.Layouts) == 0 {
		return nil, errors.New("templates: no layouts defined")
	}
	reg := &Registry{templates: make(map[string]map[string]Template, len(spec.Layouts))}
	for layoutName, sizes := range spec.Layouts {
		reg.templates[layoutName] = make(map[string]Template, len(sizes))
		for sizeName, ts := range sizes {
			size, ok := spec.Sizes[sizeName]
			if !ok {
				return nil, fmt.Errorf("templates: layout %q references undefined size %q", layoutName, sizeName)
			}
			if size.Width <= 0 || size.Height <= 0 {
				return nil, fmt.Errorf("templates: size %q has non-positive dimensions", sizeName)
			}
			seen := make(map[string]bool, len(ts.Zones))
			for _, z := range ts.Zones {
				if z.Name == "" {
					return nil, fmt.Errorf("templates: %s/%s has an unnamed zone", layoutName, sizeName)
				}
				if seen[z.Name] {
					return nil, fmt.Errorf("templates: %s/%s repeats zone %q", layoutName, sizeName, z.Name)
				}
				seen[z.Name] = true
				if z.Width <= 0 || z.Height <= 0 {
					return nil, fmt.Errorf("templates: %s/%s zone %q has non-positive size", layoutName, sizeName, z.Name)
				}
			}
			if !seen[ZoneMatrix] {
				return nil, fmt.Errorf("templates: %s/%s has no %s zone", layoutName, sizeName, ZoneMatrix)
			}
			zones := make([]Zone, len(ts.Zones))
			copy(zones, ts.Zones)
			reg.templates[layoutName][sizeName] = Template{
				Layout:   layoutName,
				Size:     sizeName,
				WidthMM:  size.Width,
				HeightMM: size.Height,
				Zones:    zones,
			}
		}
	}
	return reg, nil
}

// Resolve returns the template for (layout, size).
func (r *Registry) Resolve(layout, size string) (Template, error) {
	sizes, ok := r.templates[layout]
	if !ok {
		return Template{}, &UnknownTemplateError{Layout: layout, Size: size}
	}
	t, ok := sizes[size]
	if !ok {
		return Template{}, &UnknownTemplateError{Layout: layout, Size: size}
	}
	// Zones are copied so callers cannot mutate the registry.
	t.Zones = append([]Zone(nil), t.Zones...)
	return t, nil
}

// Layouts lists registered layout names, sorted.
func (r *Registry) Layouts() []string {
	out := make([]string, 0, len(r.templates))
	for name := range r.templates {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Sizes lists the sizes registered for layout, sorted.
func (r *Registry) Sizes(layout string) []string {
	out := make([]string, 0, len(r.templates[layout]))
	for name := range r.templates[layout] {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// SurfaceTemplate is the enumerable description of one template.
type SurfaceTemplate struct {
	Width  float64         `json:"width"`
	Height float64         `json:"height"`
	Zones  map[string]Zone `json:"zones"`
}

// Describe returns {layout: {size: {zones: {zone: {x, y, width, height, ...}}}}}
// in millimeters, for configuration endpoints.
func (r *Registry) Describe() map[string]map[string]SurfaceTemplate {
	out := make(map[string]map[string]SurfaceTemplate, len(r.templates))
	for layoutName, sizes := range r.templates {
		out[layoutName] = make(map[string]SurfaceTemplate, len(sizes))
		for sizeName, t := range sizes {
			zones := make(map[string]Zone, len(t.Zones))
			for _, z := range t.Zones {
				zones[z.Name] = z
			}
			out[layoutName][sizeName] = SurfaceTemplate{Width: t.WidthMM, Height: t.HeightMM, Zones: zones}
		}
	}
	return out
}

// MMToDevice converts millimeters to device pixels: round(mm * dpi / 25.4).
func MMToDevice(mm float64, dpi int) int {
	return int(math.Round(mm * float64(dpi) / mmPerInch))
}

// DeviceToMM converts device pixels back to millimeters.
func DeviceToMM(px int, dpi int) float64 {
	return float64(px) * mmPerInch / float64(dpi)
}

// PointsToMM converts typographic points to millimeters.
func PointsToMM(pt float64) float64 {
	return pt * mmPerInch / 72
}

// PlanZone is a zone in device pixels.
type PlanZone struct {
	Name  string
	X     int
	Y     int
	W     int
	H     int
	Style ZoneStyle
	MM    Zone
}

// Plan is a template converted to device units at a fixed resolution.
type Plan struct {
	Template Template
	DPI      int
	WidthPx  int
	HeightPx int
	Zones    []PlanZone
}

// Zone looks a plan zone up by name.
func (p Plan) Zone(name string) (PlanZone, bool) {
	for _, z := range p.Zones {
		if z.Name == name {
			return z, true
		}
	}
	return PlanZone{}, false
}

// Plan applies MMToDevice to every geometric field of the template.
func (t Template) Plan(dpi int) Plan {
	p := Plan{
		Template: t,
		DPI:      dpi,
		WidthPx:  MMToDevice(t.WidthMM, dpi),
		HeightPx: MMToDevice(t.HeightMM, dpi),
		Zones:    make([]PlanZone, 0, len(t.Zones)),
	}
	for _, z := range t.Zones {
		p.Zones = append(p.Zones, PlanZone{
			Name:  z.Name,
			X:     MMToDevice(z.X, dpi),
			Y:     MMToDevice(z.Y, dpi),
			W:     MMToDevice(z.Width, dpi),
			H:     MMToDevice(z.Height, dpi),
			Style: z.ZoneStyle,
			MM:    z,
		})
	}
	return p
}
