// Package render rasterizes paired labels and assembles them into a print-ready
// PDF with one page per label and the page size equal to the label size.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"github.com/boombuler/barcode"
	"github.com/fogleman/gg"
	"github.com/go-pdf/fpdf"
	"golang.org/x/image/draw"

	"github.com/dharsanguruparan/LabelDrop/internal/layout"
	"github.com/dharsanguruparan/LabelDrop/internal/linear"
	"github.com/dharsanguruparan/LabelDrop/internal/logger"
	"github.com/dharsanguruparan/LabelDrop/internal/matrix"
	"github.com/dharsanguruparan/LabelDrop/internal/model"
)

// ErrNoLabels is returned when a document would have no pages.
var ErrNoLabels = errors.New("render: no labels")

// Options are the per-generation render settings.
type Options struct {
	Visible    layout.VisibleFields
	Priorities []layout.FieldID
}

// Renderer draws labels at the codec resolution.
type Renderer struct {
	codec *matrix.Codec
	fonts *Fonts
	log   *logger.Logger
}

// New builds a renderer. fonts may be shared between renderers.
func New(codec *matrix.Codec, fonts *Fonts, log *logger.Logger) *Renderer {
	if log == nil {
		log = logger.Nop()
	}
	return &Renderer{codec: codec, fonts: fonts, log: log}
}

// Label rasterizes one label onto a white canvas of plan.WidthPx x plan.HeightPx.
func (r *Renderer) Label(plan layout.Plan, label model.PairedLabel, opts Options) (*image.Gray, error) {
	dc := gg.NewContext(plan.WidthPx, plan.HeightPx)
	dc.SetColor(color.White)
	dc.Clear()
	dc.SetColor(color.Black)

	for _, z := range plan.Zones {
		var err error
		switch z.Name {
		case layout.ZoneMatrix:
			err = r.drawMatrix(dc, z, label.Code)
		case layout.ZoneBarcode:
			err = r.drawBarcode(dc, z, label.Item.Barcode)
		case layout.ZoneBarcodeText:
			r.drawLine(dc, plan.DPI, z, label.Item.Barcode)
		case layout.ZoneText:
			r.drawText(dc, plan.DPI, z, label, opts)
		case layout.ZoneSerial:
			if label.SerialNumber != nil {
				r.drawLine(dc, plan.DPI, z, fmt.Sprintf("№ %d", *label.SerialNumber))
			}
		}
		if err != nil {
			return nil, fmt.Errorf("label %d zone %s: %w", label.Index, z.Name, err)
		}
	}

	src := dc.Image()
	out := image.NewGray(src.Bounds())
	draw.Draw(out, out.Bounds(), src, src.Bounds().Min, draw.Src)
	return out, nil
}

func (r *Renderer) drawMatrix(dc *gg.Context, z layout.PlanZone, payload string) error {
	img, _, err := r.codec.Encode(payload, min(z.MM.Width, z.MM.Height))
	if err != nil {
		return err
	}
	side := img.Bounds().Dx()
	dc.DrawImage(img, z.X+(z.W-side)/2, z.Y+(z.H-side)/2)
	return nil
}

func (r *Renderer) drawBarcode(dc *gg.Context, z layout.PlanZone, value string) error {
	if value == "" {
		return nil
	}
	bc, _, err := linear.Encode(value)
	if err != nil {
		return err
	}
	modules := linear.Modules(bc)
	scale := z.W / modules
	if scale < 1 {
		return fmt.Errorf("%d modules do not fit %d px", modules, z.W)
	}
	scaled, err := barcode.Scale(bc, modules*scale, z.H)
	if err != nil {
		return fmt.Errorf("scale barcode: %w", err)
	}
	dc.DrawImage(scaled, z.X+(z.W-modules*scale)/2, z.Y)
	return nil
}

// drawLine writes a single line vertically centered in z.
func (r *Renderer) drawLine(dc *gg.Context, dpi int, z layout.PlanZone, text string) {
	if text == "" {
		return
	}
	dc.SetFontFace(r.fonts.Face(layout.FontSizePt(z.Style), dpi, z.Style.Bold))
	x, ax := anchorX(z)
	dc.DrawStringAnchored(text, x, float64(z.Y)+float64(z.H)/2, ax, 0.35)
}

func (r *Renderer) drawText(dc *gg.Context, dpi int, z layout.PlanZone, label model.PairedLabel, opts Options) {
	specs := layout.WithPriorities(layout.DefaultFields(), opts.Priorities)
	fields := layout.Collect(label.Item, opts.Visible, specs)
	fit := layout.FitFields(z.MM, fields, r.fonts)
	if len(fit.Dropped) > 0 {
		r.log.Debug("text fields dropped", "index", label.Index, "dropped", fit.Dropped)
	}

	dc.SetFontFace(r.fonts.Face(layout.FontSizePt(z.Style), dpi, z.Style.Bold))
	pitch := fit.LineHeightMM * float64(dpi) / 25.4
	x, ax := anchorX(z)
	for i, line := range fit.Lines() {
		dc.DrawStringAnchored(line, x, float64(z.Y)+float64(i)*pitch, ax, 1)
	}
}

func anchorX(z layout.PlanZone) (float64, float64) {
	switch z.Style.Align {
	case "center":
		return float64(z.X) + float64(z.W)/2, 0.5
	case "right":
		return float64(z.X + z.W), 1
	}
	return float64(z.X), 0
}

// Document renders labels in order into a PDF. ctx is checked between pages.
func (r *Renderer) Document(ctx context.Context, tpl layout.Template, labels []model.PairedLabel, opts Options) ([]byte, error) {
	if len(labels) == 0 {
		return nil, ErrNoLabels
	}
	plan := tpl.Plan(r.codec.DPI)

	doc := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "mm",
		Size:           fpdf.SizeType{Wd: tpl.WidthMM, Ht: tpl.HeightMM},
	})
	doc.SetMargins(0, 0, 0)
	doc.SetAutoPageBreak(false, 0)
	doc.SetCreator("LabelDrop", true)
	imgOpts := fpdf.ImageOptions{ImageType: "PNG"}

	for i, l := range labels {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := r.Label(plan, l, opts)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode label %d: %w", l.Index, err)
		}
		name := fmt.Sprintf("label-%d", i)
		doc.RegisterImageOptionsReader(name, imgOpts, &buf)
		doc.AddPage()
		doc.ImageOptions(name, 0, 0, tpl.WidthMM, tpl.HeightMM, false, imgOpts, 0, "")
		if doc.Err() {
			return nil, fmt.Errorf("compose page %d: %w", i+1, doc.Error())
		}
	}

	var out bytes.Buffer
	if err := doc.Output(&out); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	r.log.Info("labels rendered", "layout", tpl.Layout, "size", tpl.Size, "pages", len(labels))
	return out.Bytes(), nil
}
