package pdfutil

import (
	"fmt"
	"image"

	pdf "github.com/ledongthuc/pdf"
)

// maxImagePixels caps the raster an image XObject may declare.
const maxImagePixels = 40_000_000

// readImage converts an image XObject to 8-bit gray. Supported: 1 and 8 bits
// per component in DeviceGray, DeviceRGB, DeviceCMYK or ICCBased spaces, and
// stencil masks.
func readImage(v pdf.Value) (*image.Gray, error) {
	w := int(v.Key("Width").Int64())
	h := int(v.Key("Height").Int64())
	if w <= 0 || h <= 0 || w*h > maxImagePixels {
		return nil, fmt.Errorf("%w: dimensions %dx%d", ErrUnsupportedImage, w, h)
	}

	mask := v.Key("ImageMask").Bool()
	bpc := int(v.Key("BitsPerComponent").Int64())
	comps := 1
	if mask {
		bpc = 1
	} else {
		var err error
		if comps, err = components(v.Key("ColorSpace")); err != nil {
			return nil, err
		}
	}
	if bpc != 1 && bpc != 8 {
		return nil, fmt.Errorf("%w: %d bits per component", ErrUnsupportedImage, bpc)
	}
	if bpc == 1 && comps != 1 {
		return nil, fmt.Errorf("%w: 1-bit color image", ErrUnsupportedImage)
	}

	data, err := readStream(v)
	if err != nil {
		return nil, err
	}
	invert := decodeInverted(v.Key("Decode"))

	g := image.NewGray(image.Rect(0, 0, w, h))
	if bpc == 1 {
		stride := (w + 7) / 8
		if len(data) < stride*h {
			return nil, fmt.Errorf("%w: short sample data", ErrUnsupportedImage)
		}
		for y := 0; y < h; y++ {
			row := data[y*stride:]
			for x := 0; x < w; x++ {
				bit := row[x/8]>>(7-uint(x%8))&1 == 1
				if invert {
					bit = !bit
				}
				// A 0 sample is ink for gray and stencil images alike.
				if bit {
					g.Pix[y*g.Stride+x] = 0xff
				}
			}
		}
		return g, nil
	}

	stride := w * comps
	if len(data) < stride*h {
		return nil, fmt.Errorf("%w: short sample data", ErrUnsupportedImage)
	}
	for y := 0; y < h; y++ {
		row := data[y*stride:]
		for x := 0; x < w; x++ {
			px := row[x*comps : x*comps+comps]
			var lum uint8
			switch comps {
			case 1:
				lum = px[0]
			case 3:
				lum = uint8((299*int(px[0]) + 587*int(px[1]) + 114*int(px[2])) / 1000)
			case 4:
				ink := (30*int(px[0])+59*int(px[1])+11*int(px[2]))/100 + int(px[3])
				lum = uint8(255 - min(ink, 255))
			}
			if invert {
				lum = 255 - lum
			}
			g.Pix[y*g.Stride+x] = lum
		}
	}
	return g, nil
}

func components(cs pdf.Value) (int, error) {
	name := cs.Name()
	if cs.Kind() == pdf.Array && cs.Len() > 0 {
		name = cs.Index(0).Name()
		if name == "ICCBased" && cs.Len() > 1 {
			if n := int(cs.Index(1).Key("N").Int64()); n == 1 || n == 3 || n == 4 {
				return n, nil
			}
		}
	}
	switch name {
	case "DeviceGray", "CalGray", "":
		return 1, nil
	case "DeviceRGB", "CalRGB":
		return 3, nil
	case "DeviceCMYK":
		return 4, nil
	}
	return 0, fmt.Errorf("%w: color space %s", ErrUnsupportedImage, name)
}

// decodeInverted reports a /Decode array that flips the first component.
func decodeInverted(d pdf.Value) bool {
	if d.Kind() != pdf.Array || d.Len() < 2 {
		return false
	}
	return d.Index(0).Float64() > d.Index(1).Float64()
}
