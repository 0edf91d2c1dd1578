// Package linear encodes the 1-D item barcode: EAN-13 when the value is a
// valid EAN-13, Code 128 otherwise.
package linear

import (
	"fmt"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/code128"
	"github.com/boombuler/barcode/ean"

	"github.com/dharsanguruparan/LabelDrop/internal/scanner"
)

// Symbology names the chosen encoding.
type Symbology string

const (
	EAN13   Symbology = "ean13"
	Code128 Symbology = "code128"
)

// Encode returns the unscaled symbol, one pixel per module.
func Encode(value string) (barcode.Barcode, Symbology, error) {
	if value == "" {
		return nil, "", fmt.Errorf("encode barcode: empty value")
	}
	if scanner.ValidEAN13(value) {
		bc, err := ean.Encode(value)
		if err != nil {
			return nil, "", fmt.Errorf("encode ean13: %w", err)
		}
		return bc, EAN13, nil
	}
	bc, err := code128.Encode(value)
	if err != nil {
		return nil, "", fmt.Errorf("encode code128: %w", err)
	}
	return bc, Code128, nil
}

// Modules is the symbol width in modules.
func Modules(bc barcode.Barcode) int {
	return bc.Bounds().Dx()
}
