// Package scanner turns input documents into ordered item and code records.
package scanner

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dharsanguruparan/LabelDrop/internal/errs"
	"github.com/dharsanguruparan/LabelDrop/internal/logger"
	"github.com/dharsanguruparan/LabelDrop/internal/model"
)

var (
	ErrCorruptDocument  = errs.New(errs.KindMalformedInput, "scanner: corrupt document")
	ErrEmptyDocument    = errs.New(errs.KindMalformedInput, "scanner: document has no records")
	ErrNoDecodableCodes = errs.New(errs.KindDecodeFailure, "scanner: no code could be decoded")
	ErrUnsupportedKind  = errs.New(errs.KindMalformedInput, "scanner: unsupported document kind")
)

// SchemaError reports a required column missing from a tabular document.
type SchemaError struct {
	Missing string
	Columns []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("scanner: required column %q not found (have %s)", e.Missing, strings.Join(e.Columns, ", "))
}

// ErrorKind implements errs.Kinded.
func (e *SchemaError) ErrorKind() string { return errs.KindMalformedInput }

// Document is an input file with its declared container format.
type Document struct {
	Name string
	Kind model.DocumentKind
	Data []byte
}

// Scanner extracts records. Image decoding inside one document runs on up to
// Workers goroutines.
type Scanner struct {
	Workers int
	log     *logger.Logger
}

// New returns a scanner. workers <= 0 means 4.
func New(log *logger.Logger, workers int) *Scanner {
	if workers <= 0 {
		workers = 4
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Scanner{Workers: workers, log: log}
}

// KindOf resolves a document kind from an explicit value, the file extension
// or, failing both, the content.
func KindOf(declared, name string, data []byte) (model.DocumentKind, error) {
	k := strings.ToLower(strings.TrimSpace(declared))
	if k == "" {
		k = strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	}
	switch k {
	case "pdf":
		return model.KindPDF, nil
	case "csv":
		return model.KindCSV, nil
	case "txt", "text", "tsv":
		return model.KindTXT, nil
	case "xlsx":
		return model.KindXLSX, nil
	case "":
		switch {
		case bytes.HasPrefix(data, []byte("%PDF-")):
			return model.KindPDF, nil
		case bytes.HasPrefix(data, []byte("PK\x03\x04")):
			return model.KindXLSX, nil
		}
		return model.KindTXT, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedKind, k)
}
