// Package trustcode validates marking codes against the GS1 structure used by
// the national trust infrastructure: "01" + GTIN-14 + "21" + serial, optionally
// followed by a crypto tail.
package trustcode

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/dharsanguruparan/LabelDrop/internal/errs"
)

const (
	// GS is the ASCII group separator terminating variable-length fields.
	GS = '\x1d'

	gtinAI         = "01"
	serialAI       = "21"
	cryptoKeyAI    = "91"
	gtinLen        = 14
	standardSerial = 13
	minLen         = len(gtinAI) + gtinLen + len(serialAI) + 1
	fragmentLimit  = 16
)

// TrustCode is a validated marking code. Raw is the normalized payload that is
// printed into the matrix symbol; equality is byte equality of Raw.
type TrustCode struct {
	Raw    string
	GTIN   string
	Serial string
	Tail   string
}

// MalformedCodeError describes why a raw string is not a trust code. Fragment
// is the offending substring, truncated and made printable.
type MalformedCodeError struct {
	Reason   string
	Fragment string
}

func (e *MalformedCodeError) Error() string {
	if e.Fragment == "" {
		return "malformed code: " + e.Reason
	}
	return fmt.Sprintf("malformed code: %s (near %q)", e.Reason, e.Fragment)
}

// ErrorKind implements errs.Kinded.
func (e *MalformedCodeError) ErrorKind() string { return errs.KindMalformedInput }

// Normalize strips transport artifacts a scanner or spreadsheet may add: the
// "]d2" symbology identifier, a leading FNC1/GS and surrounding whitespace.
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "]d2")
	s = strings.TrimPrefix(s, "]D2")
	s = strings.TrimLeft(s, string(GS))
	return s
}

// Parse validates raw and splits it into its segments. It never panics and
// always returns either a TrustCode or a *MalformedCodeError.
func Parse(raw string) (TrustCode, error) {
	s := Normalize(raw)
	if len(s) < minLen {
		return TrustCode{}, malformed("too short", s)
	}
	if s[:2] != gtinAI {
		return TrustCode{}, malformed(`missing "01" prefix`, s[:2])
	}
	gtin := s[2 : 2+gtinLen]
	for i := 0; i < len(gtin); i++ {
		if gtin[i] < '0' || gtin[i] > '9' {
			return TrustCode{}, malformed("GTIN must be 14 digits", gtin)
		}
	}
	rest := s[2+gtinLen:]
	if rest[:2] != serialAI {
		return TrustCode{}, malformed(`missing "21" serial marker`, rest[:2])
	}
	serial, tail := splitSerial(rest[2:])
	if serial == "" {
		return TrustCode{}, malformed("empty serial", rest)
	}
	for i := 0; i < len(serial); i++ {
		if serial[i] < 0x21 || serial[i] > 0x7e {
			return TrustCode{}, malformed("serial contains non-printable bytes", serial)
		}
	}
	return TrustCode{Raw: s, GTIN: gtin, Serial: serial, Tail: tail}, nil
}

// Valid reports whether raw parses.
func Valid(raw string) bool {
	_, err := Parse(raw)
	return err == nil
}

// splitSerial separates the serial from the crypto tail. The serial ends at the
// first GS; without a separator a standard-width serial followed by the "91"
// key identifier is assumed.
func splitSerial(s string) (serial, tail string) {
	if i := strings.IndexByte(s, GS); i >= 0 {
		return s[:i], s[i:]
	}
	if len(s) > standardSerial+len(cryptoKeyAI) && s[standardSerial:standardSerial+len(cryptoKeyAI)] == cryptoKeyAI {
		return s[:standardSerial], s[standardSerial:]
	}
	return s, ""
}

// Digest returns the hex SHA-256 of the normalized code. It is the only form a
// code takes in ledger storage and logs.
func Digest(raw string) string {
	sum := sha256.Sum256([]byte(Normalize(raw)))
	return hex.EncodeToString(sum[:])
}

// Mask renders a code for user-facing messages: GTIN and the first serial
// characters, the rest elided.
func Mask(raw string) string {
	s := Normalize(raw)
	const keep = len(gtinAI) + gtinLen + len(serialAI) + 3
	if len(s) <= keep {
		return printable(s)
	}
	return printable(s[:keep]) + "…"
}

func malformed(reason, fragment string) *MalformedCodeError {
	if len(fragment) > fragmentLimit {
		fragment = fragment[:fragmentLimit]
	}
	return &MalformedCodeError{Reason: reason, Fragment: printable(fragment)}
}

func printable(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == GS:
			b.WriteString("<GS>")
		case c < 0x20 || c > 0x7e:
			b.WriteByte('?')
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
