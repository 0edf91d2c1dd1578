// Package signing issues and checks HMAC download links for rendered label
// documents when the object store cannot presign URLs itself.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

var (
	ErrExpired          = errors.New("signed url expired")
	ErrInvalidSignature = errors.New("invalid signature")
)

// Signer generates and validates HMAC based signatures.
type Signer struct {
	secret []byte
}

// NewSigner creates a Signer.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret}
}

// Sign returns the hex signature over generationID and expiry.
func (s *Signer) Sign(generationID string, expiresUnix int64) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(fmt.Sprintf("%s:%d", generationID, expiresUnix)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Validate compares the provided signature with the expected one.
func (s *Signer) Validate(generationID, expires, signature string) bool {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return false
	}
	expected := s.Sign(generationID, exp)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// URL builds a signed link under base valid until expiry.
func (s *Signer) URL(base, generationID string, expiry time.Time) string {
	q := url.Values{}
	q.Set("generation", generationID)
	q.Set("expires", strconv.FormatInt(expiry.Unix(), 10))
	q.Set("signature", s.Sign(generationID, expiry.Unix()))
	return base + "?" + q.Encode()
}

// Verify checks the query of a signed link at now and returns the generation id.
func (s *Signer) Verify(q url.Values, now time.Time) (string, error) {
	id, expires, signature := q.Get("generation"), q.Get("expires"), q.Get("signature")
	if id == "" || expires == "" || signature == "" {
		return "", ErrInvalidSignature
	}
	if !s.Validate(id, expires, signature) {
		return "", ErrInvalidSignature
	}
	exp, _ := strconv.ParseInt(expires, 10, 64)
	if time.Unix(exp, 0).Before(now) {
		return "", ErrExpired
	}
	return id, nil
}
