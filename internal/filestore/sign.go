package filestore

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrSignatureInvalid indicates the signature does not match.
	ErrSignatureInvalid = errors.New("url signature invalid")

	// ErrSignatureExpired indicates the URL is past its expiry,
	// regardless of signature validity.
	ErrSignatureExpired = errors.New("url signature expired")
)

// Signer mints and verifies HMAC-signed access URLs for private
// objects. Used when the active backend has no native presigning.
type Signer struct {
	secret  []byte
	baseURL string
}

// NewSigner creates a Signer. baseURL is the public serving prefix.
func NewSigner(secret, baseURL string) *Signer {
	return &Signer{
		secret:  []byte(secret),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// PublicURL returns the direct URL for a public object.
func (s *Signer) PublicURL(key string) string {
	return s.baseURL + "/" + key
}

// SignedURL returns a time-limited URL for a private object.
func (s *Signer) SignedURL(key string, expiry time.Duration, now time.Time) string {
	expires := now.Add(expiry).Unix()
	sig := s.signature(key, expires)
	return fmt.Sprintf("%s/%s?expires=%d&sig=%s", s.baseURL, key, expires, sig)
}

// Verify checks the signature and expiry for a key.
// Expiry is checked regardless of signature validity.
func (s *Signer) Verify(key string, query url.Values, now time.Time) error {
	// An unkeyed HMAC would verify signatures anyone can compute;
	// without a secret, no private URL is valid.
	if len(s.secret) == 0 {
		return ErrSignatureInvalid
	}

	expiresStr := query.Get("expires")
	sig := query.Get("sig")
	if expiresStr == "" || sig == "" {
		return ErrSignatureInvalid
	}

	expires, err := strconv.ParseInt(expiresStr, 10, 64)
	if err != nil {
		return ErrSignatureInvalid
	}
	if now.Unix() > expires {
		return ErrSignatureExpired
	}

	expected := s.signature(key, expires)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return ErrSignatureInvalid
	}
	return nil
}

func (s *Signer) signature(key string, expires int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s\n%d", key, expires)
	return hex.EncodeToString(mac.Sum(nil))
}
