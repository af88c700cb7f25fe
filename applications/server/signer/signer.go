package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	ExpiresParam   = "expires"
	SignatureParam = "signature"
)

var (
	ErrMissingSignature = errors.New("missing signature")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrExpired          = errors.New("signed url expired")
)

// Signer issues and verifies time-limited chunk upload URLs.
type Signer struct {
	secret []byte
	now    func() time.Time
}

func New(secret string) *Signer {
	return &Signer{
		secret: []byte(secret),
		now:    time.Now,
	}
}

// SignURL appends expiry and signature query parameters to rawURL. Only the
// method, path and expiry are covered by the signature.
func (s *Signer) SignURL(method, rawURL string, ttl time.Duration) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	expires := strconv.FormatInt(s.now().Add(ttl).Unix(), 10)

	q := u.Query()
	q.Set(ExpiresParam, expires)
	q.Set(SignatureParam, s.signature(method, u.Path, expires))
	u.RawQuery = q.Encode()

	return u.String(), nil
}

func (s *Signer) Verify(method, path string, query url.Values) error {
	expires, sig := query.Get(ExpiresParam), query.Get(SignatureParam)
	if expires == "" || sig == "" {
		return ErrMissingSignature
	}

	want, err := hex.DecodeString(s.signature(method, path, expires))
	if err != nil {
		return err
	}
	got, err := hex.DecodeString(sig)
	if err != nil || !hmac.Equal(want, got) {
		return ErrInvalidSignature
	}

	ts, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	if s.now().Unix() > ts {
		return ErrExpired
	}

	return nil
}

func (s *Signer) signature(method, path, expires string) string {
	var b strings.Builder
	b.WriteString(method + "\n")
	b.WriteString(path + "\n")
	b.WriteString(expires)

	h := hmac.New(sha256.New, s.secret)
	io.WriteString(h, b.String())

	return hex.EncodeToString(h.Sum(nil))
}
