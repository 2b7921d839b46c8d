package auth

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

const (
	HeaderAuth    = "x-auth"
	HeaderEncData = "x-enc-data"
	HeaderMTS     = "x-mts"
)

// Signer decorates outgoing backend requests with auth headers.
type Signer interface {
	Sign(req *http.Request) error
}

// Static attaches fixed header values, e.g. a token handed over by the host app.
type Static map[string]string

func (s Static) Sign(req *http.Request) error {
	for k, v := range s {
		if v != "" {
			req.Header.Set(k, v)
		}
	}
	return nil
}

// HeaderSigner mints x-auth per request and optionally seals EncPayload into x-enc-data.
// Zero-valued fields disable the matching header.
type HeaderSigner struct {
	Secret     []byte
	Subject    string
	TTL        time.Duration
	EncKey     []byte
	EncPayload []byte
	Now        func() time.Time
}

func NewHeaderSigner(secret, subject string, ttl time.Duration, encSecret, encPayload string) (*HeaderSigner, error) {
	s := &HeaderSigner{
		Secret:  []byte(secret),
		Subject: subject,
		TTL:     ttl,
	}
	if encSecret != "" && encPayload != "" {
		key, err := DeriveKey(encSecret)
		if err != nil {
			return nil, err
		}
		s.EncKey = key
		s.EncPayload = []byte(encPayload)
	}
	return s, nil
}

func (s *HeaderSigner) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *HeaderSigner) Sign(req *http.Request) error {
	now := s.now()
	req.Header.Set(HeaderMTS, strconv.FormatInt(now.UnixMilli(), 10))

	if len(s.Secret) > 0 {
		ttl := s.TTL
		if ttl <= 0 {
			ttl = 10 * time.Minute
		}
		tok, err := SignJWT(s.Subject, s.Secret, ttl, now)
		if err != nil {
			return fmt.Errorf("sign x-auth: %w", err)
		}
		req.Header.Set(HeaderAuth, tok)
	}

	if len(s.EncKey) > 0 && len(s.EncPayload) > 0 {
		enc, err := EncryptPayload(s.EncKey, s.EncPayload)
		if err != nil {
			return fmt.Errorf("seal x-enc-data: %w", err)
		}
		req.Header.Set(HeaderEncData, enc)
	}
	return nil
}
