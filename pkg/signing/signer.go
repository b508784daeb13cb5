// Package signing issues HMAC tokens that bind a subject and a payload to an expiry.
// Export download links and Google OAuth state values both use it.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMalformed = errors.New("signing: invalid token format")
	ErrSignature = errors.New("signing: invalid token signature")
	ErrExpired   = errors.New("signing: token expired")
)

// Claims is the content of a verified token.
type Claims struct {
	Subject   string
	Payload   string
	ExpiresAt time.Time
}

// Signer creates and validates signed tokens.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner constructs a signer with the provided secret and default TTL.
func NewSigner(secret string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// TTL returns the default lifetime of issued tokens.
func (s *Signer) TTL() time.Duration {
	return s.ttl
}

// Sign returns a token referencing subject and payload, valid for the signer TTL.
func (s *Signer) Sign(subject, payload string) (string, time.Time, error) {
	if subject == "" || payload == "" {
		return "", time.Time{}, fmt.Errorf("subject and payload required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := s.now().Add(s.ttl)
	ts := strconv.FormatInt(expiresAt.Unix(), 10)
	encoded := base64.RawURLEncoding.EncodeToString([]byte(payload))
	token := strings.Join([]string{subject, ts, encoded, s.mac(subject, ts, encoded)}, ".")
	return token, time.Unix(expiresAt.Unix(), 0), nil
}

// Verify validates a token and returns the embedded claims.
// When allowExpired is true, the timestamp check is skipped (used by cleanup routines).
func (s *Signer) Verify(token string, allowExpired bool) (Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 4 {
		return Claims{}, ErrMalformed
	}
	subject, ts, encoded, signature := parts[0], parts[1], parts[2], parts[3]

	expUnix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return Claims{}, ErrMalformed
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return Claims{}, ErrMalformed
	}
	if !hmac.Equal([]byte(s.mac(subject, ts, encoded)), []byte(signature)) {
		return Claims{}, ErrSignature
	}

	claims := Claims{Subject: subject, Payload: string(raw), ExpiresAt: time.Unix(expUnix, 0)}
	if !allowExpired && s.now().After(claims.ExpiresAt) {
		return Claims{}, ErrExpired
	}
	return claims, nil
}

func (s *Signer) mac(subject, ts, encoded string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(subject + "|" + ts + "|" + encoded))
	return hex.EncodeToString(mac.Sum(nil))
}
