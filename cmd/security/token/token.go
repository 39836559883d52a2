package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// HMACEnvKey is the env var name for the token HMAC secret.
	// #nosec G101 -- not a credential; it's an environment variable name.
	HMACEnvKey = "PARLEY_TOKEN_HMAC_KEY"

	// TTLEnvKey is the env var name for the minted token lifetime.
	TTLEnvKey = "PARLEY_TOKEN_TTL"

	// MinKeyBytes is the enforced minimum HMAC key length.
	MinKeyBytes = 32

	// DefaultTTL applies when PARLEY_TOKEN_TTL is unset or invalid.
	DefaultTTL = 12 * time.Hour
)

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// KeyFromEnv returns the configured HMAC key bytes (trimmed), enforcing the
// minimum byte length.
// If the env var is missing/blank -> ErrKeyMissing.
// If too short -> ErrKeyTooShort.
func KeyFromEnv() ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(HMACEnvKey))
	if raw == "" {
		return nil, ErrKeyMissing
	}
	b := []byte(raw)
	if len(b) < MinKeyBytes {
		return nil, ErrKeyTooShort
	}
	return b, nil
}

// Enabled reports whether the env key is present (non-empty after trim).
// Note: This does not enforce minimum length. Use KeyFromEnv for policy checks.
func Enabled() bool {
	raw := strings.TrimSpace(os.Getenv(HMACEnvKey))
	return raw != ""
}

// TTLFromEnv returns the configured token lifetime, or DefaultTTL.
func TTLFromEnv() time.Duration {
	raw := strings.TrimSpace(os.Getenv(TTLEnvKey))
	if raw == "" {
		return DefaultTTL
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return DefaultTTL
	}
	return d
}

// Provider mints and verifies access tokens with a shared HMAC key.
// The zero value is unusable; construct via NewProvider or FromEnv.
type Provider struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewProvider constructs a provider from an explicit key and lifetime.
func NewProvider(key []byte, ttl time.Duration) (*Provider, error) {
	if len(key) == 0 {
		return nil, ErrKeyMissing
	}
	if len(key) < MinKeyBytes {
		return nil, ErrKeyTooShort
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Provider{key: key, ttl: ttl, now: func() time.Time { return time.Now().UTC() }}, nil
}

// FromEnv constructs a provider from PARLEY_TOKEN_HMAC_KEY and
// PARLEY_TOKEN_TTL.
func FromEnv() (*Provider, error) {
	key, err := KeyFromEnv()
	if err != nil {
		return nil, err
	}
	return NewProvider(key, TTLFromEnv())
}

// Mint returns a signed token binding subject until now+ttl, and the expiry.
func (p *Provider) Mint(subject string) (string, time.Time, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", time.Time{}, fmt.Errorf("mint: empty subject: %w", ErrTokenMalformed)
	}

	expires := p.now().Add(p.ttl).Unix()
	body := base64.RawURLEncoding.EncodeToString([]byte(subject)) + "." + strconv.FormatInt(expires, 10)
	sig := HashHMACSHA256Hex(body, p.key)

	return body + "." + sig, time.Unix(expires, 0).UTC(), nil
}

// Verify checks the token's signature and expiry and returns its subject.
// Signature is checked before expiry so a tampered expiry cannot pass.
func (p *Provider) Verify(tok string) (string, error) {
	parts := strings.Split(strings.TrimSpace(tok), ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", ErrTokenMalformed
	}

	body := parts[0] + "." + parts[1]
	want := HashHMACSHA256Hex(body, p.key)
	if !hmac.Equal([]byte(want), []byte(parts[2])) {
		return "", ErrTokenSignature
	}

	expires, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", ErrTokenMalformed
	}
	if p.now().After(time.Unix(expires, 0)) {
		return "", ErrTokenExpired
	}

	sub, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil || len(sub) == 0 {
		return "", ErrTokenMalformed
	}
	return string(sub), nil
}

// TTL reports the mint lifetime.
func (p *Provider) TTL() time.Duration {
	return p.ttl
}
