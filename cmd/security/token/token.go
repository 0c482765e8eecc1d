package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"os"
	"strings"
)

const (
	// HMACEnvKey is the env var name for the token HMAC secret.
	// #nosec G101 -- not a credential; it's an environment variable name.
	HMACEnvKey = "PROJECTHUB_TOKEN_HMAC_KEY"

	// DefaultBytes is the entropy of generated tokens.
	DefaultBytes = 32
)

// NewOpaque returns a URL-safe random token carrying nBytes of entropy.
func NewOpaque(nBytes int) (string, error) {
	if nBytes <= 0 {
		nBytes = DefaultBytes
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

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

// HMACKeyFromEnv returns the configured HMAC key bytes (trimmed), enforcing a minimum byte length.
// If the env var is missing/blank -> ErrHMACKeyMissing.
// If too short -> ErrHMACKeyTooShort.
func HMACKeyFromEnv(minBytes int) ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(HMACEnvKey))
	if raw == "" {
		return nil, ErrHMACKeyMissing
	}
	b := []byte(raw)
	if minBytes > 0 && len(b) < minBytes {
		return nil, ErrHMACKeyTooShort
	}
	return b, nil
}

// Digester maps plain tokens to the keys they are stored under.
type Digester struct {
	key []byte
}

// NewDigester returns a Digester; an empty key selects plain SHA-256.
func NewDigester(key []byte) Digester {
	return Digester{key: append([]byte(nil), key...)}
}

// DigesterFromEnv builds a Digester from PROJECTHUB_TOKEN_HMAC_KEY when set.
func DigesterFromEnv() Digester {
	return NewDigester([]byte(strings.TrimSpace(os.Getenv(HMACEnvKey))))
}

// Keyed reports whether the digester runs in HMAC mode.
func (d Digester) Keyed() bool { return len(d.key) > 0 }

// Digest returns the storage key for a plain token.
func (d Digester) Digest(tok string) string {
	if len(d.key) == 0 {
		return HashSHA256Hex(tok)
	}
	return HashHMACSHA256Hex(tok, d.key)
}
