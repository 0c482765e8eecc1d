package authapi

import (
	"os"
	"strconv"
	"strings"
)

// Config controls request decoding and client address resolution.
type Config struct {
	// TrustProxy makes X-Forwarded-For / X-Real-IP authoritative for audit records.
	TrustProxy   bool
	MaxBodyBytes int64
	// MaxDocumentBytes bounds PUT /projects/{id} bodies.
	MaxDocumentBytes int64
}

// DefaultConfig returns the limits used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:     1 << 20,  // 1 MiB
		MaxDocumentBytes: 8 << 20, // 8 MiB
	}
}

// LoadConfigFromEnv loads API config from environment variables with safe defaults.
func LoadConfigFromEnv() Config {
	def := DefaultConfig()
	return Config{
		TrustProxy:       envBool("PROJECTHUB_API_TRUST_PROXY", false),
		MaxBodyBytes:     envInt64("PROJECTHUB_API_MAX_BODY_BYTES", def.MaxBodyBytes),
		MaxDocumentBytes: envInt64("PROJECTHUB_API_MAX_DOCUMENT_BYTES", def.MaxDocumentBytes),
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
