package session

import (
	"os"
	"time"
)

// Config holds the lifetimes of the identity store's time-bounded entries.
type Config struct {
	// SessionTTL is the fixed lifetime of a login session.
	SessionTTL time.Duration

	// PendingTTL bounds how long an activation link works. 0 disables expiry.
	PendingTTL time.Duration

	// ResetCodeTTL bounds how long a reset code works. 0 disables expiry.
	ResetCodeTTL time.Duration

	// SweepInterval is how often expired entries are dropped. 0 disables sweeping.
	SweepInterval time.Duration
}

// DefaultConfig returns the reference lifetimes.
func DefaultConfig() Config {
	return Config{
		SessionTTL:    24 * time.Hour,
		PendingTTL:    72 * time.Hour,
		ResetCodeTTL:  time.Hour,
		SweepInterval: 10 * time.Minute,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Optional (durations must be valid Go duration strings):
//   - PROJECTHUB_SESSION_TTL (must be positive)
//   - PROJECTHUB_PENDING_TTL
//   - PROJECTHUB_RESET_CODE_TTL
//   - PROJECTHUB_SWEEP_INTERVAL
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("PROJECTHUB_SESSION_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.SessionTTL = d
	}

	for _, f := range []struct {
		env string
		dst *time.Duration
	}{
		{"PROJECTHUB_PENDING_TTL", &cfg.PendingTTL},
		{"PROJECTHUB_RESET_CODE_TTL", &cfg.ResetCodeTTL},
		{"PROJECTHUB_SWEEP_INTERVAL", &cfg.SweepInterval},
	} {
		v := os.Getenv(f.env)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		*f.dst = d
	}

	return cfg, nil
}
