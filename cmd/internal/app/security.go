package app

import (
	"errors"

	"projecthub/cmd/security/token"
)

// ValidateSecurityConfig enforces the token-digest policy at startup and
// returns the digester the identity store keys sessions with.
func ValidateSecurityConfig(cfg Config) (token.Digester, error) {
	if !cfg.RequireTokenHMAC {
		return token.DigesterFromEnv(), nil
	}

	// Key length is measured in bytes; the key is used raw.
	key, err := token.HMACKeyFromEnv(32)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return token.Digester{}, errors.New("security policy: PROJECTHUB_REQUIRE_TOKEN_HMAC=true but PROJECTHUB_TOKEN_HMAC_KEY is missing")
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return token.Digester{}, errors.New("security policy: PROJECTHUB_REQUIRE_TOKEN_HMAC=true but PROJECTHUB_TOKEN_HMAC_KEY is too short (min 32 bytes)")
		default:
			return token.Digester{}, err
		}
	}

	d := token.NewDigester(key)
	if !d.Keyed() {
		return token.Digester{}, errors.New("security policy: PROJECTHUB_REQUIRE_TOKEN_HMAC=true but token digester is not in HMAC mode")
	}
	return d, nil
}
