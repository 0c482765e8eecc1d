package session

import (
	"errors"

	"projecthub/cmd/identity"
)

var (
	// ErrUnauthorized is returned for a missing, malformed, expired or revoked
	// session token. The reasons are deliberately not distinguished.
	ErrUnauthorized = identity.OpError{Op: "session.Authenticate", Kind: identity.ErrUnauthorized}

	// ErrConfig is returned when the session configuration is invalid.
	ErrConfig = errors.New("invalid session configuration")
)
