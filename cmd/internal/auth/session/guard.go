package session

import (
	"context"
	"net/http"
	"strings"
)

// Validator reports whether a plain token names a valid session.
// *identity.Store satisfies it.
type Validator interface {
	SessionValid(token string) bool
}

// Guard authenticates inbound requests. It holds no state of its own.
type Guard struct {
	sessions Validator
}

// NewGuard returns a Guard backed by v.
func NewGuard(v Validator) Guard {
	return Guard{sessions: v}
}

// Authenticate returns the session token carried by r, or ErrUnauthorized.
// Validity is checked once; a session expiring later in the request stays usable.
func (g Guard) Authenticate(r *http.Request) (string, error) {
	tok := BearerToken(r)
	if tok == "" || g.sessions == nil || !g.sessions.SessionValid(tok) {
		return "", ErrUnauthorized
	}
	return tok, nil
}

// BearerToken extracts the token from "Authorization: Bearer <token>".
// It returns "" if the header is absent or malformed.
func BearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	tok := strings.TrimSpace(parts[1])
	if strings.ContainsAny(tok, " \t") {
		return ""
	}
	return tok
}

type ctxKey struct{}

// WithToken stores an authenticated token on ctx.
func WithToken(ctx context.Context, tok string) context.Context {
	return context.WithValue(ctx, ctxKey{}, tok)
}

// TokenFromContext returns the token stored by WithToken.
func TokenFromContext(ctx context.Context) (string, bool) {
	tok, ok := ctx.Value(ctxKey{}).(string)
	return tok, ok && tok != ""
}

// Require wraps next so it only runs for authenticated requests. The token is
// available to next via TokenFromContext. Rejections go to deny.
func (g Guard) Require(deny http.HandlerFunc, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, err := g.Authenticate(r)
		if err != nil {
			deny(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithToken(r.Context(), tok)))
	})
}
