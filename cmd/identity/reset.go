package identity

import (
	"strings"

	"projecthub/cmd/security/token"
)

// RequestResetCode issues a one-time code for email. Whether the account
// exists is the caller's concern.
func (s *Store) RequestResetCode(email string) (string, error) {
	const op = "identity.RequestResetCode"

	key := NormalizeEmail(email)
	if key == "" {
		return "", opErr(op, ErrInvalidInput, "email is required")
	}
	code, err := token.NewOpaque(token.DefaultBytes)
	if err != nil {
		return "", opErr(op, ErrInternal, err.Error())
	}
	digest := s.digester.Digest(code)

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.resetCodes[digest] = ResetCode{
		Email:     key,
		CreatedAt: now,
		ExpiresAt: deadline(now, s.resetTTL),
	}
	return code, nil
}

// EmailForResetCode resolves a code without consuming it. Callers remove the
// code with RemoveResetCode once the reset is committed.
func (s *Store) EmailForResetCode(code string) (string, bool) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", false
	}
	digest := s.digester.Digest(code)

	s.mu.Lock()
	defer s.mu.Unlock()
	rc, ok := s.resetCodes[digest]
	if !ok {
		return "", false
	}
	if expired(rc.ExpiresAt, s.now()) {
		delete(s.resetCodes, digest)
		return "", false
	}
	return rc.Email, true
}

// RemoveResetCode consumes code. Unknown codes are a no-op.
func (s *Store) RemoveResetCode(code string) {
	code = strings.TrimSpace(code)
	if code == "" {
		return
	}
	digest := s.digester.Digest(code)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.resetCodes, digest)
}
