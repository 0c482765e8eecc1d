package identity

import (
	"strings"

	"projecthub/cmd/security/password"

	"github.com/google/uuid"
)

// Login checks password against candidate and opens a session on match.
// candidate comes from the cache or, on a miss, from the remote store.
// Any mismatch fails with ErrUnauthorized; the hash is computed either way.
func (s *Store) Login(pw string, candidate User) (string, error) {
	const op = "identity.Login"

	computed := s.hasher.Hash(pw, candidate.Salt)
	key := NormalizeEmail(candidate.Email)
	if key == "" || candidate.PasswordHash == "" || !password.Equal(computed, candidate.PasswordHash) {
		return "", opErr(op, ErrUnauthorized, "invalid credentials")
	}

	now := s.now()
	id, err := NewULID(now)
	if err != nil {
		return "", opErr(op, ErrInternal, err.Error())
	}
	tok := uuid.NewString()
	digest := s.digester.Digest(tok)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[digest] = Session{
		ID:         id,
		UserKey:    key,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.sessionTTL),
		LastUsedAt: now,
	}
	return tok, nil
}

// Logout revokes the session. Unknown tokens are a no-op.
func (s *Store) Logout(tok string) {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return
	}
	digest := s.digester.Digest(tok)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, digest)
}

// SessionValid reports whether tok names an unrevoked, unexpired session and
// records the access.
func (s *Store) SessionValid(tok string) bool {
	_, ok := s.lookupSession(tok, true)
	return ok
}

// EmailForToken resolves a valid session to the email it authenticates.
func (s *Store) EmailForToken(tok string) (string, bool) {
	sess, ok := s.lookupSession(tok, false)
	if !ok {
		return "", false
	}
	return sess.UserKey, true
}

// Session returns the session record behind tok, if valid.
func (s *Store) Session(tok string) (Session, bool) {
	return s.lookupSession(tok, false)
}

func (s *Store) lookupSession(tok string, touch bool) (Session, bool) {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return Session{}, false
	}
	digest := s.digester.Digest(tok)

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[digest]
	if !ok {
		return Session{}, false
	}
	now := s.now()
	if !sess.ValidAt(now) {
		return Session{}, false
	}
	if touch {
		sess.LastUsedAt = now
		s.sessions[digest] = sess
	}
	return sess, true
}
