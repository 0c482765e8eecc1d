package identity

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// PreRegister stages an account behind a fresh activation token and returns
// the token. The caller has already checked the remote store; the cache check
// here runs in the same critical section as the insert.
func (s *Store) PreRegister(email, password string, newsletterOptIn bool) (string, error) {
	const op = "identity.PreRegister"

	key := NormalizeEmail(email)
	if key == "" {
		return "", opErr(op, ErrInvalidInput, "email is required")
	}

	salt := s.hasher.NewSalt()
	hash := s.hasher.Hash(password, salt)
	tok := uuid.NewString()
	digest := s.digester.Digest(tok)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[key]; ok {
		return "", opErr(op, ErrConflict, "email already active")
	}

	now := s.now()
	s.pending[digest] = PendingRegistration{
		User: User{
			Email:           key,
			PasswordHash:    hash,
			Salt:            salt,
			NewsletterOptIn: newsletterOptIn,
			DocumentIDs:     []string{},
		},
		CreatedAt: now,
		ExpiresAt: deadline(now, s.pendingTTL),
	}
	return tok, nil
}

// Register consumes an activation token and caches the resulting user.
// Unknown, consumed and expired tokens all fail with ErrNotFound.
// The Rollback removes the user again, revokes any session opened for it in
// the meantime and reinstates the pending registration.
func (s *Store) Register(activationToken string) (User, Rollback, error) {
	const op = "identity.Register"

	activationToken = strings.TrimSpace(activationToken)
	if activationToken == "" {
		return User{}, noRollback, opErr(op, ErrNotFound, "unknown activation token")
	}
	digest := s.digester.Digest(activationToken)

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[digest]
	if !ok {
		return User{}, noRollback, opErr(op, ErrNotFound, "unknown activation token")
	}
	if expired(p.ExpiresAt, s.now()) {
		delete(s.pending, digest)
		return User{}, noRollback, opErr(op, ErrNotFound, "unknown activation token")
	}

	u := p.User
	if _, active := s.users[u.Email]; active {
		delete(s.pending, digest)
		return User{}, noRollback, opErr(op, ErrConflict, "email already active")
	}

	delete(s.pending, digest)
	undoUser := s.swapUser(u.Email, &u)

	var once sync.Once
	rb := func() {
		once.Do(func() {
			undoUser()
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, still := s.users[u.Email]; !still {
				s.revokeSessions(u.Email)
			}
			if _, taken := s.pending[digest]; !taken {
				s.pending[digest] = p
			}
		})
	}
	return u.Clone(), rb, nil
}
