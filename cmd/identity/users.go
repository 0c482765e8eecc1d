package identity

import (
	"slices"
	"sync"
)

// InsertUser caches u under its normalized email, replacing any entry.
func (s *Store) InsertUser(u User) Rollback {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.Email = NormalizeEmail(u.Email)
	return s.swapUser(u.Email, &u)
}

// InsertUserIfAbsent caches u unless the email is already cached, and returns
// the cached entry either way. Read-through loads use it so a concurrent
// local mutation is never overwritten by a stale remote copy.
func (s *Store) InsertUserIfAbsent(u User) User {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := NormalizeEmail(u.Email)
	if cur, ok := s.users[key]; ok {
		return cur.user.Clone()
	}
	u.Email = key
	s.swapUser(key, &u)
	return u.Clone()
}

// RemoveUser drops the cache entry for email.
func (s *Store) RemoveUser(email string) Rollback {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := NormalizeEmail(email)
	if _, ok := s.users[key]; !ok {
		return noRollback
	}
	return s.swapUser(key, nil)
}

// UserExists reports whether email is cached as an active user.
func (s *Store) UserExists(email string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.users[NormalizeEmail(email)]
	return ok
}

// GetUser returns a copy of the cached user.
func (s *Store) GetUser(email string) (User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.users[NormalizeEmail(email)]
	if !ok {
		return User{}, false
	}
	return e.user.Clone(), true
}

// ChangePassword re-salts and re-hashes the account and caches the result.
// Cached document ids are carried over; a user that is not cached starts
// with none and picks up the stored list when the caller commits.
func (s *Store) ChangePassword(email, newPassword string, newsletterOptIn bool) (User, Rollback) {
	key := NormalizeEmail(email)
	salt := s.hasher.NewSalt()
	hash := s.hasher.Hash(newPassword, salt)

	s.mu.Lock()
	defer s.mu.Unlock()

	var docIDs []string
	if cur, ok := s.users[key]; ok {
		docIDs = slices.Clone(cur.user.DocumentIDs)
	}
	u := User{
		Email:           key,
		PasswordHash:    hash,
		Salt:            salt,
		NewsletterOptIn: newsletterOptIn,
		DocumentIDs:     docIDs,
	}
	rb := s.swapUser(key, &u)
	return u.Clone(), rb
}

// EditDocumentIDs applies edit to the cached user's document id list in one
// critical section. edit receives a copy and reports whether it changed the
// list; when it did not, nothing is swapped and the Rollback is a no-op.
func (s *Store) EditDocumentIDs(email string, edit func([]string) ([]string, bool)) (User, bool, Rollback, error) {
	const op = "identity.EditDocumentIDs"

	s.mu.Lock()
	defer s.mu.Unlock()
	key := NormalizeEmail(email)
	cur, ok := s.users[key]
	if !ok {
		return User{}, false, noRollback, opErr(op, ErrNotFound, "user not cached")
	}
	u := cur.user.Clone()
	next, changed := edit(slices.Clone(u.DocumentIDs))
	if !changed {
		return u, false, noRollback, nil
	}
	u.DocumentIDs = slices.Clone(next)
	rb := s.swapUser(key, &u)
	return u.Clone(), true, rb, nil
}

// RefreshUser replaces the cached entry for u.Email with u, but only while
// one is cached. It reports whether the entry was replaced.
func (s *Store) RefreshUser(u User) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := NormalizeEmail(u.Email)
	if _, ok := s.users[key]; !ok {
		return false
	}
	s.swapUser(key, &u)
	return true
}

// DeleteUser drops the cached user and every session it owns. Pending
// registrations and reset codes for the email are dropped as well.
// It reports whether a cached user existed.
func (s *Store) DeleteUser(email string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := NormalizeEmail(email)

	_, existed := s.users[key]
	delete(s.users, key)
	s.revokeSessions(key)
	for k, p := range s.pending {
		if p.User.Email == key {
			delete(s.pending, k)
		}
	}
	for k, rc := range s.resetCodes {
		if rc.Email == key {
			delete(s.resetCodes, k)
		}
	}
	return existed
}

// revokeSessions drops every session of key. Must be called with mu held.
func (s *Store) revokeSessions(key string) {
	for k, sess := range s.sessions {
		if sess.UserKey == key {
			delete(s.sessions, k)
		}
	}
}

// swapUser installs next, or removes the entry when next is nil, and returns
// a Rollback restoring the previous entry. Must be called with mu held.
func (s *Store) swapUser(key string, next *User) Rollback {
	prev, hadPrev := s.users[key]

	var gen uint64
	if next != nil {
		gen = s.nextGen()
		u := next.Clone()
		u.Email = key
		s.users[key] = userEntry{user: u, gen: gen}
	} else {
		delete(s.users, key)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()

			cur, ok := s.users[key]
			if next != nil && (!ok || cur.gen != gen) {
				return
			}
			if next == nil && ok {
				return
			}
			if hadPrev {
				s.users[key] = prev
			} else {
				delete(s.users, key)
			}
		})
	}
}
