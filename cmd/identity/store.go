package identity

import (
	"errors"
	"slices"
	"sync"
	"time"

	"projecthub/cmd/security/password"
	"projecthub/cmd/security/token"
)

const (
	// DefaultSessionTTL is the lifetime of a session created by Login.
	DefaultSessionTTL = 24 * time.Hour
	// DefaultPendingTTL bounds how long an activation link stays usable.
	DefaultPendingTTL = 72 * time.Hour
	// DefaultResetCodeTTL bounds how long a reset code stays usable.
	DefaultResetCodeTTL = time.Hour
)

// User is one account as cached locally and persisted in the users database.
// PasswordHash and Salt are server-owned: only the Store recomputes them.
type User struct {
	Email           string
	PasswordHash    string
	Salt            string
	NewsletterOptIn bool
	DocumentIDs     []string
}

// Clone returns a copy that shares no memory with u.
func (u User) Clone() User {
	u.DocumentIDs = slices.Clone(u.DocumentIDs)
	if u.DocumentIDs == nil {
		u.DocumentIDs = []string{}
	}
	return u
}

// PendingRegistration is a user that has not followed its activation link yet.
// A zero ExpiresAt never expires.
type PendingRegistration struct {
	User      User
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Session is one authenticated login. The plain token is never stored.
type Session struct {
	ID         string
	UserKey    string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	LastUsedAt time.Time
	Revoked    bool
}

// ValidAt reports whether the session authenticates requests at now.
func (s Session) ValidAt(now time.Time) bool {
	return !s.Revoked && now.Before(s.ExpiresAt)
}

// ResetCode maps a one-time code to the account it may reset.
// A zero ExpiresAt never expires.
type ResetCode struct {
	Email     string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Rollback undoes exactly one speculative mutation. It is safe to call more
// than once and does nothing if the entry changed again in the meantime.
type Rollback func()

func noRollback() {}

// Counts is a point-in-time size snapshot of the Store.
type Counts struct {
	Users      int
	Pending    int
	Sessions   int
	ResetCodes int
}

type userEntry struct {
	user User
	gen  uint64
}

// Store is the in-memory identity state. Every exported method runs as one
// critical section under mu; none of them blocks on I/O.
type Store struct {
	mu sync.Mutex

	hasher   password.Hasher
	digester token.Digester
	now      func() time.Time

	sessionTTL time.Duration
	pendingTTL time.Duration
	resetTTL   time.Duration

	gen        uint64
	users      map[string]userEntry
	pending    map[string]PendingRegistration
	sessions   map[string]Session
	resetCodes map[string]ResetCode
}

// Option configures the Store.
type Option func(*Store) error

// WithHasher sets the credential hasher (default: SHA-256 scheme).
func WithHasher(h password.Hasher) Option {
	return func(s *Store) error {
		if h == nil {
			return errors.New("identity: nil hasher")
		}
		s.hasher = h
		return nil
	}
}

// WithDigester sets how plain tokens are keyed in memory.
func WithDigester(d token.Digester) Option {
	return func(s *Store) error {
		s.digester = d
		return nil
	}
}

// WithClock replaces the wall clock, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) error {
		if now == nil {
			return errors.New("identity: nil clock")
		}
		s.now = now
		return nil
	}
}

// WithSessionTTL sets the session lifetime. It must be positive.
func WithSessionTTL(d time.Duration) Option {
	return func(s *Store) error {
		if d <= 0 {
			return errors.New("identity: session ttl must be positive")
		}
		s.sessionTTL = d
		return nil
	}
}

// WithPendingTTL sets the activation window; 0 disables expiry.
func WithPendingTTL(d time.Duration) Option {
	return func(s *Store) error {
		if d < 0 {
			return errors.New("identity: negative pending ttl")
		}
		s.pendingTTL = d
		return nil
	}
}

// WithResetCodeTTL sets the reset code lifetime; 0 disables expiry.
func WithResetCodeTTL(d time.Duration) Option {
	return func(s *Store) error {
		if d < 0 {
			return errors.New("identity: negative reset code ttl")
		}
		s.resetTTL = d
		return nil
	}
}

// NewStore constructs an empty Store with safe defaults.
func NewStore(opts ...Option) (*Store, error) {
	s := &Store{
		hasher:     password.SHA256Hasher{},
		digester:   token.NewDigester(nil),
		now:        func() time.Time { return time.Now().UTC() },
		sessionTTL: DefaultSessionTTL,
		pendingTTL: DefaultPendingTTL,
		resetTTL:   DefaultResetCodeTTL,
		users:      make(map[string]userEntry),
		pending:    make(map[string]PendingRegistration),
		sessions:   make(map[string]Session),
		resetCodes: make(map[string]ResetCode),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Counts returns the current number of entries per table.
func (s *Store) Counts() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Counts{
		Users:      len(s.users),
		Pending:    len(s.pending),
		Sessions:   len(s.sessions),
		ResetCodes: len(s.resetCodes),
	}
}

// Sweep drops expired or revoked sessions, expired pending registrations and
// expired reset codes. It returns the number of removed entries.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k, sess := range s.sessions {
		if !sess.ValidAt(now) {
			delete(s.sessions, k)
			n++
		}
	}
	for k, p := range s.pending {
		if expired(p.ExpiresAt, now) {
			delete(s.pending, k)
			n++
		}
	}
	for k, rc := range s.resetCodes {
		if expired(rc.ExpiresAt, now) {
			delete(s.resetCodes, k)
			n++
		}
	}
	return n
}

// nextGen must be called with mu held.
func (s *Store) nextGen() uint64 {
	s.gen++
	return s.gen
}

func expired(expiresAt, now time.Time) bool {
	return !expiresAt.IsZero() && !now.Before(expiresAt)
}

func deadline(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}
