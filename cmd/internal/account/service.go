// Package account runs the user-facing operations on top of the identity
// store and the document store client.
//
// Mutations follow one pattern: change the local identity state, commit the
// change remotely, and undo the local change if the commit fails. Remote
// calls never run while the identity store is locked. Commits that edit an
// existing account are serialized per account so a concurrent deletion or
// edit cannot interleave with them.
package account

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"projecthub/cmd/identity"
	"projecthub/cmd/internal/docstore"
	"projecthub/cmd/internal/notify"
	"projecthub/cmd/security/password"
)

// Documents is the remote persistence the service commits to.
// *docstore.Client satisfies it.
type Documents interface {
	GetDocument(ctx context.Context, key string) (docstore.Document, error)
	PutDocument(ctx context.Context, key string, payload json.RawMessage) (docstore.Document, error)
	GetUser(ctx context.Context, email string) (identity.User, error)
	PutUser(ctx context.Context, u identity.User) (identity.User, error)
	PutCredentials(ctx context.Context, u identity.User) (identity.User, error)
	UpdateDocumentIDs(ctx context.Context, email string, edit func([]string) ([]string, bool)) (identity.User, error)
	DeleteUser(ctx context.Context, email string) error
}

// EventRecorder counts operation outcomes.
type EventRecorder interface {
	AuthEvent(event string, err error)
}

// Service is safe for concurrent use.
type Service struct {
	ids      *identity.Store
	docs     Documents
	notifier notify.Notifier
	pw       password.Config
	baseURL  string
	log      *slog.Logger
	events   EventRecorder

	accountLocks [64]sync.Mutex
}

// Option configures the Service.
type Option func(*Service) error

// WithNotifier sets where activation and reset links are sent.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) error {
		if n == nil {
			return errors.New("account: nil notifier")
		}
		s.notifier = n
		return nil
	}
}

// WithPasswordConfig sets the password policy applied on registration and reset.
func WithPasswordConfig(cfg password.Config) Option {
	return func(s *Service) error {
		s.pw = cfg
		return nil
	}
}

// WithPublicURL sets the base URL that activation and reset links point at.
func WithPublicURL(raw string) Option {
	return func(s *Service) error {
		raw = strings.TrimRight(strings.TrimSpace(raw), "/")
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return errors.New("account: public url must be an absolute http(s) url")
		}
		s.baseURL = raw
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) error {
		if l != nil {
			s.log = l
		}
		return nil
	}
}

// WithEvents installs an outcome recorder.
func WithEvents(r EventRecorder) Option {
	return func(s *Service) error {
		s.events = r
		return nil
	}
}

// NewService constructs a Service.
func NewService(ids *identity.Store, docs Documents, opts ...Option) (*Service, error) {
	if ids == nil || docs == nil {
		return nil, errors.New("account: identity store and documents are required")
	}
	s := &Service{
		ids:      ids,
		docs:     docs,
		notifier: notify.Noop{},
		pw:       password.DefaultConfig(),
		baseURL:  "http://localhost:8080",
		log:      slog.Default(),
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

// Sessions exposes the identity store for session checks.
func (s *Service) Sessions() *identity.Store { return s.ids }

func (s *Service) record(event string, err error) {
	if s.events != nil {
		s.events.AuthEvent(event, err)
	}
}

func (s *Service) activationLink(tok string) string {
	return s.baseURL + "/auth?activate=" + url.QueryEscape(tok)
}

func (s *Service) resetLink(code string) string {
	return s.baseURL + "/auth?code=" + url.QueryEscape(code)
}

// loadUser returns the cached user or fetches it from the store and caches it.
func (s *Service) loadUser(ctx context.Context, email string) (identity.User, error) {
	if u, ok := s.ids.GetUser(email); ok {
		return u, nil
	}
	u, err := s.docs.GetUser(ctx, email)
	if err != nil {
		return identity.User{}, err
	}
	return s.ids.InsertUserIfAbsent(u), nil
}

// lockAccount serializes commits touching the account stored under key.
func (s *Service) lockAccount(key string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	mu := &s.accountLocks[h.Sum32()%uint32(len(s.accountLocks))]
	mu.Lock()
	return mu.Unlock
}

// owner resolves tok and checks that it authenticates email.
func (s *Service) owner(op, tok, email string) (string, error) {
	who, ok := s.ids.EmailForToken(tok)
	if !ok || who != identity.NormalizeEmail(email) {
		return "", identity.OpError{Op: op, Kind: identity.ErrUnauthorized}
	}
	return who, nil
}

func invalidInput(op string, err error) error {
	return identity.OpError{Op: op, Kind: identity.ErrInvalidInput, Msg: err.Error()}
}
