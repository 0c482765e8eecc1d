package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"projecthub/cmd/identity"
)

const (
	DefaultUsersDB    = "users"
	DefaultProjectsDB = "projects"
	DefaultTimeout    = 10 * time.Second
)

// Observer receives the outcome of every Client operation.
type Observer interface {
	ObserveDocstore(op string, err error, elapsed time.Duration)
}

// Client is a stateless protocol adapter over a Backend. It holds no cache.
type Client struct {
	backend    Backend
	usersDB    string
	projectsDB string
	timeout    time.Duration
	observer   Observer
	log        *slog.Logger
}

// Option configures the Client.
type Option func(*Client) error

// WithDatabases sets the user and project database names.
func WithDatabases(users, projects string) Option {
	return func(c *Client) error {
		users, projects = strings.TrimSpace(users), strings.TrimSpace(projects)
		if users == "" || projects == "" {
			return errors.New("docstore: empty database name")
		}
		if users == projects {
			return errors.New("docstore: users and projects must be distinct databases")
		}
		c.usersDB, c.projectsDB = users, projects
		return nil
	}
}

// WithTimeout bounds each Client operation, including every round-trip it makes.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d < 0 {
			return errors.New("docstore: negative timeout")
		}
		c.timeout = d
		return nil
	}
}

// WithObserver installs a metrics observer.
func WithObserver(o Observer) Option {
	return func(c *Client) error {
		c.observer = o
		return nil
	}
}

// WithLogger sets the logger used for failed operations.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) error {
		if l != nil {
			c.log = l
		}
		return nil
	}
}

// NewClient constructs a Client over backend.
func NewClient(backend Backend, opts ...Option) (*Client, error) {
	if backend == nil {
		return nil, errors.New("docstore: nil backend")
	}
	c := &Client{
		backend:    backend,
		usersDB:    DefaultUsersDB,
		projectsDB: DefaultProjectsDB,
		timeout:    DefaultTimeout,
		log:        slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Ping checks the backend within the client timeout.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := c.bound(ctx)
	defer cancel()
	return c.backend.Ping(ctx)
}

// GetDocument fetches a project document. A missing document is ErrNotFound,
// never a transport failure.
func (c *Client) GetDocument(ctx context.Context, key string) (doc Document, err error) {
	const op = "docstore.GetDocument"
	defer c.track(op, time.Now(), &err)

	if strings.TrimSpace(key) == "" {
		return Document{}, invalid(op, "empty key")
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()
	return c.getDocument(ctx, key)
}

// PutDocument upserts a project document and returns it with its new revision.
//
// The current revision is read first: a present document is updated at that
// revision, an absent one is created without a revision and then re-read. Any
// other read failure aborts the write.
func (c *Client) PutDocument(ctx context.Context, key string, payload json.RawMessage) (doc Document, err error) {
	const op = "docstore.PutDocument"
	defer c.track(op, time.Now(), &err)

	if strings.TrimSpace(key) == "" {
		return Document{}, invalid(op, "empty key")
	}
	if len(payload) == 0 || !json.Valid(payload) {
		return Document{}, invalid(op, "payload is not valid JSON")
	}
	body, err := json.Marshal(projectRecord{Data: payload})
	if err != nil {
		return Document{}, invalid(op, err.Error())
	}

	ctx, cancel := c.bound(ctx)
	defer cancel()

	cur, _, err := c.backend.Fetch(ctx, c.projectsDB, key)
	switch {
	case err == nil:
		rev, err := c.backend.Write(ctx, c.projectsDB, cur, body)
		if err != nil {
			return Document{}, err
		}
		return Document{ID: key, Rev: rev, Data: slices.Clone(payload)}, nil
	case errors.Is(err, ErrNotFound):
		if _, err := c.backend.Write(ctx, c.projectsDB, Absent(key), body); err != nil {
			return Document{}, err
		}
		return c.getDocument(ctx, key)
	default:
		return Document{}, err
	}
}

// GetUser loads a user record from the store.
func (c *Client) GetUser(ctx context.Context, email string) (u identity.User, err error) {
	const op = "docstore.GetUser"
	defer c.track(op, time.Now(), &err)

	key := identity.NormalizeEmail(email)
	if key == "" {
		return identity.User{}, invalid(op, "empty email")
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()

	rec, _, err := c.getUserPayload(ctx, key)
	if err != nil {
		return identity.User{}, err
	}
	return rec.toUser(key), nil
}

// PutUser upserts a user record. For an existing record the stored password
// hash and salt are kept and only the newsletter flag and document ids are
// taken from u. An absent record is written from u in full, so it is only
// for activation; later edits go through UpdateDocumentIDs.
func (c *Client) PutUser(ctx context.Context, u identity.User) (out identity.User, err error) {
	const op = "docstore.PutUser"
	defer c.track(op, time.Now(), &err)

	key := identity.NormalizeEmail(u.Email)
	if key == "" {
		return identity.User{}, invalid(op, "empty email")
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()

	stored, cur, err := c.getUserPayload(ctx, key)
	var next userRecord
	switch {
	case err == nil:
		next = stored
		next.NewsletterOptIn = u.NewsletterOptIn
		next.DocumentIDs = slices.Clone(u.DocumentIDs)
	case errors.Is(err, ErrNotFound):
		cur = Absent(key)
		next = recordFromUser(key, u)
	default:
		return identity.User{}, err
	}
	return c.writeUser(ctx, key, cur, next)
}

// UpdateDocumentIDs applies edit to the stored document id list and writes
// the result at the revision it was read at. The record must exist: an absent
// record is ErrNotFound and is never recreated. A write that lost a race
// against another writer fails with ErrConflict. When edit reports no change
// nothing is written and the stored user is returned.
func (c *Client) UpdateDocumentIDs(ctx context.Context, email string, edit func([]string) ([]string, bool)) (out identity.User, err error) {
	const op = "docstore.UpdateDocumentIDs"
	defer c.track(op, time.Now(), &err)

	key := identity.NormalizeEmail(email)
	if key == "" {
		return identity.User{}, invalid(op, "empty email")
	}
	if edit == nil {
		return identity.User{}, invalid(op, "nil edit")
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()

	stored, cur, err := c.getUserPayload(ctx, key)
	if err != nil {
		return identity.User{}, err
	}
	ids, changed := edit(slices.Clone(stored.DocumentIDs))
	if !changed {
		return stored.toUser(key), nil
	}
	next := stored
	next.DocumentIDs = slices.Clone(ids)
	return c.writeUser(ctx, key, cur, next)
}

// PutCredentials commits a password change. The stored document ids are kept
// and the hash, salt and newsletter flag are taken from u. The record must exist.
func (c *Client) PutCredentials(ctx context.Context, u identity.User) (out identity.User, err error) {
	const op = "docstore.PutCredentials"
	defer c.track(op, time.Now(), &err)

	key := identity.NormalizeEmail(u.Email)
	if key == "" {
		return identity.User{}, invalid(op, "empty email")
	}
	if u.PasswordHash == "" || u.Salt == "" {
		return identity.User{}, invalid(op, "missing credentials")
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()

	stored, cur, err := c.getUserPayload(ctx, key)
	if err != nil {
		return identity.User{}, err
	}
	next := stored
	next.PasswordHash = u.PasswordHash
	next.Salt = u.Salt
	next.NewsletterOptIn = u.NewsletterOptIn
	return c.writeUser(ctx, key, cur, next)
}

// DeleteUser removes a user record at its current revision. Deleting a
// record that does not exist fails with ErrNotFound.
func (c *Client) DeleteUser(ctx context.Context, email string) (err error) {
	const op = "docstore.DeleteUser"
	defer c.track(op, time.Now(), &err)

	key := identity.NormalizeEmail(email)
	if key == "" {
		return invalid(op, "empty email")
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()

	_, cur, err := c.getUserPayload(ctx, key)
	if err != nil {
		return err
	}
	return c.backend.Remove(ctx, c.usersDB, cur)
}

func (c *Client) getDocument(ctx context.Context, key string) (Document, error) {
	cur, body, err := c.backend.Fetch(ctx, c.projectsDB, key)
	if err != nil {
		return Document{}, err
	}
	var rec projectRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return Document{}, &TransportError{Op: "docstore.GetDocument", Err: err}
	}
	rev, _ := cur.Rev()
	data := rec.Data
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	return Document{ID: key, Rev: rev, Data: data}, nil
}

// getUserPayload returns the raw stored user fields and the revision they
// were read at. It is the read half of every user write.
func (c *Client) getUserPayload(ctx context.Context, key string) (userRecord, Current, error) {
	cur, body, err := c.backend.Fetch(ctx, c.usersDB, key)
	if err != nil {
		return userRecord{}, Current{}, err
	}
	var rec userRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return userRecord{}, Current{}, &TransportError{Op: "docstore.getUserPayload", Err: err}
	}
	return rec, cur, nil
}

func (c *Client) writeUser(ctx context.Context, key string, cur Current, rec userRecord) (identity.User, error) {
	if rec.DocumentIDs == nil {
		rec.DocumentIDs = []string{}
	}
	rec.Email = key
	body, err := json.Marshal(rec)
	if err != nil {
		return identity.User{}, invalid("docstore.writeUser", err.Error())
	}
	if _, err := c.backend.Write(ctx, c.usersDB, cur, body); err != nil {
		return identity.User{}, err
	}
	return rec.toUser(key), nil
}

func (c *Client) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) track(op string, start time.Time, errp *error) {
	err := *errp
	elapsed := time.Since(start)
	if c.observer != nil {
		c.observer.ObserveDocstore(op, err, elapsed)
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		c.log.Warn("docstore.op.fail",
			slog.String("op", op),
			slog.Duration("elapsed", elapsed),
			slog.Any("err", err),
		)
	}
}

func recordFromUser(key string, u identity.User) userRecord {
	return userRecord{
		Email:           key,
		NewsletterOptIn: u.NewsletterOptIn,
		PasswordHash:    u.PasswordHash,
		Salt:            u.Salt,
		DocumentIDs:     slices.Clone(u.DocumentIDs),
	}
}

func (r userRecord) toUser(key string) identity.User {
	ids := slices.Clone(r.DocumentIDs)
	if ids == nil {
		ids = []string{}
	}
	return identity.User{
		Email:           key,
		PasswordHash:    r.PasswordHash,
		Salt:            r.Salt,
		NewsletterOptIn: r.NewsletterOptIn,
		DocumentIDs:     ids,
	}
}
