package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"projecthub/cmd/identity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemoryClient(t *testing.T, opts ...Option) (*Client, *MemoryBackend) {
	t.Helper()
	mb := NewMemoryBackend()
	c, err := NewClient(mb, opts...)
	require.NoError(t, err)
	return c, mb
}

func TestPutDocument_CreateThenUpdate(t *testing.T) {
	ctx := context.Background()
	c, _ := newMemoryClient(t)

	_, err := c.GetDocument(ctx, "p1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrTransport))

	first, err := c.PutDocument(ctx, "p1", json.RawMessage(`{"title":"a"}`))
	require.NoError(t, err)
	assert.Equal(t, "p1", first.ID)
	assert.NotEmpty(t, first.Rev)
	assert.JSONEq(t, `{"title":"a"}`, string(first.Data))

	second, err := c.PutDocument(ctx, "p1", json.RawMessage(`{"title":"b"}`))
	require.NoError(t, err)
	assert.NotEqual(t, first.Rev, second.Rev)

	got, err := c.GetDocument(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, second.Rev, got.Rev)
	assert.JSONEq(t, `{"title":"b"}`, string(got.Data))
}

func TestPutDocument_NonObjectPayload(t *testing.T) {
	ctx := context.Background()
	c, _ := newMemoryClient(t)

	doc, err := c.PutDocument(ctx, "p1", json.RawMessage(`[1,2,3]`))
	require.NoError(t, err)
	assert.JSONEq(t, `[1,2,3]`, string(doc.Data))

	_, err = c.PutDocument(ctx, "p1", json.RawMessage(`{nope`))
	assert.True(t, errors.Is(err, ErrInvalidInput))
	_, err = c.PutDocument(ctx, " ", json.RawMessage(`{}`))
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

// flakyBackend fails Fetch with a transport error and records writes.
type flakyBackend struct {
	*MemoryBackend
	fetchErr error
	writes   int
}

func (f *flakyBackend) Fetch(ctx context.Context, db, key string) (Current, json.RawMessage, error) {
	if f.fetchErr != nil {
		return Current{}, nil, f.fetchErr
	}
	return f.MemoryBackend.Fetch(ctx, db, key)
}

func (f *flakyBackend) Write(ctx context.Context, db string, cur Current, body json.RawMessage) (Revision, error) {
	f.writes++
	return f.MemoryBackend.Write(ctx, db, cur, body)
}

func TestPutDocument_FetchFailureAbortsWrite(t *testing.T) {
	fb := &flakyBackend{
		MemoryBackend: NewMemoryBackend(),
		fetchErr:      &TransportError{Op: "test", Status: 503},
	}
	c, err := NewClient(fb)
	require.NoError(t, err)

	_, err = c.PutDocument(context.Background(), "p1", json.RawMessage(`{}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransport))
	assert.Equal(t, 0, fb.writes, "a failed read must never be treated as absent")

	_, err = c.PutUser(context.Background(), identity.User{Email: "a@x.com"})
	assert.True(t, errors.Is(err, ErrTransport))
	assert.Equal(t, 0, fb.writes)
}

func TestStaleRevisionIsConflict(t *testing.T) {
	ctx := context.Background()
	mb := NewMemoryBackend()

	rev, err := mb.Write(ctx, "projects", Absent("p1"), json.RawMessage(`{"data":1}`))
	require.NoError(t, err)
	_, err = mb.Write(ctx, "projects", Present("p1", rev), json.RawMessage(`{"data":2}`))
	require.NoError(t, err)

	_, err = mb.Write(ctx, "projects", Present("p1", rev), json.RawMessage(`{"data":3}`))
	assert.True(t, errors.Is(err, ErrConflict))
	_, err = mb.Write(ctx, "projects", Absent("p1"), json.RawMessage(`{"data":3}`))
	assert.True(t, errors.Is(err, ErrConflict))
	assert.True(t, errors.Is(mb.Remove(ctx, "projects", Present("p1", rev)), ErrConflict))
}

func seedUser(t *testing.T, c *Client, u identity.User) {
	t.Helper()
	_, err := c.PutUser(context.Background(), u)
	require.NoError(t, err)
}

func TestPutUser_PreservesCredentials(t *testing.T) {
	ctx := context.Background()
	c, _ := newMemoryClient(t)
	seedUser(t, c, identity.User{
		Email:        "A@x.com",
		PasswordHash: "hash-1",
		Salt:         "salt-1",
		DocumentIDs:  []string{"p1"},
	})

	out, err := c.PutUser(ctx, identity.User{
		Email:           "a@x.com",
		PasswordHash:    "",
		Salt:            "client-supplied",
		NewsletterOptIn: true,
		DocumentIDs:     []string{"p1", "p2"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hash-1", out.PasswordHash)
	assert.Equal(t, "salt-1", out.Salt)

	got, err := c.GetUser(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", got.Email)
	assert.Equal(t, "hash-1", got.PasswordHash)
	assert.Equal(t, "salt-1", got.Salt)
	assert.True(t, got.NewsletterOptIn)
	assert.Equal(t, []string{"p1", "p2"}, got.DocumentIDs)
}

func TestPutCredentials_PreservesDocumentIDs(t *testing.T) {
	ctx := context.Background()
	c, _ := newMemoryClient(t)

	_, err := c.PutCredentials(ctx, identity.User{Email: "a@x.com", PasswordHash: "h", Salt: "s"})
	assert.True(t, errors.Is(err, ErrNotFound))

	seedUser(t, c, identity.User{
		Email: "a@x.com", PasswordHash: "h1", Salt: "s1", DocumentIDs: []string{"p1"},
	})
	out, err := c.PutCredentials(ctx, identity.User{
		Email: "a@x.com", PasswordHash: "h2", Salt: "s2", NewsletterOptIn: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "h2", out.PasswordHash)
	assert.Equal(t, "s2", out.Salt)
	assert.True(t, out.NewsletterOptIn)
	assert.Equal(t, []string{"p1"}, out.DocumentIDs)

	_, err = c.PutCredentials(ctx, identity.User{Email: "a@x.com"})
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestDeleteUser_NotIdempotent(t *testing.T) {
	ctx := context.Background()
	c, _ := newMemoryClient(t)
	seedUser(t, c, identity.User{Email: "a@x.com", PasswordHash: "h", Salt: "s"})

	require.NoError(t, c.DeleteUser(ctx, "a@x.com"))
	_, err := c.GetUser(ctx, "a@x.com")
	assert.True(t, errors.Is(err, ErrNotFound))

	err = c.DeleteUser(ctx, "a@x.com")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestGetUserPayload_CarriesRevision(t *testing.T) {
	ctx := context.Background()
	c, _ := newMemoryClient(t)
	seedUser(t, c, identity.User{Email: "a@x.com", PasswordHash: "h", Salt: "s"})

	rec, cur, err := c.getUserPayload(ctx, "a@x.com")
	require.NoError(t, err)
	assert.True(t, cur.Exists())
	rev, ok := cur.Rev()
	assert.True(t, ok)
	assert.NotEmpty(t, rev)
	assert.Equal(t, "h", rec.PasswordHash)
}

type slowBackend struct{ *MemoryBackend }

func (s slowBackend) Fetch(ctx context.Context, db, key string) (Current, json.RawMessage, error) {
	<-ctx.Done()
	return Current{}, nil, &TransportError{Op: "slow", Err: ctx.Err()}
}

func TestClientTimeoutIsTransportFailure(t *testing.T) {
	c, err := NewClient(slowBackend{NewMemoryBackend()}, WithTimeout(20*time.Millisecond))
	require.NoError(t, err)

	_, err = c.GetUser(context.Background(), "a@x.com")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransport))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

type recordingObserver struct {
	mu   sync.Mutex
	ops  []string
	errs []error
}

func (r *recordingObserver) ObserveDocstore(op string, err error, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op)
	r.errs = append(r.errs, err)
}

func TestClientReportsToObserver(t *testing.T) {
	obs := &recordingObserver{}
	c, _ := newMemoryClient(t, WithObserver(obs))

	_, _ = c.GetDocument(context.Background(), "missing")
	_, _ = c.PutDocument(context.Background(), "p1", json.RawMessage(`{}`))

	require.Equal(t, []string{"docstore.GetDocument", "docstore.PutDocument"}, obs.ops)
	assert.True(t, errors.Is(obs.errs[0], ErrNotFound))
	assert.NoError(t, obs.errs[1])
}

func TestNewClient_Options(t *testing.T) {
	_, err := NewClient(nil)
	assert.Error(t, err)
	_, err = NewClient(NewMemoryBackend(), WithDatabases("same", "same"))
	assert.Error(t, err)
	_, err = NewClient(NewMemoryBackend(), WithTimeout(-time.Second))
	assert.Error(t, err)

	c, err := NewClient(NewMemoryBackend(), WithDatabases("u", "p"))
	require.NoError(t, err)
	assert.Equal(t, "u", c.usersDB)
	assert.Equal(t, "p", c.projectsDB)
}

func TestNextRevision(t *testing.T) {
	r1 := nextRevision("")
	assert.Regexp(t, `^1-[0-9a-f]{32}$`, string(r1))
	r2 := nextRevision(r1)
	assert.Regexp(t, `^2-[0-9a-f]{32}$`, string(r2))
}

func addID(id string) func([]string) ([]string, bool) {
	return func(ids []string) ([]string, bool) {
		for _, x := range ids {
			if x == id {
				return ids, false
			}
		}
		return append(ids, id), true
	}
}

func TestUpdateDocumentIDs(t *testing.T) {
	ctx := context.Background()
	c, _ := newMemoryClient(t)
	seedUser(t, c, identity.User{Email: "a@x.com", PasswordHash: "h", Salt: "s", DocumentIDs: []string{"p1"}})

	out, err := c.UpdateDocumentIDs(ctx, "A@x.com", addID("p2"))
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2"}, out.DocumentIDs)
	assert.Equal(t, "h", out.PasswordHash)

	got, err := c.GetUser(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2"}, got.DocumentIDs)
	assert.Equal(t, "s", got.Salt)

	_, err = c.UpdateDocumentIDs(ctx, " ", addID("p3"))
	assert.True(t, errors.Is(err, ErrInvalidInput))
	_, err = c.UpdateDocumentIDs(ctx, "a@x.com", nil)
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestUpdateDocumentIDs_NeverRecreatesRecord(t *testing.T) {
	ctx := context.Background()
	c, _ := newMemoryClient(t)

	_, err := c.UpdateDocumentIDs(ctx, "gone@x.com", addID("p1"))
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = c.GetUser(ctx, "gone@x.com")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestUpdateDocumentIDs_UnchangedSkipsWrite(t *testing.T) {
	fb := &flakyBackend{MemoryBackend: NewMemoryBackend()}
	c, err := NewClient(fb)
	require.NoError(t, err)
	seedUser(t, c, identity.User{Email: "a@x.com", PasswordHash: "h", Salt: "s", DocumentIDs: []string{"p1"}})
	before := fb.writes

	out, err := c.UpdateDocumentIDs(context.Background(), "a@x.com", addID("p1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, out.DocumentIDs)
	assert.Equal(t, before, fb.writes)
}

// racingBackend lets another writer commit between a user read and the
// write that follows it.
type racingBackend struct {
	*MemoryBackend
	once sync.Once
	race func()
}

func (r *racingBackend) Fetch(ctx context.Context, db, key string) (Current, json.RawMessage, error) {
	cur, body, err := r.MemoryBackend.Fetch(ctx, db, key)
	if err == nil && db == DefaultUsersDB {
		r.once.Do(r.race)
	}
	return cur, body, err
}

func TestUpdateDocumentIDs_StaleReadIsConflict(t *testing.T) {
	ctx := context.Background()
	rb := &racingBackend{MemoryBackend: NewMemoryBackend()}
	seeder, err := NewClient(rb.MemoryBackend)
	require.NoError(t, err)
	seedUser(t, seeder, identity.User{Email: "a@x.com", PasswordHash: "h", Salt: "s"})

	rb.race = func() {
		_, err := seeder.UpdateDocumentIDs(ctx, "a@x.com", addID("p2"))
		require.NoError(t, err)
	}
	c, err := NewClient(rb)
	require.NoError(t, err)

	_, err = c.UpdateDocumentIDs(ctx, "a@x.com", addID("p1"))
	assert.True(t, errors.Is(err, ErrConflict))

	got, err := seeder.GetUser(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"p2"}, got.DocumentIDs, "the committed edit survives")
}
