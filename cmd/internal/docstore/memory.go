package docstore

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
)

// MemoryBackend keeps documents in process memory with CouchDB-style
// revisions. Used for local development and tests.
type MemoryBackend struct {
	mu  sync.Mutex
	dbs map[string]map[string]memDoc
}

type memDoc struct {
	rev  Revision
	body json.RawMessage
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{dbs: make(map[string]map[string]memDoc)}
}

// Fetch implements Backend.
func (m *MemoryBackend) Fetch(ctx context.Context, db, key string) (Current, json.RawMessage, error) {
	const op = "docstore.memory.Fetch"
	if err := ctx.Err(); err != nil {
		return Current{}, nil, &TransportError{Op: op, Err: err}
	}

	m.mu.Lock()
	d, ok := m.dbs[db][key]
	m.mu.Unlock()
	if !ok {
		return Current{}, nil, notFound(op, key)
	}
	body, err := withMeta(d.body, key, d.rev)
	if err != nil {
		return Current{}, nil, &TransportError{Op: op, Err: err}
	}
	return Present(key, d.rev), body, nil
}

// Write implements Backend.
func (m *MemoryBackend) Write(ctx context.Context, db string, cur Current, body json.RawMessage) (Revision, error) {
	const op = "docstore.memory.Write"
	if err := ctx.Err(); err != nil {
		return "", &TransportError{Op: op, Err: err}
	}
	clean, err := stripMeta(body)
	if err != nil {
		return "", invalid(op, err.Error())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	docs := m.dbs[db]
	if docs == nil {
		docs = make(map[string]memDoc)
		m.dbs[db] = docs
	}
	existing, exists := docs[cur.Key()]
	want, present := cur.Rev()
	if exists != present || (present && existing.rev != want) {
		return "", conflict(op, cur.Key())
	}

	rev := nextRevision(existing.rev)
	docs[cur.Key()] = memDoc{rev: rev, body: slices.Clone(clean)}
	return rev, nil
}

// Remove implements Backend.
func (m *MemoryBackend) Remove(ctx context.Context, db string, cur Current) error {
	const op = "docstore.memory.Remove"
	if err := ctx.Err(); err != nil {
		return &TransportError{Op: op, Err: err}
	}
	want, ok := cur.Rev()
	if !ok {
		return invalid(op, "delete requires a revision")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	existing, exists := m.dbs[db][cur.Key()]
	if !exists {
		return notFound(op, cur.Key())
	}
	if existing.rev != want {
		return conflict(op, cur.Key())
	}
	delete(m.dbs[db], cur.Key())
	return nil
}

// Ping implements Backend.
func (m *MemoryBackend) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &TransportError{Op: "docstore.memory.Ping", Err: err}
	}
	return nil
}
