package docstore

import (
	"context"
	"encoding/json"
)

// Backend is one remote store protocol.
//
// Bodies exchanged with a Backend are JSON objects. Fetch returns the body
// with _id and _rev filled in; Write ignores any _id/_rev in body and takes
// them from cur instead.
type Backend interface {
	// Fetch returns the current state and body for key, or ErrNotFound.
	Fetch(ctx context.Context, db, key string) (Current, json.RawMessage, error)
	// Write creates the document when cur is Absent and updates it when cur
	// is Present. A stale or unexpected revision fails with ErrConflict.
	Write(ctx context.Context, db string, cur Current, body json.RawMessage) (Revision, error)
	// Remove deletes the document at the revision carried by cur.
	Remove(ctx context.Context, db string, cur Current) error
	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
}
