// Package docstore is the revision-aware client for the remote document store.
//
// Every stored document carries a store-assigned revision. Writes take a
// Current value describing what the caller last observed: Absent for a
// creation (no revision sent), Present for an update or delete (revision
// required). A stale revision is rejected by the store and surfaces as
// ErrConflict; the client never retries on its own.
//
// Backends speak one protocol each: CouchDB over HTTP, PostgreSQL (pgx) and
// an in-process map.
package docstore
