// Package identity holds the in-memory identity and session state of a
// projecthub instance.
//
// The Store owns activated users (a read-through cache of the document
// store), pending registrations, sessions and one-time reset codes. It never
// talks to the network: callers commit its speculative mutations remotely and
// undo them with the returned Rollback when that commit fails.
//
// The package also defines the error kinds shared by every layer.
package identity
