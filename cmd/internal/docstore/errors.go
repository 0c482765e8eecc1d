package docstore

import (
	"fmt"

	"projecthub/cmd/identity"
)

// Error kinds returned by backends and the Client. They are the identity
// kinds so one classification serves every layer.
var (
	ErrNotFound     = identity.ErrNotFound
	ErrConflict     = identity.ErrConflict
	ErrTransport    = identity.ErrTransport
	ErrInvalidInput = identity.ErrInvalidInput
)

// TransportError reports an unreachable store or an unexpected response.
// It matches ErrTransport and, when set, the underlying cause.
type TransportError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("%s: transport: status %d: %v", e.Op, e.Status, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("%s: transport: status %d", e.Op, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s: transport: %v", e.Op, e.Err)
	default:
		return e.Op + ": transport"
	}
}

func (e *TransportError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrTransport}
	}
	return []error{ErrTransport, e.Err}
}

func notFound(op, key string) error {
	return identity.OpError{Op: op, Kind: ErrNotFound, Msg: key}
}

func conflict(op, key string) error {
	return identity.OpError{Op: op, Kind: ErrConflict, Msg: key}
}

func invalid(op, msg string) error {
	return identity.OpError{Op: op, Kind: ErrInvalidInput, Msg: msg}
}
