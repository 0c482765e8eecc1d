package identity

import (
	"time"

	"projecthub/cmd/identity/ids"
)

// NewULID returns a new ULID (26-char string). Sessions use it as a loggable id.
func NewULID(now time.Time) (string, error) {
	return ids.NewULID(now)
}
