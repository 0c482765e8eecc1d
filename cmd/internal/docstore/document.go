package docstore

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Revision is the opaque version marker assigned by the store.
type Revision string

// Current is what a caller last observed for a key: either the document is
// absent, or it is present at a given revision.
type Current struct {
	key     string
	rev     Revision
	present bool
}

// Absent describes a key with no stored document.
func Absent(key string) Current { return Current{key: key} }

// Present describes a stored document at revision rev.
func Present(key string, rev Revision) Current {
	return Current{key: key, rev: rev, present: true}
}

// Key returns the document key.
func (c Current) Key() string { return c.key }

// Exists reports whether the document was present.
func (c Current) Exists() bool { return c.present }

// Rev returns the observed revision; ok is false for Absent.
func (c Current) Rev() (rev Revision, ok bool) { return c.rev, c.present }

func (c Current) String() string {
	if !c.present {
		return fmt.Sprintf("absent(%s)", c.key)
	}
	return fmt.Sprintf("present(%s@%s)", c.key, c.rev)
}

// Document is a project document as returned to callers.
type Document struct {
	ID   string          `json:"_id"`
	Rev  Revision        `json:"_rev"`
	Data json.RawMessage `json:"data"`
}

// projectRecord is the stored body of a project document, meta fields excluded.
type projectRecord struct {
	Data json.RawMessage `json:"data"`
}

// userRecord is the stored body of a user record, meta fields excluded.
type userRecord struct {
	Email           string   `json:"email"`
	NewsletterOptIn bool     `json:"newsletter_opt_in"`
	PasswordHash    string   `json:"password_hash"`
	Salt            string   `json:"salt"`
	DocumentIDs     []string `json:"document_ids"`
}

const (
	metaID  = "_id"
	metaRev = "_rev"
)

// withMeta returns body with _id set and _rev set when rev is non-empty.
func withMeta(body json.RawMessage, id string, rev Revision) (json.RawMessage, error) {
	fields, err := objectFields(body)
	if err != nil {
		return nil, err
	}
	idJSON, _ := json.Marshal(id)
	fields[metaID] = idJSON
	delete(fields, metaRev)
	if rev != "" {
		revJSON, _ := json.Marshal(string(rev))
		fields[metaRev] = revJSON
	}
	return json.Marshal(fields)
}

// stripMeta removes store-managed fields from body.
func stripMeta(body json.RawMessage) (json.RawMessage, error) {
	fields, err := objectFields(body)
	if err != nil {
		return nil, err
	}
	delete(fields, metaID)
	delete(fields, metaRev)
	return json.Marshal(fields)
}

func objectFields(body json.RawMessage) (map[string]json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if len(body) == 0 {
		return fields, nil
	}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("document body is not a JSON object: %w", err)
	}
	if fields == nil {
		fields = map[string]json.RawMessage{}
	}
	return fields, nil
}

// nextRevision returns a CouchDB-style "<generation>-<hex>" successor of prev.
func nextRevision(prev Revision) Revision {
	gen := 0
	if head, _, ok := strings.Cut(string(prev), "-"); ok {
		if n, err := strconv.Atoi(head); err == nil {
			gen = n
		}
	}
	var b [16]byte
	_, _ = rand.Read(b[:])
	return Revision(strconv.Itoa(gen+1) + "-" + hex.EncodeToString(b[:]))
}
