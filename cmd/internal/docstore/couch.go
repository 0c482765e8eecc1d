package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxCouchBody = 16 << 20

// CouchBackend speaks the CouchDB document API.
type CouchBackend struct {
	base     string
	user     string
	password string
	hc       *http.Client
}

// CouchOption configures CouchBackend.
type CouchOption func(*CouchBackend) error

// WithBasicAuth sets the credentials sent with every request.
func WithBasicAuth(user, password string) CouchOption {
	return func(b *CouchBackend) error {
		b.user, b.password = user, password
		return nil
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) CouchOption {
	return func(b *CouchBackend) error {
		if hc == nil {
			return errors.New("docstore: nil http client")
		}
		b.hc = hc
		return nil
	}
}

// NewCouchBackend returns a backend for the CouchDB server at rawURL.
func NewCouchBackend(rawURL string, opts ...CouchOption) (*CouchBackend, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("docstore: couch url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.New("docstore: couch url must be http or https")
	}
	if u.User != nil {
		// Credentials embedded in the URL are moved to basic auth.
		pw, _ := u.User.Password()
		opts = append([]CouchOption{WithBasicAuth(u.User.Username(), pw)}, opts...)
	}

	b := &CouchBackend{
		hc: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(b); err != nil {
			return nil, err
		}
	}
	u.User = nil
	b.base = strings.TrimRight(u.String(), "/")
	return b, nil
}

type couchStatus struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

type couchWriteResult struct {
	OK  bool     `json:"ok"`
	ID  string   `json:"id"`
	Rev Revision `json:"rev"`
}

// Fetch implements Backend.
func (b *CouchBackend) Fetch(ctx context.Context, db, key string) (Current, json.RawMessage, error) {
	const op = "docstore.couch.Fetch"

	status, body, err := b.do(ctx, op, http.MethodGet, b.docURL(db, key, ""), nil)
	if err != nil {
		return Current{}, nil, err
	}
	if err := classify(op, key, status, body); err != nil {
		return Current{}, nil, err
	}

	var meta struct {
		Rev Revision `json:"_rev"`
	}
	if err := json.Unmarshal(body, &meta); err != nil {
		return Current{}, nil, &TransportError{Op: op, Status: status, Err: err}
	}
	if meta.Rev == "" {
		return Current{}, nil, &TransportError{Op: op, Status: status, Err: errors.New("document without _rev")}
	}
	return Present(key, meta.Rev), body, nil
}

// Write implements Backend.
func (b *CouchBackend) Write(ctx context.Context, db string, cur Current, body json.RawMessage) (Revision, error) {
	const op = "docstore.couch.Write"

	rev, _ := cur.Rev()
	payload, err := withMeta(body, cur.Key(), rev)
	if err != nil {
		return "", invalid(op, err.Error())
	}

	status, resp, err := b.do(ctx, op, http.MethodPut, b.docURL(db, cur.Key(), ""), payload)
	if err != nil {
		return "", err
	}
	if err := classify(op, cur.Key(), status, resp); err != nil {
		return "", err
	}

	var out couchWriteResult
	if err := json.Unmarshal(resp, &out); err != nil {
		return "", &TransportError{Op: op, Status: status, Err: err}
	}
	return out.Rev, nil
}

// Remove implements Backend.
func (b *CouchBackend) Remove(ctx context.Context, db string, cur Current) error {
	const op = "docstore.couch.Remove"

	rev, ok := cur.Rev()
	if !ok {
		return invalid(op, "delete requires a revision")
	}
	status, resp, err := b.do(ctx, op, http.MethodDelete, b.docURL(db, cur.Key(), rev), nil)
	if err != nil {
		return err
	}
	return classify(op, cur.Key(), status, resp)
}

// Ping implements Backend.
func (b *CouchBackend) Ping(ctx context.Context) error {
	const op = "docstore.couch.Ping"

	status, resp, err := b.do(ctx, op, http.MethodGet, b.base+"/", nil)
	if err != nil {
		return err
	}
	return classify(op, "", status, resp)
}

// EnsureDatabase creates db if it does not exist yet.
func (b *CouchBackend) EnsureDatabase(ctx context.Context, db string) error {
	const op = "docstore.couch.EnsureDatabase"

	status, resp, err := b.do(ctx, op, http.MethodPut, b.base+"/"+url.PathEscape(db), nil)
	if err != nil {
		return err
	}
	if status == http.StatusPreconditionFailed {
		return nil
	}
	return classify(op, db, status, resp)
}

func (b *CouchBackend) docURL(db, key string, rev Revision) string {
	u := b.base + "/" + url.PathEscape(db) + "/" + url.PathEscape(key)
	if rev != "" {
		u += "?rev=" + url.QueryEscape(string(rev))
	}
	return u
}

func (b *CouchBackend) do(ctx context.Context, op, method, target string, body []byte) (int, []byte, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return 0, nil, &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.user != "" {
		req.SetBasicAuth(b.user, b.password)
	}

	resp, err := b.hc.Do(req)
	if err != nil {
		return 0, nil, &TransportError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxCouchBody))
	if err != nil {
		return resp.StatusCode, nil, &TransportError{Op: op, Status: resp.StatusCode, Err: err}
	}
	return resp.StatusCode, raw, nil
}

// classify maps a CouchDB status to the error taxonomy; 2xx is nil.
func classify(op, key string, status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return notFound(op, key)
	case status == http.StatusConflict || status == http.StatusPreconditionFailed:
		return conflict(op, key)
	}

	var cs couchStatus
	_ = json.Unmarshal(body, &cs)
	var cause error
	if cs.Error != "" {
		cause = fmt.Errorf("%s: %s", cs.Error, cs.Reason)
	}
	return &TransportError{Op: op, Status: status, Err: cause}
}
