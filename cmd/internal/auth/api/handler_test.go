package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"projecthub/cmd/identity"
	"projecthub/cmd/internal/account"
	"projecthub/cmd/internal/docstore"
	"projecthub/cmd/internal/notify"
	"projecthub/cmd/security/password"
)

type mailbox struct {
	mu   sync.Mutex
	last notify.Message
}

func (m *mailbox) Notify(_ context.Context, msg notify.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = msg
	return nil
}

func (m *mailbox) param(t *testing.T, name string) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	i := strings.Index(m.last.Body, "http")
	if i < 0 {
		t.Fatalf("no link in %q", m.last.Body)
	}
	u, err := url.Parse(m.last.Body[i:])
	if err != nil {
		t.Fatalf("parse link: %v", err)
	}
	return u.Query().Get(name)
}

type recordingAuditor struct {
	mu      sync.Mutex
	actions []string
}

func (a *recordingAuditor) Audit(_ context.Context, ev AuditEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, ev.Action)
}

type testServer struct {
	srv   *httptest.Server
	mail  *mailbox
	audit *recordingAuditor
	docs  *docstore.Client
}

func newTestServer(t *testing.T) testServer {
	t.Helper()

	ids, err := identity.NewStore()
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	docs, err := docstore.NewClient(docstore.NewMemoryBackend())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	mail := &mailbox{}
	pw := password.DefaultConfig()
	pw.Policy.MinLength = 4
	svc, err := account.NewService(ids, docs, account.WithNotifier(mail), account.WithPasswordConfig(pw))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	audit := &recordingAuditor{}
	h, err := NewHandler(svc, ids, WithAuditor(audit))
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	mux := http.NewServeMux()
	h.Register(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return testServer{srv: srv, mail: mail, audit: audit, docs: docs}
}

func (ts testServer) do(t *testing.T, method, path, tok, body string) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := ts.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, raw
}

func (ts testServer) expect(t *testing.T, want int, method, path, tok, body string) []byte {
	t.Helper()
	got, raw := ts.do(t, method, path, tok, body)
	if got != want {
		t.Fatalf("%s %s: status=%d want %d body=%s", method, path, got, want, raw)
	}
	return raw
}

// signUpAndLogin returns a session token for a freshly activated account.
func (ts testServer) signUpAndLogin(t *testing.T, email, pw string) string {
	t.Helper()
	ts.expect(t, http.StatusOK, http.MethodPost, "/auth/pre-register", "",
		`{"email":"`+email+`","password":"`+pw+`","newsletter":true}`)
	ts.expect(t, http.StatusOK, http.MethodPost, "/auth/register", "",
		`{"uuid":"`+ts.mail.param(t, "activate")+`"}`)
	raw := ts.expect(t, http.StatusOK, http.MethodPost, "/auth/login", "",
		`{"email":"`+email+`","password":"`+pw+`"}`)
	var tok string
	if err := json.Unmarshal(raw, &tok); err != nil || tok == "" {
		t.Fatalf("login body %s: %v", raw, err)
	}
	return tok
}

func errorCode(t *testing.T, raw []byte) string {
	t.Helper()
	var er errorResponse
	if err := json.Unmarshal(raw, &er); err != nil {
		t.Fatalf("error body %s: %v", raw, err)
	}
	return er.Error.Code
}

func TestAuthFlow(t *testing.T) {
	ts := newTestServer(t)
	tok := ts.signUpAndLogin(t, "a@x.com", "secret")

	ts.expect(t, http.StatusOK, http.MethodPost, "/auth/logout", tok, "")
	ts.expect(t, http.StatusUnauthorized, http.MethodPost, "/auth/logout", tok, "")

	raw := ts.expect(t, http.StatusConflict, http.MethodPost, "/auth/pre-register", "",
		`{"email":"a@x.com","password":"other1","newsletter":false}`)
	if code := errorCode(t, raw); code != "conflict" {
		t.Fatalf("code=%q", code)
	}

	ts.expect(t, http.StatusUnauthorized, http.MethodPost, "/auth/login", "",
		`{"email":"a@x.com","password":"wrong"}`)
	ts.expect(t, http.StatusUnauthorized, http.MethodPost, "/auth/login", "",
		`{"email":"ghost@x.com","password":"secret"}`)
	ts.expect(t, http.StatusNotFound, http.MethodPost, "/auth/register", "", `{"uuid":"nope"}`)

	ts.audit.mu.Lock()
	defer ts.audit.mu.Unlock()
	want := map[string]bool{"auth.register.success": false, "auth.login.success": false, "auth.login.failed": false, "auth.logout": false}
	for _, a := range ts.audit.actions {
		if _, ok := want[a]; ok {
			want[a] = true
		}
	}
	for a, seen := range want {
		if !seen {
			t.Fatalf("audit action %q not recorded (got %v)", a, ts.audit.actions)
		}
	}
}

func TestPasswordResetFlow(t *testing.T) {
	ts := newTestServer(t)
	ts.signUpAndLogin(t, "a@x.com", "secret")

	ts.expect(t, http.StatusNotFound, http.MethodPost, "/auth/reset/request", "", `{"email":"ghost@x.com"}`)
	ts.expect(t, http.StatusOK, http.MethodPost, "/auth/reset/request", "", `{"email":"a@x.com"}`)
	code := ts.mail.param(t, "code")

	ts.expect(t, http.StatusBadRequest, http.MethodPost, "/auth/reset/confirm", "",
		`{"uuid":"`+code+`","password":"x"}`)
	ts.expect(t, http.StatusOK, http.MethodPost, "/auth/reset/confirm", "",
		`{"uuid":"`+code+`","password":"changed"}`)
	ts.expect(t, http.StatusNotFound, http.MethodPost, "/auth/reset/confirm", "",
		`{"uuid":"`+code+`","password":"changed"}`)

	ts.expect(t, http.StatusUnauthorized, http.MethodPost, "/auth/login", "",
		`{"email":"a@x.com","password":"secret"}`)
	ts.expect(t, http.StatusOK, http.MethodPost, "/auth/login", "",
		`{"email":"a@x.com","password":"changed"}`)
}

func TestMalformedBodies(t *testing.T) {
	ts := newTestServer(t)

	cases := []struct {
		name, path, body, code string
	}{
		{"not json", "/auth/login", `{`, "invalid_json"},
		{"unknown field", "/auth/login", `{"email":"a@x.com","password":"p","extra":1}`, "invalid_json"},
		{"trailing data", "/auth/login", `{"email":"a@x.com","password":"p"} {}`, "invalid_json"},
		{"empty body", "/auth/login", ``, "invalid_json"},
		{"bad email", "/auth/pre-register", `{"email":"nope","password":"secret"}`, "invalid_request"},
		{"missing password", "/auth/login", `{"email":"a@x.com"}`, "invalid_request"},
		{"missing uuid", "/auth/register", `{}`, "invalid_request"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw := ts.expect(t, http.StatusBadRequest, http.MethodPost, tc.path, "", tc.body)
			if got := errorCode(t, raw); got != tc.code {
				t.Fatalf("code=%q want %q", got, tc.code)
			}
		})
	}
}

func TestProjectDocuments(t *testing.T) {
	ts := newTestServer(t)
	tok := ts.signUpAndLogin(t, "a@x.com", "secret")

	ts.expect(t, http.StatusUnauthorized, http.MethodGet, "/projects/p1", "", "")
	ts.expect(t, http.StatusNotFound, http.MethodGet, "/projects/p1", tok, "")

	raw := ts.expect(t, http.StatusOK, http.MethodPut, "/projects/p1", tok, `{"title":"first"}`)
	var put docstore.Document
	if err := json.Unmarshal(raw, &put); err != nil {
		t.Fatalf("decode put: %v", err)
	}
	if put.ID != "p1" || put.Rev == "" {
		t.Fatalf("unexpected document %+v", put)
	}

	ts.expect(t, http.StatusOK, http.MethodPut, "/projects/p1", tok, `{"title":"second"}`)
	raw = ts.expect(t, http.StatusOK, http.MethodGet, "/projects/p1", tok, "")
	var got docstore.Document
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("decode get: %v", err)
	}
	if !bytes.Contains(got.Data, []byte("second")) || got.Rev == put.Rev {
		t.Fatalf("stale document %+v", got)
	}
}

func TestDocumentIDsAndDelete(t *testing.T) {
	ts := newTestServer(t)
	tok := ts.signUpAndLogin(t, "a@x.com", "secret")
	other := ts.signUpAndLogin(t, "b@x.com", "secret")

	list := func(raw []byte) []string {
		t.Helper()
		var ids []string
		if err := json.Unmarshal(raw, &ids); err != nil {
			t.Fatalf("decode ids %s: %v", raw, err)
		}
		return ids
	}

	if ids := list(ts.expect(t, http.StatusOK, http.MethodGet, "/users/a@x.com/documents", tok, "")); len(ids) != 0 {
		t.Fatalf("ids=%v want empty", ids)
	}
	ts.expect(t, http.StatusOK, http.MethodPost, "/users/a@x.com/documents", tok, `{"uuid":"p1"}`)
	ids := list(ts.expect(t, http.StatusOK, http.MethodPost, "/users/a@x.com/documents", tok, `{"uuid":"p2"}`))
	if len(ids) != 2 {
		t.Fatalf("ids=%v", ids)
	}
	ids = list(ts.expect(t, http.StatusOK, http.MethodDelete, "/users/a@x.com/documents/p1", tok, ""))
	if len(ids) != 1 || ids[0] != "p2" {
		t.Fatalf("ids=%v", ids)
	}

	ts.expect(t, http.StatusUnauthorized, http.MethodGet, "/users/a@x.com/documents", other, "")
	ts.expect(t, http.StatusUnauthorized, http.MethodDelete, "/users/a@x.com", other, "")

	ts.expect(t, http.StatusOK, http.MethodDelete, "/users/a@x.com", tok, "")
	ts.expect(t, http.StatusUnauthorized, http.MethodGet, "/users/a@x.com/documents", tok, "")
	if _, err := ts.docs.GetUser(context.Background(), "a@x.com"); !identity.IsNotFound(err) {
		t.Fatalf("user still stored: %v", err)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t)
	ts.expect(t, http.StatusMethodNotAllowed, http.MethodGet, "/auth/login", "", "")
}

func TestNewHandler_RequiresDependencies(t *testing.T) {
	if _, err := NewHandler(nil, nil); err == nil {
		t.Fatalf("expected error")
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.2")

	if ip := clientIP(r, false); ip.String() != "10.0.0.1" {
		t.Fatalf("untrusted ip=%v", ip)
	}
	if ip := clientIP(r, true); ip.String() != "203.0.113.9" {
		t.Fatalf("trusted ip=%v", ip)
	}
}
