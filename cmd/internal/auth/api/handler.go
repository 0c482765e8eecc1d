package authapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"projecthub/cmd/identity"
	"projecthub/cmd/internal/auth/session"
	"projecthub/cmd/internal/docstore"
)

// Accounts is the operation surface the handler dispatches to.
// *account.Service satisfies it.
type Accounts interface {
	PreRegister(ctx context.Context, email, password string, newsletterOptIn bool) error
	Activate(ctx context.Context, activationToken string) (identity.User, error)
	Login(ctx context.Context, email, password string) (string, error)
	Logout(ctx context.Context, tok string)
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, code, newPassword string) error

	GetDocument(ctx context.Context, key string) (docstore.Document, error)
	PutDocument(ctx context.Context, key string, payload json.RawMessage) (docstore.Document, error)
	DocumentIDs(ctx context.Context, tok, email string) ([]string, error)
	AddDocumentID(ctx context.Context, tok, email, id string) ([]string, error)
	RemoveDocumentID(ctx context.Context, tok, email, id string) ([]string, error)
	DeleteAccount(ctx context.Context, tok, email string) error
}

// Handler wires HTTP endpoints to the account operations.
type Handler struct {
	log     *slog.Logger
	cfg     Config
	svc     Accounts
	guard   session.Guard
	auditor Auditor

	auditorSet bool
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithLogger sets the logger used for internal failures.
func WithLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// WithConfig overrides DefaultConfig.
func WithConfig(cfg Config) HandlerOption {
	return func(h *Handler) {
		def := DefaultConfig()
		if cfg.MaxBodyBytes <= 0 {
			cfg.MaxBodyBytes = def.MaxBodyBytes
		}
		if cfg.MaxDocumentBytes <= 0 {
			cfg.MaxDocumentBytes = def.MaxDocumentBytes
		}
		h.cfg = cfg
	}
}

// WithAuditor overrides the default log auditor. A nil auditor disables auditing.
func WithAuditor(a Auditor) HandlerOption {
	return func(h *Handler) {
		h.auditor = a
		h.auditorSet = true
	}
}

// NewHandler constructs a Handler. sessions authenticates guarded routes.
func NewHandler(svc Accounts, sessions session.Validator, opts ...HandlerOption) (*Handler, error) {
	if svc == nil || sessions == nil {
		return nil, errors.New("authapi: accounts and session validator are required")
	}
	h := &Handler{
		log:   slog.Default(),
		cfg:   DefaultConfig(),
		svc:   svc,
		guard: session.NewGuard(sessions),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}
	if !h.auditorSet {
		h.auditor = LogAuditor{Log: h.log}
	}
	return h, nil
}

// Register wires all routes onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST /auth/pre-register", h.handlePreRegister)
	mux.HandleFunc("POST /auth/register", h.handleRegister)
	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.Handle("POST /auth/logout", h.requireAuth(h.handleLogout))
	mux.HandleFunc("POST /auth/reset/request", h.handleResetRequest)
	mux.HandleFunc("POST /auth/reset/confirm", h.handleResetConfirm)

	mux.Handle("GET /projects/{id}", h.requireAuth(h.handleGetDocument))
	mux.Handle("PUT /projects/{id}", h.requireAuth(h.handlePutDocument))

	mux.Handle("GET /users/{email}/documents", h.requireAuth(h.handleListDocumentIDs))
	mux.Handle("POST /users/{email}/documents", h.requireAuth(h.handleAddDocumentID))
	mux.Handle("DELETE /users/{email}/documents/{id}", h.requireAuth(h.handleRemoveDocumentID))
	mux.Handle("DELETE /users/{email}", h.requireAuth(h.handleDeleteAccount))
}

// ---- auth ----

func (h *Handler) handlePreRegister(w http.ResponseWriter, r *http.Request) {
	var req preRegisterRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.PreRegister(r.Context(), req.Email, req.Password, req.Newsletter); err != nil {
		h.fail(w, r, "auth.pre_register", err)
		return
	}
	h.audit(r, "auth.pre_register", identity.NormalizeEmail(req.Email), nil)
	writeJSON(w, http.StatusOK, okResponse)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decode(w, r, &req) {
		return
	}
	u, err := h.svc.Activate(r.Context(), req.UUID)
	if err != nil {
		h.fail(w, r, "auth.register", err)
		return
	}
	h.audit(r, "auth.register.success", u.Email, nil)
	writeJSON(w, http.StatusOK, okResponse)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}
	email := identity.NormalizeEmail(req.Email)
	tok, err := h.svc.Login(r.Context(), email, req.Password)
	if err != nil {
		if errors.Is(err, identity.ErrUnauthorized) {
			h.audit(r, "auth.login.failed", email, nil)
		}
		h.fail(w, r, "auth.login", err)
		return
	}
	h.audit(r, "auth.login.success", email, nil)
	writeJSON(w, http.StatusOK, tok)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request, tok string) {
	h.svc.Logout(r.Context(), tok)
	h.audit(r, "auth.logout", "", nil)
	writeJSON(w, http.StatusOK, okResponse)
}

func (h *Handler) handleResetRequest(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !h.decode(w, r, &req) {
		return
	}
	email := identity.NormalizeEmail(req.Email)
	if err := h.svc.RequestPasswordReset(r.Context(), email); err != nil {
		h.fail(w, r, "auth.reset_request", err)
		return
	}
	h.audit(r, "auth.reset.requested", email, nil)
	writeJSON(w, http.StatusOK, okResponse)
}

func (h *Handler) handleResetConfirm(w http.ResponseWriter, r *http.Request) {
	var req resetConfirmRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.ResetPassword(r.Context(), req.UUID, req.Password); err != nil {
		h.fail(w, r, "auth.reset_confirm", err)
		return
	}
	h.audit(r, "auth.reset.completed", "", nil)
	writeJSON(w, http.StatusOK, okResponse)
}

// ---- documents ----

func (h *Handler) handleGetDocument(w http.ResponseWriter, r *http.Request, _ string) {
	doc, err := h.svc.GetDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, "docs.get", err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) handlePutDocument(w http.ResponseWriter, r *http.Request, _ string) {
	var payload json.RawMessage
	if err := decodeJSON(w, r, h.cfg.MaxDocumentBytes, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	doc, err := h.svc.PutDocument(r.Context(), r.PathValue("id"), payload)
	if err != nil {
		h.fail(w, r, "docs.put", err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) handleListDocumentIDs(w http.ResponseWriter, r *http.Request, tok string) {
	ids, err := h.svc.DocumentIDs(r.Context(), tok, r.PathValue("email"))
	if err != nil {
		h.fail(w, r, "users.documents.list", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(ids))
}

func (h *Handler) handleAddDocumentID(w http.ResponseWriter, r *http.Request, tok string) {
	var req documentIDRequest
	if !h.decode(w, r, &req) {
		return
	}
	ids, err := h.svc.AddDocumentID(r.Context(), tok, r.PathValue("email"), req.UUID)
	if err != nil {
		h.fail(w, r, "users.documents.add", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(ids))
}

func (h *Handler) handleRemoveDocumentID(w http.ResponseWriter, r *http.Request, tok string) {
	ids, err := h.svc.RemoveDocumentID(r.Context(), tok, r.PathValue("email"), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, "users.documents.remove", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(ids))
}

func (h *Handler) handleDeleteAccount(w http.ResponseWriter, r *http.Request, tok string) {
	email := identity.NormalizeEmail(r.PathValue("email"))
	if err := h.svc.DeleteAccount(r.Context(), tok, email); err != nil {
		h.fail(w, r, "users.delete", err)
		return
	}
	h.audit(r, "account.deleted", email, nil)
	writeJSON(w, http.StatusOK, okResponse)
}

// ---- helpers ----

type validatable interface {
	Validate() error
}

// decode reads and validates a request body, writing a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, req validatable) bool {
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return false
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return false
	}
	return true
}

// requireAuth runs next with the caller's session token, or answers 401.
func (h *Handler) requireAuth(next func(http.ResponseWriter, *http.Request, string)) http.Handler {
	return h.guard.Require(
		func(w http.ResponseWriter, _ *http.Request) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid session token")
		},
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok, _ := session.TokenFromContext(r.Context())
			next(w, r, tok)
		}),
	)
}

// fail maps an operation error onto the response status classes.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, event string, err error) {
	switch {
	case errors.Is(err, identity.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_request", opMessage(err, "invalid input"))
	case errors.Is(err, identity.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, identity.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", opMessage(err, "conflict"))
	case errors.Is(err, identity.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
	default:
		h.log.ErrorContext(r.Context(), event+".fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

func opMessage(err error, fallback string) string {
	var oe identity.OpError
	if errors.As(err, &oe) && oe.Msg != "" {
		return oe.Msg
	}
	return fallback
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
