package authapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditEvent is one security-relevant action. It never carries secrets.
type AuditEvent struct {
	Action    string
	Email     string
	IP        net.IP
	UserAgent string
	Meta      map[string]any
}

// Auditor records AuditEvents. Implementations must not fail the request.
type Auditor interface {
	Audit(ctx context.Context, ev AuditEvent)
}

// LogAuditor writes audit events to a structured logger.
type LogAuditor struct {
	Log *slog.Logger
}

// Audit implements Auditor.
func (a LogAuditor) Audit(ctx context.Context, ev AuditEvent) {
	l := a.Log
	if l == nil {
		l = slog.Default()
	}
	attrs := []any{slog.String("action", ev.Action)}
	if ev.Email != "" {
		attrs = append(attrs, slog.String("email", ev.Email))
	}
	if ev.IP != nil {
		attrs = append(attrs, slog.String("ip", ev.IP.String()))
	}
	if len(ev.Meta) > 0 {
		attrs = append(attrs, slog.Any("meta", ev.Meta))
	}
	l.InfoContext(ctx, "audit", attrs...)
}

// PostgresAuditor appends audit events to docstore.audit_log. The table is
// created by the postgres document backend migrations.
type PostgresAuditor struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewPostgresAuditor returns an Auditor writing through pool.
func NewPostgresAuditor(pool *pgxpool.Pool, log *slog.Logger) (*PostgresAuditor, error) {
	if pool == nil {
		return nil, errors.New("authapi: nil audit pool")
	}
	if log == nil {
		log = slog.Default()
	}
	return &PostgresAuditor{pool: pool, log: log}, nil
}

// Audit implements Auditor.
func (a *PostgresAuditor) Audit(ctx context.Context, ev AuditEvent) {
	action := strings.TrimSpace(ev.Action)
	if action == "" {
		return
	}

	var ipVal any
	if ev.IP != nil {
		ipVal = ev.IP.String()
	}

	var metaVal *string
	if len(ev.Meta) > 0 {
		if b, err := json.Marshal(ev.Meta); err == nil {
			s := string(b)
			metaVal = &s
		}
	}

	_, err := a.pool.Exec(ctx, `
		INSERT INTO docstore.audit_log (action, email, ip, user_agent, meta)
		VALUES ($1, $2, $3::inet, $4, $5::jsonb)
	`, action, trimOrNil(ev.Email), ipVal, trimOrNil(ev.UserAgent), metaVal)
	if err != nil {
		a.log.Error("auth.audit.insert.fail", "err", err, "action", action)
	}
}

func (h *Handler) audit(r *http.Request, action, email string, meta map[string]any) {
	if h.auditor == nil {
		return
	}
	h.auditor.Audit(r.Context(), AuditEvent{
		Action:    action,
		Email:     email,
		IP:        clientIP(r, h.cfg.TrustProxy),
		UserAgent: strings.TrimSpace(r.UserAgent()),
		Meta:      meta,
	})
}

func trimOrNil(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
