// Package notify delivers activation and reset links to account owners.
package notify

import (
	"context"
	"log/slog"
	"strings"
)

// Message is one outbound notification.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Notifier attempts delivery of m and reports whether it succeeded.
type Notifier interface {
	Notify(ctx context.Context, m Message) error
}

// Noop drops every message.
type Noop struct{}

// Notify implements Notifier.
func (Noop) Notify(context.Context, Message) error { return nil }

// LogNotifier writes messages to a logger instead of delivering them.
// Intended for development: the body holds single-use links.
type LogNotifier struct {
	Log *slog.Logger
}

// Notify implements Notifier.
func (n LogNotifier) Notify(ctx context.Context, m Message) error {
	l := n.Log
	if l == nil {
		l = slog.Default()
	}
	l.InfoContext(ctx, "notify.deliver",
		slog.String("to", m.To),
		slog.String("subject", m.Subject),
		slog.String("body", m.Body),
	)
	return nil
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, m Message) error

// Notify implements Notifier.
func (f Func) Notify(ctx context.Context, m Message) error { return f(ctx, m) }

// sanitizeHeader strips CR/LF so values cannot inject extra headers.
func sanitizeHeader(s string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(strings.TrimSpace(s))
}
