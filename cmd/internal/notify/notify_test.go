package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := LogNotifier{Log: slog.New(slog.NewJSONHandler(&buf, nil))}

	require.NoError(t, n.Notify(context.Background(), Message{To: "a@x.com", Subject: "hi", Body: "link"}))
	assert.Contains(t, buf.String(), `"msg":"notify.deliver"`)
	assert.Contains(t, buf.String(), `"to":"a@x.com"`)
}

func TestSMTPNotifier_Compose(t *testing.T) {
	n, err := NewSMTPNotifier(SMTPConfig{Host: "mail.local", From: "hub@x.com", Username: "u", Password: "p"})
	require.NoError(t, err)

	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	n.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		assert.NotNil(t, a)
		return nil
	}

	err = n.Notify(context.Background(), Message{
		To:      "a@x.com\r\nBcc: evil@x.com",
		Subject: "Activate\nyour account",
		Body:    "https://hub/auth?activate=T",
	})
	require.NoError(t, err)

	assert.Equal(t, "mail.local:587", gotAddr)
	assert.Equal(t, "hub@x.com", gotFrom)
	assert.Equal(t, []string{"a@x.comBcc: evil@x.com"}, gotTo)
	msg := string(gotMsg)
	assert.Contains(t, msg, "Subject: Activateyour account\r\n")
	assert.NotContains(t, msg, "\r\nBcc:")
	assert.True(t, strings.HasSuffix(msg, "https://hub/auth?activate=T\r\n"))
}

func TestSMTPNotifier_Failures(t *testing.T) {
	_, err := NewSMTPNotifier(SMTPConfig{From: "x"})
	assert.Error(t, err)
	_, err = NewSMTPNotifier(SMTPConfig{Host: "h"})
	assert.Error(t, err)

	n, err := NewSMTPNotifier(SMTPConfig{Host: "h", From: "f"})
	require.NoError(t, err)

	boom := errors.New("relay down")
	n.send = func(string, smtp.Auth, string, []string, []byte) error { return boom }
	assert.ErrorIs(t, n.Notify(context.Background(), Message{To: "a@x.com"}), boom)
	assert.Error(t, n.Notify(context.Background(), Message{To: " "}))

	block := make(chan struct{})
	defer close(block)
	n.send = func(string, smtp.Auth, string, []string, []byte) error { <-block; return nil }
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, n.Notify(ctx, Message{To: "a@x.com"}), context.DeadlineExceeded)
}
