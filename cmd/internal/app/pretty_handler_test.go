package app

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestPrettyHandler_GroupsAndAttrs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}, false))
	log.With("request_id", "01J").WithGroup("docstore").Info("docstore.op.fail", "op", "PutUser", "err", "conflict here")

	out := buf.String()
	for _, want := range []string{
		"lvl=[INFO]",
		"msg=docstore.op.fail",
		"request_id=01J",
		"docstore.op=PutUser",
		`docstore.err="conflict here"`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
}

func TestPrettyHandler_LevelFilter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}, false))
	log.Info("quiet")
	log.Warn("loud")

	if strings.Contains(buf.String(), "quiet") || !strings.Contains(buf.String(), "loud") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestPrettyHandler_RemapsKeys(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, false))
	log.Info("http.request", "status_class", "5xx", "duration_ms", int64(1200))

	out := buf.String()
	if !strings.Contains(out, "class=5xx") || !strings.Contains(out, "duration=1200ms") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestPrettyHandler_Color(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, true))
	log.Error("boom", "status", 503)

	out := buf.String()
	if !strings.Contains(out, ansiRed+"[ERROR]"+ansiReset) || !strings.Contains(out, ansiRed+"503"+ansiReset) {
		t.Fatalf("expected red level and status in %q", out)
	}
}
