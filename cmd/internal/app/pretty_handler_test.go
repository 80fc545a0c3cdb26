package app

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestPrettyHandler_PlainLine(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}, false))

	log.With("component", "gateway").WithGroup("req").Info("http.request",
		"method", "post",
		"path", "/auth/otp/send",
		"status", 429,
		"duration_ms", int64(12),
		"err", errors.New("too many requests"),
	)

	out := strings.TrimSpace(buf.String())
	for _, want := range []string{
		"[INFO]",
		"msg=http.request",
		"component=gateway",
		"req.method=POST",
		"req.path=/auth/otp/send",
		"req.status=429",
		"req.duration=12ms",
		`req.err="too many requests"`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
	if strings.Contains(out, "req.component") {
		t.Fatalf("attrs added before WithGroup must not be grouped: %q", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Fatalf("unexpected escape codes without color: %q", out)
	}
}

func TestPrettyHandler_ColorsOutcomes(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, true))
	log.Warn("dispatch.resolved", "status", "failed", "latency", 1500*time.Millisecond)

	out := buf.String()
	if !strings.Contains(out, ansiYellow+"[WARN]"+ansiReset) {
		t.Fatalf("level not colored: %q", out)
	}
	if !strings.Contains(out, ansiRed+"failed"+ansiReset) {
		t.Fatalf("failed status not red: %q", out)
	}
	if !strings.Contains(out, "latency=1.5s") {
		t.Fatalf("duration attr not rendered: %q", out)
	}
}

func TestPrettyHandler_LevelFilter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}, false))
	log.Info("quiet")
	log.Debug("quieter")
	if buf.Len() != 0 {
		t.Fatalf("expected no output, got %q", buf.String())
	}
}

func TestQuoteIfNeeded(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":         `""`,
		"plain":    "plain",
		"a b":      `"a b"`,
		"k=v":      `"k=v"`,
		`say "hi"`: `"say \"hi\""`,
	}
	for in, want := range cases {
		if got := quoteIfNeeded(in); got != want {
			t.Fatalf("quoteIfNeeded(%q)=%q want %q", in, got, want)
		}
	}
}
