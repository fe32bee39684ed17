package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
)

func TestFromContextAddsTraceID(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(New(&buf, "debug", "text"))
	defer slog.SetDefault(prev)

	ctx := WithTrace(context.Background(), "abc123")
	FromContext(ctx).Info("stage finished", "stage", "parsed")

	out := buf.String()
	if !strings.Contains(out, "trace_id=abc123") || !strings.Contains(out, "stage=parsed") {
		t.Fatalf("unexpected log line: %s", out)
	}
	if TraceID(ctx) != "abc123" {
		t.Fatalf("trace id not round-tripped")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q)=%v want %v", in, got, want)
		}
	}
}

func TestEnrichKeepsGivenLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info", "text")

	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-7")
	Enrich(WithTrace(ctx, "t-9"), logger).Info("stage finished")

	out := buf.String()
	if !strings.Contains(out, "request_id=req-7") || !strings.Contains(out, "trace_id=t-9") {
		t.Fatalf("unexpected log line: %s", out)
	}
}
