package logctx

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestIntoFrom(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewTextHandler(&buf, nil)).With(slog.String("request_id", "abc"))

	ctx := Into(context.Background(), l)
	From(ctx).Info("hello")

	if !strings.Contains(buf.String(), "request_id=abc") {
		t.Errorf("From() did not return stored logger, output = %q", buf.String())
	}
}

func TestFrom_Default(t *testing.T) {
	if got := From(context.Background()); got != slog.Default() {
		t.Errorf("From() = %v, want slog.Default()", got)
	}
}
