//go:build !integration

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestWith_AttachesContextFields(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithTraceID(context.Background(), "trace-1")
	ctx = WithUserID(ctx, "user-1")
	ctx = WithSessID(ctx, "sess-1")

	With(ctx, &base).Info().Msg("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("invalid log line %q: %v", buf.String(), err)
	}
	for k, want := range map[string]string{"trace_id": "trace-1", "user_id": "user-1", "session_id": "sess-1"} {
		if line[k] != want {
			t.Errorf("%s = %v, want %s", k, line[k], want)
		}
	}
}

func TestUserID(t *testing.T) {
	if _, ok := UserID(context.Background()); ok {
		t.Error("expected no user id on empty context")
	}
	if id, ok := UserID(WithUserID(context.Background(), "u")); !ok || id != "u" {
		t.Errorf("expected u, got %q", id)
	}
}

func TestRedact(t *testing.T) {
	if Redact("short", false) != "***" {
		t.Error("short strings must be fully hidden")
	}
	if got := Redact("a fairly long message", false); got != "a fa...ge" {
		t.Errorf("unexpected redaction %q", got)
	}
	if Redact("visible", true) != "visible" {
		t.Error("dev mode must not redact")
	}
}
