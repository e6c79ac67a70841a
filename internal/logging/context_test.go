package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
)

func TestRunIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := RunIDFromCtx(ctx); got != 0 {
		t.Errorf("empty context run ID = %d, want 0", got)
	}

	ctx = WithRunIDCtx(ctx, 99)
	if got := RunIDFromCtx(ctx); got != 99 {
		t.Errorf("run ID = %d, want 99", got)
	}
}

func TestFromCtxPrefersAttachedLogger(t *testing.T) {
	var buf bytes.Buffer
	attached := New(Config{Level: LevelDebug, Format: FormatJSON, Output: &buf})

	ctx := WithLoggerCtx(context.Background(), attached)
	if FromCtx(ctx) != attached {
		t.Error("FromCtx should return the attached logger")
	}
}

func TestFromCtxBindsRunID(t *testing.T) {
	var buf bytes.Buffer
	old := Global()
	SetGlobal(New(Config{Level: LevelInfo, Format: FormatJSON, Output: &buf}))
	defer SetGlobal(old)

	ctx := WithRunIDCtx(context.Background(), 123)
	FromCtx(ctx).Info("hello")

	var entry Entry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if entry.RunID != 123 {
		t.Errorf("runId = %d, want 123", entry.RunID)
	}
}

func TestLoggerFromCtxNil(t *testing.T) {
	if LoggerFromCtx(context.Background()) != nil {
		t.Error("LoggerFromCtx on empty context should be nil")
	}
}
