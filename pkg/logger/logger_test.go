package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T, level string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := defaultLogger
	SetDefault(New(&buf, level))
	t.Cleanup(func() { SetDefault(prev) })
	return &buf
}

func decodeRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	return rec
}

func TestContextValuesAreAttached(t *testing.T) {
	buf := capture(t, "info")

	ctx := context.WithValue(context.Background(), RequestIDKey, "req-1")
	ctx = context.WithValue(ctx, UserIDKey, int64(42))
	ctx = context.WithValue(ctx, ServiceKey, "api")
	InfoContext(ctx, "Offer created", "offer_id", 7)

	rec := decodeRecord(t, buf)
	assert.Equal(t, "Offer created", rec["msg"])
	assert.Equal(t, "req-1", rec["request_id"])
	assert.EqualValues(t, 42, rec["user_id"])
	assert.Equal(t, "api", rec["service"])
	assert.EqualValues(t, 7, rec["offer_id"])
}

func TestContextHandlerSurvivesWith(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "info").With("component", "worker")

	ctx := context.WithValue(context.Background(), RequestIDKey, "req-2")
	l.InfoContext(ctx, "Delivered")

	rec := decodeRecord(t, &buf)
	assert.Equal(t, "worker", rec["component"])
	assert.Equal(t, "req-2", rec["request_id"])
}

func TestLevels(t *testing.T) {
	buf := capture(t, "WARN")

	Info("dropped")
	assert.Zero(t, buf.Len())

	Warn("kept")
	assert.Equal(t, "WARN", decodeRecord(t, buf)["level"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}

func TestErr(t *testing.T) {
	assert.Equal(t, slog.String("error", "boom"), Err(errors.New("boom")))
	assert.Equal(t, slog.String("error", ""), Err(nil))
}
