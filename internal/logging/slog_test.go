package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func newCaptureLogger(buf *bytes.Buffer) *SlogLogger {
	h := slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return NewSlogLogger(slog.New(h))
}

func decodeRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	return rec
}

func TestSlogLoggerLevels(t *testing.T) {
	tests := []struct {
		name string
		log  func(l Logger, ctx context.Context)
		want string
	}{
		{"debug", func(l Logger, ctx context.Context) { l.Debug(ctx, "m") }, "DEBUG"},
		{"info", func(l Logger, ctx context.Context) { l.Info(ctx, "m") }, "INFO"},
		{"warn", func(l Logger, ctx context.Context) { l.Warn(ctx, "m") }, "WARN"},
		{"error", func(l Logger, ctx context.Context) { l.Error(ctx, "m") }, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			l := newCaptureLogger(&buf)

			tt.log(l, context.Background())

			rec := decodeRecord(t, &buf)
			require.Equal(t, tt.want, rec["level"])
			require.Equal(t, "m", rec["msg"])
		})
	}
}

func TestSlogLoggerAttributes(t *testing.T) {
	var buf bytes.Buffer
	l := newCaptureLogger(&buf)

	l.Info(context.Background(), "analysis stored", "analysis_id", "abc", "items", 3)

	rec := decodeRecord(t, &buf)
	require.Equal(t, "analysis stored", rec["msg"])
	require.Equal(t, "abc", rec["analysis_id"])
	require.Equal(t, float64(3), rec["items"])
}

func TestSlogLoggerWith(t *testing.T) {
	var buf bytes.Buffer
	l := newCaptureLogger(&buf)

	child := l.With("component", "enrichment")
	child.Info(context.Background(), "cache hit")

	rec := decodeRecord(t, &buf)
	require.Equal(t, "enrichment", rec["component"])
	require.Equal(t, "cache hit", rec["msg"])
}

func TestNewSlogLoggerNilUsesDefault(t *testing.T) {
	l := NewSlogLogger(nil)
	require.NotNil(t, l)
	// must not panic
	l.Info(context.Background(), "ok")
}
