package logger

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelWarn},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestTextHandlerFormatsLevelAndAttrs(t *testing.T) {
	var buf strings.Builder
	h := &textHandler{handler: slog.NewTextHandler(os.Stderr, nil), writer: &buf}

	record := slog.NewRecord(time.Time{}, slog.LevelWarn, "queue full", 0)
	record.AddAttrs(slog.Int("size", 50))
	require.NoError(t, h.Handle(context.Background(), record))

	assert.Equal(t, "WARN queue full size=50\n", buf.String())
}

func TestOpenLogFileAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gaia.log")

	file, cleanup, err := OpenLogFile(path)
	require.NoError(t, err)
	_, err = file.WriteString("first\n")
	require.NoError(t, err)
	cleanup()

	file, cleanup, err = OpenLogFile(path)
	require.NoError(t, err)
	_, err = file.WriteString("second\n")
	require.NoError(t, err)
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", string(data))
}

func TestModuleFilterDropsBelowLevel(t *testing.T) {
	base := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})
	f := &moduleFilter{handler: base, minLevel: slog.LevelWarn}
	assert.False(t, f.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, f.Enabled(context.Background(), slog.LevelError))
}
