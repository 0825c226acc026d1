package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestSetup_JSONWithModule(t *testing.T) {
	t.Cleanup(func() { _ = Setup(os.Stderr, "text", "info") })

	var buf bytes.Buffer
	require.NoError(t, Setup(&buf, "json", "warn"))

	WithModule("server").Info("dropped")
	WithModule("server").Warn("kept", "client_id", "a")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec), buf.String())
	assert.Equal(t, "kept", rec["msg"])
	assert.Equal(t, "server", rec["module"])
	assert.Equal(t, "a", rec["client_id"])
	assert.Same(t, GetLogger(), slog.Default())
}

func TestSetup_RejectsBadLevel(t *testing.T) {
	assert.Error(t, Setup(&bytes.Buffer{}, "text", "loud"))
}

func TestSetLevel(t *testing.T) {
	t.Cleanup(func() { SetLevel(slog.LevelInfo) })

	var buf bytes.Buffer
	require.NoError(t, Setup(&buf, "text", "info"))
	t.Cleanup(func() { _ = Setup(os.Stderr, "text", "info") })

	GetLogger().Debug("hidden")
	SetLevel(slog.LevelDebug)
	GetLogger().Debug("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}
