package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelInfo, "json")

	logger.Debug("hidden")
	logger.Info("Task completed", "task_id", "t-1")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	require.Equal(t, "Task completed", entry["msg"])
	require.Equal(t, "t-1", entry["task_id"])
}

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelDebug, "text")
	logger.Debug("Dispatching task", "index", 3)

	require.Contains(t, buf.String(), "Dispatching task")
	require.Contains(t, buf.String(), "index=3")
}

func TestWith_AddsAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := With(New(&buf, slog.LevelInfo, "text"), "job_id", "j-1")
	logger.Warn("Unhandled rejection")

	require.Contains(t, buf.String(), "job_id=j-1")
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	require.Equal(t, slog.LevelError, ParseLevel("error"))
	require.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestNewNopLogger(t *testing.T) {
	require.NotPanics(t, func() {
		NewNopLogger().Error("dropped", "k", "v")
	})
}
