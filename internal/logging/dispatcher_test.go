package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warband/battlecore/internal/dispatcher"
)

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "log output: %s", buf.String())
	return entry
}

var _ dispatcher.Logger = (*DispatcherLogger)(nil)

func TestDispatcherLogger_Levels(t *testing.T) {
	tests := []struct {
		name  string
		log   func(*DispatcherLogger)
		level string
	}{
		{"debug", func(l *DispatcherLogger) { l.Debug("handling event", "command", "cast_spell", "session", 3) }, "debug"},
		{"info", func(l *DispatcherLogger) { l.Info("handling event", "command", "cast_spell", "session", 3) }, "info"},
		{"error", func(l *DispatcherLogger) { l.Error("handling event", "command", "cast_spell", "session", 3) }, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.log(NewDispatcherLogger(zerolog.New(&buf).Level(zerolog.DebugLevel)))

			entry := decodeEntry(t, &buf)
			assert.Equal(t, tt.level, entry["level"])
			assert.Equal(t, "handling event", entry["message"])
			assert.Equal(t, "dispatcher", entry["component"])
			assert.Equal(t, "cast_spell", entry["command"])
			assert.Equal(t, float64(3), entry["session"])
		})
	}
}

func TestDispatcherLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	dl := NewDispatcherLogger(zerolog.New(&buf).Level(zerolog.InfoLevel))

	dl.Debug("filtered")
	assert.Zero(t, buf.Len())

	dl.Info("kept", "status", "ok")
	assert.Equal(t, "ok", decodeEntry(t, &buf)["status"])
}

func TestDispatcherLogger_Error(t *testing.T) {
	var buf bytes.Buffer
	dl := NewDispatcherLogger(zerolog.New(&buf))

	dl.Error("event failed", "command", "cast_spell", "error", errors.New("unknown spell"))

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "unknown spell", entry["error"])
	assert.Equal(t, "cast_spell", entry["command"])
}

func TestDispatcherLogger_OddKeyValues(t *testing.T) {
	var buf bytes.Buffer
	dl := NewDispatcherLogger(zerolog.New(&buf))

	dl.Info("odd", "key", "value", 7, "non-string key", "dangling")

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "value", entry["key"])
	assert.NotContains(t, entry, "dangling")
	assert.NotContains(t, entry, "non-string key")
}
