package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureJSON(t *testing.T, level Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(level)
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetLevel(LevelInfo)
	})
	return &buf
}

func TestErrorWritesKeyValues(t *testing.T) {
	buf := captureJSON(t, LevelInfo)

	Error("store load failed", errors.New("boom"), "path", "/tmp/events.yaml", "count", 3)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "error", line["level"])
	assert.Equal(t, "store load failed", line["message"])
	assert.Equal(t, "boom", line["error"])
	assert.Equal(t, "/tmp/events.yaml", line["path"])
	assert.EqualValues(t, 3, line["count"])
}

func TestDebugSuppressedAtInfo(t *testing.T) {
	buf := captureJSON(t, LevelInfo)

	Debug("noisy", "k", "v")
	assert.Zero(t, buf.Len())

	SetLevel(LevelDebug)
	Debug("noisy", "k", "v")
	assert.Contains(t, buf.String(), `"k":"v"`)
}

func TestOddAndNonStringKeysIgnored(t *testing.T) {
	buf := captureJSON(t, LevelInfo)

	Info("msg", 42, "x", "dangling")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.NotContains(t, line, "dangling")
	assert.NotContains(t, line, "x")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel(" warning "))
	assert.Equal(t, LevelError, ParseLevel("ERROR"))
	assert.Equal(t, LevelInfo, ParseLevel("verbose"))
}
