package logs

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{}, &buf)
	l.Info("camera started")
	l.Debug("hidden")
	require.NoError(t, l.Sync())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "camera started", entry["msg"])
	assert.Equal(t, "info", entry["level"])
	assert.Contains(t, entry, "timestamp")
}

func TestLogVFollowsVerbose(t *testing.T) {
	var buf bytes.Buffer
	SetDefault(New(Config{Verbose: false}, &buf))
	LogV("[cam] %d", 1)
	assert.Empty(t, buf.String())

	SetDefault(New(Config{Verbose: true, Development: true}, &buf))
	defer SetDefault(nil)
	LogV("[cam] %d", 2)
	assert.Contains(t, buf.String(), "[cam] 2")
	assert.Contains(t, buf.String(), "DEBUG")
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
	l := L()
	assert.Same(t, l, OrNop(l))
}
