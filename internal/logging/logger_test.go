package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]Level{"debug": Debug, "INFO": Info, " warning ": Warn, "error": Error} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	lvl, err := ParseLevel("loud")
	assert.Error(t, err)
	assert.Equal(t, Info, lvl)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("JSON")
	require.NoError(t, err)
	assert.Equal(t, JSON, f)

	f, err = ParseFormat("xml")
	assert.Error(t, err)
	assert.Equal(t, Logfmt, f)
}

func TestLogfmtOutput(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, Info, Logfmt)

	log.Debug("hidden")
	log.With("pair", "abc").Warn("blocked flow", "role", "http-upstream")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, `msg="blocked flow"`)
	assert.Contains(t, out, "pair=abc")
	assert.Contains(t, out, "role=http-upstream")
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, Debug, JSON).Info("listener bound", "addr", "10.1.1.3:8080")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "listener bound", rec["msg"])
	assert.Equal(t, "10.1.1.3:8080", rec["addr"])
	assert.Equal(t, "INFO", rec["level"])
}
