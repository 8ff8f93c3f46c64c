package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "debug", "json")
	l.Debug("edge accepted", "left", "a")
	assert.Contains(t, buf.String(), `"msg":"edge accepted"`)
	assert.Contains(t, buf.String(), `"left":"a"`)
}

func TestInit_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "compass.log")
	require.NoError(t, Init(Config{Level: "info", Output: path}))
	WithComponent("test").Info("hello")
	WithRelation("orders").Debug("dropped at info level")
	require.NoError(t, Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "component=test")
	assert.NotContains(t, string(data), "dropped")

	// Falls back to a default logger after Close.
	assert.NotNil(t, GetLogger())
}
