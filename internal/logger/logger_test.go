package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lj "gopkg.in/natefinch/lumberjack.v2"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"":      slog.LevelInfo,
		"DEBUG": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestJSONToWriter(t *testing.T) {
	var buf bytes.Buffer
	log, closer, err := New(Config{Format: "json", Level: "debug"}, &buf)
	require.NoError(t, err)
	defer func() { _ = closer.Close() }()

	log.Debug("syscall", "pid", 3, "call", "open")
	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "syscall", rec["msg"])
	assert.Equal(t, "open", rec["call"])
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log, _, err := New(Config{Format: "text", Level: "warn"}, &buf)
	require.NoError(t, err)
	log.Info("hidden")
	log.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestColorHandlerKeepsColorForDerivedLoggers(t *testing.T) {
	var buf bytes.Buffer
	log, _, err := New(Config{}, &buf)
	require.NoError(t, err)

	log.With("boot_id", "b1").Error("bad address")
	out := buf.String()
	assert.Contains(t, out, "\033[31mERROR\033[0m")
	assert.Contains(t, out, "boot_id=b1")
	assert.NotContains(t, out, "time=")
}

func TestFileOutputRotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kernel.log")
	cfg := Config{File: path, MaxSizeMB: 5}
	w := cfg.Writer()
	l, ok := w.(*lj.Logger)
	require.True(t, ok)
	assert.Equal(t, 5, l.MaxSize)
	assert.Equal(t, DefaultMaxBackups, l.MaxBackups)
	assert.Equal(t, DefaultMaxAgeDays, l.MaxAge)
	_ = w.Close()

	log, closer, err := New(cfg, nil)
	require.NoError(t, err)
	log.Info("Process exited", "pid", 1)
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "Process exited"))
	assert.NotContains(t, string(data), "\033[")
}

func TestUnknownFormat(t *testing.T) {
	_, _, err := New(Config{Format: "xml"}, nil)
	assert.Error(t, err)
	assert.Nil(t, Config{}.Writer())
}
