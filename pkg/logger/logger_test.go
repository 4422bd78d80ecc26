package logger

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"bogus", slog.LevelWarn},
	}
	for _, tc := range cases {
		level, err := ParseLevel(tc.in)
		require.NoError(t, err)
		assert.Equal(t, tc.want, level, tc.in)
	}
}

func TestInitSimpleFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	file, cleanup, err := OpenLogFile(path)
	require.NoError(t, err)
	defer cleanup()

	Init(slog.LevelInfo, file, "simple")
	slog.Info("run started", "run_id", "r-1")
	slog.Debug("hidden at info level")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "INFO run started run_id=r-1")
	assert.NotContains(t, string(data), "hidden at info level")
}

func TestInitVerboseAddsTimestamp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	file, cleanup, err := OpenLogFile(path)
	require.NoError(t, err)
	defer cleanup()

	Init(slog.LevelInfo, file, "verbose")
	slog.Warn("budget exhausted")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	// "2006/01/02 15:04:05 WARN ..." puts the level after the date prefix.
	assert.Regexp(t, `\d{4}/\d{2}/\d{2} \d{2}:\d{2}:\d{2} WARN budget exhausted`, string(data))
}

func TestOpenLogFileAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	require.NoError(t, os.WriteFile(path, []byte("existing\n"), 0644))

	file, cleanup, err := OpenLogFile(path)
	require.NoError(t, err)
	_, err = file.WriteString("appended\n")
	require.NoError(t, err)
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "existing\nappended\n", string(data))
}

func TestGetLazyInit(t *testing.T) {
	defaultLogger = nil
	assert.NotNil(t, Get())
}
