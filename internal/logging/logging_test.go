package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewConsoleOnly(t *testing.T) {
	t.Setenv("DEBUG", "")
	var buf bytes.Buffer

	logger, closer, err := New(Options{Console: &buf})
	require.NoError(t, err)
	defer closer.Close()

	logger.Debug("hidden")
	logger.Info("relation created", "source", "ns/repo#5")

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, "relation created")
	require.Contains(t, out, "source=ns/repo#5")
}

func TestNewDebugAndJSON(t *testing.T) {
	var buf bytes.Buffer

	logger, closer, err := New(Options{Console: &buf, Debug: true, JSON: true})
	require.NoError(t, err)
	defer closer.Close()

	logger.With("handler", "source_pr_to_dist_pr").Debug("resolving")
	require.Contains(t, buf.String(), `"msg":"resolving"`)
	require.Contains(t, buf.String(), `"handler":"source_pr_to_dist_pr"`)
}

func TestNewWithFile(t *testing.T) {
	t.Setenv("DEBUG", "")
	dir := t.TempDir()
	logFile := filepath.Join(dir, "logs", "distsync.log")
	var console bytes.Buffer

	logger, closer, err := New(Options{Console: &console, File: logFile})
	require.NoError(t, err)

	logger.Debug("only in file")
	logger.Info("everywhere")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	require.Contains(t, string(data), "only in file")
	require.Contains(t, string(data), "everywhere")
	require.NotContains(t, console.String(), "only in file")
}

func TestRotatingFileEnvOverrides(t *testing.T) {
	t.Setenv("DISTSYNC_LOG_MAX_SIZE", "7")
	t.Setenv("DISTSYNC_LOG_MAX_BACKUPS", "0")
	t.Setenv("DISTSYNC_LOG_MAX_AGE", "invalid")

	rotating := newRotatingFile(Options{File: "x.log", MaxSize: 3, MaxBackups: 4, MaxAge: 9})
	require.Equal(t, 7, rotating.MaxSize)
	require.Equal(t, 0, rotating.MaxBackups)
	require.Equal(t, 9, rotating.MaxAge)
}
