package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const pipelinePayload = `{
  "object_kind": "pipeline",
  "object_attributes": {"id": 17, "source": "push", "status": "success"},
  "project": {
    "web_url": "https://gitlab.com/redhat/centos-stream/rpms/bash",
    "path_with_namespace": "redhat/centos-stream/rpms/bash"
  }
}`

// execute runs the root command with a config pointing into a temp dir
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "distsync.yaml")
	config := "database: " + filepath.Join(dir, "relations.db") + "\nwork_dir: " + dir + "\n"
	require.NoError(t, os.WriteFile(configPath, []byte(config), 0o600))

	cmd := NewRootCmd(BuildInfo{Version: "1.2.3", Commit: "abc123", Date: "2024-05-01"})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", configPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	require.Equal(t, "distsync 1.2.3 (commit abc123, built 2024-05-01)\n", out)
}

func TestRelationsListCommand(t *testing.T) {
	t.Setenv("NO_COLOR", "1")

	out, err := execute(t, "", "relations", "list")
	require.NoError(t, err)
	require.Equal(t, "No relations stored.\n", out)
}

func TestProcessCommand(t *testing.T) {
	t.Setenv("NO_COLOR", "1")

	t.Run("runs the interested handlers", func(t *testing.T) {
		out, err := execute(t, pipelinePayload, "process", "-")
		require.NoError(t, err)
		require.Contains(t, out, "✓ pipeline_to_source")
		require.Contains(t, out, "All 1 work items succeeded")
	})

	t.Run("unsupported payload", func(t *testing.T) {
		out, err := execute(t, `{"object_kind": "note"}`, "process", "-")
		require.NoError(t, err)
		require.Contains(t, out, "does not describe a supported event")
	})

	t.Run("malformed payload", func(t *testing.T) {
		_, err := execute(t, "{", "process", "-")
		require.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := execute(t, "", "process", filepath.Join(t.TempDir(), "nope.json"))
		require.ErrorContains(t, err, "failed to read payload")
	})
}

func TestInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "distsync.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("forges:\n  - hostname: gitlab.com\n    type: bitbucket\n"), 0o600))

	cmd := NewRootCmd(BuildInfo{})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", configPath, "relations", "list"})
	require.ErrorContains(t, cmd.Execute(), "unknown type")
}
