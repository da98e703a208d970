package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/kquick/hydra/internal/fetcher"
)

func requireGit(t *testing.T) {
	t.Helper()

	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

func execGit(t *testing.T, dir string, args ...string) string {
	t.Helper()

	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=Test Author",
		"GIT_AUTHOR_EMAIL=author@example.org",
		"GIT_COMMITTER_NAME=Test Author",
		"GIT_COMMITTER_EMAIL=author@example.org",
	)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %s: %s", strings.Join(args, " "), out)
	return strings.TrimSpace(string(out))
}

func newOrigin(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	execGit(t, dir, "-c", "init.defaultBranch=master", "init")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), []byte("hello"), 0o644))
	execGit(t, dir, "add", "README")
	execGit(t, dir, "commit", "-m", "initial")
	return dir
}

// runRoot executes the root command with args and returns its combined
// output. Commands run against an isolated data directory.
func runRoot(t *testing.T, dataDir string, args ...string) (string, error) {
	t.Helper()

	root := NewRootCmd(hclog.NewNullLogger())

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{
		args[0],
		"--data-dir", dataDir,
		"--config-file", filepath.Join(dataDir, "hydra.toml"),
	}, args[1:]...))

	err := root.Execute()
	return out.String(), err
}

func TestFetchCmd_ResolvesGitInput(t *testing.T) {
	requireGit(t)

	origin := newOrigin(t)
	head := execGit(t, origin, "rev-parse", "HEAD")

	out, err := runRoot(t, t.TempDir(), "fetch", origin, "master")
	require.NoError(t, err)

	var node fetcher.RepoInfo
	require.NoError(t, json.Unmarshal([]byte(out), &node))
	require.Equal(t, origin, node.URI)
	require.Equal(t, head, node.Revision)
	require.Equal(t, 1, node.RevCount)
	require.FileExists(t, node.ContentPath)
}

func TestFetchCmd_ResolvesPathInput(t *testing.T) {
	out, err := runRoot(t, t.TempDir(), "fetch", "--type", "path", "/srv/channels/nixpkgs")
	require.NoError(t, err)

	var node fetcher.RepoInfo
	require.NoError(t, json.Unmarshal([]byte(out), &node))
	require.Equal(t, "/srv/channels/nixpkgs", node.URI)
	require.FileExists(t, node.ContentPath)
}

func TestFetchCmd_RequiresValue(t *testing.T) {
	_, err := runRoot(t, t.TempDir(), "fetch")
	require.Error(t, err)
	require.Contains(t, err.Error(), "input value is required")
}
