package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAuthorsCmd_ListsCommitAuthors(t *testing.T) {
	requireGit(t)

	origin := newOrigin(t)
	first := execGit(t, origin, "rev-parse", "HEAD")

	require.NoError(t, os.WriteFile(filepath.Join(origin, "a.txt"), []byte("a"), 0o644))
	execGit(t, origin, "add", "a.txt")
	execGit(t, origin, "commit", "-m", "second")
	require.NoError(t, os.WriteFile(filepath.Join(origin, "b.txt"), []byte("b"), 0o644))
	execGit(t, origin, "add", "b.txt")
	execGit(t, origin, "commit", "-m", "third")
	third := execGit(t, origin, "rev-parse", "HEAD")

	out, err := runRoot(t, t.TempDir(), "authors", origin, first, third)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	require.True(t, strings.HasPrefix(lines[0], third))
	for _, line := range lines {
		require.Contains(t, line, "Test Author")
		require.Contains(t, line, "author@example.org")
	}
}

func TestAuthorsCmd_RejectsUnresolvedEndpoints(t *testing.T) {
	requireGit(t)

	origin := newOrigin(t)
	head := execGit(t, origin, "rev-parse", "HEAD")

	_, err := runRoot(t, t.TempDir(), "authors", origin, "master", head)
	require.Error(t, err)
}
