package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	hydraerrors "github.com/kquick/hydra/internal/errors"
	"github.com/kquick/hydra/internal/runner"
)

func requireGit(t *testing.T) {
	t.Helper()

	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

// execGit runs git directly (not through the Runner under test) to build
// fixture repositories.
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

// newOrigin creates a repository with one initial commit on master.
func newOrigin(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	execGit(t, dir, "-c", "init.defaultBranch=master", "init")
	commitFile(t, dir, "README", "hello")
	return dir
}

func commitFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	execGit(t, dir, "add", name)
	execGit(t, dir, "commit", "-m", "add "+name)
	return execGit(t, dir, "rev-parse", "HEAD")
}

func newTestMirror(t *testing.T, uri string) *Mirror {
	t.Helper()

	logger := hclog.NewNullLogger()
	return NewMirror(logger, runner.NewExecRunner(logger), t.TempDir(), uri)
}

func TestIsRevision(t *testing.T) {
	t.Parallel()

	tc := []struct {
		name string
		ref  string
		want bool
	}{
		{name: "full 40-hex lowercase", ref: strings.Repeat("a1", 20), want: true},
		{name: "full 40-hex mixed case", ref: strings.Repeat("A1", 20), want: true},
		{name: "39 characters", ref: strings.Repeat("a", 39), want: false},
		{name: "41 characters", ref: strings.Repeat("a", 41), want: false},
		{name: "non-hex content", ref: strings.Repeat("g", 40), want: false},
		{name: "branch name", ref: "master", want: false},
		{name: "empty", ref: "", want: false},
	}

	for _, testCase := range tc {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			require.Equal(t, testCase.want, IsRevision(testCase.ref))
		})
	}
}

func TestURIHash(t *testing.T) {
	t.Parallel()

	a := URIHash("https://example.org/repo.git")
	b := URIHash("https://example.org/repo.git")
	c := URIHash("https://example.org/other.git")

	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.Len(t, a, 64)
}

func TestMirror_EnsureFetchResolve(t *testing.T) {
	t.Parallel()
	requireGit(t)

	origin := newOrigin(t)
	second := commitFile(t, origin, "file.txt", "content")

	m := newTestMirror(t, origin)
	ctx := context.Background()

	require.NoError(t, m.Ensure(ctx, time.Minute))
	// A second Ensure against an existing mirror is a no-op.
	require.NoError(t, m.Ensure(ctx, time.Minute))

	require.NoError(t, m.UpdateRef(ctx, "master", time.Minute))

	revision, err := m.ResolveRevision(ctx, "master", time.Minute)
	require.NoError(t, err)
	require.Equal(t, second, revision)
}

func TestMirror_UpdateRefForcesRemoteTip(t *testing.T) {
	t.Parallel()
	requireGit(t)

	origin := newOrigin(t)

	m := newTestMirror(t, origin)
	ctx := context.Background()

	require.NoError(t, m.Ensure(ctx, time.Minute))
	require.NoError(t, m.UpdateRef(ctx, "master", time.Minute))

	// Rewrite history upstream; the mirror must follow, not merge.
	execGit(t, origin, "commit", "--amend", "-m", "rewritten")
	rewritten := execGit(t, origin, "rev-parse", "HEAD")

	require.NoError(t, m.UpdateRef(ctx, "master", time.Minute))

	revision, err := m.ResolveRevision(ctx, "master", time.Minute)
	require.NoError(t, err)
	require.Equal(t, rewritten, revision)
}

func TestMirror_ResolveRevisionVerbatim(t *testing.T) {
	t.Parallel()

	// A runner that refuses every invocation proves no command runs.
	m := NewMirror(hclog.NewNullLogger(), failingRunner{}, t.TempDir(), "https://example.org/repo.git")

	rev := strings.Repeat("ab", 20)
	got, err := m.ResolveRevision(context.Background(), rev, time.Minute)
	require.NoError(t, err)
	require.Equal(t, rev, got)
}

func TestMirror_ResolveRevisionRejectsBadShape(t *testing.T) {
	t.Parallel()

	tc := []struct {
		name   string
		output string
	}{
		{name: "39 hex characters", output: strings.Repeat("a", 39)},
		{name: "non-hex output", output: strings.Repeat("z", 40)},
		{name: "empty output", output: ""},
	}

	for _, testCase := range tc {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			m := NewMirror(hclog.NewNullLogger(), cannedRunner{stdout: testCase.output}, t.TempDir(), "uri")

			_, err := m.ResolveRevision(context.Background(), "master", time.Minute)
			require.Error(t, err)
			require.ErrorIs(t, err, hydraerrors.ErrBadRevision)
		})
	}
}

func TestMirror_Describe(t *testing.T) {
	t.Parallel()
	requireGit(t)

	origin := newOrigin(t)
	commitFile(t, origin, "second.txt", "x")

	m := newTestMirror(t, origin)
	ctx := context.Background()

	require.NoError(t, m.Ensure(ctx, time.Minute))
	require.NoError(t, m.UpdateRef(ctx, "master", time.Minute))

	revision, err := m.ResolveRevision(ctx, "master", time.Minute)
	require.NoError(t, err)

	info, err := m.Describe(ctx, revision, time.Minute)
	require.NoError(t, err)
	require.Equal(t, revision, info.Revision)
	require.Equal(t, 2, info.RevCount)
	require.True(t, strings.HasPrefix(revision, info.ShortRev))
	// No tags exist, so the descriptor falls back to the short hash.
	require.Equal(t, info.ShortRev, info.Tag)
}

func TestMirror_DescribeWithTag(t *testing.T) {
	t.Parallel()
	requireGit(t)

	origin := newOrigin(t)
	execGit(t, origin, "tag", "v1.2")

	m := newTestMirror(t, origin)
	ctx := context.Background()

	require.NoError(t, m.Ensure(ctx, time.Minute))
	require.NoError(t, m.UpdateRef(ctx, "master", time.Minute))

	revision, err := m.ResolveRevision(ctx, "master", time.Minute)
	require.NoError(t, err)

	info, err := m.Describe(ctx, revision, time.Minute)
	require.NoError(t, err)
	require.Equal(t, "v1.2", info.Tag)
}

func TestMirror_Checkout(t *testing.T) {
	t.Parallel()
	requireGit(t)

	origin := newOrigin(t)
	commitFile(t, origin, ".topdeps", "t/feature")

	m := newTestMirror(t, origin)
	ctx := context.Background()

	require.NoError(t, m.Ensure(ctx, time.Minute))
	require.NoError(t, m.UpdateRef(ctx, "master", time.Minute))
	require.NoError(t, m.Checkout(ctx, "master", time.Minute))

	require.FileExists(t, filepath.Join(m.Dir(), "README"))
	require.True(t, m.HasTopGitMarker())
}

func TestMirror_CommitsBetween(t *testing.T) {
	t.Parallel()
	requireGit(t)

	origin := newOrigin(t)
	first := execGit(t, origin, "rev-parse", "HEAD")
	second := commitFile(t, origin, "a.txt", "a")
	third := commitFile(t, origin, "b.txt", "b")

	m := newTestMirror(t, origin)
	ctx := context.Background()

	require.NoError(t, m.Ensure(ctx, time.Minute))
	require.NoError(t, m.UpdateRef(ctx, "master", time.Minute))

	commits, err := m.CommitsBetween(ctx, first, third, time.Minute)
	require.NoError(t, err)
	require.Len(t, commits, 2)
	require.Equal(t, third, commits[0].Revision)
	require.Equal(t, second, commits[1].Revision)
	for _, c := range commits {
		require.Equal(t, "Test Author", c.Author)
		require.Equal(t, "author@example.org", c.Email)
	}

	// Unresolved endpoints are rejected outright.
	_, err = m.CommitsBetween(ctx, "master", third, time.Minute)
	require.ErrorIs(t, err, hydraerrors.ErrBadRevision)
}

func TestMirror_Submodules(t *testing.T) {
	t.Parallel()
	requireGit(t)

	sub := newOrigin(t)
	subHead := execGit(t, sub, "rev-parse", "HEAD")

	parent := newOrigin(t)
	execGit(t, parent, "-c", "protocol.file.allow=always", "submodule", "add", sub, "vendor/dep")
	execGit(t, parent, "commit", "-m", "add submodule")

	m := newTestMirror(t, parent)
	ctx := context.Background()

	require.NoError(t, m.Ensure(ctx, time.Minute))
	require.NoError(t, m.UpdateRef(ctx, "master", time.Minute))

	revision, err := m.ResolveRevision(ctx, "master", time.Minute)
	require.NoError(t, err)

	subs, err := m.Submodules(ctx, revision, time.Minute)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	require.Equal(t, "vendor/dep", subs[0].Path)
	require.Equal(t, sub, subs[0].URI)
	require.Equal(t, subHead, subs[0].Revision)
}

func TestMirror_SubmodulesAbsentFile(t *testing.T) {
	t.Parallel()
	requireGit(t)

	origin := newOrigin(t)

	m := newTestMirror(t, origin)
	ctx := context.Background()

	require.NoError(t, m.Ensure(ctx, time.Minute))
	require.NoError(t, m.UpdateRef(ctx, "master", time.Minute))

	revision, err := m.ResolveRevision(ctx, "master", time.Minute)
	require.NoError(t, err)

	subs, err := m.Submodules(ctx, revision, time.Minute)
	require.NoError(t, err)
	require.Empty(t, subs)
}

func TestMirror_SubmodulesReadFailureIsAnError(t *testing.T) {
	t.Parallel()
	requireGit(t)

	sub := newOrigin(t)
	parent := newOrigin(t)
	execGit(t, parent, "-c", "protocol.file.allow=always", "submodule", "add", sub, "vendor/dep")
	execGit(t, parent, "commit", "-m", "add submodule")

	logger := hclog.NewNullLogger()
	root := t.TempDir()

	m := NewMirror(logger, runner.NewExecRunner(logger), root, parent)
	ctx := context.Background()

	require.NoError(t, m.Ensure(ctx, time.Minute))
	require.NoError(t, m.UpdateRef(ctx, "master", time.Minute))

	revision, err := m.ResolveRevision(ctx, "master", time.Minute)
	require.NoError(t, err)

	// A declaration file that exists but cannot be read must abort the
	// lookup, never read as "no submodules".
	broken := NewMirror(logger, showFailingRunner{inner: runner.NewExecRunner(logger)}, root, parent)
	_, err = broken.Submodules(ctx, revision, time.Minute)
	require.Error(t, err)
	require.Contains(t, err.Error(), gitmodulesFile)
}

// showFailingRunner delegates to its inner runner but fails every
// `git show` invocation, mimicking a transient VCS error on file reads.
type showFailingRunner struct {
	inner runner.Runner
}

func (r showFailingRunner) Run(
	ctx context.Context,
	dir string,
	timeout time.Duration,
	name string,
	args ...string,
) (*runner.Result, error) {
	if name == "git" && len(args) > 0 && args[0] == "show" {
		return &runner.Result{Status: -1}, errors.New("transient failure")
	}
	return r.inner.Run(ctx, dir, timeout, name, args...)
}

// failingRunner errors on every invocation.
type failingRunner struct{}

func (failingRunner) Run(context.Context, string, time.Duration, string, ...string) (*runner.Result, error) {
	return &runner.Result{Status: -1}, errors.New("unexpected command execution")
}

// cannedRunner succeeds on every invocation with a fixed stdout.
type cannedRunner struct {
	stdout string
}

func (r cannedRunner) Run(context.Context, string, time.Duration, string, ...string) (*runner.Result, error) {
	return &runner.Result{Status: 0, Stdout: fmt.Sprintln(r.stdout)}, nil
}
