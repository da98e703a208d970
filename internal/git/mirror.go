// Package git maintains persistent local mirrors of remote git
// repositories and resolves refs, submodules and commit history against
// them by invoking the git binary. One mirror exists per distinct source
// URI, keyed by a stable hash of the URI; the mirror persists across
// fetches and is never deleted by this subsystem.
package git

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	hydraerrors "github.com/kquick/hydra/internal/errors"
	"github.com/kquick/hydra/internal/files"
	"github.com/kquick/hydra/internal/runner"
)

// revisionPattern is the shape every resolved revision must match.
var revisionPattern = regexp.MustCompile(`^[0-9a-fA-F]{40}$`)

// tmpRefName is the throwaway local branch used when the requested ref is
// already a full commit id and cannot name a local branch.
const tmpRefName = "_fetch_tmp"

// topGitMarker names the file whose presence at the root of a checkout
// indicates the stacked topic-branch convention.
const topGitMarker = ".topdeps"

// IsRevision reports whether ref is already a full 40-character hex
// commit id.
func IsRevision(ref string) bool {
	return revisionPattern.MatchString(ref)
}

// URIHash returns the stable identity of uri's mirror: the hex sha256 of
// the URI. It keys mirror directories, lock files and cache records.
func URIHash(uri string) string {
	sum := sha256.Sum256([]byte(uri))
	return fmt.Sprintf("%x", sum)
}

// RevisionInfo carries the advisory display fields computed for a
// resolved commit. None of them participate in cache keys or equality.
type RevisionInfo struct {
	// Revision is the full 40-hex commit id.
	Revision string

	// RevCount is the total number of ancestor commits.
	RevCount int

	// Tag is a human-readable descriptor (nearest tag plus distance,
	// falling back to the abbreviated hash when no tag exists).
	Tag string

	// ShortRev is the abbreviated commit hash.
	ShortRev string
}

// Submodule is one entry discovered in a revision's submodule declaration
// file, joined with the commit id the parent tree pins for its path.
type Submodule struct {
	Path     string
	URI      string
	Revision string
}

// Commit identifies one commit together with its author, as returned by
// the commit-range lookup.
type Commit struct {
	Revision string
	Author   string
	Email    string
}

// Mirror is the persistent local copy of one remote repository.
// NewMirror should be used to create instances of Mirror.
type Mirror struct {
	uri    string
	dir    string
	run    runner.Runner
	logger hclog.Logger
}

// NewMirror creates a handle on the mirror for uri under root. The mirror
// directory is not touched until Ensure is called.
func NewMirror(logger hclog.Logger, run runner.Runner, root, uri string) *Mirror {
	return &Mirror{
		uri:    uri,
		dir:    filepath.Join(root, URIHash(uri)),
		run:    run,
		logger: logger.Named("mirror"),
	}
}

// URI returns the remote URI this mirror tracks.
func (m *Mirror) URI() string {
	return m.uri
}

// Dir returns the mirror's working directory.
func (m *Mirror) Dir() string {
	return m.dir
}

// Key returns the mirror's lock identity.
func (m *Mirror) Key() string {
	return URIHash(m.uri)
}

// Ensure initializes the mirror directory on first use: an empty
// repository with uri registered as its sole remote. When the repository
// already exists this is structurally a no-op. Must be called under the
// mirror's lock.
func (m *Mirror) Ensure(ctx context.Context, timeout time.Duration) error {
	if _, err := os.Stat(filepath.Join(m.dir, ".git")); err == nil {
		return nil
	}

	if err := files.EnsureAtLeastRegularDir(m.dir); err != nil {
		return fmt.Errorf("failed to create mirror directory: %w", err)
	}

	if _, err := m.git(ctx, timeout, "init"); err != nil {
		return fmt.Errorf("failed to initialize mirror for '%s': %w", m.uri, err)
	}
	if _, err := m.git(ctx, timeout, "remote", "add", "origin", m.uri); err != nil {
		return fmt.Errorf("failed to register remote for '%s': %w", m.uri, err)
	}

	m.logger.Info("Initialized mirror", "uri", m.uri, "dir", m.dir)

	return nil
}

// UpdateRef force-fetches exactly ref from the remote into a local branch
// of the same name, overwriting any local divergence; the mirror always
// matches the remote's tip for that ref, never merges. A ref that is
// already a commit id fetches into a throwaway local name. On failure the
// fetch is retried once unscoped, since some hosting providers reject
// scoped fetch specs; if that also fails the operation is fatal. Must be
// called under the mirror's lock.
func (m *Mirror) UpdateRef(ctx context.Context, ref string, timeout time.Duration) error {
	local := ref
	if IsRevision(ref) {
		local = tmpRefName
	}

	if _, err := m.git(ctx, timeout, "fetch", "-fu", "origin", "+"+ref+":"+local); err == nil {
		return nil
	} else {
		m.logger.Debug("Scoped fetch failed, retrying unscoped", "uri", m.uri, "ref", ref, "error", err)
	}

	if _, err := m.git(ctx, timeout, "fetch", "-fu", "origin"); err != nil {
		return fmt.Errorf("%w: unable to fetch '%s' from '%s': %w", hydraerrors.ErrFetchFailed, ref, m.uri, err)
	}

	return nil
}

// ResolveRevision resolves ref to a commit id within the mirror. A ref
// that is already a full 40-hex string is used verbatim, with no remote
// verification round trip. Any resolved value not matching the 40-hex
// shape is fatal: it signals a corrupted or unexpected VCS response.
func (m *Mirror) ResolveRevision(ctx context.Context, ref string, timeout time.Duration) (string, error) {
	if IsRevision(ref) {
		return ref, nil
	}

	res, err := m.git(ctx, timeout, "rev-parse", ref)
	if err != nil {
		return "", fmt.Errorf("failed to resolve '%s' in mirror of '%s': %w", ref, m.uri, err)
	}

	revision := strings.TrimSpace(res.Stdout)
	if !IsRevision(revision) {
		return "", fmt.Errorf("%w: resolving '%s' in '%s' produced '%s'", hydraerrors.ErrBadRevision, ref, m.uri, revision)
	}

	return revision, nil
}

// Describe computes the advisory display fields for revision.
func (m *Mirror) Describe(ctx context.Context, revision string, timeout time.Duration) (RevisionInfo, error) {
	info := RevisionInfo{Revision: revision}

	res, err := m.git(ctx, timeout, "rev-list", "--count", revision)
	if err != nil {
		return RevisionInfo{}, fmt.Errorf("failed to count ancestors of '%s': %w", revision, err)
	}
	count, err := strconv.Atoi(strings.TrimSpace(res.Stdout))
	if err != nil {
		return RevisionInfo{}, fmt.Errorf("unexpected rev-list output '%s': %w", strings.TrimSpace(res.Stdout), err)
	}
	info.RevCount = count

	res, err = m.git(ctx, timeout, "rev-parse", "--short", revision)
	if err != nil {
		return RevisionInfo{}, fmt.Errorf("failed to abbreviate '%s': %w", revision, err)
	}
	info.ShortRev = strings.TrimSpace(res.Stdout)

	// No reachable tag is common; fall back to the abbreviated hash.
	if res, err = m.git(ctx, timeout, "describe", "--tags", revision); err == nil {
		info.Tag = strings.TrimSpace(res.Stdout)
	} else {
		info.Tag = info.ShortRev
	}

	return info, nil
}

// Checkout materializes ref in the mirror's working tree. A plain
// checkout is attempted first; when the local branch does not exist yet,
// the single sanctioned retry creates it tracking origin. Must be called
// under the mirror's lock.
func (m *Mirror) Checkout(ctx context.Context, ref string, timeout time.Duration) error {
	if _, err := m.git(ctx, timeout, "checkout", "-f", ref); err == nil {
		return nil
	}

	if _, err := m.git(ctx, timeout, "checkout", "-f", "-b", ref, "origin/"+ref); err != nil {
		return fmt.Errorf("failed to check out '%s' in mirror of '%s': %w", ref, m.uri, err)
	}

	return nil
}

// HasTopGitMarker reports whether the current checkout follows the
// stacked topic-branch convention.
func (m *Mirror) HasTopGitMarker() bool {
	_, err := os.Stat(filepath.Join(m.dir, topGitMarker))
	return err == nil
}

// PopulateTopicBranches invokes the auxiliary TopGit tool to materialize
// all referenced topic branches in the checkout, so history-aware tooling
// can run against it. Callers treat failure as a warning, not fatal.
func (m *Mirror) PopulateTopicBranches(ctx context.Context, timeout time.Duration) error {
	if _, err := m.run.Run(ctx, m.dir, timeout, "tg", "remote", "--populate", "origin"); err != nil {
		return fmt.Errorf("failed to populate topic branches for '%s': %w", m.uri, err)
	}
	return nil
}

// CommitsBetween returns the commits reachable from 'to' but not 'from',
// newest first, each with author name and email.
func (m *Mirror) CommitsBetween(ctx context.Context, from, to string, timeout time.Duration) ([]Commit, error) {
	if !IsRevision(from) || !IsRevision(to) {
		return nil, fmt.Errorf("%w: commit range endpoints must be resolved revisions", hydraerrors.ErrBadRevision)
	}

	res, err := m.git(ctx, timeout, "log", "--pretty=format:%H\t%an\t%ae", from+".."+to)
	if err != nil {
		return nil, fmt.Errorf("failed to list commits %s..%s: %w", from, to, err)
	}

	var commits []Commit
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("unexpected log line '%s'", line)
		}
		commits = append(commits, Commit{Revision: parts[0], Author: parts[1], Email: parts[2]})
	}

	return commits, nil
}

// git runs one git command inside the mirror directory.
func (m *Mirror) git(ctx context.Context, timeout time.Duration, args ...string) (*runner.Result, error) {
	res, err := m.run.Run(ctx, m.dir, timeout, "git", args...)
	if err != nil {
		var zero runner.Result
		if res == nil {
			res = &zero
		}
		return res, err
	}
	if res.Status != 0 {
		return res, errors.New(strings.TrimSpace(res.Stderr))
	}
	return res, nil
}
