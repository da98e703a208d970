package git

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	gitconfig "github.com/go-git/go-git/v5/config"
)

// gitmodulesFile is the submodule declaration file at the tree root.
const gitmodulesFile = ".gitmodules"

// gitlinkMode is the tree entry mode recording a submodule's pinned commit.
const gitlinkMode = "160000"

// Submodules discovers the submodules declared by revision: the entries
// of its .gitmodules file joined with the commit id the tree pins for
// each path, ordered by path. A revision without a .gitmodules file has
// no submodules; absence is probed separately from reading so that a
// failed read aborts the resolution instead of passing for an empty
// tree. Declared paths with no corresponding gitlink in the tree (or
// vice versa) are skipped silently.
func (m *Mirror) Submodules(ctx context.Context, revision string, timeout time.Duration) ([]Submodule, error) {
	// ls-tree succeeds with empty output when the path is not in the tree.
	res, err := m.git(ctx, timeout, "ls-tree", revision, "--", gitmodulesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect tree of '%s' at %s: %w", m.uri, revision, err)
	}
	if strings.TrimSpace(res.Stdout) == "" {
		return nil, nil
	}

	res, err = m.git(ctx, timeout, "show", revision+":"+gitmodulesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s of '%s' at %s: %w", gitmodulesFile, m.uri, revision, err)
	}

	modules := gitconfig.NewModules()
	if err := modules.Unmarshal([]byte(res.Stdout)); err != nil {
		return nil, fmt.Errorf("failed to parse %s of '%s' at %s: %w", gitmodulesFile, m.uri, revision, err)
	}

	declared := make([]*gitconfig.Submodule, 0, len(modules.Submodules))
	for _, sub := range modules.Submodules {
		if sub.Path == "" || sub.URL == "" {
			continue
		}
		declared = append(declared, sub)
	}
	sort.Slice(declared, func(i, j int) bool { return declared[i].Path < declared[j].Path })

	subs := make([]Submodule, 0, len(declared))
	for _, sub := range declared {
		pinned, ok, err := m.pinnedCommit(ctx, revision, sub.Path, timeout)
		if err != nil {
			return nil, err
		}
		if !ok {
			m.logger.Debug("Declared submodule has no pinned commit, skipping", "uri", m.uri, "path", sub.Path)
			continue
		}
		subs = append(subs, Submodule{
			Path:     sub.Path,
			URI:      sub.URL,
			Revision: pinned,
		})
	}

	return subs, nil
}

// pinnedCommit reads the gitlink entry for path in revision's tree.
func (m *Mirror) pinnedCommit(ctx context.Context, revision, path string, timeout time.Duration) (string, bool, error) {
	res, err := m.git(ctx, timeout, "ls-tree", revision, "--", path)
	if err != nil {
		return "", false, fmt.Errorf("failed to inspect tree entry '%s' at %s: %w", path, revision, err)
	}

	// Format: "<mode> <type> <object>\t<path>".
	line := strings.TrimSpace(res.Stdout)
	if line == "" {
		return "", false, nil
	}
	fields := strings.Fields(strings.SplitN(line, "\t", 2)[0])
	if len(fields) != 3 || fields[0] != gitlinkMode {
		return "", false, nil
	}
	if !IsRevision(fields[2]) {
		return "", false, nil
	}

	return fields[2], true, nil
}
