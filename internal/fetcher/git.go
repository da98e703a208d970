package fetcher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/kquick/hydra/internal/cache"
	"github.com/kquick/hydra/internal/config"
	"github.com/kquick/hydra/internal/dedup"
	hydraerrors "github.com/kquick/hydra/internal/errors"
	"github.com/kquick/hydra/internal/git"
	"github.com/kquick/hydra/internal/lock"
	"github.com/kquick/hydra/internal/runner"
	"github.com/kquick/hydra/internal/store"
)

// TypeGit is the input type tag handled by the git resolver.
const TypeGit = "git"

// GitParams carries the collaborators of a GitResolver. Freshness and
// Dedup are optional tiers: a nil Freshness disables the on-disk cache
// regardless of configuration, and a nil Dedup disables revision-level
// deduplication.
type GitParams struct {
	Config     *config.Config
	Runner     runner.Runner
	Locks      lock.Manager
	Store      store.Store
	Freshness  *cache.Cache
	Dedup      *dedup.Cache
	MirrorRoot string
}

// GitResolver resolves git inputs: it maintains one persistent mirror per
// source URI, serializes mutation of each mirror behind a per-URI lock,
// resolves refs to commits, recursively resolves submodules, and
// publishes the resulting tree to the content store.
// NewGitResolver should be used to create instances of GitResolver.
type GitResolver struct {
	logger    hclog.Logger
	cfg       *config.Config
	run       runner.Runner
	locks     lock.Manager
	store     store.Store
	fresh     *cache.Cache
	dedup     *dedup.Cache
	publisher *Publisher
	root      string
}

// NewGitResolver creates a git input resolver.
func NewGitResolver(logger hclog.Logger, p GitParams) (*GitResolver, error) {
	if p.Config == nil || p.Runner == nil || p.Locks == nil || p.Store == nil || p.MirrorRoot == "" {
		return nil, fmt.Errorf("git resolver requires config, runner, lock manager, store and mirror root")
	}
	return &GitResolver{
		logger:    logger.Named("git"),
		cfg:       p.Config,
		run:       p.Runner,
		locks:     p.Locks,
		store:     p.Store,
		fresh:     p.Freshness,
		dedup:     p.Dedup,
		publisher: NewPublisher(logger, p.Store),
		root:      p.MirrorRoot,
	}, nil
}

// Types implements Resolver.
func (r *GitResolver) Types() []string {
	return []string{TypeGit}
}

// Resolve implements Resolver: parse the value string, merge the layered
// configuration, then resolve the full tree.
func (r *GitResolver) Resolve(ctx context.Context, in Input) (*RepoInfo, error) {
	if in.Type != TypeGit {
		return nil, fmt.Errorf("%w: git resolver offered input type '%s'", hydraerrors.ErrNotApplicable, in.Type)
	}

	spec, err := ParseSpec(in.Value)
	if err != nil {
		return nil, err
	}

	settings, err := r.cfg.Effective(config.SectionGit, in.Project, in.Jobset, in.Name, spec.Options)
	if err != nil {
		return nil, err
	}

	return r.resolveTree(ctx, spec, settings, map[string]struct{}{})
}

// resolveTree resolves one repository (and, recursively, its submodules)
// into a published node. visited carries the (uri, revision) pairs in
// progress on the current recursion path, to fail fast on submodule
// graphs that include themselves.
func (r *GitResolver) resolveTree(
	ctx context.Context,
	spec *Spec,
	settings config.Settings,
	visited map[string]struct{},
) (*RepoInfo, error) {
	// Freshness tier: served without taking the mirror lock. A stale read
	// races at worst within the cache period.
	if node, ok := r.freshLookup(ctx, spec.URI, spec.Ref, settings); ok {
		return node, nil
	}

	node, subs, err := r.resolveMirror(ctx, spec, settings, visited)
	if err != nil {
		return nil, err
	}

	// A dedup hit carries a ready content path; no submodule walk needed.
	if subs == nil && node.ContentPath != "" {
		r.freshStore(ctx, spec.URI, spec.Ref, settings, node)
		return node, nil
	}

	if err := r.resolveSubmodules(ctx, node, subs, settings, visited); err != nil {
		return nil, err
	}

	if err := r.publisher.Publish(ctx, node); err != nil {
		return nil, err
	}
	if err := r.store.PinTemporary(ctx, node.ContentPath); err != nil {
		return nil, err
	}

	if r.dedup != nil {
		err := r.dedup.Upsert(ctx, dedup.Entry{
			URI:         spec.URI,
			Ref:         spec.Ref,
			Revision:    node.Revision,
			ContentHash: node.Sha256Hash,
			ContentPath: node.ContentPath,
		})
		if err != nil {
			return nil, err
		}
	}

	r.freshStore(ctx, spec.URI, spec.Ref, settings, node)

	return node, nil
}

// resolveMirror performs all work that touches this URI's mirror, under
// the mirror's lock: create-or-update, ref resolution, advisory fields,
// submodule discovery and optional deep-clone enrichment. Submodules'
// own mirrors are not covered by this lock. On a dedup hit the returned
// submodule list is nil and the node already carries its content path.
func (r *GitResolver) resolveMirror(
	ctx context.Context,
	spec *Spec,
	settings config.Settings,
	visited map[string]struct{},
) (*RepoInfo, []git.Submodule, error) {
	mirror := git.NewMirror(r.logger, r.run, r.root, spec.URI)

	release, err := r.locks.Acquire(ctx, mirror.Key())
	if err != nil {
		return nil, nil, err
	}
	defer release()

	if err := mirror.Ensure(ctx, settings.Timeout); err != nil {
		return nil, nil, err
	}
	if err := mirror.UpdateRef(ctx, spec.Ref, settings.Timeout); err != nil {
		return nil, nil, err
	}

	revision, err := mirror.ResolveRevision(ctx, spec.Ref, settings.Timeout)
	if err != nil {
		return nil, nil, err
	}

	key := spec.URI + "\x00" + revision
	if _, seen := visited[key]; seen {
		return nil, nil, fmt.Errorf("%w: '%s' at %s includes itself", hydraerrors.ErrCycleDetected, spec.URI, revision)
	}
	visited[key] = struct{}{}

	info, err := mirror.Describe(ctx, revision, settings.Timeout)
	if err != nil {
		return nil, nil, err
	}

	node := &RepoInfo{
		URI:      spec.URI,
		Revision: info.Revision,
		RevCount: info.RevCount,
		Tag:      info.Tag,
		ShortRev: info.ShortRev,
	}

	// Dedup tier: an unchanged revision costs one store lookup, not one
	// re-materialization. An entry whose content was collected is a miss.
	if entry, ok := r.dedupLookup(ctx, spec.URI, spec.Ref, revision); ok {
		node.ContentPath = entry.ContentPath
		node.Sha256Hash = entry.ContentHash
		return node, nil, nil
	}

	if spec.DeepClone {
		r.enrichDeepClone(ctx, mirror, spec.Ref, settings)
	}

	subs, err := mirror.Submodules(ctx, revision, settings.Timeout)
	if err != nil {
		return nil, nil, err
	}
	if subs == nil {
		subs = []git.Submodule{}
	}

	return node, subs, nil
}

// resolveSubmodules recursively resolves each discovered submodule
// through the entire pipeline against its own independent mirror and
// lock. Siblings resolve concurrently; only requests targeting the
// identical URI contend. Children arrive sorted by path and are attached
// in that order.
func (r *GitResolver) resolveSubmodules(
	ctx context.Context,
	parent *RepoInfo,
	subs []git.Submodule,
	settings config.Settings,
	visited map[string]struct{},
) error {
	if len(subs) == 0 {
		return nil
	}

	children := make([]*RepoInfo, len(subs))

	g, gctx := errgroup.WithContext(ctx)
	for i, sub := range subs {
		g.Go(func() error {
			childSpec := &Spec{
				URI:     sub.URI,
				Ref:     sub.Revision,
				Options: map[string]string{},
			}
			child, err := r.resolveTree(gctx, childSpec, settings, copyVisited(visited))
			if err != nil {
				return fmt.Errorf("failed to resolve submodule '%s': %w", sub.Path, err)
			}
			child.Submodule = sub.Path
			children[i] = child
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	parent.Submodules = children

	return nil
}

// enrichDeepClone materializes the requested ref in the working tree and,
// when the checkout follows the stacked topic-branch convention, invokes
// the auxiliary tool to populate all referenced topic branches. This is
// best-effort enrichment: failures are logged as warnings and resolution
// proceeds without it.
func (r *GitResolver) enrichDeepClone(ctx context.Context, mirror *git.Mirror, ref string, settings config.Settings) {
	if err := mirror.Checkout(ctx, ref, settings.Timeout); err != nil {
		r.logger.Warn("Deep clone checkout failed, continuing without enrichment",
			"uri", mirror.URI(), "ref", ref, "error", err)
		return
	}
	if !mirror.HasTopGitMarker() {
		return
	}
	if err := mirror.PopulateTopicBranches(ctx, settings.Timeout); err != nil {
		r.logger.Warn("Topic branch population failed, continuing without enrichment",
			"uri", mirror.URI(), "error", err)
	}
}

// freshLookup consults the on-disk freshness cache when the call's
// configuration enables it.
func (r *GitResolver) freshLookup(ctx context.Context, uri, ref string, settings config.Settings) (*RepoInfo, bool) {
	if r.fresh == nil || !settings.CacheEnabled {
		return nil, false
	}

	rec, ok := r.fresh.Lookup(ctx, uri, ref, settings.CachePeriod)
	if !ok {
		return nil, false
	}

	var node RepoInfo
	if err := json.Unmarshal(rec.Result, &node); err != nil {
		r.logger.Warn("Discarding undecodable cache record", "uri", uri, "ref", ref, "error", err)
		return nil, false
	}

	if err := r.store.PinTemporary(ctx, node.ContentPath); err != nil {
		r.logger.Debug("Cached content could not be pinned, refetching", "uri", uri, "ref", ref, "error", err)
		return nil, false
	}

	return &node, true
}

// freshStore records a successful resolution in the freshness cache and
// opportunistically sweeps records stale for several cache periods.
// Cache write failures never fail the resolution that produced the data.
func (r *GitResolver) freshStore(ctx context.Context, uri, ref string, settings config.Settings, node *RepoInfo) {
	if r.fresh == nil || !settings.CacheEnabled {
		return
	}

	result, err := json.Marshal(node)
	if err != nil {
		r.logger.Warn("Failed to encode result for caching", "uri", uri, "ref", ref, "error", err)
		return
	}

	rec := cache.Record{ContentPath: node.ContentPath, Result: result}
	if err := r.fresh.Put(ctx, uri, ref, rec); err != nil {
		r.logger.Warn("Failed to write cache record", "uri", uri, "ref", ref, "error", err)
		return
	}

	if err := r.fresh.Sweep(4 * settings.CachePeriod); err != nil {
		r.logger.Warn("Cache sweep failed", "error", err)
	}
}

// dedupLookup consults the durable dedup cache, revalidating the entry's
// content against the store and pinning it while still valid.
func (r *GitResolver) dedupLookup(ctx context.Context, uri, ref, revision string) (*dedup.Entry, bool) {
	if r.dedup == nil {
		return nil, false
	}

	entry, err := r.dedup.Lookup(ctx, uri, ref, revision)
	if err != nil {
		r.logger.Warn("Dedup lookup failed, treating as miss", "uri", uri, "ref", ref, "error", err)
		return nil, false
	}
	if entry == nil {
		return nil, false
	}

	if !r.store.IsValid(ctx, entry.ContentPath) {
		r.logger.Debug("Dedup entry references collected content", "uri", uri, "revision", revision)
		return nil, false
	}
	if err := r.store.PinTemporary(ctx, entry.ContentPath); err != nil {
		r.logger.Debug("Dedup content could not be pinned, refetching", "uri", uri, "revision", revision, "error", err)
		return nil, false
	}

	return entry, true
}

// copyVisited clones the recursion path set so sibling branches do not
// observe each other's progress.
func copyVisited(visited map[string]struct{}) map[string]struct{} {
	cp := make(map[string]struct{}, len(visited))
	for k := range visited {
		cp[k] = struct{}{}
	}
	return cp
}
