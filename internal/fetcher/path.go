package fetcher

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"

	hydraerrors "github.com/kquick/hydra/internal/errors"
	"github.com/kquick/hydra/internal/store"
)

// TypePath is the input type tag handled by the path resolver.
const TypePath = "path"

// PathResolver resolves path inputs: the value names a local path or URL
// that is accepted verbatim, with no mirror, lock or revision machinery.
// The result is still published so downstream consumers observe one
// uniform artifact shape across input types.
// NewPathResolver should be used to create instances of PathResolver.
type PathResolver struct {
	logger    hclog.Logger
	publisher *Publisher
}

// NewPathResolver creates a path input resolver over the given store.
func NewPathResolver(logger hclog.Logger, contentStore store.Store) *PathResolver {
	return &PathResolver{
		logger:    logger.Named("path"),
		publisher: NewPublisher(logger, contentStore),
	}
}

// Types implements Resolver.
func (r *PathResolver) Types() []string {
	return []string{TypePath}
}

// Resolve implements Resolver.
func (r *PathResolver) Resolve(ctx context.Context, in Input) (*RepoInfo, error) {
	if in.Type != TypePath {
		return nil, fmt.Errorf("%w: path resolver offered input type '%s'", hydraerrors.ErrNotApplicable, in.Type)
	}

	fields := strings.Fields(in.Value)
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: empty input value", hydraerrors.ErrBadSpec)
	}

	node := &RepoInfo{URI: fields[0]}
	if err := r.publisher.Publish(ctx, node); err != nil {
		return nil, err
	}

	r.logger.Debug("Resolved path input", "path", node.URI)

	return node, nil
}
