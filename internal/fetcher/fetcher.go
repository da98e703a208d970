// Package fetcher resolves declared version-control inputs into
// immutable, content-addressed artifacts. A registry dispatches each
// input to the resolver advertising its type tag; resolvers share one
// uniform contract and produce a published RepoInfo tree.
package fetcher

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"

	hydraerrors "github.com/kquick/hydra/internal/errors"
)

// Resolver turns one declared input into a published result tree.
type Resolver interface {
	// Types returns the input type tags this resolver handles.
	Types() []string

	// Resolve resolves the input, returning ErrNotApplicable when the
	// input's type tag is not one of Types().
	Resolve(ctx context.Context, in Input) (*RepoInfo, error)
}

// Registry dispatches inputs across the configured resolvers. This is
// the main entry point for input resolution in the application.
// NewRegistry should be used to create instances of Registry.
type Registry struct {
	logger    hclog.Logger
	resolvers map[string]Resolver
}

// NewRegistry creates a registry over the supplied resolvers. Two
// resolvers advertising the same type tag is a configuration error.
func NewRegistry(logger hclog.Logger, resolvers ...Resolver) (*Registry, error) {
	m := make(map[string]Resolver)
	for _, r := range resolvers {
		for _, tag := range r.Types() {
			if _, exists := m[tag]; exists {
				return nil, fmt.Errorf("duplicate resolver for input type '%s'", tag)
			}
			m[tag] = r
		}
	}
	return &Registry{
		logger:    logger.Named("fetcher"),
		resolvers: m,
	}, nil
}

// Resolve routes the input to the resolver handling its type tag.
func (r *Registry) Resolve(ctx context.Context, in Input) (*RepoInfo, error) {
	resolver, ok := r.resolvers[in.Type]
	if !ok {
		return nil, fmt.Errorf("%w: no resolver handles input type '%s'", hydraerrors.ErrNotApplicable, in.Type)
	}

	r.logger.Debug("Resolving input",
		"type", in.Type,
		"project", in.Project,
		"jobset", in.Jobset,
		"input", in.Name,
	)

	info, err := resolver.Resolve(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve input '%s' of %s:%s: %w", in.Name, in.Project, in.Jobset, err)
	}

	return info, nil
}
