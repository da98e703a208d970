package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/kquick/hydra/internal/store"
)

// Publisher serializes resolved trees canonically and hands them to the
// content-addressed store. Canonical means: fixed field order, children
// pre-sorted by submodule path, and the node's own content fields
// excluded — an unchanged tree always serializes to the same bytes, which
// is what lets the store recognize "nothing changed" and return the
// existing identifier.
// NewPublisher should be used to create instances of Publisher.
type Publisher struct {
	store  store.Store
	logger hclog.Logger
}

// NewPublisher creates a publisher over the given content store.
func NewPublisher(logger hclog.Logger, contentStore store.Store) *Publisher {
	return &Publisher{
		store:  contentStore,
		logger: logger.Named("publisher"),
	}
}

// Publish ingests the node's canonical serialization, filling in its
// ContentPath and Sha256Hash. Children must already be published.
func (p *Publisher) Publish(ctx context.Context, node *RepoInfo) error {
	data, err := Canonical(node)
	if err != nil {
		return err
	}

	id, err := p.store.Add(ctx, data)
	if err != nil {
		return fmt.Errorf("failed to publish result for '%s': %w", node.URI, err)
	}

	node.ContentPath = id
	node.Sha256Hash = fmt.Sprintf("%x", sha256.Sum256(data))

	p.logger.Debug("Published result", "uri", node.URI, "revision", node.Revision, "contentPath", id)

	return nil
}

// Canonical returns the deterministic byte representation of a node: the
// node with its own derived content fields cleared, since those are
// outputs of publishing, not inputs to it.
func Canonical(node *RepoInfo) ([]byte, error) {
	shadow := *node
	shadow.ContentPath = ""
	shadow.Sha256Hash = ""

	data, err := json.Marshal(&shadow)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize result for '%s': %w", node.URI, err)
	}
	return data, nil
}
