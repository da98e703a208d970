// Package store defines the content-addressed store collaborator used to
// persist resolved input trees, and a local filesystem implementation of
// it. The store's internal addressing is opaque to the fetch subsystem:
// callers hand it bytes and get back an identifier, ask whether an
// identifier is still present, and pin identifiers against collection.
package store

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/kquick/hydra/internal/files"
	"github.com/kquick/hydra/internal/perms"
)

// Store is the content-addressed store consumed by the fetch pipeline.
type Store interface {
	// Add ingests data and returns its content identifier. Adding the same
	// bytes twice returns the same identifier without creating a new entry.
	Add(ctx context.Context, data []byte) (string, error)

	// IsValid reports whether id still names live content (i.e. it has not
	// been garbage collected).
	IsValid(ctx context.Context, id string) bool

	// PinTemporary protects id from garbage collection while the current
	// evaluation still needs it.
	PinTemporary(ctx context.Context, id string) error
}

// LocalStore keeps content as flat files under a root directory, one file
// per content hash. It stands in for the production store in local
// deployments and tests; both sit behind the Store interface.
// NewLocalStore should be used to create instances of LocalStore.
type LocalStore struct {
	root   string
	logger hclog.Logger
}

// NewLocalStore creates a content store rooted at dir.
func NewLocalStore(logger hclog.Logger, dir string) (*LocalStore, error) {
	if err := files.EnsureAtLeastRegularDir(dir); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &LocalStore{
		root:   dir,
		logger: logger.Named("store"),
	}, nil
}

// Add writes data to a temporary file and renames it into place under its
// content hash. An entry that already exists is left untouched, which is
// what makes repeated ingestion of an unchanged tree a no-op.
func (s *LocalStore) Add(_ context.Context, data []byte) (string, error) {
	sum := sha256.Sum256(data)
	id := filepath.Join(s.root, fmt.Sprintf("%x", sum))

	if _, err := os.Stat(id); err == nil {
		s.logger.Debug("Content already present", "id", id)
		return id, nil
	}

	tmp, err := os.CreateTemp(s.root, "ingest-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary store file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("failed to write store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close store file: %w", err)
	}
	if err := os.Chmod(tmpPath, perms.RegularFile); err != nil {
		return "", fmt.Errorf("failed to set store file permissions: %w", err)
	}

	if err := os.Rename(tmpPath, id); err != nil {
		return "", fmt.Errorf("failed to finalize store file: %w", err)
	}

	s.logger.Debug("Added content", "id", id, "bytes", len(data))

	return id, nil
}

// IsValid reports whether id refers to a live entry under this store's root.
func (s *LocalStore) IsValid(_ context.Context, id string) bool {
	// The separator keeps sibling directories sharing the root as a string
	// prefix (e.g. root "store", id under "storeX") from passing.
	if !strings.HasPrefix(filepath.Clean(id), s.root+string(filepath.Separator)) {
		return false
	}
	info, err := os.Stat(id)
	return err == nil && info.Mode().IsRegular()
}

// PinTemporary refreshes the entry's modification time so that an
// age-based collector will not reap it mid-evaluation.
func (s *LocalStore) PinTemporary(_ context.Context, id string) error {
	if !s.IsValid(context.Background(), id) {
		return fmt.Errorf("cannot pin unknown content id '%s'", id)
	}
	now := time.Now()
	if err := os.Chtimes(id, now, now); err != nil {
		return fmt.Errorf("failed to pin '%s': %w", id, err)
	}
	return nil
}
