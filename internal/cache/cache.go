// Package cache implements the on-disk freshness cache: a time-bounded
// record of previously computed fetch results, keyed by source URI and
// ref. It short-circuits repeated fetches of the same logical input
// across many callers within the configured cache period.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/kquick/hydra/internal/files"
	"github.com/kquick/hydra/internal/store"
)

// Record is one cached fetch result. ContentPath is revalidated against
// the content store on every lookup, so a record whose content has been
// garbage collected reads as a miss rather than an error.
type Record struct {
	// ContentPath is the content-store identifier of the published result.
	ContentPath string `json:"contentPath"`

	// Result is the published result document, returned verbatim on a hit.
	Result json.RawMessage `json:"result"`
}

// Cache manages cached fetch results on disk.
// NewCache should be used to create instances of Cache.
type Cache struct {
	// dir is the directory where cache record files are stored.
	dir string

	// store validates recorded content paths on lookup.
	store store.Store

	// logger is used for logging cache operations.
	logger hclog.Logger
}

// NewCache creates a freshness cache rooted at dir.
func NewCache(logger hclog.Logger, contentStore store.Store, dir string) (*Cache, error) {
	if err := files.EnsureAtLeastRegularDir(dir); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	return &Cache{
		dir:    dir,
		store:  contentStore,
		logger: logger.Named("cache"),
	}, nil
}

// Lookup returns the cached record for (uri, ref) if one exists, is
// younger than period, and still names live store content. Readers take
// no lock: a stale read races at worst within the cache period, which is
// a tolerated staleness window, not a correctness issue.
func (c *Cache) Lookup(ctx context.Context, uri, ref string, period time.Duration) (*Record, bool) {
	path := c.recordPath(uri, ref)

	info, err := os.Stat(path)
	if err != nil {
		return nil, false
	}
	if time.Since(info.ModTime()) > period {
		c.logger.Debug("Cache record expired", "uri", uri, "ref", ref, "path", path)
		return nil, false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		c.logger.Debug("Cache record unreadable", "path", path, "error", err)
		return nil, false
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		c.logger.Warn("Cache record corrupt, ignoring", "path", path, "error", err)
		return nil, false
	}

	if !c.store.IsValid(ctx, rec.ContentPath) {
		c.logger.Debug("Cache record references collected content", "uri", uri, "ref", ref, "contentPath", rec.ContentPath)
		return nil, false
	}

	c.logger.Debug("Cache hit", "uri", uri, "ref", ref)

	return &rec, true
}

// Put writes (or refreshes) the record for (uri, ref). Only the caller
// that just completed a fresh resolution writes, so a temp-file plus
// rename keeps concurrent readers from ever seeing a partial record.
func (c *Cache) Put(_ context.Context, uri, ref string, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode cache record: %w", err)
	}

	tmp, err := os.CreateTemp(c.dir, "tmp-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temporary cache file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath) // Clean up on any error.
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close cache file: %w", err)
	}

	path := c.recordPath(uri, ref)
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename cache file: %w", err)
	}

	c.logger.Debug("Cached fetch result", "uri", uri, "ref", ref, "path", path)

	return nil
}

// Sweep removes record files whose modification time is older than
// olderThan, reclaiming space from refs no longer being requested. It is
// invoked opportunistically after successful writes.
func (c *Cache) Sweep(olderThan time.Duration) error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("failed to read cache directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if time.Since(info.ModTime()) <= olderThan {
			continue
		}
		path := filepath.Join(c.dir, entry.Name())
		if err := os.Remove(path); err != nil {
			c.logger.Warn("Failed to sweep stale cache record", "path", path, "error", err)
			continue
		}
		c.logger.Debug("Swept stale cache record", "path", path)
	}

	return nil
}

// recordPath derives the record file path from the URI hash and ref.
func (c *Cache) recordPath(uri, ref string) string {
	uriHash := sha256.Sum256([]byte(uri))
	refHash := sha256.Sum256([]byte(ref))
	return filepath.Join(c.dir, fmt.Sprintf("%x-%x.json", uriHash, refHash[:8]))
}
