// Package dedup implements the durable deduplication cache: a key-value
// store mapping (uri, ref, revision) to a previously produced content
// path, so resolving the same immutable commit twice costs one lookup
// instead of one re-fetch. Entries are written transactionally; the read
// and the upsert are deliberately not atomic with each other across
// processes, since a benign race at worst re-materializes content that
// hashes to the same address.
package dedup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v3"
	"github.com/hashicorp/go-hclog"
)

// Entry is one durable record of a resolved revision.
type Entry struct {
	URI         string `json:"uri"`
	Ref         string `json:"ref"`
	Revision    string `json:"revision"`
	ContentHash string `json:"contentHash"`
	ContentPath string `json:"contentPath"`
}

// Cache is a badger-backed dedup cache.
// Open should be used to create instances of Cache.
type Cache struct {
	db     *badger.DB
	logger hclog.Logger
}

// Open opens (creating if necessary) the dedup database at dir.
func Open(logger hclog.Logger, dir string) (*Cache, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open dedup database at '%s': %w", dir, err)
	}
	return &Cache{
		db:     db,
		logger: logger.Named("dedup"),
	}, nil
}

// Close releases the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Lookup returns the entry for (uri, ref, revision), or (nil, nil) when no
// entry exists. Callers must revalidate the content path against the
// store before trusting it.
func (c *Cache) Lookup(_ context.Context, uri, ref, revision string) (*Entry, error) {
	var entry *Entry

	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(uri, ref, revision))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var e Entry
			if err := json.Unmarshal(val, &e); err != nil {
				return fmt.Errorf("failed to decode dedup entry: %w", err)
			}
			entry = &e
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dedup lookup failed: %w", err)
	}

	c.logger.Debug("Dedup hit", "uri", uri, "ref", ref, "revision", revision, "contentPath", entry.ContentPath)

	return entry, nil
}

// Upsert transactionally creates or replaces the entry keyed by
// (uri, ref, revision).
func (c *Cache) Upsert(_ context.Context, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode dedup entry: %w", err)
	}

	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(entry.URI, entry.Ref, entry.Revision), data)
	})
	if err != nil {
		return fmt.Errorf("dedup upsert failed: %w", err)
	}

	c.logger.Debug("Dedup entry stored", "uri", entry.URI, "ref", entry.Ref, "revision", entry.Revision)

	return nil
}

// Entries returns every recorded entry, in key order.
func (c *Cache) Entries(_ context.Context) ([]Entry, error) {
	var entries []Entry

	err := c.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var e Entry
				if err := json.Unmarshal(val, &e); err != nil {
					return fmt.Errorf("failed to decode dedup entry: %w", err)
				}
				entries = append(entries, e)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dedup scan failed: %w", err)
	}

	return entries, nil
}

// key builds the composite database key. NUL separators keep the three
// components unambiguous regardless of their content.
func key(uri, ref, revision string) []byte {
	return []byte(uri + "\x00" + ref + "\x00" + revision)
}
