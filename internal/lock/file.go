package lock

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/danjacques/gofslock/fslock"
	"github.com/hashicorp/go-hclog"

	hydraerrors "github.com/kquick/hydra/internal/errors"
	"github.com/kquick/hydra/internal/files"
)

// lockHeldDelay is how long a waiter sleeps between acquisition attempts
// when another process holds the lock.
const lockHeldDelay = 250 * time.Millisecond

// FileManager is the cross-process Manager implementation, backed by one
// lock file per key under a shared directory. Deployments where several
// fetcher processes share the same mirror tree use this implementation.
// NewFileManager should be used to create instances of FileManager.
type FileManager struct {
	dir    string
	logger hclog.Logger
}

// NewFileManager creates a file-based lock manager rooted at dir.
func NewFileManager(logger hclog.Logger, dir string) (*FileManager, error) {
	if err := files.EnsureAtLeastRegularDir(dir); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	return &FileManager{
		dir:    dir,
		logger: logger.Named("lock"),
	}, nil
}

// Acquire takes the exclusive lock file for key, polling while it is held
// elsewhere. The wait is unbounded unless ctx carries a deadline; a holder
// that crashed leaves the lock to the OS, which releases it when the
// owning process exits.
func (m *FileManager) Acquire(ctx context.Context, key string) (ReleaseFunc, error) {
	path := filepath.Join(m.dir, key+".lock")

	handle, err := fslock.LockBlocking(path, m.blocker(ctx, key))
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: waiting for '%s': %w", hydraerrors.ErrLockTimeout, key, ctx.Err())
		}
		return nil, fmt.Errorf("failed to lock '%s': %w", key, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := handle.Unlock(); err != nil {
				m.logger.Warn("Failed to release lock", "key", key, "error", err)
			}
		})
	}, nil
}

// blocker sleeps lockHeldDelay between attempts and aborts when ctx is done.
func (m *FileManager) blocker(ctx context.Context, key string) fslock.Blocker {
	return func() error {
		m.logger.Debug("Lock is currently held, retrying", "key", key, "delay", lockHeldDelay)
		select {
		case <-time.After(lockHeldDelay):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
