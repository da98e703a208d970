package lock

import (
	"context"
	"fmt"
	"sync"

	hydraerrors "github.com/kquick/hydra/internal/errors"
)

// MutexManager is the in-process Manager implementation, suitable for
// single-process deployments where all fetchers share one address space.
// NewMutexManager should be used to create instances of MutexManager.
type MutexManager struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewMutexManager creates an in-process lock manager.
func NewMutexManager() *MutexManager {
	return &MutexManager{
		locks: make(map[string]chan struct{}),
	}
}

// Acquire blocks until the key's lock is free or ctx is done.
func (m *MutexManager) Acquire(ctx context.Context, key string) (ReleaseFunc, error) {
	ch := m.channel(key)

	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() { <-ch })
		}, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: waiting for '%s': %w", hydraerrors.ErrLockTimeout, key, ctx.Err())
	}
}

// channel returns the buffered channel acting as the key's mutex,
// creating it on first use. Channels are never removed; the set of keys
// is bounded by the set of distinct mirror URIs.
func (m *MutexManager) channel(key string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		m.locks[key] = ch
	}
	return ch
}
