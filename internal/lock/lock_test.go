package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	hydraerrors "github.com/kquick/hydra/internal/errors"
)

// managers under test share the Manager contract; each constructor gets
// the same suite.
func testManagers(t *testing.T) map[string]Manager {
	t.Helper()

	fm, err := NewFileManager(hclog.NewNullLogger(), t.TempDir())
	require.NoError(t, err)

	return map[string]Manager{
		"mutex": NewMutexManager(),
		"file":  fm,
	}
}

func TestManager_ExclusiveAcquire(t *testing.T) {
	t.Parallel()

	for name, m := range testManagers(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			release, err := m.Acquire(context.Background(), "abc123")
			require.NoError(t, err)

			// A second acquisition of the same key must block until release.
			acquired := make(chan struct{})
			go func() {
				r2, err := m.Acquire(context.Background(), "abc123")
				if err == nil {
					close(acquired)
					r2()
				}
			}()

			select {
			case <-acquired:
				t.Fatal("second acquire succeeded while lock was held")
			case <-time.After(200 * time.Millisecond):
			}

			release()

			select {
			case <-acquired:
			case <-time.After(5 * time.Second):
				t.Fatal("second acquire never succeeded after release")
			}
		})
	}
}

func TestManager_DistinctKeysDoNotContend(t *testing.T) {
	t.Parallel()

	for name, m := range testManagers(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			r1, err := m.Acquire(context.Background(), "repo-a")
			require.NoError(t, err)
			defer r1()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			r2, err := m.Acquire(ctx, "repo-b")
			require.NoError(t, err)
			r2()
		})
	}
}

func TestManager_AcquireHonorsContext(t *testing.T) {
	t.Parallel()

	for name, m := range testManagers(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			release, err := m.Acquire(context.Background(), "held")
			require.NoError(t, err)
			defer release()

			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()

			_, err = m.Acquire(ctx, "held")
			require.Error(t, err)
			require.ErrorIs(t, err, hydraerrors.ErrLockTimeout)
		})
	}
}

func TestManager_ReleaseIsIdempotent(t *testing.T) {
	t.Parallel()

	for name, m := range testManagers(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			release, err := m.Acquire(context.Background(), "once")
			require.NoError(t, err)

			release()
			release() // second call must be a no-op

			r2, err := m.Acquire(context.Background(), "once")
			require.NoError(t, err)
			r2()
		})
	}
}

func TestMutexManager_SerializesWriters(t *testing.T) {
	t.Parallel()

	m := NewMutexManager()

	var inCritical int
	var maxInCritical int
	var mu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			release, err := m.Acquire(context.Background(), "shared-mirror")
			require.NoError(t, err)
			defer release()

			mu.Lock()
			inCritical++
			if inCritical > maxInCritical {
				maxInCritical = inCritical
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inCritical--
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Equal(t, 1, maxInCritical)
}
