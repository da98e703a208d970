// Package lock serializes mutating access to shared per-key resources,
// principally repository mirrors. A lock is identified by an opaque key
// (derived from the mirror's URI hash), not by a filesystem path, so the
// same contract can be satisfied in-process or across processes.
package lock

import "context"

// ReleaseFunc releases a held lock. It is safe to call exactly once.
type ReleaseFunc func()

// Manager grants exclusive ownership of a key. Acquire blocks until the
// lock is granted or ctx is done; callers that need an unbounded wait pass
// a background context. At most one holder exists per key at any instant.
type Manager interface {
	Acquire(ctx context.Context, key string) (ReleaseFunc, error)
}
