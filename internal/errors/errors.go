// Package errors defines domain-level errors used throughout the fetch
// subsystem. They let callers distinguish failure classes with errors.Is
// without inspecting message text.
package errors

import (
	"errors"
)

var (
	// ErrNotApplicable indicates that a resolver was offered an input whose
	// declared type tag it does not handle. The registry treats this as
	// "try the next resolver", never as a failure of the input itself.
	ErrNotApplicable = errors.New("input type not applicable")

	// ErrBadSpec indicates a malformed input value string (for example an
	// empty value). Fatal for the input being resolved.
	ErrBadSpec = errors.New("malformed input specification")

	// ErrBadRevision indicates that ref resolution produced something other
	// than a 40-character hex commit id. This signals a corrupted or
	// unexpected VCS response and is fatal for the input being resolved.
	ErrBadRevision = errors.New("invalid revision")

	// ErrFetchFailed indicates that a VCS network operation failed even
	// after the single sanctioned broadened retry.
	ErrFetchFailed = errors.New("fetch failed")

	// ErrCycleDetected indicates that submodule recursion encountered a
	// (uri, revision) pair already being resolved on the current path.
	ErrCycleDetected = errors.New("submodule cycle detected")

	// ErrLockTimeout indicates that lock acquisition was abandoned because
	// the caller's context expired while waiting.
	ErrLockTimeout = errors.New("lock acquisition timed out")
)
