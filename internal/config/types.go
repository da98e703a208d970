package config

import "time"

// Default values applied before any configuration layer.
const (
	// DefaultTimeout bounds each VCS command run while resolving an input.
	DefaultTimeout = 600 * time.Second

	// SectionGit is the config file section holding git fetch settings.
	SectionGit = "git"

	// keyTimeout and keyCachePeriod are the recognized typed keys; every
	// other key in a section or override block lands in Settings.Extra.
	keyTimeout     = "timeout"
	keyCachePeriod = "cache_period"
	keyInputs      = "inputs"
)

// Settings is the effective per-call configuration for one input
// resolution, produced by merging defaults, the file section, the
// matching per-input block and the spec-string options (in that order of
// increasing precedence). It is ephemeral: re-derived every fetch, never
// persisted.
type Settings struct {
	// Timeout bounds the work done by each VCS command.
	Timeout time.Duration

	// CachePeriod is how long a previously computed fetch result stays
	// fresh. CacheEnabled is false when no layer configured a period, which
	// disables the freshness cache tier entirely for the call.
	CachePeriod  time.Duration
	CacheEnabled bool

	// Extra carries unrecognized keys for forward compatibility.
	Extra map[string]string

	// Debug enables verbose diagnostic logging. Set explicitly at the CLI
	// boundary rather than read from the process environment by components.
	Debug bool

	// ForceSend is consumed by the notification path, which shares this
	// settings object; the fetch pipeline ignores it.
	ForceSend bool
}

// DefaultSettings returns the built-in defaults: 600s command timeout and
// the freshness cache disabled.
func DefaultSettings() Settings {
	return Settings{
		Timeout: DefaultTimeout,
		Extra:   map[string]string{},
	}
}
