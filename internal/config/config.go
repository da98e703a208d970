// Package config loads the layered fetch configuration file and merges it
// with per-input overrides into the effective settings for one resolution.
//
// The file is TOML. A named section holds section-wide defaults plus an
// `inputs` table of override blocks keyed by "project:jobset:input":
//
//	[git]
//	timeout = 600
//	cache_period = 3600
//
//	[git.inputs."patchelf:master:src"]
//	timeout = 400
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the decoded configuration file: section name to raw key
// table. Values stay untyped until merged, since sections may carry
// arbitrary extra keys alongside the recognized ones.
type Config struct {
	sections map[string]map[string]any
}

// Load reads and decodes the configuration file at path. A missing file
// yields an empty configuration (all defaults); a malformed file is an
// error.
func Load(path string) (*Config, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return &Config{sections: map[string]map[string]any{}}, nil
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return &Config{sections: map[string]map[string]any{}}, nil
		}
		return nil, fmt.Errorf("failed to stat config file (%s): %w", path, err)
	}

	raw := map[string]map[string]any{}
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode config from file (%s): %w", path, err)
	}

	return &Config{sections: raw}, nil
}

// Effective merges, in increasing precedence, built-in defaults, the named
// section, the section's block keyed "project:jobset:input", and the
// options parsed from the input's spec string. Option values that are
// purely numeric are coerced to integers before being applied to typed
// fields, so a single input declaration can override ambient defaults
// without editing shared configuration.
func (c *Config) Effective(section, project, jobset, input string, options map[string]string) (Settings, error) {
	s := DefaultSettings()

	sec := c.sections[section]
	if err := applyLayer(&s, sec); err != nil {
		return Settings{}, fmt.Errorf("invalid '%s' section: %w", section, err)
	}

	blockKey := fmt.Sprintf("%s:%s:%s", project, jobset, input)
	if block, ok := nestedBlock(sec, blockKey); ok {
		if err := applyLayer(&s, block); err != nil {
			return Settings{}, fmt.Errorf("invalid '%s' block '%s': %w", section, blockKey, err)
		}
	}

	for k, v := range options {
		if err := applyValue(&s, k, v); err != nil {
			return Settings{}, fmt.Errorf("invalid option '%s=%s': %w", k, v, err)
		}
	}

	return s, nil
}

// nestedBlock digs the override table for key out of a decoded section.
func nestedBlock(sec map[string]any, key string) (map[string]any, bool) {
	inputs, ok := sec[keyInputs].(map[string]any)
	if !ok {
		return nil, false
	}
	block, ok := inputs[key].(map[string]any)
	return block, ok
}

// applyLayer overlays one decoded table onto the settings. Later layers
// win over earlier ones key by key.
func applyLayer(s *Settings, layer map[string]any) error {
	for k, v := range layer {
		if k == keyInputs {
			continue
		}
		if err := applyValue(s, k, v); err != nil {
			return err
		}
	}
	return nil
}

// applyValue applies one key to the settings, routing recognized keys to
// typed fields and everything else to Extra.
func applyValue(s *Settings, key string, value any) error {
	switch key {
	case keyTimeout:
		secs, err := asSeconds(value)
		if err != nil {
			return err
		}
		s.Timeout = secs
	case keyCachePeriod:
		secs, err := asSeconds(value)
		if err != nil {
			return err
		}
		s.CachePeriod = secs
		s.CacheEnabled = true
	default:
		s.Extra[key] = asString(value)
	}
	return nil
}

// asSeconds interprets a raw config or option value as a whole number of
// seconds.
func asSeconds(value any) (time.Duration, error) {
	switch v := value.(type) {
	case int64:
		return time.Duration(v) * time.Second, nil
	case int:
		return time.Duration(v) * time.Second, nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("expected a number of seconds, got '%s'", v)
		}
		return time.Duration(n) * time.Second, nil
	default:
		return 0, fmt.Errorf("expected a number of seconds, got %T", value)
	}
}

// asString renders a raw config value for the Extra map.
func asString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}
