package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/kquick/hydra/internal/cache"
	"github.com/kquick/hydra/internal/config"
	"github.com/kquick/hydra/internal/dedup"
	"github.com/kquick/hydra/internal/fetcher"
	"github.com/kquick/hydra/internal/flags"
	"github.com/kquick/hydra/internal/lock"
	"github.com/kquick/hydra/internal/runner"
	"github.com/kquick/hydra/internal/store"
)

type BaseCmd struct {
	logger hclog.Logger
}

// SetLogger updates the command's logger
func (c *BaseCmd) SetLogger(logger hclog.Logger) {
	c.logger = logger
}

// Logger returns the current logger for the command
func (c *BaseCmd) Logger() hclog.Logger {
	if c.logger != nil {
		return c.logger
	}

	// Get log level from flags first, then environment, then default
	logLevel := flags.LogLevel
	if logLevel == "" {
		logLevel = strings.ToLower(os.Getenv(flags.EnvVarLogLevel))
		if logLevel == "" {
			logLevel = flags.DefaultLogLevel
		}
	}

	// Get log path from flags first, then environment
	logPath := flags.LogPath
	if logPath == "" {
		logPath = strings.TrimSpace(os.Getenv(flags.EnvVarLogPath))
	}

	// Configure logger output
	var output io.Writer = io.Discard
	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file (%s): %v, using stderr\n", logPath, err)
		} else {
			output = f
		}
	}

	// Using flags/env for fallback logger
	c.logger = hclog.New(&hclog.LoggerOptions{
		Name:   "hydra-default",
		Level:  hclog.LevelFromString(logLevel),
		Output: output,
	})

	return c.logger
}

// CreatePipeline assembles the full input resolution pipeline under the
// configured data directory and returns the registry it dispatches
// through, plus a release function for the durable resources it opened.
func (c *BaseCmd) CreatePipeline() (*fetcher.Registry, func(), error) {
	l := c.Logger()

	cfg, err := config.Load(flags.ConfigFile)
	if err != nil {
		return nil, nil, err
	}

	dataDir := flags.DataDir

	contentStore, err := store.NewLocalStore(l, filepath.Join(dataDir, "store"))
	if err != nil {
		return nil, nil, err
	}

	fresh, err := cache.NewCache(l, contentStore, filepath.Join(dataDir, "cache"))
	if err != nil {
		return nil, nil, err
	}

	dedupCache, err := dedup.Open(l, filepath.Join(dataDir, "dedup"))
	if err != nil {
		return nil, nil, err
	}
	closer := func() {
		if err := dedupCache.Close(); err != nil {
			l.Warn("Failed to close dedup database", "error", err)
		}
	}

	locks, err := lock.NewFileManager(l, filepath.Join(dataDir, "locks"))
	if err != nil {
		closer()
		return nil, nil, err
	}

	git, err := fetcher.NewGitResolver(l, fetcher.GitParams{
		Config:     cfg,
		Runner:     runner.NewExecRunner(l),
		Locks:      locks,
		Store:      contentStore,
		Freshness:  fresh,
		Dedup:      dedupCache,
		MirrorRoot: filepath.Join(dataDir, "mirrors"),
	})
	if err != nil {
		closer()
		return nil, nil, err
	}

	registry, err := fetcher.NewRegistry(l, git, fetcher.NewPathResolver(l, contentStore))
	if err != nil {
		closer()
		return nil, nil, err
	}

	return registry, closer, nil
}
