package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"custodia/internal/audit"
	"custodia/internal/config"
	"custodia/internal/engine"
	"custodia/internal/logging"
)

const lockAcquireTimeout = 10 * time.Second

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.Validate(); err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
	})
	return c.config, c.configErr
}

// withEngine acquires the database lock, opens the store, and hands a wired
// engine to fn. The lock serializes CLI invocations against the shared
// workflow database.
func (c *commandContext) withEngine(cmd *cobra.Command, fn func(ctx context.Context, eng *engine.Engine) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}

	lockPath := filepath.Join(cfg.Paths.DataDir, "custodia.lock")
	lock := flock.New(lockPath)
	lockCtx, cancel := context.WithTimeout(cmd.Context(), lockAcquireTimeout)
	defer cancel()
	ok, err := lock.TryLockContext(lockCtx, 100*time.Millisecond)
	if err != nil {
		return fmt.Errorf("acquire database lock: %w", err)
	}
	if !ok {
		return errors.New("another custodia invocation holds the database lock")
	}
	defer func() { _ = lock.Unlock() }()

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}

	store, err := audit.Open(cfg)
	if err != nil {
		return fmt.Errorf("open workflow database: %w", err)
	}
	defer store.Close()

	eng, err := engine.New(cfg, store, engine.WithLogger(logger))
	if err != nil {
		return err
	}

	return fn(cmd.Context(), eng)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
