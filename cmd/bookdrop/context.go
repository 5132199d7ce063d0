package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"bookdrop/internal/api"
	"bookdrop/internal/config"
	"bookdrop/internal/eviction"
	"bookdrop/internal/handlecache"
	"bookdrop/internal/staging"
	"bookdrop/internal/store"
)

type commandContext struct {
	configFlag *string
	apiFlag    *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configExist bool
	configErr  error
}

func newCommandContext(configFlag, apiFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		apiFlag:    apiFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, exists, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
		c.configExist = exists
	})
	return c.config, c.configErr
}

func (c *commandContext) apiClient() (*api.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	addr := cfg.Paths.APIBind
	if c.apiFlag != nil && strings.TrimSpace(*c.apiFlag) != "" {
		addr = strings.TrimSpace(*c.apiFlag)
	}
	return api.NewClient(addr, cfg.Paths.APIToken), nil
}

// localStorage opens the database and staging directory directly. It is safe
// to use next to a running daemon: staging operations take the same per-file
// locks the daemon does.
type localStorage struct {
	store   *store.Store
	staging *staging.Store
}

func (c *commandContext) openLocal() (*localStorage, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	stage, err := staging.NewFromConfig(cfg, st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return &localStorage{store: st, staging: stage}, nil
}

func (l *localStorage) Close() error {
	return l.store.Close()
}

func (l *localStorage) sweeper() *eviction.Sweeper {
	return eviction.NewSweeper(l.staging, l.store, nil, nil)
}

func (c *commandContext) withHandleCache(ctx context.Context, fn func(handlecache.Cache) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	st, err := store.Open(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	cache, err := handlecache.Open(ctx, cfg, st, nil)
	if err != nil {
		return err
	}
	if closer, ok := cache.(handlecache.Closer); ok {
		defer closer.Close()
	}
	return fn(cache)
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
