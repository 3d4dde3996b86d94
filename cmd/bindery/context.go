package main

import (
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"bindery/internal/config"
	"bindery/internal/logging"
	"bindery/internal/pipeline"
	"bindery/internal/registry"
	"bindery/internal/verifier"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
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
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) newLogger(cfg *config.Config) (*slog.Logger, error) {
	return logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		LogDir: cfg.Paths.LogDir,
	})
}

// newPipeline wires the pipeline with an advisory verifier when one is
// configured. The verifier cache lives next to the registry so every run
// shares it.
func (c *commandContext) newPipeline(cfg *config.Config, logger *slog.Logger) *pipeline.Pipeline {
	var v *verifier.Verifier
	if cfg.Verifier.Enabled {
		cachePath := filepath.Join(cfg.Paths.CorpusRoot, "registry", "verifier_cache.json")
		cache := verifier.NewCache(cachePath, logger)
		v = verifier.New(cfg.Verifier, cache, logger)
	}
	return pipeline.New(cfg, logger, v)
}

func (c *commandContext) openStore(cfg *config.Config, logger *slog.Logger) (*registry.Store, error) {
	return registry.Open(cfg.Paths.CorpusRoot, logger)
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
