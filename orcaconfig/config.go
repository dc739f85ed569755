// Package orcaconfig loads pipeline and store configuration using Viper,
// supporting a YAML config file plus environment variable overrides.
package orcaconfig

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// StoreConfig selects and configures a store.Store backend. Backend and
// Path feed directly into store.New(cfg.Backend, store.Config{Path:
// cfg.Path, Options: cfg.Options}); Options carries backend-specific
// settings not worth a dedicated field.
type StoreConfig struct {
	Backend string         `mapstructure:"backend"`
	Path    string         `mapstructure:"path"`
	Options map[string]any `mapstructure:"options"`
}

// PipelineConfig carries pipeline-wide execution settings.
type PipelineConfig struct {
	Name string `mapstructure:"name"`

	// MaxTraversalDepth guards pipeline.Pipeline's topological sort against
	// a pathologically deep or cyclic DAG. Zero means use the package
	// default.
	MaxTraversalDepth int `mapstructure:"max_traversal_depth"`
}

// Config holds all configuration for an OrcaPod deployment.
type Config struct {
	Store    StoreConfig    `mapstructure:"store"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
}

// Cfg is the package-level configuration populated by LoadConfig, for
// callers (notably cmd/orcapod) that want a single global instance rather
// than threading a *Config through every call.
var Cfg Config

// LoadConfig reads configuration from an optional "orcapod.yaml" file and
// ORCAPOD_-prefixed environment variables, searching configPaths in
// addition to the working directory and the usual system/user locations.
func LoadConfig(configPaths ...string) error {
	v := viper.New()

	v.SetDefault("store.backend", "memory")
	v.SetDefault("pipeline.name", "default")
	v.SetDefault("pipeline.max_traversal_depth", 10000)

	v.SetConfigName("orcapod")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/orcapod/")
	v.AddConfigPath("$HOME/.orcapod")
	for _, path := range configPaths {
		v.AddConfigPath(path)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("orcaconfig: reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("ORCAPOD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(&Cfg); err != nil {
		return fmt.Errorf("orcaconfig: decoding config into struct: %w", err)
	}
	return nil
}

// GetOption retrieves a typed value from a StoreConfig's Options map. It
// returns the value and true if the key exists and the type assertion
// succeeds, or the zero value of T and false otherwise.
func GetOption[T any](cfg StoreConfig, key string) (T, bool) {
	var zero T
	if cfg.Options == nil {
		return zero, false
	}
	v, ok := cfg.Options[key]
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}
