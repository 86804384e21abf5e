// Package config holds the layered engine configuration: defaults,
// optional datakiln.yaml file, DATAKILN_* environment variables and CLI
// flags, in ascending precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the resolved engine configuration.
type Config struct {
	// ManifestPath is a .hcl file or a directory of .hcl files
	// declaring the steps.
	ManifestPath string `mapstructure:"manifest_path"`
	// StepsDir is the root of step source files.
	StepsDir string `mapstructure:"steps_dir"`
	// CatalogDir is the root of published outputs and their records.
	CatalogDir string `mapstructure:"catalog_dir"`
	// LedgerPath is the run history database; empty derives it from
	// CatalogDir.
	LedgerPath string `mapstructure:"ledger_path"`

	Workers   int    `mapstructure:"workers"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// New creates a viper instance carrying the engine defaults, env
// bindings and optional config file. Cobra flags are bound onto it by
// the command layer.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("manifest_path", "manifest")
	v.SetDefault("steps_dir", "steps")
	v.SetDefault("catalog_dir", "catalog")
	v.SetDefault("ledger_path", "")
	v.SetDefault("workers", 4)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")

	v.SetEnvPrefix("DATAKILN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("datakiln")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	return v
}

// Load materializes the Config from a prepared viper instance. A
// missing config file is fine; an unreadable one is not.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if cfg.LedgerPath == "" {
		cfg.LedgerPath = filepath.Join(cfg.CatalogDir, ".datakiln", "history.db")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SlogLevel maps the validated log_level onto its slog value. Unknown
// strings (possible only before Validate has run) fall back to info.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.ManifestPath == "" {
		return errors.New("manifest_path must not be empty")
	}
	if c.StepsDir == "" {
		return errors.New("steps_dir must not be empty")
	}
	if c.CatalogDir == "" {
		return errors.New("catalog_dir must not be empty")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	return nil
}
