// Package config loads and validates site generator configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Output backends.
const (
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Site      SiteConfig      `mapstructure:"site"`
	Bundle    BundleConfig    `mapstructure:"bundle"`
	Evaluator EvaluatorConfig `mapstructure:"evaluator"`
	Output    OutputConfig    `mapstructure:"output"`
	Manifest  ManifestConfig  `mapstructure:"manifest"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Server    ServerConfig    `mapstructure:"server"`
	Watch     WatchConfig     `mapstructure:"watch"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// SiteConfig describes what to render.
type SiteConfig struct {
	Entry   string         `mapstructure:"entry"`
	Paths   []string       `mapstructure:"paths"`
	Locals  map[string]any `mapstructure:"locals"`
	Globals map[string]any `mapstructure:"globals"`
	Crawl   bool           `mapstructure:"crawl"`
	// PreferFoldersOutput stays nil when the key is absent (legacy naming).
	PreferFoldersOutput *bool `mapstructure:"prefer_folders_output"`
	Concurrency         int   `mapstructure:"concurrency"`
}

// BundleConfig locates the build output consumed by the generator.
type BundleConfig struct {
	StatsFile  string `mapstructure:"stats_file"`
	Dir        string `mapstructure:"dir"`
	AssetsGlob string `mapstructure:"assets_glob"`
	PublicPath string `mapstructure:"public_path"`
}

// EvaluatorConfig selects how the bundle is executed.
type EvaluatorConfig struct {
	Kind              string `mapstructure:"kind"`
	CallingConvention string `mapstructure:"calling_convention"`
}

// OutputConfig sets where written slots are materialized.
type OutputConfig struct {
	Backend     string `mapstructure:"backend"`
	Dir         string `mapstructure:"dir"`
	Bucket      string `mapstructure:"bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// ManifestConfig controls the optional Postgres pass manifest.
type ManifestConfig struct {
	DSN         string `mapstructure:"dsn"`
	TablePrefix string `mapstructure:"table_prefix"`
	MaxConns    int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for pass notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ServerConfig controls the preview server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// WatchConfig controls rebuild-on-change.
type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TracingConfig toggles OpenTelemetry tracing.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SITEGEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	// Keys without defaults are only visible to Unmarshal when bound.
	for _, key := range []string{"site.entry", "site.prefer_folders_output", "bundle.public_path",
		"output.dir", "output.bucket", "output.prefix", "manifest.dsn", "pubsub.project_id", "pubsub.topic"} {
		if err := v.BindEnv(key); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		// Without an explicit file, look for sitegen.{yaml,json,toml} in the
		// working directory, then in $HOME/.sitegen.
		v.SetConfigName("sitegen")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.sitegen")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("site.paths", []string{"/"})
	v.SetDefault("site.crawl", false)
	v.SetDefault("site.concurrency", 0)
	v.SetDefault("bundle.stats_file", "dist/stats.json")
	v.SetDefault("bundle.dir", "dist")
	v.SetDefault("bundle.assets_glob", "**/*.js")
	v.SetDefault("evaluator.kind", "goja")
	v.SetDefault("evaluator.calling_convention", "auto")
	v.SetDefault("output.backend", BackendLocal)
	v.SetDefault("output.dir", "public")
	v.SetDefault("output.content_type", "text/html; charset=utf-8")
	v.SetDefault("manifest.table_prefix", "sitegen")
	v.SetDefault("server.port", 8080)
	v.SetDefault("watch.debounce", "300ms")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "sitegen")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if len(c.Site.Paths) == 0 {
		return fmt.Errorf("site.paths must list at least one path")
	}
	if c.Site.Concurrency < 0 {
		return fmt.Errorf("site.concurrency must be >= 0")
	}
	if c.Bundle.StatsFile == "" {
		return fmt.Errorf("bundle.stats_file is required")
	}
	if c.Evaluator.Kind != "goja" {
		return fmt.Errorf("evaluator.kind %q is not supported", c.Evaluator.Kind)
	}
	switch strings.ToLower(c.Evaluator.CallingConvention) {
	case "", "auto", "direct", "callback":
	default:
		return fmt.Errorf("evaluator.calling_convention must be auto, direct or callback")
	}
	switch c.Output.Backend {
	case BackendMemory:
	case BackendLocal:
		if c.Output.Dir == "" {
			return fmt.Errorf("output.dir is required for the local backend")
		}
	case BackendGCS:
		if c.Output.Bucket == "" {
			return fmt.Errorf("output.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("output.backend %q is not supported", c.Output.Backend)
	}
	if c.PubSub.ProjectID != "" && c.PubSub.Topic == "" {
		return fmt.Errorf("pubsub.topic must be set when pubsub.project_id is set")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce must be >= 0")
	}
	return nil
}
