// Package config loads carefinder settings from config.yaml and CAREFINDER_*
// environment variables.
package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/carefinder-cli/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Queue     QueueConfig     `yaml:"queue" mapstructure:"queue"`
	Retry     RetryConfig     `yaml:"retry" mapstructure:"retry"`
	Circuit   CircuitConfig   `yaml:"circuit" mapstructure:"circuit"`
	Sources   SourcesConfig   `yaml:"sources" mapstructure:"sources"`
	Jina      JinaConfig      `yaml:"jina" mapstructure:"jina"`
	Firecrawl FirecrawlConfig `yaml:"firecrawl" mapstructure:"firecrawl"`
	Geocode   GeocodeConfig   `yaml:"geocode" mapstructure:"geocode"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Notify    NotifyConfig    `yaml:"notify" mapstructure:"notify"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
}

// StoreConfig selects and configures the record store.
type StoreConfig struct {
	Driver      string           `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string           `yaml:"database_url" mapstructure:"database_url"`
	Pool        store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// LogConfig configures the global zap logger.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// QueueConfig bounds how fast states are crawled.
type QueueConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
	IntervalMs  int `yaml:"interval_ms" mapstructure:"interval_ms"`
}

// RetryConfig configures backoff for source calls.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// CircuitConfig configures per-source breakers.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	CooldownSecs     int `yaml:"cooldown_secs" mapstructure:"cooldown_secs"`
}

// SourcesConfig holds source endpoints and credentials.
type SourcesConfig struct {
	TimeoutSecs         int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	UserAgent           string `yaml:"user_agent" mapstructure:"user_agent"`
	GovSlug             string `yaml:"gov_slug" mapstructure:"gov_slug"`
	GovURLTemplate      string `yaml:"gov_url_template" mapstructure:"gov_url_template"`
	AdvocacyBaseURL     string `yaml:"advocacy_base_url" mapstructure:"advocacy_base_url"`
	NewsBaseURL         string `yaml:"news_base_url" mapstructure:"news_base_url"`
	NewsKey             string `yaml:"news_key" mapstructure:"news_key"`
	ClinicDirBaseURL    string `yaml:"clinic_dir_base_url" mapstructure:"clinic_dir_base_url"`
	ClinicDirKey        string `yaml:"clinic_dir_key" mapstructure:"clinic_dir_key"`
	ClinicDetailDelayMs int    `yaml:"clinic_detail_delay_ms" mapstructure:"clinic_detail_delay_ms"`
	PlacesKey           string `yaml:"places_key" mapstructure:"places_key"`
	PlacesQuery         string `yaml:"places_query" mapstructure:"places_query"`
}

// JinaConfig configures the Jina reader used when a site blocks direct
// fetches.
type JinaConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// FirecrawlConfig configures the last fetch tier. It is off without a key.
type FirecrawlConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// GeocodeConfig configures address geocoding.
type GeocodeConfig struct {
	GoogleKey string  `yaml:"google_key" mapstructure:"google_key"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// AnthropicConfig configures the completion client.
type AnthropicConfig struct {
	Key        string `yaml:"key" mapstructure:"key"`
	Model      string `yaml:"model" mapstructure:"model"`
	MaxTokens  int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	MaxRetries int    `yaml:"max_retries" mapstructure:"max_retries"`
}

// NotifyConfig configures webhook delivery.
type NotifyConfig struct {
	TimeoutSecs int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// PipelineConfig holds pipeline behavior switches.
type PipelineConfig struct {
	Enrich           bool   `yaml:"enrich" mapstructure:"enrich"`
	ClinicKey        string `yaml:"clinic_key" mapstructure:"clinic_key"`
	GenerateCount    int    `yaml:"generate_count" mapstructure:"generate_count"`
	GenerateAttempts int    `yaml:"generate_attempts" mapstructure:"generate_attempts"`
	FallbackFile     string `yaml:"fallback_file" mapstructure:"fallback_file"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CAREFINDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "carefinder.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("queue.concurrency", 3)
	v.SetDefault("queue.interval_ms", 1000)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 10000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.cooldown_secs", 60)
	v.SetDefault("sources.timeout_secs", 10)
	v.SetDefault("sources.user_agent", "Mozilla/5.0 (compatible; carefinder/1.0)")
	v.SetDefault("sources.gov_slug", "prefix2")
	v.SetDefault("sources.gov_url_template", "https://www.{slug}.gov/health/reproductive-health")
	v.SetDefault("sources.advocacy_base_url", "https://www.guttmacher.org/state-policy/explore")
	v.SetDefault("sources.clinic_detail_delay_ms", 500)
	v.SetDefault("sources.places_query", "reproductive health clinic in")
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("firecrawl.base_url", "https://api.firecrawl.dev/v1")
	v.SetDefault("geocode.rate_limit", 5.0)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.max_retries", 2)
	v.SetDefault("notify.timeout_secs", 10)
	v.SetDefault("pipeline.enrich", true)
	v.SetDefault("pipeline.clinic_key", "name")
	v.SetDefault("pipeline.generate_count", 10)
	v.SetDefault("pipeline.generate_attempts", 3)

	// Secrets and optional endpoints have no default but must be known to
	// viper for env overrides to reach Unmarshal.
	for _, key := range []string{
		"anthropic.key", "jina.key", "firecrawl.key", "geocode.google_key",
		"sources.news_base_url", "sources.news_key",
		"sources.clinic_dir_base_url", "sources.clinic_dir_key", "sources.places_key",
		"pipeline.fallback_file",
	} {
		v.SetDefault(key, "")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	return &cfg, nil
}

// Validate checks the settings a command mode needs. Modes: "crawl",
// "generate", "serve", "migrate".
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		problems = append(problems, fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required")
	}

	switch c.Pipeline.ClinicKey {
	case "name", "name_address":
	default:
		problems = append(problems, fmt.Sprintf("pipeline.clinic_key must be name or name_address, got %q", c.Pipeline.ClinicKey))
	}
	switch c.Sources.GovSlug {
	case "prefix2", "postal":
	default:
		problems = append(problems, fmt.Sprintf("sources.gov_slug must be prefix2 or postal, got %q", c.Sources.GovSlug))
	}

	switch mode {
	case "generate":
		if c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required for clinic generation")
		}
		if c.Pipeline.GenerateCount <= 0 {
			problems = append(problems, "pipeline.generate_count must be positive")
		}
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			problems = append(problems, fmt.Sprintf("server.port out of range: %d", c.Server.Port))
		}
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid for %s: %s", mode, strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)
	return nil
}
