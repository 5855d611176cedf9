// Package config loads eventscout's configuration from file and
// environment and wires the global zap logger.
package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Firecrawl  FirecrawlConfig  `yaml:"firecrawl" mapstructure:"firecrawl"`
	CSE        CSEConfig        `yaml:"cse" mapstructure:"cse"`
	Voyage     VoyageConfig     `yaml:"voyage" mapstructure:"voyage"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit" mapstructure:"rate_limit"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Warming    WarmingConfig    `yaml:"warming" mapstructure:"warming"`
	Analytics  AnalyticsConfig  `yaml:"analytics" mapstructure:"analytics"`
	Templates  TemplatesConfig  `yaml:"templates" mapstructure:"templates"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
}

// FirecrawlConfig holds Firecrawl API settings — the primary search and
// scrape provider.
type FirecrawlConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// CSEConfig holds Google Programmable Search Engine settings — the
// fallback search provider.
type CSEConfig struct {
	Key      string `yaml:"key" mapstructure:"key"`
	EngineID string `yaml:"engine_id" mapstructure:"engine_id"`
}

// VoyageConfig holds Voyage AI rerank settings.
type VoyageConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
	TopK  int    `yaml:"top_k" mapstructure:"top_k"`
}

// AnthropicConfig holds Anthropic API settings for the LLM prioritiser
// and metadata extraction.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// RateLimitConfig holds per-minute request caps per provider.
type RateLimitConfig struct {
	FirecrawlPerMinute int `yaml:"firecrawl_per_minute" mapstructure:"firecrawl_per_minute"`
	CSEPerMinute       int `yaml:"cse_per_minute" mapstructure:"cse_per_minute"`
	AnthropicPerMinute int `yaml:"anthropic_per_minute" mapstructure:"anthropic_per_minute"`
}

// PipelineConfig holds the orchestrator's tuning thresholds.
type PipelineConfig struct {
	MaxCandidates         int     `yaml:"max_candidates" mapstructure:"max_candidates"`
	MaxExtractions        int     `yaml:"max_extractions" mapstructure:"max_extractions"`
	MinSolidHits          int     `yaml:"min_solid_hits" mapstructure:"min_solid_hits"`
	AllowAutoExpand       bool    `yaml:"allow_auto_expand" mapstructure:"allow_auto_expand"`
	PrioritisationGate    float64 `yaml:"prioritisation_gate" mapstructure:"prioritisation_gate"`
	MinNonAggregatorURLs  int     `yaml:"min_non_aggregator_urls" mapstructure:"min_non_aggregator_urls"`
	MaxBackstopAggregators int    `yaml:"max_backstop_aggregators" mapstructure:"max_backstop_aggregators"`
	MaxVoyageDocs          int    `yaml:"max_voyage_docs" mapstructure:"max_voyage_docs"`
	MaxSpeakers            int    `yaml:"max_speakers" mapstructure:"max_speakers"`
	ExtractConcurrency     int    `yaml:"extract_concurrency" mapstructure:"extract_concurrency"`
}

// WarmingConfig tunes the cache optimiser's background warming loop.
type WarmingConfig struct {
	BatchSize         int `yaml:"batch_size" mapstructure:"batch_size"`
	IntervalSecs      int `yaml:"interval_secs" mapstructure:"interval_secs"`
	TimeoutSecs       int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxConcurrency    int `yaml:"max_concurrency" mapstructure:"max_concurrency"`
	InvalidationBatch int `yaml:"invalidation_batch" mapstructure:"invalidation_batch"`
	InvalidationDelayMs int `yaml:"invalidation_delay_ms" mapstructure:"invalidation_delay_ms"`
}

// AnalyticsConfig points the cache optimiser's rolling history at a
// persistent store.
type AnalyticsConfig struct {
	HistoryDBPath string `yaml:"history_db_path" mapstructure:"history_db_path"`
}

// TemplatesConfig points at the WeightedTemplate YAML library.
type TemplatesConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures an optional HTTP front end.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// Validate checks required configuration fields based on run mode.
// Supported modes: "search", "serve".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "search":
		if c.Firecrawl.Key == "" && c.CSE.Key == "" {
			errs = append(errs, "at least one of firecrawl.key or cse.key is required")
		}
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Pipeline.PrioritisationGate < 0 || c.Pipeline.PrioritisationGate > 1 {
		errs = append(errs, "pipeline.prioritisation_gate must be between 0.0 and 1.0")
	}
	if c.Pipeline.ExtractConcurrency < 1 {
		errs = append(errs, "pipeline.extract_concurrency must be >= 1")
	}

	if len(errs) > 0 {
		return eris.New(fmt.Sprintf("config: validation failed: %s", strings.Join(errs, "; ")))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("EVENTSCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("firecrawl.base_url", "https://api.firecrawl.dev/v1")
	v.SetDefault("voyage.model", "rerank-2")
	v.SetDefault("voyage.top_k", 20)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("rate_limit.firecrawl_per_minute", 20)
	v.SetDefault("rate_limit.cse_per_minute", 60)
	v.SetDefault("rate_limit.anthropic_per_minute", 30)
	v.SetDefault("pipeline.max_candidates", 40)
	v.SetDefault("pipeline.max_extractions", 12)
	v.SetDefault("pipeline.min_solid_hits", 3)
	v.SetDefault("pipeline.allow_auto_expand", true)
	v.SetDefault("pipeline.prioritisation_gate", 0.4)
	v.SetDefault("pipeline.min_non_aggregator_urls", 5)
	v.SetDefault("pipeline.max_backstop_aggregators", 3)
	v.SetDefault("pipeline.max_voyage_docs", 40)
	v.SetDefault("pipeline.max_speakers", 20)
	v.SetDefault("pipeline.extract_concurrency", 4)
	v.SetDefault("warming.batch_size", 50)
	v.SetDefault("warming.interval_secs", 300)
	v.SetDefault("warming.timeout_secs", 30)
	v.SetDefault("warming.max_concurrency", 10)
	v.SetDefault("warming.invalidation_batch", 50)
	v.SetDefault("warming.invalidation_delay_ms", 200)
	v.SetDefault("analytics.history_db_path", "eventscout_analytics.db")
	v.SetDefault("templates.path", "templates.yaml")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)

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
