package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Anthropic   AnthropicConfig   `yaml:"anthropic" mapstructure:"anthropic"`
	OCR         OCRConfig         `yaml:"ocr" mapstructure:"ocr"`
	Extraction  ExtractionConfig  `yaml:"extraction" mapstructure:"extraction"`
	Batch       BatchConfig       `yaml:"batch" mapstructure:"batch"`
	Learning    LearningConfig    `yaml:"learning" mapstructure:"learning"`
	ServiceArea ServiceAreaConfig `yaml:"service_area" mapstructure:"service_area"`
	Venues      VenueConfig       `yaml:"venues" mapstructure:"venues"`
	Fetch       FetchConfig       `yaml:"fetch" mapstructure:"fetch"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key            string `yaml:"key" mapstructure:"key"`
	ExtractModel   string `yaml:"extract_model" mapstructure:"extract_model"`
	VisionModel    string `yaml:"vision_model" mapstructure:"vision_model"`
	SynthesisModel string `yaml:"synthesis_model" mapstructure:"synthesis_model"`
	TimeoutSecs    int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries     int    `yaml:"max_retries" mapstructure:"max_retries"`
}

// OCRConfig configures image text extraction.
type OCRConfig struct {
	Provider      string  `yaml:"provider" mapstructure:"provider"`
	MinConfidence float64 `yaml:"min_confidence" mapstructure:"min_confidence"`
	MinTextLen    int     `yaml:"min_text_len" mapstructure:"min_text_len"`
}

// ExtractionConfig configures the per-post extraction pipeline.
type ExtractionConfig struct {
	ReviewThreshold  float64 `yaml:"review_threshold" mapstructure:"review_threshold"`
	ShortCaptionLen  int     `yaml:"short_caption_len" mapstructure:"short_caption_len"`
	HistoricalGraceH int     `yaml:"historical_grace_hours" mapstructure:"historical_grace_hours"`
}

// BatchConfig configures the checkpointed batch driver.
type BatchConfig struct {
	WindowSize       int     `yaml:"window_size" mapstructure:"window_size"`
	Concurrency      int     `yaml:"concurrency" mapstructure:"concurrency"`
	WindowDelaySecs  int     `yaml:"window_delay_secs" mapstructure:"window_delay_secs"`
	BudgetMins       int     `yaml:"budget_mins" mapstructure:"budget_mins"`
	ModelCallsPerSec float64 `yaml:"model_calls_per_sec" mapstructure:"model_calls_per_sec"`
}

// WindowDelay returns the configured inter-window delay.
func (b BatchConfig) WindowDelay() time.Duration {
	return time.Duration(b.WindowDelaySecs) * time.Second
}

// Budget returns the configured wall-clock budget for a batch run.
func (b BatchConfig) Budget() time.Duration {
	return time.Duration(b.BudgetMins) * time.Minute
}

// LearningConfig configures pattern synthesis and lifecycle.
type LearningConfig struct {
	MinSamplesPerCluster int     `yaml:"min_samples_per_cluster" mapstructure:"min_samples_per_cluster"`
	MaxSamplesPerPrompt  int     `yaml:"max_samples_per_prompt" mapstructure:"max_samples_per_prompt"`
	MinSuccessRate       float64 `yaml:"min_success_rate" mapstructure:"min_success_rate"`
	MinLifecycleSamples  int     `yaml:"min_lifecycle_samples" mapstructure:"min_lifecycle_samples"`
	DeactivateAttempts   int     `yaml:"deactivate_attempts" mapstructure:"deactivate_attempts"`
	DeactivateFloor      float64 `yaml:"deactivate_floor" mapstructure:"deactivate_floor"`
}

// ServiceAreaConfig bounds the geographic region events are accepted from.
type ServiceAreaConfig struct {
	// Polygon is a closed ring of lng,lat pairs.
	Polygon [][2]float64 `yaml:"polygon" mapstructure:"polygon"`
	// PolygonFile points at a standalone YAML polygon definition. It takes
	// precedence over an inline Polygon when both are set.
	PolygonFile string `yaml:"polygon_file" mapstructure:"polygon_file"`
	// RejectKeywords are caption/venue phrases that mark a post as outside
	// the service area (province names, foreign phone formats, ...).
	RejectKeywords []string `yaml:"reject_keywords" mapstructure:"reject_keywords"`
}

// VenueConfig configures known-venue lookup.
type VenueConfig struct {
	CacheTTLMins int `yaml:"cache_ttl_mins" mapstructure:"cache_ttl_mins"`
}

// FetchConfig configures image fetching.
type FetchConfig struct {
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// ServerConfig configures the trigger HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("GIGMAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "extract.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.extract_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.vision_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.synthesis_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.timeout_secs", 60)
	v.SetDefault("anthropic.max_retries", 3)
	v.SetDefault("ocr.provider", "none")
	v.SetDefault("ocr.min_confidence", 0.5)
	v.SetDefault("ocr.min_text_len", 20)
	v.SetDefault("extraction.review_threshold", 0.7)
	v.SetDefault("extraction.short_caption_len", 80)
	v.SetDefault("extraction.historical_grace_hours", 48)
	v.SetDefault("batch.window_size", 25)
	v.SetDefault("batch.concurrency", 5)
	v.SetDefault("batch.window_delay_secs", 2)
	v.SetDefault("batch.budget_mins", 50)
	v.SetDefault("batch.model_calls_per_sec", 2.0)
	v.SetDefault("learning.min_samples_per_cluster", 2)
	v.SetDefault("learning.max_samples_per_prompt", 25)
	v.SetDefault("learning.min_success_rate", 0.6)
	v.SetDefault("learning.min_lifecycle_samples", 10)
	v.SetDefault("learning.deactivate_attempts", 20)
	v.SetDefault("learning.deactivate_floor", 0.3)
	v.SetDefault("venues.cache_ttl_mins", 30)
	v.SetDefault("fetch.timeout_secs", 20)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.rate_per_sec", 5.0)
	v.SetDefault("service_area.reject_keywords", []string{
		"cebu", "davao", "baguio", "iloilo", "bacolod", "cagayan de oro",
		"singapore", "bangkok", "jakarta", "kuala lumpur", "hong kong",
		"+65", "+66", "+62", "+60", "+852",
	})

	// Read config file (optional)
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
