// Package config loads and validates docpress configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Extract  ExtractConfig  `mapstructure:"extract"`
	Dedup    DedupConfig    `mapstructure:"dedup"`
	Output   OutputConfig   `mapstructure:"output"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig governs dispatcher and crawl pipeline behavior.
type CrawlerConfig struct {
	Concurrency      int     `mapstructure:"concurrency"`
	FetchParallelism int     `mapstructure:"fetch_parallelism"`
	UserAgent        string  `mapstructure:"user_agent"`
	DelaySeconds     float64 `mapstructure:"delay_seconds"`
	IgnoreRobots     bool    `mapstructure:"ignore_robots"`
	MaxDepthDefault  int     `mapstructure:"max_depth_default"`
	MaxPagesDefault  int     `mapstructure:"max_pages_default"`
	GlobalQueueDepth int     `mapstructure:"queue_depth"`
}

// HTTPConfig configures HTTP client retry behavior.
type HTTPConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
	MinBodyBytes  int  `mapstructure:"min_body_bytes"`
}

// ExtractConfig tunes main-content selection.
type ExtractConfig struct {
	MainSelectors  []string `mapstructure:"main_selectors"`
	StripSelectors []string `mapstructure:"strip_selectors"`
	MinTextChars   int      `mapstructure:"min_text_chars"`
}

// DedupConfig tunes fragment and page deduplication.
type DedupConfig struct {
	BoilerplateRatio float64 `mapstructure:"boilerplate_ratio"`
	BoilerplateMin   int     `mapstructure:"boilerplate_min_pages"`
	PageSimilarity   float64 `mapstructure:"page_similarity"`
	ShingleSize      int     `mapstructure:"shingle_size"`
}

// OutputConfig controls the assembled markdown artifact.
type OutputConfig struct {
	FilePrefix string `mapstructure:"file_prefix"`
	Title      string `mapstructure:"title"`
}

// StorageConfig sets the artifact persistence location.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
}

// DBConfig controls the job store backend.
type DBConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DOCPRESS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.fetch_parallelism", 4)
	v.SetDefault("crawler.user_agent", "docpress-bot/0.1")
	v.SetDefault("crawler.delay_seconds", 1.0)
	v.SetDefault("crawler.ignore_robots", false)
	v.SetDefault("crawler.max_depth_default", 10)
	v.SetDefault("crawler.max_pages_default", 1000)
	v.SetDefault("crawler.queue_depth", 64)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 5000)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.min_body_bytes", 2048)
	v.SetDefault("extract.min_text_chars", 40)
	v.SetDefault("dedup.boilerplate_ratio", 0.6)
	v.SetDefault("dedup.boilerplate_min_pages", 3)
	v.SetDefault("dedup.page_similarity", 0.8)
	v.SetDefault("dedup.shingle_size", 4)
	v.SetDefault("output.file_prefix", "docpress")
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.dir", "artifacts")
	v.SetDefault("db.backend", "memory")
	v.SetDefault("db.path", "docpress.db")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.FetchParallelism <= 0 {
		return fmt.Errorf("crawler.fetch_parallelism must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Dedup.PageSimilarity < 0 || c.Dedup.PageSimilarity > 1 {
		return fmt.Errorf("dedup.page_similarity must be within [0, 1]")
	}
	if c.Dedup.BoilerplateRatio < 0 || c.Dedup.BoilerplateRatio > 1 {
		return fmt.Errorf("dedup.boilerplate_ratio must be within [0, 1]")
	}
	if c.DB.Backend != "memory" && c.DB.Backend != "sqlite" {
		return fmt.Errorf("db.backend must be memory or sqlite")
	}
	if c.DB.Backend == "sqlite" && c.DB.Path == "" {
		return fmt.Errorf("db.path must be set when db.backend is sqlite")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// FetchTimeout converts the HTTP timeout config into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// CrawlDelay converts the politeness delay config into a duration.
func (c Config) CrawlDelay() time.Duration {
	return time.Duration(c.Crawler.DelaySeconds * float64(time.Second))
}
