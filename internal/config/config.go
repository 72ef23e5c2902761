// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jonidaniel/jobsai/internal/scraper"
)

// Backends accepted by the pluggable sections.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendGCS      = "gcs"
	BackendS3       = "s3"
	BackendLocal    = "local"
	BackendPubSub   = "pubsub"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig                   `mapstructure:"server"`
	Auth      AuthConfig                     `mapstructure:"auth"`
	Logging   LoggingConfig                  `mapstructure:"logging"`
	State     StateConfig                    `mapstructure:"state"`
	Redis     RedisConfig                    `mapstructure:"redis"`
	DB        DBConfig                       `mapstructure:"db"`
	RateLimit RateLimitConfig                `mapstructure:"rate_limit"`
	Scraper   ScraperConfig                  `mapstructure:"scraper"`
	Boards    map[string]scraper.BoardConfig `mapstructure:"boards"`
	Generator GeneratorConfig                `mapstructure:"generator"`
	Artifacts ArtifactsConfig                `mapstructure:"artifacts"`
	PubSub    PubSubConfig                   `mapstructure:"pubsub"`
	Invoker   InvokerConfig                  `mapstructure:"invoker"`
	Janitor   JanitorConfig                  `mapstructure:"janitor"`
	Telemetry TelemetryConfig                `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	RequestTimeoutSeconds  int `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// StateConfig selects the job state store.
type StateConfig struct {
	Backend          string `mapstructure:"backend"`
	RetentionSeconds int    `mapstructure:"retention_seconds"`
}

// RedisConfig addresses the Redis server.
type RedisConfig struct {
	URL       string `mapstructure:"url"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeSeconds int    `mapstructure:"max_conn_lifetime_seconds"`
	StateTable             string `mapstructure:"state_table"`
	RateLimitTable         string `mapstructure:"rate_limit_table"`
}

// RateLimitConfig configures the fixed-window limiter on job submission.
type RateLimitConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Requests      int    `mapstructure:"requests"`
	WindowSeconds int    `mapstructure:"window_seconds"`
	GraceSeconds  int    `mapstructure:"grace_seconds"`
	Backend       string `mapstructure:"backend"`
}

// ScraperConfig governs fetching and pagination.
type ScraperConfig struct {
	UserAgent         string         `mapstructure:"user_agent"`
	TimeoutSeconds    int            `mapstructure:"timeout_seconds"`
	Retries           int            `mapstructure:"retries"`
	DetailRetries     int            `mapstructure:"detail_retries"`
	BackoffInitialMs  int            `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs      int            `mapstructure:"backoff_max_ms"`
	PageDelayMs       int            `mapstructure:"page_delay_ms"`
	NumPages          int            `mapstructure:"num_pages"`
	PerPageLimit      int            `mapstructure:"per_page_limit"`
	HostRPS           float64        `mapstructure:"host_rps"`
	HostBurst         int            `mapstructure:"host_burst"`
	RespectRobots     bool           `mapstructure:"respect_robots"`
	Headless          HeadlessConfig `mapstructure:"headless"`
	BlockedIndicators []string       `mapstructure:"blocked_indicators"`
}

// HeadlessConfig configures the browser fetcher used by headless boards.
type HeadlessConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	MaxParallel   int    `mapstructure:"max_parallel"`
	NavTimeoutSec int    `mapstructure:"nav_timeout_seconds"`
	SettleDelayMs int    `mapstructure:"settle_delay_ms"`
	WaitSelector  string `mapstructure:"wait_selector"`
	// SelectorWaitMs bounds the wait for a board's card selector.
	SelectorWaitMs int `mapstructure:"selector_wait_ms"`
	ScrollPasses   int `mapstructure:"scroll_passes"`
}

// GeneratorConfig configures the Gemini text generator.
type GeneratorConfig struct {
	APIKey          string  `mapstructure:"api_key"`
	BaseURL         string  `mapstructure:"base_url"`
	Model           string  `mapstructure:"model"`
	MaxOutputTokens int     `mapstructure:"max_output_tokens"`
	Temperature     float32 `mapstructure:"temperature"`
	Retries         int     `mapstructure:"retries"`
	BackoffMs       int     `mapstructure:"backoff_ms"`
	KeywordRetries  int     `mapstructure:"keyword_retries"`
}

// ArtifactsConfig selects where generated documents are kept.
type ArtifactsConfig struct {
	Backend           string `mapstructure:"backend"`
	Bucket            string `mapstructure:"bucket"`
	Prefix            string `mapstructure:"prefix"`
	Region            string `mapstructure:"region"`
	Endpoint          string `mapstructure:"endpoint"`
	BaseDir           string `mapstructure:"base_dir"`
	PresignTTLSeconds int    `mapstructure:"presign_ttl_seconds"`
}

// PubSubConfig names the Pub/Sub resources.
type PubSubConfig struct {
	ProjectID              string `mapstructure:"project_id"`
	InvocationTopic        string `mapstructure:"invocation_topic"`
	InvocationSubscription string `mapstructure:"invocation_subscription"`
	DeliveryTopic          string `mapstructure:"delivery_topic"`
}

// InvokerConfig selects how the API hands invocations to workers.
type InvokerConfig struct {
	Backend    string `mapstructure:"backend"`
	Workers    int    `mapstructure:"workers"`
	QueueDepth int    `mapstructure:"queue_depth"`
}

// JanitorConfig schedules expired-row cleanup.
type JanitorConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// TelemetryConfig controls tracing.
type TelemetryConfig struct {
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("JOBSAI")
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
	// Keys without a real default still need one so AutomaticEnv can fill
	// them during Unmarshal.
	for _, key := range []string{
		"auth.api_key",
		"logging.level",
		"db.dsn",
		"generator.api_key",
		"generator.base_url",
		"artifacts.bucket",
		"artifacts.prefix",
		"artifacts.region",
		"artifacts.endpoint",
		"pubsub.project_id",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("auth.enabled", false)
	v.SetDefault("db.max_conns", 0)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime_seconds", 0)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("logging.development", true)
	v.SetDefault("state.backend", BackendMemory)
	v.SetDefault("state.retention_seconds", 3600)
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.key_prefix", "jobsai:job:")
	v.SetDefault("db.state_table", "job_states")
	v.SetDefault("db.rate_limit_table", "rate_limits")
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests", 5)
	v.SetDefault("rate_limit.window_seconds", 60)
	v.SetDefault("rate_limit.grace_seconds", 10)
	v.SetDefault("rate_limit.backend", BackendMemory)
	v.SetDefault("scraper.user_agent", "jobsai-bot/0.1")
	v.SetDefault("scraper.timeout_seconds", 15)
	v.SetDefault("scraper.retries", 3)
	v.SetDefault("scraper.detail_retries", 2)
	v.SetDefault("scraper.backoff_initial_ms", 1000)
	v.SetDefault("scraper.backoff_max_ms", 8000)
	v.SetDefault("scraper.page_delay_ms", 1000)
	v.SetDefault("scraper.num_pages", 3)
	v.SetDefault("scraper.per_page_limit", 50)
	v.SetDefault("scraper.host_rps", 1.0)
	v.SetDefault("scraper.host_burst", 1)
	v.SetDefault("scraper.respect_robots", false)
	v.SetDefault("scraper.headless.enabled", false)
	v.SetDefault("scraper.headless.max_parallel", 1)
	v.SetDefault("scraper.headless.nav_timeout_seconds", 45)
	v.SetDefault("scraper.headless.settle_delay_ms", 1500)
	v.SetDefault("scraper.headless.wait_selector", "body")
	v.SetDefault("scraper.headless.selector_wait_ms", 10000)
	v.SetDefault("scraper.headless.scroll_passes", 0)
	v.SetDefault("generator.model", "gemini-2.5-flash")
	v.SetDefault("generator.max_output_tokens", 2048)
	v.SetDefault("generator.temperature", 0.7)
	v.SetDefault("generator.retries", 3)
	v.SetDefault("generator.backoff_ms", 1000)
	v.SetDefault("generator.keyword_retries", 2)
	v.SetDefault("artifacts.backend", BackendLocal)
	v.SetDefault("artifacts.base_dir", "./data/artifacts")
	v.SetDefault("artifacts.presign_ttl_seconds", 3600)
	v.SetDefault("pubsub.invocation_topic", "jobsai-invocations")
	v.SetDefault("pubsub.invocation_subscription", "jobsai-workers")
	v.SetDefault("pubsub.delivery_topic", "jobsai-deliveries")
	v.SetDefault("invoker.backend", BackendMemory)
	v.SetDefault("invoker.workers", 2)
	v.SetDefault("invoker.queue_depth", 64)
	v.SetDefault("janitor.enabled", false)
	v.SetDefault("janitor.schedule", "@every 10m")
	v.SetDefault("telemetry.service_name", "jobsai")
	v.SetDefault("telemetry.sample_ratio", 0.1)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if err := oneOf("state.backend", c.State.Backend, BackendMemory, BackendRedis, BackendPostgres); err != nil {
		return err
	}
	if c.State.RetentionSeconds <= 0 {
		return fmt.Errorf("state.retention_seconds must be > 0")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.Requests <= 0 {
			return fmt.Errorf("rate_limit.requests must be > 0")
		}
		if c.RateLimit.WindowSeconds <= 0 {
			return fmt.Errorf("rate_limit.window_seconds must be > 0")
		}
		if err := oneOf("rate_limit.backend", c.RateLimit.Backend, BackendMemory, BackendRedis, BackendPostgres); err != nil {
			return err
		}
	}
	if c.usesBackend(BackendPostgres) && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set when a postgres backend is selected")
	}
	if c.usesBackend(BackendRedis) && c.Redis.URL == "" {
		return fmt.Errorf("redis.url must be set when a redis backend is selected")
	}
	if c.Scraper.TimeoutSeconds <= 0 {
		return fmt.Errorf("scraper.timeout_seconds must be > 0")
	}
	if c.Scraper.NumPages <= 0 {
		return fmt.Errorf("scraper.num_pages must be > 0")
	}
	if c.Scraper.Headless.Enabled && c.Scraper.Headless.MaxParallel <= 0 {
		return fmt.Errorf("scraper.headless.max_parallel must be > 0 when headless is enabled")
	}
	if err := oneOf("artifacts.backend", c.Artifacts.Backend, BackendMemory, BackendLocal, BackendGCS, BackendS3); err != nil {
		return err
	}
	switch c.Artifacts.Backend {
	case BackendGCS, BackendS3:
		if c.Artifacts.Bucket == "" {
			return fmt.Errorf("artifacts.bucket must be set for the %s backend", c.Artifacts.Backend)
		}
	case BackendLocal:
		if c.Artifacts.BaseDir == "" {
			return fmt.Errorf("artifacts.base_dir must be set for the local backend")
		}
	}
	if err := oneOf("invoker.backend", c.Invoker.Backend, BackendMemory, BackendPubSub); err != nil {
		return err
	}
	if c.Invoker.Workers < 0 {
		return fmt.Errorf("invoker.workers must be >= 0")
	}
	if c.Invoker.Backend == BackendPubSub {
		if c.PubSub.ProjectID == "" || c.PubSub.InvocationTopic == "" || c.PubSub.InvocationSubscription == "" {
			return fmt.Errorf("pubsub.project_id, invocation_topic and invocation_subscription are required for the pubsub invoker")
		}
		// API and workers run as separate processes and must share state.
		if c.State.Backend != BackendRedis && c.State.Backend != BackendPostgres {
			return fmt.Errorf("state.backend must be redis or postgres for the pubsub invoker, got %q", c.State.Backend)
		}
		if c.Artifacts.Backend != BackendGCS && c.Artifacts.Backend != BackendS3 {
			return fmt.Errorf("artifacts.backend must be gcs or s3 for the pubsub invoker, got %q", c.Artifacts.Backend)
		}
	}
	if c.Janitor.Enabled && c.Janitor.Schedule == "" {
		return fmt.Errorf("janitor.schedule must be set when the janitor is enabled")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0, 1]")
	}
	for name, board := range c.Boards {
		if board.Name == "" {
			board.Name = name
		}
		if err := board.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c Config) usesBackend(backend string) bool {
	return c.State.Backend == backend || (c.RateLimit.Enabled && c.RateLimit.Backend == backend)
}

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", field, strings.Join(allowed, "|"), value)
}

// BoardConfigs merges the built-in boards with configured ones. A configured
// board replaces a built-in board of the same name.
func (c Config) BoardConfigs() map[string]scraper.BoardConfig {
	boards := scraper.DefaultBoards()
	for name, board := range c.Boards {
		key := strings.ToLower(name)
		if board.Name == "" {
			board.Name = key
		}
		boards[key] = board
	}
	return maps.Clone(boards)
}

// Retention is the job record horizon.
func (c Config) Retention() time.Duration {
	return time.Duration(c.State.RetentionSeconds) * time.Second
}

// PresignTTL is how long download links stay valid.
func (c Config) PresignTTL() time.Duration {
	if c.Artifacts.PresignTTLSeconds <= 0 {
		return time.Hour
	}
	return time.Duration(c.Artifacts.PresignTTLSeconds) * time.Second
}

// RequestTimeout bounds each HTTP request.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds graceful shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// Millis converts a millisecond knob to a duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
