// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Cache backends.
const (
	CacheMemory   = "memory"
	CacheRedis    = "redis"
	CachePostgres = "postgres"
	CacheLocal    = "local"
)

// Artifact sources.
const (
	ArtifactsLocal = "local"
	ArtifactsGCS   = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Scraper     ScraperConfig     `mapstructure:"scraper"`
	Acquisition AcquisitionConfig `mapstructure:"acquisition"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Artifacts   ArtifactsConfig   `mapstructure:"artifacts"`
	Transforms  TransformsConfig  `mapstructure:"transforms"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
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

// ScraperConfig governs identity rotation, pacing, retries and fetch limits.
type ScraperConfig struct {
	MinDelayMs              int            `mapstructure:"min_delay_ms"`
	MaxDelayMs              int            `mapstructure:"max_delay_ms"`
	RPS                     float64        `mapstructure:"rps"`
	Burst                   int            `mapstructure:"burst"`
	MaxAttempts             int            `mapstructure:"max_attempts"`
	BackoffBaseMs           int            `mapstructure:"backoff_base_ms"`
	BackoffMaxMs            int            `mapstructure:"backoff_max_ms"`
	TimeoutSeconds          int            `mapstructure:"timeout_seconds"`
	UserAgents              []string       `mapstructure:"user_agents"`
	Proxies                 []string       `mapstructure:"proxies"`
	AcceptLanguage          string         `mapstructure:"accept_language"`
	IdentityCooldownSeconds int            `mapstructure:"identity_cooldown_seconds"`
	Headless                HeadlessConfig `mapstructure:"headless"`
	Sources                 SourcesConfig  `mapstructure:"sources"`
}

// HeadlessConfig configures the chromedp renderer used for JS-heavy pages.
type HeadlessConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	MaxParallel       int  `mapstructure:"max_parallel"`
	NavTimeoutSeconds int  `mapstructure:"nav_timeout_seconds"`
}

// SourcesConfig holds per-source endpoints and timeouts.
type SourcesConfig struct {
	DemographicsTimeoutSeconds int    `mapstructure:"demographics_timeout_seconds"`
	IncomeTimeoutSeconds       int    `mapstructure:"income_timeout_seconds"`
	TransportTimeoutSeconds    int    `mapstructure:"transport_timeout_seconds"`
	NomisBaseURL               string `mapstructure:"nomis_base_url"`
	DoogalBaseURL              string `mapstructure:"doogal_base_url"`
	CrystalRoofBaseURL         string `mapstructure:"crystalroof_base_url"`
}

// AcquisitionConfig bounds a whole acquisition.
type AcquisitionConfig struct {
	DeadlineSeconds int `mapstructure:"deadline_seconds"`
}

// CacheConfig selects and configures the scrape cache backend.
type CacheConfig struct {
	Backend  string              `mapstructure:"backend"`
	TTLHours int                 `mapstructure:"ttl_hours"`
	Redis    RedisCacheConfig    `mapstructure:"redis"`
	Postgres PostgresCacheConfig `mapstructure:"postgres"`
	Local    LocalCacheConfig    `mapstructure:"local"`
}

// RedisCacheConfig configures the Redis backend.
type RedisCacheConfig struct {
	URL          string `mapstructure:"url"`
	KeyPrefix    string `mapstructure:"key_prefix"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
}

// PostgresCacheConfig configures the Postgres backend.
type PostgresCacheConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// LocalCacheConfig configures the filesystem backend.
type LocalCacheConfig struct {
	Dir string `mapstructure:"dir"`
}

// ArtifactsConfig locates the model bundle.
type ArtifactsConfig struct {
	Source string `mapstructure:"source"`
	Path   string `mapstructure:"path"`
	Bucket string `mapstructure:"bucket"`
	Object string `mapstructure:"object"`
	Watch  bool   `mapstructure:"watch"`
}

// TransformsConfig carries preprocessing fallbacks.
type TransformsConfig struct {
	Capping []CapConfig `mapstructure:"capping"`
}

// CapConfig is a fallback clamp applied when the bundle has no rule for Field.
type CapConfig struct {
	Field string   `mapstructure:"field"`
	Lower *float64 `mapstructure:"lower"`
	Upper *float64 `mapstructure:"upper"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LOCATION")
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
	v.SetDefault("server.request_timeout_seconds", 120)
	v.SetDefault("logging.development", true)
	v.SetDefault("scraper.min_delay_ms", 500)
	v.SetDefault("scraper.max_delay_ms", 2000)
	v.SetDefault("scraper.rps", 1.0)
	v.SetDefault("scraper.burst", 1)
	v.SetDefault("scraper.max_attempts", 3)
	v.SetDefault("scraper.backoff_base_ms", 1000)
	v.SetDefault("scraper.backoff_max_ms", 10000)
	v.SetDefault("scraper.timeout_seconds", 15)
	v.SetDefault("scraper.accept_language", "en-GB,en;q=0.9")
	v.SetDefault("scraper.identity_cooldown_seconds", 600)
	v.SetDefault("scraper.headless.enabled", true)
	v.SetDefault("scraper.headless.max_parallel", 2)
	v.SetDefault("scraper.headless.nav_timeout_seconds", 30)
	v.SetDefault("scraper.sources.demographics_timeout_seconds", 45)
	v.SetDefault("scraper.sources.income_timeout_seconds", 30)
	v.SetDefault("scraper.sources.transport_timeout_seconds", 60)
	v.SetDefault("acquisition.deadline_seconds", 90)
	v.SetDefault("cache.backend", CacheMemory)
	v.SetDefault("cache.ttl_hours", 720)
	v.SetDefault("cache.redis.key_prefix", "location-analyzer:")
	v.SetDefault("cache.redis.pool_size", 10)
	v.SetDefault("cache.postgres.table", "scrape_cache")
	v.SetDefault("cache.postgres.max_conns", 4)
	v.SetDefault("cache.local.dir", "data/cache")
	v.SetDefault("artifacts.source", ArtifactsLocal)
	v.SetDefault("artifacts.path", "models/bundle.json")
	v.SetDefault("artifacts.watch", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Scraper.MaxAttempts <= 0 {
		return fmt.Errorf("scraper.max_attempts must be > 0")
	}
	if c.Scraper.MinDelayMs < 0 || c.Scraper.MaxDelayMs < c.Scraper.MinDelayMs {
		return fmt.Errorf("scraper.max_delay_ms must be >= scraper.min_delay_ms >= 0")
	}
	if c.Scraper.TimeoutSeconds <= 0 {
		return fmt.Errorf("scraper.timeout_seconds must be > 0")
	}
	if c.Scraper.Headless.Enabled && c.Scraper.Headless.MaxParallel <= 0 {
		return fmt.Errorf("scraper.headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Acquisition.DeadlineSeconds <= 0 {
		return fmt.Errorf("acquisition.deadline_seconds must be > 0")
	}
	switch c.Cache.Backend {
	case CacheMemory:
	case CacheRedis:
		if c.Cache.Redis.URL == "" {
			return fmt.Errorf("cache.redis.url must be set for the redis backend")
		}
	case CachePostgres:
		if c.Cache.Postgres.DSN == "" {
			return fmt.Errorf("cache.postgres.dsn must be set for the postgres backend")
		}
	case CacheLocal:
		if c.Cache.Local.Dir == "" {
			return fmt.Errorf("cache.local.dir must be set for the local backend")
		}
	default:
		return fmt.Errorf("cache.backend %q is not one of memory, redis, postgres, local", c.Cache.Backend)
	}
	switch c.Artifacts.Source {
	case ArtifactsLocal:
		if c.Artifacts.Path == "" {
			return fmt.Errorf("artifacts.path must be set for local artifacts")
		}
	case ArtifactsGCS:
		if c.Artifacts.Bucket == "" || c.Artifacts.Object == "" {
			return fmt.Errorf("artifacts.bucket and artifacts.object must be set for gcs artifacts")
		}
		if c.Artifacts.Watch {
			return fmt.Errorf("artifacts.watch is only supported for local artifacts")
		}
	default:
		return fmt.Errorf("artifacts.source %q is not one of local, gcs", c.Artifacts.Source)
	}
	for i, r := range c.Transforms.Capping {
		if r.Field == "" || (r.Lower == nil && r.Upper == nil) {
			return fmt.Errorf("transforms.capping[%d] needs a field and a bound", i)
		}
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	return nil
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func millis(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// RequestTimeout is the HTTP handler timeout.
func (c Config) RequestTimeout() time.Duration { return seconds(c.Server.RequestTimeoutSeconds) }

// AcquisitionDeadline bounds one acquisition.
func (c Config) AcquisitionDeadline() time.Duration { return seconds(c.Acquisition.DeadlineSeconds) }

// CacheTTL is how long scrape results stay fresh.
func (c Config) CacheTTL() time.Duration { return time.Duration(c.Cache.TTLHours) * time.Hour }

// FetchTimeout bounds one fetch.
func (s ScraperConfig) FetchTimeout() time.Duration { return seconds(s.TimeoutSeconds) }

// MinDelay is the lower bound of the per-fetch jitter.
func (s ScraperConfig) MinDelay() time.Duration { return millis(s.MinDelayMs) }

// MaxDelay is the upper bound of the per-fetch jitter.
func (s ScraperConfig) MaxDelay() time.Duration { return millis(s.MaxDelayMs) }

// BackoffBase is the first retry delay.
func (s ScraperConfig) BackoffBase() time.Duration { return millis(s.BackoffBaseMs) }

// BackoffMax caps the retry delay.
func (s ScraperConfig) BackoffMax() time.Duration { return millis(s.BackoffMaxMs) }

// IdentityCooldown is how long a blocked identity rests per source.
func (s ScraperConfig) IdentityCooldown() time.Duration { return seconds(s.IdentityCooldownSeconds) }

// SourceTimeout returns the timeout for the named source.
func (s ScraperConfig) SourceTimeout(source string) time.Duration {
	switch source {
	case "demographics":
		return seconds(s.Sources.DemographicsTimeoutSeconds)
	case "income":
		return seconds(s.Sources.IncomeTimeoutSeconds)
	case "transport":
		return seconds(s.Sources.TransportTimeoutSeconds)
	default:
		return s.FetchTimeout()
	}
}
