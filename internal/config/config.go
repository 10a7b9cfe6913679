// Package config loads and validates avatar service configuration via Viper.
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/avatar-ingest/internal/avatar"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	App       AppConfig       `mapstructure:"app"`
	Avatar    AvatarConfig    `mapstructure:"avatar"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Release   ReleaseConfig   `mapstructure:"release"`
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

// AppConfig identifies the running product.
type AppConfig struct {
	Product     string `mapstructure:"product"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// ProviderConfig is one host marker and the query keys to strip for it.
type ProviderConfig struct {
	HostMarker       string `mapstructure:"host_marker"`
	AuthParamPattern string `mapstructure:"auth_param_pattern"`
}

// AvatarConfig governs fetching and validation of avatars.
type AvatarConfig struct {
	MaxDownloadBytes         int64            `mapstructure:"max_download_bytes"`
	UserAgent                string           `mapstructure:"user_agent"`
	Accept                   string           `mapstructure:"accept"`
	RequestTimeoutSeconds    int              `mapstructure:"request_timeout_seconds"`
	DefaultContentType       string           `mapstructure:"default_content_type"`
	ProviderAuthParamPattern string           `mapstructure:"provider_auth_param_pattern"`
	Providers                []ProviderConfig `mapstructure:"providers"`
	OwnerTypes               []string         `mapstructure:"owner_types"`
	RateLimitRPS             float64          `mapstructure:"rate_limit_rps"`
	RateLimitBurst           int              `mapstructure:"rate_limit_burst"`
}

// QueueConfig selects the queue backend.
type QueueConfig struct {
	Backend     string `mapstructure:"backend"`
	Lane        string `mapstructure:"lane"`
	Depth       int    `mapstructure:"depth"`
	RedisPrefix string `mapstructure:"redis_prefix"`
}

// WorkerConfig governs the worker pool and retry policy.
type WorkerConfig struct {
	Concurrency      int `mapstructure:"concurrency"`
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// S3Config addresses an S3-compatible bucket.
type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// StorageConfig sets the blob backend and paths.
type StorageConfig struct {
	Backend   string   `mapstructure:"backend"`
	Prefix    string   `mapstructure:"prefix"`
	LocalDir  string   `mapstructure:"local_dir"`
	GCSBucket string   `mapstructure:"gcs_bucket"`
	S3        S3Config `mapstructure:"s3"`
}

// DBConfig controls access to the relational database holding avatar slots.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// RedisConfig addresses the Redis server used by the queue and release store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// PublisherConfig selects where avatar events go.
type PublisherConfig struct {
	Backend string `mapstructure:"backend"`
	Topic   string `mapstructure:"topic"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
}

// NATSConfig addresses the NATS server and event stream.
type NATSConfig struct {
	URL    string `mapstructure:"url"`
	Stream string `mapstructure:"stream"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// ReleaseConfig toggles the release version recorder.
type ReleaseConfig struct {
	CheckEnabled bool `mapstructure:"check_enabled"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AVATAR")
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
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("app.product", "AvatarIngest")
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("avatar.max_download_bytes", avatar.MaxDownloadBytes)
	v.SetDefault("avatar.accept", avatar.DefaultAccept)
	v.SetDefault("avatar.request_timeout_seconds", 20)
	v.SetDefault("avatar.default_content_type", avatar.DefaultContentType)
	v.SetDefault("avatar.provider_auth_param_pattern", avatar.DefaultAuthParamPattern.String())
	v.SetDefault("avatar.providers", []map[string]any{{"host_marker": "whatsapp"}})
	v.SetDefault("avatar.owner_types", []string{"Contact", "User", "AgentBot", "Inbox"})
	v.SetDefault("avatar.rate_limit_rps", 0)
	v.SetDefault("avatar.rate_limit_burst", 1)
	v.SetDefault("queue.backend", "memory")
	v.SetDefault("queue.lane", "low")
	v.SetDefault("queue.depth", 256)
	v.SetDefault("queue.redis_prefix", "avatar:queue")
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.max_retries", 3)
	v.SetDefault("worker.backoff_initial_ms", 250)
	v.SetDefault("worker.backoff_max_ms", 5000)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.prefix", "avatars")
	v.SetDefault("storage.local_dir", "./data/avatars")
	v.SetDefault("db.table", "avatar_attachments")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("publisher.backend", "none")
	v.SetDefault("publisher.topic", "avatars.attached")
	v.SetDefault("nats.stream", "AVATARS")
	v.SetDefault("logging.development", true)
	v.SetDefault("release.check_enabled", true)

	// Keys without a useful default are still registered so AVATAR_* env vars reach them.
	for _, key := range []string{
		"auth.api_key", "avatar.user_agent", "storage.gcs_bucket",
		"storage.s3.endpoint", "storage.s3.bucket", "storage.s3.access_key",
		"storage.s3.secret_key", "storage.s3.region", "db.dsn",
		"redis.password", "pubsub.project_id", "nats.url",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("auth.enabled", false)
	v.SetDefault("storage.s3.use_ssl", false)
	v.SetDefault("db.max_conns", 0)
	v.SetDefault("redis.db", 0)
}

var (
	queueBackends     = []string{"memory", "redis"}
	storageBackends   = []string{"memory", "local", "gcs", "s3"}
	publisherBackends = []string{"none", "memory", "pubsub", "nats"}
)

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Avatar.MaxDownloadBytes <= 0 {
		return fmt.Errorf("avatar.max_download_bytes must be > 0")
	}
	if c.Avatar.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("avatar.request_timeout_seconds must be > 0")
	}
	if _, err := c.ProviderRules(); err != nil {
		return err
	}
	if c.Avatar.RateLimitRPS < 0 {
		return fmt.Errorf("avatar.rate_limit_rps must be >= 0")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	if c.Worker.MaxRetries < 0 {
		return fmt.Errorf("worker.max_retries must be >= 0")
	}
	if !oneOf(c.Queue.Backend, queueBackends) {
		return fmt.Errorf("queue.backend must be one of %v", queueBackends)
	}
	if c.Queue.Backend == "memory" && c.Queue.Depth <= 0 {
		return fmt.Errorf("queue.depth must be > 0 for the memory queue")
	}
	if !oneOf(c.Storage.Backend, storageBackends) {
		return fmt.Errorf("storage.backend must be one of %v", storageBackends)
	}
	switch c.Storage.Backend {
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir is required for the local backend")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
		}
	case "s3":
		if c.Storage.S3.Endpoint == "" || c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.endpoint and storage.s3.bucket are required for the s3 backend")
		}
	}
	if !oneOf(c.Publisher.Backend, publisherBackends) {
		return fmt.Errorf("publisher.backend must be one of %v", publisherBackends)
	}
	if c.Publisher.Backend == "pubsub" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id is required for the pubsub publisher")
	}
	if c.Publisher.Backend == "nats" && c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required for the nats publisher")
	}
	return nil
}

// UserAgent returns avatar.user_agent or "<product>/<version> (Avatar Downloader)".
func (c Config) UserAgent() string {
	if ua := strings.TrimSpace(c.Avatar.UserAgent); ua != "" {
		return ua
	}
	return fmt.Sprintf("%s/%s (Avatar Downloader)", c.App.Product, c.App.Version)
}

// FetchTimeout converts the avatar request timeout to a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Avatar.RequestTimeoutSeconds) * time.Second
}

// RequestTimeout is the per-request budget for the HTTP API.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds graceful server shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// Backoff returns the initial and maximum retry delays.
func (c Config) Backoff() (time.Duration, time.Duration) {
	return time.Duration(c.Worker.BackoffInitialMs) * time.Millisecond,
		time.Duration(c.Worker.BackoffMaxMs) * time.Millisecond
}

// ProviderRules compiles the provider table. Providers without their own pattern
// inherit avatar.provider_auth_param_pattern.
func (c Config) ProviderRules() ([]avatar.ProviderRule, error) {
	shared := avatar.DefaultAuthParamPattern
	if p := strings.TrimSpace(c.Avatar.ProviderAuthParamPattern); p != "" {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("avatar.provider_auth_param_pattern: %w", err)
		}
		shared = re
	}
	rules := make([]avatar.ProviderRule, 0, len(c.Avatar.Providers))
	for i, p := range c.Avatar.Providers {
		if strings.TrimSpace(p.HostMarker) == "" {
			return nil, fmt.Errorf("avatar.providers[%d].host_marker is required", i)
		}
		pattern := shared
		if strings.TrimSpace(p.AuthParamPattern) != "" {
			re, err := regexp.Compile(p.AuthParamPattern)
			if err != nil {
				return nil, fmt.Errorf("avatar.providers[%d].auth_param_pattern: %w", i, err)
			}
			pattern = re
		}
		rules = append(rules, avatar.ProviderRule{HostMarker: p.HostMarker, AuthParamPattern: pattern})
	}
	return rules, nil
}

// IsProduction reports whether app.environment is production.
func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.App.Environment), "production")
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
