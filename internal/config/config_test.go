package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JakeFAU/avatar-ingest/internal/avatar"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Avatar.MaxDownloadBytes != avatar.MaxDownloadBytes {
		t.Fatalf("expected default ceiling %d, got %d", avatar.MaxDownloadBytes, cfg.Avatar.MaxDownloadBytes)
	}
	if got := cfg.UserAgent(); got != "AvatarIngest/0.1.0 (Avatar Downloader)" {
		t.Fatalf("unexpected user agent %q", got)
	}
	if got := cfg.FetchTimeout(); got != 20*time.Second {
		t.Fatalf("expected 20s fetch timeout, got %v", got)
	}
	if cfg.Queue.Lane != "low" || cfg.Queue.Backend != "memory" {
		t.Fatalf("unexpected queue defaults: %+v", cfg.Queue)
	}
	rules, err := cfg.ProviderRules()
	if err != nil || len(rules) != 1 || rules[0].HostMarker != "whatsapp" {
		t.Fatalf("expected the whatsapp provider rule, got %+v (%v)", rules, err)
	}
	if !rules[0].AuthParamPattern.MatchString("access_token") {
		t.Fatal("expected default pattern to match access_token")
	}
	if len(cfg.Avatar.OwnerTypes) != 4 {
		t.Fatalf("expected 4 default owner types, got %v", cfg.Avatar.OwnerTypes)
	}
	if cfg.IsProduction() {
		t.Fatal("default environment should not be production")
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
app:
  product: Chatwoot
  version: 3.1.0
  environment: Production
avatar:
  max_download_bytes: 1048576
  request_timeout_seconds: 5
  provider_auth_param_pattern: "(?i)oh|oe"
  providers:
    - host_marker: whatsapp
    - host_marker: fbcdn
      auth_param_pattern: "^_nc_"
queue:
  backend: redis
  lane: high
worker:
  concurrency: 8
  max_retries: 1
  backoff_initial_ms: 100
  backoff_max_ms: 500
storage:
  backend: s3
  prefix: media
  s3:
    endpoint: localhost:9000
    bucket: avatars
publisher:
  backend: nats
  topic: avatar.events
nats:
  url: nats://localhost:4222
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if got := cfg.UserAgent(); got != "Chatwoot/3.1.0 (Avatar Downloader)" {
		t.Fatalf("unexpected user agent %q", got)
	}
	if !cfg.IsProduction() {
		t.Fatal("expected production environment")
	}
	rules, err := cfg.ProviderRules()
	if err != nil || len(rules) != 2 {
		t.Fatalf("expected two provider rules, got %+v (%v)", rules, err)
	}
	if !rules[0].AuthParamPattern.MatchString("oh") || rules[0].AuthParamPattern.MatchString("token") {
		t.Fatal("expected the shared pattern to apply to whatsapp")
	}
	if !rules[1].AuthParamPattern.MatchString("_nc_ohc") {
		t.Fatal("expected fbcdn to use its own pattern")
	}
	initial, maxDelay := cfg.Backoff()
	if initial != 100*time.Millisecond || maxDelay != 500*time.Millisecond {
		t.Fatalf("unexpected backoff %v/%v", initial, maxDelay)
	}
	if cfg.Storage.S3.Bucket != "avatars" || cfg.Queue.Lane != "high" {
		t.Fatalf("expected nested overrides to apply: %+v", cfg)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("AVATAR_WORKER_CONCURRENCY", "12")
	t.Setenv("AVATAR_AVATAR_USER_AGENT", "Custom/1.0")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Worker.Concurrency != 12 {
		t.Fatalf("expected env concurrency 12, got %d", cfg.Worker.Concurrency)
	}
	if cfg.UserAgent() != "Custom/1.0" {
		t.Fatalf("expected env user agent, got %q", cfg.UserAgent())
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:    ServerConfig{Port: 8080},
		Avatar:    AvatarConfig{MaxDownloadBytes: 10, RequestTimeoutSeconds: 1},
		Queue:     QueueConfig{Backend: "memory", Depth: 1},
		Worker:    WorkerConfig{Concurrency: 1},
		Storage:   StorageConfig{Backend: "memory"},
		Publisher: PublisherConfig{Backend: "none"},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"auth missing api key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"invalid ceiling", func(c *Config) { c.Avatar.MaxDownloadBytes = 0 }, "avatar.max_download_bytes"},
		{"invalid timeout", func(c *Config) { c.Avatar.RequestTimeoutSeconds = 0 }, "avatar.request_timeout_seconds"},
		{"bad shared pattern", func(c *Config) { c.Avatar.ProviderAuthParamPattern = "(" }, "provider_auth_param_pattern"},
		{"blank marker", func(c *Config) { c.Avatar.Providers = []ProviderConfig{{}} }, "host_marker"},
		{"bad provider pattern", func(c *Config) {
			c.Avatar.Providers = []ProviderConfig{{HostMarker: "x", AuthParamPattern: "["}}
		}, "providers[0].auth_param_pattern"},
		{"invalid concurrency", func(c *Config) { c.Worker.Concurrency = 0 }, "worker.concurrency"},
		{"negative retries", func(c *Config) { c.Worker.MaxRetries = -1 }, "worker.max_retries"},
		{"unknown queue", func(c *Config) { c.Queue.Backend = "kafka" }, "queue.backend"},
		{"memory depth", func(c *Config) { c.Queue.Depth = 0 }, "queue.depth"},
		{"unknown storage", func(c *Config) { c.Storage.Backend = "ftp" }, "storage.backend"},
		{"local dir", func(c *Config) { c.Storage.Backend = "local" }, "storage.local_dir"},
		{"gcs bucket", func(c *Config) { c.Storage.Backend = "gcs" }, "storage.gcs_bucket"},
		{"s3 bucket", func(c *Config) { c.Storage.Backend = "s3" }, "storage.s3"},
		{"unknown publisher", func(c *Config) { c.Publisher.Backend = "kafka" }, "publisher.backend"},
		{"pubsub project", func(c *Config) { c.Publisher.Backend = "pubsub" }, "pubsub.project_id"},
		{"nats url", func(c *Config) { c.Publisher.Backend = "nats" }, "nats.url"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := base
			tt.mutate(&c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
