// Package release records the running version locally. It never contacts an update hub.
package release

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v7"
	"go.uber.org/zap"
)

// LatestVersionKey is where the current version is recorded.
const LatestVersionKey = "latest_release_version"

// ErrNoVersion is returned when nothing has been recorded yet.
var ErrNoVersion = errors.New("no release version recorded")

// VersionStore persists the latest known version.
type VersionStore interface {
	SetLatestVersion(ctx context.Context, version string) error
	LatestVersion(ctx context.Context) (string, error)
}

// Checker records the local version on production deployments.
type Checker struct {
	store       VersionStore
	version     string
	environment string
	logger      *zap.Logger
}

// NewChecker constructs a Checker.
func NewChecker(store VersionStore, version, environment string, logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{
		store:       store,
		version:     strings.TrimSpace(version),
		environment: environment,
		logger:      logger,
	}
}

// Run records the local version. It is a no-op outside production and when the version is blank.
func (c *Checker) Run(ctx context.Context) error {
	if !strings.EqualFold(strings.TrimSpace(c.environment), "production") {
		return nil
	}
	c.logger.Info("release check: hub sync disabled, recording local version",
		zap.String("version", c.version),
	)
	if c.version == "" {
		return nil
	}
	if err := c.store.SetLatestVersion(ctx, c.version); err != nil {
		return fmt.Errorf("record release version: %w", err)
	}
	return nil
}

// MemoryStore keeps the version in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	version string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// SetLatestVersion records version.
func (s *MemoryStore) SetLatestVersion(_ context.Context, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version = version
	return nil
}

// LatestVersion returns the recorded version or ErrNoVersion.
func (s *MemoryStore) LatestVersion(context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.version == "" {
		return "", ErrNoVersion
	}
	return s.version, nil
}

type kvClient interface {
	Set(key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(key string) *redis.StringCmd
}

// RedisStore keeps the version under LatestVersionKey.
type RedisStore struct {
	client kvClient
	key    string
}

// NewRedisStore wraps client. An empty prefix stores under LatestVersionKey directly.
func NewRedisStore(client kvClient, prefix string) *RedisStore {
	key := LatestVersionKey
	if p := strings.TrimRight(strings.TrimSpace(prefix), ":"); p != "" {
		key = p + ":" + LatestVersionKey
	}
	return &RedisStore{client: client, key: key}
}

// SetLatestVersion records version without expiry.
func (s *RedisStore) SetLatestVersion(_ context.Context, version string) error {
	if err := s.client.Set(s.key, version, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", s.key, err)
	}
	return nil
}

// LatestVersion reads the recorded version.
func (s *RedisStore) LatestVersion(context.Context) (string, error) {
	v, err := s.client.Get(s.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNoVersion
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", s.key, err)
	}
	return v, nil
}
