package release

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestCheckerRecordsVersionInProduction(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	core, logs := observer.New(zapcore.InfoLevel)
	checker := NewChecker(store, " 3.1.0 ", "Production", zap.New(core))

	require.NoError(t, checker.Run(context.Background()))
	got, err := store.LatestVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "3.1.0", got)
	assert.Equal(t, 1, logs.Len())
}

func TestCheckerSkipsOutsideProduction(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	core, logs := observer.New(zapcore.DebugLevel)
	require.NoError(t, NewChecker(store, "3.1.0", "development", zap.New(core)).Run(context.Background()))

	_, err := store.LatestVersion(context.Background())
	require.ErrorIs(t, err, ErrNoVersion)
	assert.Zero(t, logs.Len())
}

func TestCheckerSkipsBlankVersion(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	require.NoError(t, NewChecker(store, "  ", "production", nil).Run(context.Background()))
	_, err := store.LatestVersion(context.Background())
	require.ErrorIs(t, err, ErrNoVersion)
}

type fakeKV struct {
	values map[string]string
	err    error
}

func (f *fakeKV) Set(key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	f.values[key] = value.(string)
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeKV) Get(key string) *redis.StringCmd {
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func TestRedisStore(t *testing.T) {
	t.Parallel()

	kv := &fakeKV{values: map[string]string{}}
	store := NewRedisStore(kv, "")

	_, err := store.LatestVersion(context.Background())
	require.ErrorIs(t, err, ErrNoVersion)

	require.NoError(t, NewChecker(store, "3.1.0", "production", nil).Run(context.Background()))
	assert.Equal(t, "3.1.0", kv.values[LatestVersionKey])

	got, err := store.LatestVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "3.1.0", got)

	prefixed := NewRedisStore(kv, "avatar:")
	require.NoError(t, prefixed.SetLatestVersion(context.Background(), "4.0.0"))
	assert.Equal(t, "4.0.0", kv.values["avatar:"+LatestVersionKey])
}

func TestRedisStoreErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection refused")
	store := NewRedisStore(&fakeKV{err: boom}, "")

	require.ErrorIs(t, store.SetLatestVersion(context.Background(), "1"), boom)
	_, err := store.LatestVersion(context.Background())
	require.ErrorIs(t, err, boom)

	err = NewChecker(store, "1", "production", nil).Run(context.Background())
	require.ErrorIs(t, err, boom)
}
