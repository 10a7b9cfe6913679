// Package redisqueue provides a durable lane queue on Redis lists.
package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v7"

	"github.com/JakeFAU/avatar-ingest/internal/avatar"
	"github.com/JakeFAU/avatar-ingest/internal/queue"
)

const defaultPollInterval = time.Second

// listClient is the subset of *redis.Client the queue uses.
type listClient interface {
	LPush(key string, values ...interface{}) *redis.IntCmd
	BRPop(timeout time.Duration, keys ...string) *redis.StringSliceCmd
	LLen(key string) *redis.IntCmd
}

// Config controls key naming and polling.
type Config struct {
	Prefix       string
	Lane         string
	PollInterval time.Duration
}

// Queue pushes JSON items with LPUSH and pops them with BRPOP, so items come out
// in submission order. Delivery is at-most-once: an item popped by a worker that
// crashes before finishing is lost.
type Queue struct {
	client listClient
	key    string
	poll   time.Duration
	closed atomic.Bool
}

// New wraps client. The caller owns the client and closes it.
func New(client listClient, cfg Config) (*Queue, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	return &Queue{
		client: client,
		key:    queue.Key(cfg.Prefix, cfg.Lane),
		poll:   poll,
	}, nil
}

// Key returns the Redis list this queue uses.
func (q *Queue) Key() string {
	return q.key
}

// Enqueue serializes item onto the lane list.
func (q *Queue) Enqueue(ctx context.Context, item avatar.QueueItem) error {
	if q.closed.Load() {
		return queue.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("enqueue canceled: %w", err)
	}
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal queue item: %w", err)
	}
	if err := q.client.LPush(q.key, data).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", q.key, err)
	}
	return nil
}

// Dequeue blocks until an item arrives, ctx ends or the queue is closed.
func (q *Queue) Dequeue(ctx context.Context) (avatar.QueueItem, error) {
	for {
		if q.closed.Load() {
			return avatar.QueueItem{}, queue.ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return avatar.QueueItem{}, fmt.Errorf("dequeue canceled: %w", err)
		}
		values, err := q.client.BRPop(q.poll, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return avatar.QueueItem{}, fmt.Errorf("brpop %s: %w", q.key, err)
		}
		// BRPOP replies with [key, value].
		if len(values) != 2 {
			return avatar.QueueItem{}, fmt.Errorf("brpop %s: unexpected reply of %d elements", q.key, len(values))
		}
		var item avatar.QueueItem
		if err := json.Unmarshal([]byte(values[1]), &item); err != nil {
			return avatar.QueueItem{}, fmt.Errorf("decode queue item: %w", err)
		}
		return item, nil
	}
}

// Len returns the number of waiting items.
func (q *Queue) Len() (int64, error) {
	n, err := q.client.LLen(q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("llen %s: %w", q.key, err)
	}
	return n, nil
}

// Close stops the queue. Blocked Dequeue calls return within one poll interval.
func (q *Queue) Close() error {
	q.closed.Store(true)
	return nil
}
