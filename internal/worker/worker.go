// Package worker implements the avatar ingest execution loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/avatar-ingest/internal/avatar"
	"github.com/JakeFAU/avatar-ingest/internal/clock/system"
	"github.com/JakeFAU/avatar-ingest/internal/metrics"
	"github.com/JakeFAU/avatar-ingest/internal/queue"
)

// EventAttached is the type of the event published after an avatar is attached.
const EventAttached = "avatar.attached"

var errPanicked = errors.New("ingest panicked")

// Runner executes one ingest attempt.
type Runner interface {
	Run(ctx context.Context, owner avatar.Owner, rawURL string) (avatar.Result, error)
}

// Config controls Worker behavior.
type Config struct {
	MaxRetries      int
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration
	Topic           string
	// IdlePause throttles the loop after a failed dequeue.
	IdlePause time.Duration
}

// AttachedEvent is published to Config.Topic for every accepted avatar.
type AttachedEvent struct {
	Type        string    `json:"type"`
	RequestID   string    `json:"request_id"`
	OwnerType   string    `json:"owner_type"`
	OwnerID     string    `json:"owner_id"`
	BlobURI     string    `json:"blob_uri"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	ByteSize    int64     `json:"byte_size"`
	Checksum    string    `json:"checksum"`
	SourceURL   string    `json:"source_url"`
	AttachedAt  time.Time `json:"attached_at"`
}

// Worker consumes queue items and runs the ingest task for each one.
type Worker struct {
	queue     avatar.Queue
	resolver  avatar.OwnerResolver
	runner    Runner
	publisher avatar.Publisher
	clock     avatar.Clock
	retry     *RetryPolicy
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. publisher may be nil when no events are wanted.
func New(
	queue avatar.Queue,
	resolver avatar.OwnerResolver,
	runner Runner,
	publisher avatar.Publisher,
	clock avatar.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = system.New()
	}
	if cfg.IdlePause <= 0 {
		cfg.IdlePause = 100 * time.Millisecond
	}
	return &Worker{
		queue:     queue,
		resolver:  resolver,
		runner:    runner,
		publisher: publisher,
		clock:     clock,
		retry:     NewRetryPolicy(cfg.MaxRetries, cfg.RetryBackoff, cfg.RetryBackoffMax),
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming queue items until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			if !sleep(ctx, w.cfg.IdlePause) {
				return
			}
			continue
		}
		w.logger.Debug("dequeued avatar request",
			zap.String("request_id", item.ID),
			zap.String("owner_type", item.Request.Owner.Type),
			zap.String("owner_id", item.Request.Owner.ID),
		)
		w.Process(ctx, item)
	}
}

// Process runs one queue item to completion, retrying escalated failures.
func (w *Worker) Process(ctx context.Context, item avatar.QueueItem) avatar.Result {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	start := w.clock.Now()
	rawURL := item.Request.RawURL

	owner, err := w.resolver.Resolve(ctx, item.Request.Owner)
	if err != nil {
		w.logger.Error("resolve owner failed",
			zap.String("request_id", item.ID),
			zap.String("owner_type", item.Request.Owner.Type),
			zap.String("owner_id", item.Request.Owner.ID),
			zap.Error(err),
		)
		res := avatar.Result{Outcome: avatar.OutcomeFailed, Reason: err.Error()}
		metrics.ObserveIngest(rawURL, string(res.Outcome), 0, w.clock.Now().Sub(start))
		return res
	}

	attempt := item.Attempt
	var res avatar.Result
	for {
		res, err = w.runOnce(ctx, owner, rawURL)
		if err == nil {
			break
		}
		if !w.retry.ShouldRetry(err, attempt) {
			if attempt > 0 {
				w.logger.Error("avatar ingest gave up",
					zap.String("request_id", item.ID),
					zap.Int("attempt", attempt),
					zap.Error(err),
				)
			}
			break
		}
		delay := w.retry.Backoff(attempt)
		attempt++
		metrics.ObserveRetry()
		w.logger.Warn("retrying avatar ingest",
			zap.String("request_id", item.ID),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if !sleep(ctx, delay) {
			break
		}
	}

	var attached int64
	if res.Attachment != nil {
		attached = res.Attachment.ByteSize
	}
	metrics.ObserveIngest(rawURL, string(res.Outcome), attached, w.clock.Now().Sub(start))

	if res.Outcome == avatar.OutcomeAccepted && res.Attachment != nil {
		w.publish(ctx, item, *res.Attachment)
	}
	return res
}

func (w *Worker) runOnce(ctx context.Context, owner avatar.Owner, rawURL string) (res avatar.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("avatar ingest panicked",
				zap.String("owner_type", owner.Ref().Type),
				zap.String("owner_id", owner.Ref().ID),
				zap.Any("panic", r),
			)
			res = avatar.Result{Outcome: avatar.OutcomeFailed, Reason: fmt.Sprint(r)}
			err = fmt.Errorf("%w: %v", errPanicked, r)
		}
	}()
	return w.runner.Run(ctx, owner, rawURL)
}

func (w *Worker) publish(ctx context.Context, item avatar.QueueItem, att avatar.Attachment) {
	if w.publisher == nil || w.cfg.Topic == "" {
		return
	}
	event := AttachedEvent{
		Type:        EventAttached,
		RequestID:   item.ID,
		OwnerType:   att.Owner.Type,
		OwnerID:     att.Owner.ID,
		BlobURI:     att.BlobURI,
		Filename:    att.Filename,
		ContentType: att.ContentType,
		ByteSize:    att.ByteSize,
		Checksum:    att.Checksum,
		SourceURL:   att.SourceURL,
		AttachedAt:  att.AttachedAt,
	}
	id, err := w.publisher.Publish(ctx, w.cfg.Topic, event)
	if err != nil {
		metrics.ObservePublishFailure()
		// The avatar is already attached; a lost event does not undo it.
		w.logger.Warn("publish avatar event failed",
			zap.String("request_id", item.ID),
			zap.String("topic", w.cfg.Topic),
			zap.Error(err),
		)
		return
	}
	w.logger.Debug("published avatar event",
		zap.String("request_id", item.ID),
		zap.String("message_id", id),
	)
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
