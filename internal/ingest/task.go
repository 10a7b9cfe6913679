// Package ingest implements the avatar ingest task: sanitize, fetch, validate, attach.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/avatar-ingest/internal/avatar"
	"github.com/JakeFAU/avatar-ingest/internal/clock/system"
)

// Config is passed to the task at construction time.
type Config struct {
	MaxDownloadBytes   int64
	UserAgent          string
	Accept             string
	DefaultContentType string
}

// Task orchestrates one avatar acquisition per Run call. It holds no per-request state.
type Task struct {
	sanitizer *avatar.Sanitizer
	fetcher   avatar.Fetcher
	clock     avatar.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Task.
func New(
	sanitizer *avatar.Sanitizer,
	fetcher avatar.Fetcher,
	clock avatar.Clock,
	cfg Config,
	logger *zap.Logger,
) *Task {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = system.New()
	}
	if sanitizer == nil {
		sanitizer = avatar.NewSanitizer(avatar.DefaultProviderRules(), logger)
	}
	if cfg.MaxDownloadBytes <= 0 {
		cfg.MaxDownloadBytes = avatar.MaxDownloadBytes
	}
	if cfg.Accept == "" {
		cfg.Accept = avatar.DefaultAccept
	}
	if cfg.DefaultContentType == "" {
		cfg.DefaultContentType = avatar.DefaultContentType
	}
	return &Task{
		sanitizer: sanitizer,
		fetcher:   fetcher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run attaches the avatar at rawURL to owner when possible.
// The returned error is non-nil only for OutcomeFailed; callers decide whether to retry it.
func (t *Task) Run(ctx context.Context, owner avatar.Owner, rawURL string) (avatar.Result, error) {
	slot, ok := owner.(avatar.Avatarable)
	if !ok || strings.TrimSpace(rawURL) == "" {
		return avatar.Result{Outcome: avatar.OutcomeSkipped, Reason: "no avatar slot or blank url"}, nil
	}
	ref := slot.Ref()

	cleaned, ok := t.sanitizer.Sanitize(rawURL)
	if !ok {
		return avatar.Result{Outcome: avatar.OutcomeSkipped, Reason: "invalid url"}, nil
	}

	payload, err := t.fetcher.Fetch(ctx, avatar.FetchRequest{
		URL:      cleaned.String(),
		MaxBytes: t.cfg.MaxDownloadBytes,
		Headers:  t.headers(),
	})
	if errors.Is(err, avatar.ErrNotFound) {
		t.logger.Warn("avatar not found",
			zap.String("owner_type", ref.Type),
			zap.String("owner_id", ref.ID),
			zap.String("url", rawURL),
		)
		return avatar.Result{Outcome: avatar.OutcomeNotFound, Reason: "not found"}, nil
	}
	if err != nil {
		return t.fail(ref, rawURL, "exception downloading avatar", err)
	}

	verdict := avatar.Validate(payload, t.cfg.MaxDownloadBytes)
	if !verdict.Accepted {
		t.logger.Debug("avatar rejected",
			zap.String("owner_type", ref.Type),
			zap.String("owner_id", ref.ID),
			zap.String("reason", string(verdict.Reason)),
		)
		return avatar.Result{Outcome: avatar.OutcomeRejected, Reason: string(verdict.Reason)}, nil
	}

	upload := avatar.Upload{
		Data:        payload.Data,
		Filename:    payload.Filename,
		ContentType: payload.ContentType,
		SourceURL:   cleaned.String(),
	}
	if upload.Filename == "" {
		upload.Filename = avatar.DeriveFilename(cleaned, t.clock.Now())
	}
	if upload.ContentType == "" {
		upload.ContentType = t.cfg.DefaultContentType
	}

	att, err := slot.AttachAvatar(ctx, upload)
	if err != nil {
		return t.fail(ref, rawURL, "attach avatar failed", err)
	}
	t.logger.Info("avatar updated",
		zap.String("owner_type", ref.Type),
		zap.String("owner_id", ref.ID),
	)
	return avatar.Result{Outcome: avatar.OutcomeAccepted, Reason: string(verdict.Reason), Attachment: &att}, nil
}

func (t *Task) fail(ref avatar.OwnerRef, rawURL, msg string, err error) (avatar.Result, error) {
	t.logger.Error(msg,
		zap.String("owner_type", ref.Type),
		zap.String("owner_id", ref.ID),
		zap.String("url", rawURL),
		zap.Error(err),
	)
	return avatar.Result{Outcome: avatar.OutcomeFailed, Reason: err.Error()},
		fmt.Errorf("ingest %s: %w", ref, err)
}

func (t *Task) headers() http.Header {
	h := http.Header{}
	if t.cfg.UserAgent != "" {
		h.Set("User-Agent", t.cfg.UserAgent)
	}
	h.Set("Accept", t.cfg.Accept)
	return h
}
