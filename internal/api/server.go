package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/avatar-ingest/internal/avatar"
	"github.com/JakeFAU/avatar-ingest/internal/config"
	"github.com/JakeFAU/avatar-ingest/internal/metrics"
	"github.com/JakeFAU/avatar-ingest/internal/provider/evolution"
	"github.com/JakeFAU/avatar-ingest/internal/queue"
)

const (
	maxBodyBytes     = 1 << 20
	enqueueTimeout   = 5 * time.Second
	readinessTimeout = 2 * time.Second
	// Evolution contacts belong to Contact records unless the webhook says otherwise.
	defaultWebhookOwnerType = "Contact"
)

// Enqueuer accepts avatar work, typically the dispatcher.
type Enqueuer interface {
	Enqueue(ctx context.Context, item avatar.QueueItem) error
}

// AttachmentReader returns the current attachment of an owner.
type AttachmentReader interface {
	Current(ctx context.Context, ref avatar.OwnerRef) (avatar.Attachment, error)
}

// Pinger reports whether a downstream dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires HTTP handlers to the dispatcher and stores.
type Server struct {
	router      chi.Router
	enqueuer    Enqueuer
	attachments AttachmentReader
	normalizer  *evolution.Normalizer
	idGen       avatar.IDGenerator
	clock       avatar.Clock
	cfg         config.Config
	logger      *zap.Logger

	mu     sync.RWMutex
	checks map[string]Pinger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	enqueuer Enqueuer,
	attachments AttachmentReader,
	normalizer *evolution.Normalizer,
	idGen avatar.IDGenerator,
	clock avatar.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if normalizer == nil {
		normalizer = evolution.New(logger)
	}
	s := &Server{
		enqueuer:    enqueuer,
		attachments: attachments,
		normalizer:  normalizer,
		idGen:       idGen,
		clock:       clock,
		cfg:         cfg,
		logger:      logger,
		checks:      make(map[string]Pinger),
	}
	timeout := cfg.RequestTimeout()
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(metrics.Middleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/avatars", s.submitAvatar)
		r.Post("/webhooks/evolution", s.evolutionWebhook)
		r.Get("/owners/{owner_type}/{owner_id}/avatar", s.getAvatar)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// AddReadinessCheck registers a dependency probed by /readyz.
func (s *Server) AddReadinessCheck(name string, p Pinger) {
	if p == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = p
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	checks := make(map[string]Pinger, len(s.checks))
	for name, p := range s.checks {
		checks[name] = p
	}
	s.mu.RUnlock()

	failed := map[string]string{}
	for name, p := range checks {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		err := p.Ping(ctx)
		cancel()
		if err != nil {
			s.logger.Warn("readiness check failed", zap.String("check", name), zap.Error(err))
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "checks": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type avatarRequest struct {
	OwnerType string `json:"owner_type"`
	OwnerID   string `json:"owner_id"`
	URL       string `json:"url"`
}

func (s *Server) submitAvatar(w http.ResponseWriter, r *http.Request) {
	var req avatarRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	ref := avatar.OwnerRef{Type: strings.TrimSpace(req.OwnerType), ID: strings.TrimSpace(req.OwnerID)}
	if ref.IsZero() {
		writeError(w, http.StatusBadRequest, "owner_type and owner_id required")
		return
	}
	id, err := s.enqueue(r.Context(), avatar.Request{Owner: ref, RawURL: req.URL})
	if err != nil {
		s.enqueueFailed(w, r, err)
		return
	}
	metrics.ObserveEnqueued("api", 1)
	writeJSON(w, http.StatusAccepted, map[string]string{"request_id": id})
}

func (s *Server) evolutionWebhook(w http.ResponseWriter, r *http.Request) {
	var message map[string]any
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&message); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	ownerType := strings.TrimSpace(r.URL.Query().Get("owner_type"))
	if ownerType == "" {
		ownerType = defaultWebhookOwnerType
	}

	enqueued := 0
	for _, contact := range s.normalizer.Contacts(message) {
		if contact.Profile.ProfilePicURL == "" {
			continue
		}
		req := avatar.Request{
			Owner:  avatar.OwnerRef{Type: ownerType, ID: contact.ID},
			RawURL: contact.Profile.ProfilePicURL,
		}
		if _, err := s.enqueue(r.Context(), req); err != nil {
			metrics.ObserveEnqueued("webhook", enqueued)
			s.enqueueFailed(w, r, err)
			return
		}
		enqueued++
	}
	metrics.ObserveEnqueued("webhook", enqueued)
	writeJSON(w, http.StatusAccepted, map[string]int{"enqueued": enqueued})
}

func (s *Server) getAvatar(w http.ResponseWriter, r *http.Request) {
	if s.attachments == nil {
		writeError(w, http.StatusServiceUnavailable, "attachment store unavailable")
		return
	}
	ref := avatar.OwnerRef{Type: chi.URLParam(r, "owner_type"), ID: chi.URLParam(r, "owner_id")}
	att, err := s.attachments.Current(r.Context(), ref)
	if err != nil {
		if errors.Is(err, avatar.ErrSlotEmpty) {
			writeError(w, http.StatusNotFound, "avatar not found")
			return
		}
		s.logger.Error("get avatar failed",
			zap.String("owner_type", ref.Type),
			zap.String("owner_id", ref.ID),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "failed to load avatar")
		return
	}
	writeJSON(w, http.StatusOK, att)
}

func (s *Server) enqueue(ctx context.Context, req avatar.Request) (string, error) {
	if s.enqueuer == nil {
		return "", errors.New("no queue configured")
	}
	id, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate request id: %w", err)
	}
	queueCtx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	item := avatar.QueueItem{
		ID:        id,
		Lane:      queue.Lane(s.cfg.Queue.Lane),
		Request:   req,
		Attempt:   1,
		Submitted: s.clock.Now().Unix(),
	}
	if err := s.enqueuer.Enqueue(queueCtx, item); err != nil {
		return "", fmt.Errorf("enqueue avatar: %w", err)
	}
	return id, nil
}

func (s *Server) enqueueFailed(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("enqueue failed", zap.String("request_id", requestID(r.Context())), zap.Error(err))
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusRequestTimeout
	case errors.Is(err, queue.ErrClosed):
		status = http.StatusServiceUnavailable
	}
	writeError(w, status, err.Error())
}
