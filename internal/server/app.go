// Package server provides the core application server and dependency wiring.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/go-redis/redis/v7"
	"go.uber.org/zap"

	"github.com/JakeFAU/avatar-ingest/internal/api"
	"github.com/JakeFAU/avatar-ingest/internal/avatar"
	"github.com/JakeFAU/avatar-ingest/internal/clock/system"
	"github.com/JakeFAU/avatar-ingest/internal/config"
	"github.com/JakeFAU/avatar-ingest/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/avatar-ingest/internal/fetcher/colly"
	"github.com/JakeFAU/avatar-ingest/internal/hash/sha256"
	"github.com/JakeFAU/avatar-ingest/internal/id/uuid"
	"github.com/JakeFAU/avatar-ingest/internal/ingest"
	"github.com/JakeFAU/avatar-ingest/internal/logging"
	"github.com/JakeFAU/avatar-ingest/internal/owner"
	"github.com/JakeFAU/avatar-ingest/internal/policy/ratelimit"
	"github.com/JakeFAU/avatar-ingest/internal/provider/evolution"
	memorypublisher "github.com/JakeFAU/avatar-ingest/internal/publisher/memory"
	natspublisher "github.com/JakeFAU/avatar-ingest/internal/publisher/nats"
	gcppublisher "github.com/JakeFAU/avatar-ingest/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/avatar-ingest/internal/queue/memory"
	redisqueue "github.com/JakeFAU/avatar-ingest/internal/queue/redis"
	"github.com/JakeFAU/avatar-ingest/internal/release"
	gcsstorage "github.com/JakeFAU/avatar-ingest/internal/storage/gcs"
	localstorage "github.com/JakeFAU/avatar-ingest/internal/storage/local"
	memoryStorage "github.com/JakeFAU/avatar-ingest/internal/storage/memory"
	pgstore "github.com/JakeFAU/avatar-ingest/internal/storage/postgres"
	s3storage "github.com/JakeFAU/avatar-ingest/internal/storage/s3"
	"github.com/JakeFAU/avatar-ingest/internal/worker"
)

type closableQueue interface {
	avatar.Queue
	Close() error
}

type closablePublisher interface {
	avatar.Publisher
	Close() error
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// App contains the application's dependencies.
type App struct {
	cfg        *config.Config
	logger     *zap.Logger
	apiServer  *api.Server
	dispatch   *dispatcher.Dispatcher
	queue      closableQueue
	registry   *owner.Registry
	oneShot    *worker.Worker
	publisher  closablePublisher
	checker    *release.Checker
	redis      *redis.Client
	storage    *storage.Client
	slotStore  *pgstore.SlotStore
	closeOnce  sync.Once
	runWorkers sync.WaitGroup
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	// Only non-sensitive fields are logged.
	type SanitizedConfig struct {
		ServerPort   int    `json:"server_port"`
		Environment  string `json:"environment,omitempty"`
		Queue        string `json:"queue"`
		Storage      string `json:"storage"`
		Publisher    string `json:"publisher"`
		SlotDatabase bool   `json:"slot_database"`
	}
	safeCfg := SanitizedConfig{
		ServerPort:   cfg.Server.Port,
		Environment:  cfg.App.Environment,
		Queue:        cfg.Queue.Backend,
		Storage:      cfg.Storage.Backend,
		Publisher:    cfg.Publisher.Backend,
		SlotDatabase: cfg.DB.DSN != "",
	}
	logger.Info("creating application", zap.Any("config", safeCfg))
	return &App{
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Handler exposes the HTTP API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Ingest runs one avatar request inline, bypassing the queue.
func (a *App) Ingest(ctx context.Context, id string, req avatar.Request) avatar.Result {
	return a.oneShot.Process(ctx, avatar.QueueItem{
		ID:        id,
		Lane:      a.cfg.Queue.Lane,
		Request:   req,
		Attempt:   1,
		Submitted: time.Now().Unix(),
	})
}

// Current returns the attachment held by an owner's avatar slot.
func (a *App) Current(ctx context.Context, ref avatar.OwnerRef) (avatar.Attachment, error) {
	att, err := a.registry.Current(ctx, ref)
	if err != nil {
		return avatar.Attachment{}, fmt.Errorf("current avatar: %w", err)
	}
	return att, nil
}

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a.checker != nil {
		if err := a.checker.Run(ctx); err != nil {
			a.logger.Warn("release check failed", zap.Error(err))
		}
	}

	a.runWorkers.Add(1)
	go func() {
		defer a.runWorkers.Done()
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Worker.Concurrency))
		a.dispatch.Run(ctx)
		a.logger.Info("dispatcher stopped")
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.ShutdownTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	return a.Close(shutdownCtx)
}

// Close gracefully shuts down the application. It is safe to call more than once.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		if a.queue != nil {
			if err := a.queue.Close(); err != nil {
				a.logger.Warn("queue close failed", zap.Error(err))
			}
		}
		a.waitWorkers(ctx)
		a.closeInfrastructure()
		a.logger.Info("shutdown complete")
		if err := a.logger.Sync(); err != nil {
			a.logger.Debug("logger sync failed", zap.Error(err))
		}
	})
	return nil
}

func (a *App) waitWorkers(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		a.runWorkers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warn("workers did not stop before shutdown deadline")
	}
}

func (a *App) closeInfrastructure() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("publisher close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.slotStore != nil {
		a.slotStore.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	logger, err := logging.NewService(cfg.Logging.Development, logging.Service{
		Product:     cfg.App.Product,
		Version:     cfg.App.Version,
		Environment: cfg.App.Environment,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}
	if err := app.build(ctx); err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	a.logger.Info("building application dependencies")

	blobStore, err := setupStorage(ctx, a)
	if err != nil {
		return err
	}
	slots, err := setupSlots(ctx, a)
	if err != nil {
		return err
	}
	if err := setupRedis(a); err != nil {
		return err
	}
	if err := setupQueue(a); err != nil {
		return err
	}
	if err := setupPublisher(ctx, a); err != nil {
		return err
	}

	clock := system.New()
	a.registry = owner.NewRegistry(slots, blobStore, sha256.New(), clock, owner.Config{
		AvatarTypes: a.cfg.Avatar.OwnerTypes,
		BlobPrefix:  a.cfg.Storage.Prefix,
	})

	task, err := setupTask(a, clock)
	if err != nil {
		return err
	}
	a.dispatch = setupDispatcher(a, task, clock)
	a.checker = setupRelease(a)

	a.apiServer = api.NewServer(
		a.dispatch,
		a.registry,
		evolution.New(a.logger.Named("evolution")),
		uuid.New(),
		clock,
		*a.cfg,
		a.logger.Named("api"),
	)
	if a.slotStore != nil {
		a.apiServer.AddReadinessCheck("postgres", a.slotStore)
	}
	if a.redis != nil {
		client := a.redis
		a.apiServer.AddReadinessCheck("redis", pingFunc(func(context.Context) error {
			if err := client.Ping().Err(); err != nil {
				return fmt.Errorf("redis ping: %w", err)
			}
			return nil
		}))
	}
	return nil
}

func setupStorage(ctx context.Context, app *App) (avatar.BlobStore, error) {
	var blobStore avatar.BlobStore
	var err error
	switch app.cfg.Storage.Backend {
	case "gcs":
		app.logger.Info("using GCS storage backend")
		app.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobStore, err = gcsstorage.New(app.storage, gcsstorage.Config{
			Bucket: app.cfg.Storage.GCSBucket,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Debug("GCS storage backend", zap.String("bucket", app.cfg.Storage.GCSBucket))
	case "s3":
		app.logger.Info("using S3 storage backend")
		s3cfg := app.cfg.Storage.S3
		blobStore, err = s3storage.New(s3storage.Config{
			Endpoint:  s3cfg.Endpoint,
			Bucket:    s3cfg.Bucket,
			AccessKey: s3cfg.AccessKey,
			SecretKey: s3cfg.SecretKey,
			Region:    s3cfg.Region,
			UseSSL:    s3cfg.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 blob store init failed: %w", err)
		}
		app.logger.Debug("S3 storage backend",
			zap.String("endpoint", s3cfg.Endpoint),
			zap.String("bucket", s3cfg.Bucket),
		)
	case "local":
		app.logger.Info("using local storage backend")
		blobStore, err = localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Debug("local storage backend", zap.String("path", app.cfg.Storage.LocalDir))
	default:
		app.logger.Info("using in-memory storage backend")
		blobStore = memoryStorage.NewBlobStore()
	}
	return blobStore, nil
}

func setupSlots(ctx context.Context, app *App) (avatar.SlotStore, error) {
	if app.cfg.DB.DSN == "" {
		app.logger.Warn("no DSN specified for database, avatar slots are kept in memory")
		return memoryStorage.NewSlotStore(), nil
	}
	store, err := pgstore.NewSlotStore(ctx, pgstore.SlotStoreConfig{
		DSN:      app.cfg.DB.DSN,
		Table:    app.cfg.DB.Table,
		MaxConns: app.cfg.DB.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("slot store init failed: %w", err)
	}
	app.slotStore = store
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("slot store schema failed: %w", err)
	}
	app.logger.Info("postgres slot store initialized", zap.String("table", app.cfg.DB.Table))
	return store, nil
}

func setupRedis(app *App) error {
	if app.cfg.Queue.Backend != "redis" {
		return nil
	}
	app.redis = redis.NewClient(&redis.Options{
		Addr:     app.cfg.Redis.Addr,
		Password: app.cfg.Redis.Password,
		DB:       app.cfg.Redis.DB,
	})
	if err := app.redis.Ping().Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	app.logger.Info("redis client initialized", zap.String("addr", app.cfg.Redis.Addr))
	return nil
}

func setupQueue(app *App) error {
	if app.redis == nil {
		app.queue = queueMemory.NewQueue(app.cfg.Queue.Depth)
		app.logger.Info("using in-memory queue", zap.Int("depth", app.cfg.Queue.Depth))
		return nil
	}
	q, err := redisqueue.New(app.redis, redisqueue.Config{
		Prefix: app.cfg.Queue.RedisPrefix,
		Lane:   app.cfg.Queue.Lane,
	})
	if err != nil {
		return fmt.Errorf("redis queue init failed: %w", err)
	}
	app.queue = q
	app.logger.Info("using redis queue", zap.String("key", q.Key()))
	return nil
}

func setupPublisher(ctx context.Context, app *App) error {
	topic := app.cfg.Publisher.Topic
	switch app.cfg.Publisher.Backend {
	case "pubsub":
		pub, err := gcppublisher.Connect(ctx, app.cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		app.publisher = pub
		app.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", app.cfg.PubSub.ProjectID),
			zap.String("topic", topic),
		)
	case "nats":
		pub, err := natspublisher.Connect(ctx, natspublisher.Config{
			URL:     app.cfg.NATS.URL,
			Stream:  app.cfg.NATS.Stream,
			Subject: topic,
		})
		if err != nil {
			return fmt.Errorf("nats publisher init failed: %w", err)
		}
		app.publisher = pub
		app.logger.Info("NATS publisher initialized",
			zap.String("stream", app.cfg.NATS.Stream),
			zap.String("subject", topic),
		)
	case "memory":
		app.publisher = memorypublisher.New()
		app.logger.Info("using in-memory publisher", zap.String("topic", topic))
	default:
		app.logger.Info("avatar events disabled")
	}
	return nil
}

func setupTask(app *App, clock avatar.Clock) (*ingest.Task, error) {
	rules, err := app.cfg.ProviderRules()
	if err != nil {
		return nil, fmt.Errorf("provider rules: %w", err)
	}
	var fetcher avatar.Fetcher = collyfetcher.New(collyfetcher.Config{
		UserAgent: app.cfg.UserAgent(),
		Accept:    app.cfg.Avatar.Accept,
		Timeout:   app.cfg.FetchTimeout(),
		MaxBytes:  app.cfg.Avatar.MaxDownloadBytes,
	})
	app.logger.Info("using colly avatar fetcher",
		zap.String("user_agent", app.cfg.UserAgent()),
		zap.Duration("timeout", app.cfg.FetchTimeout()),
		zap.Int64("max_bytes", app.cfg.Avatar.MaxDownloadBytes),
	)
	if app.cfg.Avatar.RateLimitRPS > 0 {
		fetcher = ratelimit.NewFetcher(fetcher, ratelimit.New(ratelimit.Config{
			DefaultRPS:   app.cfg.Avatar.RateLimitRPS,
			DefaultBurst: app.cfg.Avatar.RateLimitBurst,
		}))
		app.logger.Info("per-host rate limiter enabled",
			zap.Float64("rps", app.cfg.Avatar.RateLimitRPS),
			zap.Int("burst", app.cfg.Avatar.RateLimitBurst),
		)
	}
	logger := app.logger.Named("ingest")
	return ingest.New(
		avatar.NewSanitizer(rules, logger),
		fetcher,
		clock,
		ingest.Config{
			MaxDownloadBytes:   app.cfg.Avatar.MaxDownloadBytes,
			UserAgent:          app.cfg.UserAgent(),
			Accept:             app.cfg.Avatar.Accept,
			DefaultContentType: app.cfg.Avatar.DefaultContentType,
		},
		logger,
	), nil
}

func setupDispatcher(app *App, task *ingest.Task, clock avatar.Clock) *dispatcher.Dispatcher {
	initial, maxDelay := app.cfg.Backoff()
	workerCfg := worker.Config{
		MaxRetries:      app.cfg.Worker.MaxRetries,
		RetryBackoff:    initial,
		RetryBackoffMax: maxDelay,
	}
	// A nil interface keeps the worker from publishing when events are disabled.
	var publisher avatar.Publisher
	if app.publisher != nil {
		publisher = app.publisher
		workerCfg.Topic = app.cfg.Publisher.Topic
	}
	app.logger.Info("worker config",
		zap.Int("concurrency", app.cfg.Worker.Concurrency),
		zap.Int("max_retries", workerCfg.MaxRetries),
		zap.Duration("backoff", workerCfg.RetryBackoff),
		zap.Duration("backoff_max", workerCfg.RetryBackoffMax),
		zap.String("topic", workerCfg.Topic),
	)

	newWorker := func(logger *zap.Logger) *worker.Worker {
		return worker.New(app.queue, app.registry, task, publisher, clock, workerCfg, logger)
	}
	var workers []*worker.Worker
	for i := 0; i < app.cfg.Worker.Concurrency; i++ {
		workers = append(workers, newWorker(app.logger.Named("worker").With(zap.Int("index", i))))
	}
	app.oneShot = newWorker(app.logger.Named("ingest_once"))
	return dispatcher.New(app.queue, workers)
}

func setupRelease(app *App) *release.Checker {
	if !app.cfg.Release.CheckEnabled {
		return nil
	}
	var store release.VersionStore = release.NewMemoryStore()
	if app.redis != nil {
		store = release.NewRedisStore(app.redis, "")
	}
	return release.NewChecker(store, app.cfg.App.Version, app.cfg.App.Environment, app.logger.Named("release"))
}
