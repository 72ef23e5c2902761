// Package server builds the application graph from configuration and runs it.
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

	"cloud.google.com/go/pubsub"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jonidaniel/jobsai/internal/api"
	"github.com/jonidaniel/jobsai/internal/clock"
	"github.com/jonidaniel/jobsai/internal/config"
	"github.com/jonidaniel/jobsai/internal/delivery"
	"github.com/jonidaniel/jobsai/internal/dispatcher"
	collyfetcher "github.com/jonidaniel/jobsai/internal/fetcher/colly"
	headlessfetcher "github.com/jonidaniel/jobsai/internal/fetcher/headless"
	"github.com/jonidaniel/jobsai/internal/generator/gemini"
	"github.com/jonidaniel/jobsai/internal/id/uuid"
	"github.com/jonidaniel/jobsai/internal/janitor"
	"github.com/jonidaniel/jobsai/internal/job"
	"github.com/jonidaniel/jobsai/internal/logging"
	"github.com/jonidaniel/jobsai/internal/metrics"
	"github.com/jonidaniel/jobsai/internal/pipeline"
	memorypublisher "github.com/jonidaniel/jobsai/internal/publisher/memory"
	pspublisher "github.com/jonidaniel/jobsai/internal/publisher/pubsub"
	memoryqueue "github.com/jonidaniel/jobsai/internal/queue/memory"
	pubsubqueue "github.com/jonidaniel/jobsai/internal/queue/pubsub"
	"github.com/jonidaniel/jobsai/internal/ratelimit"
	"github.com/jonidaniel/jobsai/internal/render/pdf"
	"github.com/jonidaniel/jobsai/internal/scraper"
	"github.com/jonidaniel/jobsai/internal/search"
	gcsstorage "github.com/jonidaniel/jobsai/internal/storage/gcs"
	localstorage "github.com/jonidaniel/jobsai/internal/storage/local"
	memorystorage "github.com/jonidaniel/jobsai/internal/storage/memory"
	pgstorage "github.com/jonidaniel/jobsai/internal/storage/postgres"
	redisstorage "github.com/jonidaniel/jobsai/internal/storage/redis"
	s3storage "github.com/jonidaniel/jobsai/internal/storage/s3"
	"github.com/jonidaniel/jobsai/internal/telemetry"
	"github.com/jonidaniel/jobsai/internal/worker"
)

// Version is stamped at build time with -ldflags.
var Version = "dev"

const defaultShutdownTimeout = 15 * time.Second

// Mode selects which parts of the graph a process runs.
type Mode int

const (
	// ModeServe runs the HTTP API plus invoker.workers in-process workers.
	ModeServe Mode = iota
	// ModeWorker runs workers with only health and metrics endpoints.
	ModeWorker
)

type closer struct {
	name string
	fn   func() error
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	mode   Mode
	logger *zap.Logger

	handler  http.Handler
	dispatch *dispatcher.Dispatcher
	janitor  *janitor.Janitor

	pool         *pgxpool.Pool
	redis        *goredis.Client
	pubsubClient *pubsub.Client
	sweepers     map[string]janitor.Sweeper
	ready        map[string]api.ReadinessCheck
	closers      []closer

	tracerShutdown func(context.Context) error
}

// Build creates the application's dependencies. Partially built
// infrastructure is released when a later step fails.
func Build(ctx context.Context, cfg config.Config, mode Mode) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     Version,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}

	app := &App{
		cfg:            cfg,
		mode:           mode,
		logger:         logger,
		sweepers:       map[string]janitor.Sweeper{},
		ready:          map[string]api.ReadinessCheck{},
		tracerShutdown: shutdown,
	}
	logger.Info("building application dependencies",
		zap.String("version", Version),
		zap.String("state_backend", cfg.State.Backend),
		zap.String("artifacts_backend", cfg.Artifacts.Backend),
		zap.String("invoker_backend", cfg.Invoker.Backend),
		zap.Int("workers", cfg.Invoker.Workers),
	)
	if err := app.build(ctx); err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	if a.mode == ModeWorker && a.cfg.Invoker.Backend != config.BackendPubSub {
		return fmt.Errorf("worker mode requires invoker.backend=%s", config.BackendPubSub)
	}
	store, err := a.setupStateStore(ctx)
	if err != nil {
		return err
	}
	artifacts, err := a.setupArtifacts(ctx)
	if err != nil {
		return err
	}
	registry, err := scraper.NewRegistry(a.cfg.BoardConfigs())
	if err != nil {
		return fmt.Errorf("board registry init failed: %w", err)
	}
	queue, err := a.setupQueue(ctx)
	if err != nil {
		return err
	}

	workerCount := a.cfg.Invoker.Workers
	if a.mode == ModeWorker && workerCount == 0 {
		workerCount = 1
	}
	var workers []*worker.Worker
	if workerCount > 0 {
		runner, err := a.setupPipeline(ctx, store, artifacts, registry)
		if err != nil {
			return err
		}
		for i := range workerCount {
			workers = append(workers, worker.New(i, queue, runner, worker.Config{}, a.logger))
		}
	}
	a.dispatch = dispatcher.New(queue, workers, a.logger)

	if a.mode == ModeWorker {
		a.handler = opsHandler()
		a.setupJanitor()
		return nil
	}
	limiter, err := a.setupLimiter(ctx)
	if err != nil {
		return err
	}
	a.setupJanitor()
	a.handler = api.NewServer(api.Deps{
		Store:     store,
		Invoker:   a.dispatch,
		Artifacts: artifacts,
		Limiter:   limiter,
		IDs:       uuid.New(),
		Clock:     clock.System{},
		Boards:    registry.Names(),
		Ready:     a.ready,
	}, a.cfg, a.logger).Handler()
	return nil
}

func (a *App) addCloser(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

func (a *App) postgresPool(ctx context.Context) (*pgxpool.Pool, error) {
	if a.pool != nil {
		return a.pool, nil
	}
	pool, err := pgstorage.Connect(ctx, pgstorage.Config{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(a.cfg.DB.MaxConnLifetimeSeconds) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("postgres init failed: %w", err)
	}
	a.pool = pool
	a.ready["postgres"] = pool.Ping
	a.addCloser("postgres pool", func() error {
		pool.Close()
		return nil
	})
	return pool, nil
}

func (a *App) redisClient(ctx context.Context) (*goredis.Client, error) {
	if a.redis != nil {
		return a.redis, nil
	}
	client, err := redisstorage.NewClient(ctx, a.cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("redis init failed: %w", err)
	}
	a.redis = client
	a.ready["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	a.addCloser("redis client", client.Close)
	return client, nil
}

func (a *App) ensurePubSub(ctx context.Context) (*pubsub.Client, error) {
	if a.pubsubClient != nil {
		return a.pubsubClient, nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.addCloser("pubsub client", client.Close)
	return client, nil
}

func (a *App) setupStateStore(ctx context.Context) (job.StateStore, error) {
	switch a.cfg.State.Backend {
	case config.BackendRedis:
		client, err := a.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		store, err := redisstorage.NewStateStore(client, redisstorage.Config{
			KeyPrefix: a.cfg.Redis.KeyPrefix,
			Retention: a.cfg.Retention(),
		})
		if err != nil {
			return nil, fmt.Errorf("redis state store init failed: %w", err)
		}
		a.logger.Info("using redis state store")
		return store, nil
	case config.BackendPostgres:
		pool, err := a.postgresPool(ctx)
		if err != nil {
			return nil, err
		}
		store, err := pgstorage.NewStateStore(pool, pgstorage.StateStoreConfig{
			Table:     a.cfg.DB.StateTable,
			Retention: a.cfg.Retention(),
		})
		if err != nil {
			return nil, fmt.Errorf("postgres state store init failed: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("postgres state schema: %w", err)
		}
		a.sweepers[a.cfg.DB.StateTable] = store
		a.logger.Info("using postgres state store", zap.String("table", a.cfg.DB.StateTable))
		return store, nil
	default:
		store := memorystorage.NewStateStore(a.cfg.Retention())
		a.sweepers["memory_state"] = store
		a.logger.Info("using in-memory state store")
		return store, nil
	}
}

func (a *App) setupLimiter(ctx context.Context) (*ratelimit.Limiter, error) {
	var counter ratelimit.Counter
	if a.cfg.RateLimit.Enabled {
		switch a.cfg.RateLimit.Backend {
		case config.BackendRedis:
			client, err := a.redisClient(ctx)
			if err != nil {
				return nil, err
			}
			c, err := redisstorage.NewCounter(client)
			if err != nil {
				return nil, fmt.Errorf("redis rate limit counter init failed: %w", err)
			}
			counter = c
		case config.BackendPostgres:
			pool, err := a.postgresPool(ctx)
			if err != nil {
				return nil, err
			}
			c, err := pgstorage.NewCounter(pool, a.cfg.DB.RateLimitTable)
			if err != nil {
				return nil, fmt.Errorf("postgres rate limit counter init failed: %w", err)
			}
			if err := c.EnsureSchema(ctx); err != nil {
				return nil, fmt.Errorf("postgres rate limit schema: %w", err)
			}
			a.sweepers[a.cfg.DB.RateLimitTable] = c
			counter = c
		default:
			counter = memorystorage.NewCounter()
		}
	}
	limiter, err := ratelimit.New(ratelimit.Config{
		Enabled:  a.cfg.RateLimit.Enabled,
		Requests: a.cfg.RateLimit.Requests,
		Window:   time.Duration(a.cfg.RateLimit.WindowSeconds) * time.Second,
		Grace:    time.Duration(a.cfg.RateLimit.GraceSeconds) * time.Second,
	}, counter, a.logger)
	if err != nil {
		return nil, fmt.Errorf("rate limiter init failed: %w", err)
	}
	a.logger.Info("rate limiter configured",
		zap.Bool("enabled", a.cfg.RateLimit.Enabled),
		zap.String("backend", a.cfg.RateLimit.Backend),
		zap.Int("requests", a.cfg.RateLimit.Requests),
		zap.Int("window_seconds", a.cfg.RateLimit.WindowSeconds),
	)
	return limiter, nil
}

func (a *App) setupArtifacts(ctx context.Context) (job.ArtifactStore, error) {
	ac := a.cfg.Artifacts
	switch ac.Backend {
	case config.BackendGCS:
		client, err := gcsstorage.NewClient(ctx, ac.Bucket)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.addCloser("gcs client", client.Close)
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: ac.Bucket, Prefix: ac.Prefix})
		if err != nil {
			return nil, fmt.Errorf("gcs artifact store init failed: %w", err)
		}
		a.logger.Info("using GCS artifact store", zap.String("bucket", ac.Bucket))
		return store, nil
	case config.BackendS3:
		s3cfg := s3storage.Config{
			Bucket:   ac.Bucket,
			Prefix:   ac.Prefix,
			Region:   ac.Region,
			Endpoint: ac.Endpoint,
		}
		client, err := s3storage.NewClient(ctx, s3cfg)
		if err != nil {
			return nil, fmt.Errorf("s3 client init failed: %w", err)
		}
		store, err := s3storage.New(client, s3cfg)
		if err != nil {
			return nil, fmt.Errorf("s3 artifact store init failed: %w", err)
		}
		a.logger.Info("using S3 artifact store", zap.String("bucket", ac.Bucket))
		return store, nil
	case config.BackendLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: ac.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local artifact store init failed: %w", err)
		}
		a.logger.Info("using local artifact store", zap.String("path", ac.BaseDir))
		return store, nil
	default:
		a.logger.Info("using in-memory artifact store")
		return memorystorage.NewArtifactStore(), nil
	}
}

func (a *App) setupQueue(ctx context.Context) (job.Queue, error) {
	if a.cfg.Invoker.Backend != config.BackendPubSub {
		q := memoryqueue.NewQueue(a.cfg.Invoker.QueueDepth)
		a.addCloser("memory queue", func() error {
			q.Close()
			return nil
		})
		return q, nil
	}
	client, err := a.ensurePubSub(ctx)
	if err != nil {
		return nil, err
	}
	topic := client.Topic(a.cfg.PubSub.InvocationTopic)
	publisher := pspublisher.New(topic)
	a.addCloser("invocation publisher", func() error {
		publisher.Stop()
		return nil
	})
	a.ready["pubsub"] = func(ctx context.Context) error {
		ok, err := topic.Exists(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("topic %s does not exist", topic.ID())
		}
		return nil
	}
	var sub *pubsub.Subscription
	if a.mode == ModeWorker || a.cfg.Invoker.Workers > 0 {
		sub = client.Subscription(a.cfg.PubSub.InvocationSubscription)
	}
	a.logger.Info("using Pub/Sub invoker",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.InvocationTopic),
		zap.Bool("receiving", sub != nil),
	)
	return pubsubqueue.New(publisher, sub, a.logger), nil
}

func (a *App) setupPipeline(
	ctx context.Context,
	store job.StateStore,
	artifacts job.ArtifactStore,
	registry *scraper.Registry,
) (*pipeline.Runner, error) {
	engine, release, err := NewScraper(a.cfg, a.logger)
	if err != nil {
		return nil, err
	}
	a.addCloser("scraper", func() error {
		release()
		return nil
	})

	gc := a.cfg.Generator
	gen, err := gemini.New(ctx, gemini.Config{
		APIKey:          gc.APIKey,
		BaseURL:         gc.BaseURL,
		Model:           gc.Model,
		MaxOutputTokens: gc.MaxOutputTokens,
		Temperature:     gc.Temperature,
		Retries:         gc.Retries,
		Backoff:         config.Millis(gc.BackoffMs),
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("generator init failed: %w", err)
	}

	notifier, err := a.setupDelivery(ctx, artifacts)
	if err != nil {
		return nil, err
	}

	wall := clock.System{}
	steps := pipeline.DefaultSteps(pipeline.Deps{
		Generator: gen,
		Searcher:  search.NewOrchestrator(engine, a.logger),
		Boards:    registry,
		ScrapeOptions: scraper.Options{
			NumPages:     a.cfg.Scraper.NumPages,
			PerPageLimit: a.cfg.Scraper.PerPageLimit,
		},
		Renderer:       pdf.New(pdf.Config{}),
		Artifacts:      artifacts,
		Clock:          wall,
		KeywordRetries: gc.KeywordRetries,
		Logger:         a.logger,
	})
	a.logger.Info("pipeline configured",
		zap.Int("steps", len(steps)),
		zap.Strings("boards", registry.Names()),
		zap.String("model", gc.Model),
	)
	return pipeline.NewRunner(store, steps, notifier, a.logger), nil
}

func (a *App) setupDelivery(ctx context.Context, artifacts job.ArtifactStore) (*delivery.Notifier, error) {
	var publisher delivery.Publisher
	if a.cfg.PubSub.ProjectID != "" && a.cfg.PubSub.DeliveryTopic != "" {
		client, err := a.ensurePubSub(ctx)
		if err != nil {
			return nil, err
		}
		p := pspublisher.New(client.Topic(a.cfg.PubSub.DeliveryTopic))
		a.addCloser("delivery publisher", func() error {
			p.Stop()
			return nil
		})
		publisher = p
		a.logger.Info("delivery publisher initialized", zap.String("topic", a.cfg.PubSub.DeliveryTopic))
	} else {
		a.logger.Warn("no Pub/Sub delivery topic configured, using in-memory publisher")
		publisher = memorypublisher.New(a.logger)
	}
	return delivery.New(artifacts, publisher, clock.System{}, delivery.Config{
		Topic:   a.cfg.PubSub.DeliveryTopic,
		LinkTTL: a.cfg.PresignTTL(),
	}, a.logger), nil
}

func (a *App) setupJanitor() {
	if !a.cfg.Janitor.Enabled {
		return
	}
	if len(a.sweepers) == 0 {
		a.logger.Info("janitor enabled but no store needs sweeping")
		return
	}
	a.janitor = janitor.New(a.cfg.Janitor.Schedule, a.sweepers, a.logger)
}

// NewScraper builds the board engine from the scraper section. The returned
// function releases the headless browser, if one was started.
func NewScraper(cfg config.Config, logger *zap.Logger) (*scraper.Engine, func(), error) {
	sc := cfg.Scraper
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     sc.UserAgent,
		RespectRobots: sc.RespectRobots,
		Timeout:       time.Duration(sc.TimeoutSeconds) * time.Second,
	})

	release := func() {}
	var headless scraper.Fetcher = headlessfetcher.Disabled{}
	if sc.Headless.Enabled {
		browser, err := headlessfetcher.New(headlessfetcher.Config{
			Tabs:            sc.Headless.MaxParallel,
			UserAgent:       sc.UserAgent,
			PageTimeout:     time.Duration(sc.Headless.NavTimeoutSec) * time.Second,
			SelectorTimeout: config.Millis(sc.Headless.SelectorWaitMs),
			SettleDelay:     config.Millis(sc.Headless.SettleDelayMs),
			ScrollPasses:    sc.Headless.ScrollPasses,
			WaitSelector:    sc.Headless.WaitSelector,
		})
		if err != nil {
			logger.Warn("headless fetcher init failed, headless boards will fail", zap.Error(err))
		} else {
			headless = browser
			release = browser.Close
			logger.Info("using headless fetcher", zap.Int("max_parallel", sc.Headless.MaxParallel))
		}
	}

	engine, err := scraper.NewEngine(scraper.EngineConfig{
		Retries:         sc.Retries,
		DetailRetries:   sc.DetailRetries,
		BackoffBase:     config.Millis(sc.BackoffInitialMs),
		BackoffMax:      config.Millis(sc.BackoffMaxMs),
		PageDelay:       config.Millis(sc.PageDelayMs),
		BlockIndicators: sc.BlockedIndicators,
	}, fetcher, headless, scraper.NewHostThrottle(sc.HostRPS, sc.HostBurst), logger)
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("scraper init failed: %w", err)
	}
	return engine, release, nil
}

func opsHandler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", metrics.Handler())
	return r
}

// Handler exposes the root HTTP handler.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Run starts the application and blocks until the context is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.dispatch.Run(ctx)
	}()

	if a.janitor != nil {
		if err := a.janitor.Start(ctx); err != nil {
			a.logger.Error("janitor start failed", zap.Error(err))
		}
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.ShutdownTimeout()
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if a.janitor != nil {
		a.janitor.Stop()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers did not stop before the shutdown deadline")
	}

	if err := a.Close(shutdownCtx); err != nil {
		return err
	}
	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close releases infrastructure and flushes observability.
func (a *App) Close(ctx context.Context) error {
	a.closeInfrastructure()
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
		}
	}
	a.closers = nil
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
