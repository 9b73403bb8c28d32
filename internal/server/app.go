package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/storefinder/internal/api"
	"github.com/JakeFAU/storefinder/internal/clock/system"
	"github.com/JakeFAU/storefinder/internal/config"
	"github.com/JakeFAU/storefinder/internal/crawler"
	"github.com/JakeFAU/storefinder/internal/dispatcher"
	"github.com/JakeFAU/storefinder/internal/extract"
	collyfetcher "github.com/JakeFAU/storefinder/internal/fetcher/colly"
	"github.com/JakeFAU/storefinder/internal/id/uuid"
	"github.com/JakeFAU/storefinder/internal/policy/ratelimit"
	"github.com/JakeFAU/storefinder/internal/progress"
	progresssinks "github.com/JakeFAU/storefinder/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/storefinder/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/storefinder/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/storefinder/internal/queue/memory"
	"github.com/JakeFAU/storefinder/internal/report"
	"github.com/JakeFAU/storefinder/internal/search"
	gcsstorage "github.com/JakeFAU/storefinder/internal/storage/gcs"
	localstorage "github.com/JakeFAU/storefinder/internal/storage/local"
	memorystorage "github.com/JakeFAU/storefinder/internal/storage/memory"
	pgstore "github.com/JakeFAU/storefinder/internal/storage/postgres"
	"github.com/JakeFAU/storefinder/internal/storage/redisstore"
	"github.com/JakeFAU/storefinder/internal/store"
	"github.com/JakeFAU/storefinder/internal/worker"
)

const (
	defaultPollInterval = time.Second
	readHeaderTimeout   = 5 * time.Second
)

// Overrides replaces collaborators that Build would otherwise construct.
// Zero fields keep the configured behavior.
type Overrides struct {
	Fetcher      crawler.Fetcher
	Sessions     crawler.SessionStore
	Clock        crawler.Clock
	Registerer   prometheus.Registerer
	Redis        redis.UniversalClient
	PollInterval time.Duration
}

// App contains the application's dependencies.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	clock        crawler.Clock
	pollInterval time.Duration

	sessions  crawler.SessionStore
	blobs     crawler.BlobStore
	publisher crawler.Publisher
	registry  *search.Registry
	manager   *search.Manager
	queue     *queuememory.Queue
	dispatch  *dispatcher.Dispatcher
	reaper    *search.Reaper
	hub       *progress.Hub
	apiServer *api.Server

	redisClient     *redis.Client
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	storageClient   *storage.Client
	runStore        *pgstore.RunStore

	closeOnce sync.Once
}

// Build creates the application's dependencies. On error every resource
// opened so far is released.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, ov Overrides) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{
		cfg:          cfg,
		logger:       logger,
		clock:        ov.Clock,
		pollInterval: ov.PollInterval,
	}
	if app.clock == nil {
		app.clock = system.New()
	}
	if app.pollInterval <= 0 {
		app.pollInterval = defaultPollInterval
	}
	defer func() {
		if err != nil {
			_ = app.closeInfrastructure(context.WithoutCancel(ctx))
		}
	}()

	logger.Info("building application dependencies",
		zap.String("session_backend", cfg.Session.Backend),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Int("concurrency", cfg.Crawler.Concurrency),
	)

	if err = app.setupSessions(ov.Sessions, ov.Redis); err != nil {
		return nil, err
	}
	if err = app.setupStorage(ctx); err != nil {
		return nil, err
	}
	if err = app.setupDatabase(ctx); err != nil {
		return nil, err
	}
	if err = app.setupPublisher(ctx); err != nil {
		return nil, err
	}
	if err = app.setupProgress(ov.Registerer); err != nil {
		return nil, err
	}
	if err = app.setupSearch(ov.Fetcher); err != nil {
		return nil, err
	}
	app.setupAPI()
	return app, nil
}

func (a *App) setupSessions(sessions crawler.SessionStore, client redis.UniversalClient) error {
	if sessions != nil {
		a.sessions = sessions
		return nil
	}
	switch a.cfg.Session.Backend {
	case config.BackendRedis:
		if client == nil {
			rc, err := redisstore.NewClient(redisstore.ClientConfig{
				Address:  a.cfg.Redis.Address,
				Password: a.cfg.Redis.Password,
				DB:       a.cfg.Redis.DB,
			})
			if err != nil {
				return fmt.Errorf("redis client init failed: %w", err)
			}
			a.redisClient = rc
			client = rc
		}
		sessions, err := redisstore.NewSessionStore(client, redisstore.Options{
			TTL:    a.cfg.Session.TTL,
			Logger: a.logger,
		})
		if err != nil {
			return fmt.Errorf("redis session store init failed: %w", err)
		}
		a.sessions = sessions
		a.logger.Info("using redis session store", zap.String("address", a.cfg.Redis.Address))
	default:
		a.sessions = memorystorage.NewSessionStore(a.clock)
		a.logger.Info("using in-memory session store")
	}
	return nil
}

func (a *App) setupStorage(ctx context.Context) error {
	switch a.cfg.Storage.Backend {
	case config.BackendGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storageClient = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.blobs = blobs
		a.logger.Info("using GCS report storage", zap.String("bucket", a.cfg.Storage.GCSBucket))
	case config.BackendLocal:
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		a.blobs = blobs
		a.logger.Info("using local report storage", zap.String("path", a.cfg.Storage.LocalDir))
	case config.BackendMemory:
		a.blobs = memorystorage.NewBlobStore()
		a.logger.Info("using in-memory report storage")
	default:
		a.logger.Info("report storage disabled")
	}
	return nil
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("no DSN specified for database, skipping run ledger")
		return nil
	}
	runStore, err := pgstore.NewRunStore(ctx, pgstore.RunStoreConfig{
		DSN:             a.cfg.DB.DSN,
		Table:           a.cfg.DB.Table,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("run store init failed: %w", err)
	}
	a.runStore = runStore
	if a.cfg.DB.EnsureSchema {
		if err := runStore.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("run store schema: %w", err)
		}
	}
	a.logger.Info("run ledger initialized", zap.String("table", a.cfg.DB.Table))
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.cfg.PubSub.TopicName == "" {
		a.logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		a.publisher = memorypublisher.New()
		return nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.pubsubPublisher = gcppublisher.New(client)
	a.publisher = a.pubsubPublisher
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return nil
}

func (a *App) setupProgress(reg prometheus.Registerer) error {
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("progress prometheus sink: %w", err)
	}
	sinkList := []progress.Sink{
		progresssinks.NewLogSink(a.logger.Named("progress_log")),
		promSink,
	}
	if a.runStore != nil {
		sinkList = append(sinkList, progresssinks.NewStoreSink(a.runStore, a.logger.Named("progress_store")))
	}
	hubCfg := progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   a.cfg.Progress.MaxBatchWait,
		SinkTimeout:    a.cfg.Progress.SinkTimeout,
		Logger:         a.logger.Named("progress_hub"),
	}
	a.hub = progress.NewHub(hubCfg, sinkList...)
	a.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return nil
}

func (a *App) setupSearch(fetcher crawler.Fetcher) error {
	if fetcher == nil {
		limiter := ratelimit.New(ratelimit.Config{
			DefaultRPS:   a.cfg.HTTP.RatePerSecond,
			DefaultBurst: a.cfg.HTTP.Burst,
			Cooldown:     a.cfg.HTTP.Cooldown,
		})
		fetcher = collyfetcher.New(collyfetcher.Config{
			BaseURL:        a.cfg.Source.BaseURL,
			SPM:            a.cfg.Source.SPM,
			UserAgent:      a.cfg.HTTP.UserAgent,
			Headers:        a.cfg.Source.Headers,
			Cookies:        a.cfg.Source.Cookies,
			ConnectTimeout: a.cfg.HTTP.ConnectTimeout,
			ReadTimeout:    a.cfg.HTTP.ReadTimeout,
		}, nil, limiter, a.logger.Named("fetcher"))
	}
	extractor := extract.New(extract.Options{
		ScriptMarker:  a.cfg.Source.ScriptMarker,
		JSONOpener:    a.cfg.Source.JSONOpener,
		DataVariable:  a.cfg.Source.DataVariable,
		LinkTemplate:  a.cfg.Source.LinkTemplate,
		ScriptTimeout: a.cfg.Source.ScriptTimeout,
		Logger:        a.logger.Named("extract"),
	})

	terms, err := crawler.NewTermCrawler(crawler.TermCrawlerOptions{
		Fetcher:   fetcher,
		Extractor: extractor,
		Sessions:  a.sessions,
		Config:    a.cfg.CrawlConfig(),
		Clock:     a.clock,
		Emitter:   a.hub,
		Logger:    a.logger.Named("term"),
	})
	if err != nil {
		return fmt.Errorf("term crawler init failed: %w", err)
	}
	var reporter crawler.Reporter
	if a.blobs != nil {
		writer, err := report.NewWriter(a.blobs, a.cfg.Storage.Prefix, a.logger)
		if err != nil {
			return fmt.Errorf("report writer init failed: %w", err)
		}
		reporter = writer
	}
	orchestrator, err := crawler.NewOrchestrator(crawler.OrchestratorOptions{
		Terms:    terms,
		Sessions: a.sessions,
		Reporter: reporter,
		Clock:    a.clock,
		Emitter:  a.hub,
		Logger:   a.logger.Named("orchestrator"),
		MaxPause: a.cfg.Crawler.MaxPause,
	})
	if err != nil {
		return fmt.Errorf("orchestrator init failed: %w", err)
	}

	a.queue = queuememory.NewQueue(a.cfg.Crawler.QueueDepth)
	a.registry = search.NewRegistry(a.cfg.Crawler.MaxActivePerOwner)
	workerCfg := worker.Config{
		Topic:        a.cfg.PubSub.TopicName,
		StoppedGrace: a.cfg.Session.StoppedGrace,
	}
	workers := make([]*worker.Worker, 0, a.cfg.Crawler.Concurrency)
	for i := 0; i < a.cfg.Crawler.Concurrency; i++ {
		workers = append(workers, worker.New(worker.Deps{
			Queue:     a.queue,
			Runner:    orchestrator,
			Sessions:  a.sessions,
			Tracker:   a.registry,
			Publisher: a.publisher,
			Emitter:   a.hub,
			Clock:     a.clock,
			Logger:    a.logger.Named("worker").With(zap.Int("index", i)),
		}, workerCfg))
	}
	a.dispatch = dispatcher.New(a.queue, workers)

	a.manager, err = search.NewManager(search.Options{
		Sessions: a.sessions,
		Registry: a.registry,
		Queue:    a.dispatch,
		IDs:      uuid.New(),
		Clock:    a.clock,
		Logger:   a.logger,
		Config:   search.Config{DrainGrace: a.cfg.Session.DrainGrace},
	})
	if err != nil {
		return fmt.Errorf("search manager init failed: %w", err)
	}

	if a.cfg.Reaper.Enabled {
		a.reaper, err = search.NewReaper(a.sessions, a.clock, a.logger, search.ReaperConfig{
			Schedule:    a.cfg.Reaper.Schedule,
			FinishedTTL: a.cfg.Session.FinishedTTL,
		})
		if err != nil {
			return fmt.Errorf("reaper init failed: %w", err)
		}
	}
	return nil
}

func (a *App) setupAPI() {
	var runs store.RunReader
	if a.runStore != nil {
		runs = a.runStore
	}
	a.apiServer = api.NewServer(api.Options{
		Searches:       a.manager,
		Runs:           runs,
		Logger:         a.logger.Named("api"),
		AuthEnabled:    a.cfg.Auth.Enabled,
		APIKey:         a.cfg.Auth.APIKey,
		RequestTimeout: a.cfg.Server.RequestTimeout,
	})
}

// Handler exposes the HTTP API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves the API and drains the search queue until ctx ends or a signal
// arrives, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("dispatcher started", zap.Int("workers", a.dispatch.Size()))
		a.dispatch.Run(gctx)
		return nil
	})
	g.Go(func() error {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if a.reaper != nil {
		a.reaper.Start()
		a.logger.Info("session reaper started", zap.String("schedule", a.cfg.Reaper.Schedule))
	}
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
		a.registry.CancelAll()
		a.queue.Close()
		return nil
	})

	runErr := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.Close(closeCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Search runs one crawl in-process, writing progress messages to messages as
// they arrive, and returns the final result. A search the worker closed as
// failed returns crawler.ErrSearchFailed. Canceling ctx force-stops the crawl.
func (a *App) Search(
	ctx context.Context,
	owner string,
	groups []crawler.QueryGroup,
	messages io.Writer,
) (crawler.ResultSet, error) {
	runCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.dispatch.Run(runCtx)
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	ref, err := a.manager.Start(ctx, owner, groups)
	if err != nil {
		return nil, err
	}
	a.logger.Info("search queued", zap.String("search_id", ref.ID))

	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()
	failed := false
	for {
		snap, err := a.manager.Poll(context.WithoutCancel(ctx), ref)
		if err != nil {
			return nil, err
		}
		for _, msg := range snap.Messages {
			if _, err := fmt.Fprintln(messages, msg); err != nil {
				return nil, fmt.Errorf("write progress: %w", err)
			}
			failed = failed || crawler.IsFailureMessage(msg)
		}
		if snap.Finished {
			if failed {
				return nil, crawler.ErrSearchFailed
			}
			return snap.Result, nil
		}
		select {
		case <-ctx.Done():
			stopCtx, stopCancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
			if stopErr := a.manager.Stop(stopCtx, ref, true); stopErr != nil {
				a.logger.Warn("stop search failed", zap.Error(stopErr))
			}
			stopCancel()
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close gracefully shuts down the application. Later calls are no-ops.
func (a *App) Close(ctx context.Context) error {
	var err error
	a.closeOnce.Do(func() {
		if a.reaper != nil {
			if stopErr := a.reaper.Stop(ctx); stopErr != nil {
				a.logger.Warn("reaper stop failed", zap.Error(stopErr))
			}
		}
		if a.registry != nil {
			a.registry.CancelAll()
		}
		if a.queue != nil {
			a.queue.Close()
		}
		err = a.closeInfrastructure(ctx)
		if syncErr := a.logger.Sync(); syncErr != nil {
			a.logger.Debug("logger sync failed", zap.Error(syncErr))
		}
		a.logger.Info("shutdown complete")
	})
	return err
}

//nolint:gocognit // linear teardown of optional resources
func (a *App) closeInfrastructure(ctx context.Context) error {
	var errs []error
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("pubsub client close: %w", err))
		}
	}
	if a.storageClient != nil {
		if err := a.storageClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("gcs client close: %w", err))
		}
	}
	if a.runStore != nil {
		a.runStore.Close()
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis client close: %w", err))
		}
	}
	for _, err := range errs {
		a.logger.Warn("resource close failed", zap.Error(err))
	}
	return errors.Join(errs...)
}
