// Package app builds the courier service from its configuration and runs the
// HTTP API, the dispatcher, the watchdog and the optional NATS listener until
// shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/lms-courier/internal/api"
	"github.com/JakeFAU/lms-courier/internal/clock/system"
	"github.com/JakeFAU/lms-courier/internal/config"
	"github.com/JakeFAU/lms-courier/internal/delivery"
	"github.com/JakeFAU/lms-courier/internal/dispatcher"
	"github.com/JakeFAU/lms-courier/internal/hash/sha256"
	"github.com/JakeFAU/lms-courier/internal/id/uuid"
	"github.com/JakeFAU/lms-courier/internal/intake"
	"github.com/JakeFAU/lms-courier/internal/messages"
	"github.com/JakeFAU/lms-courier/internal/messenger"
	memorymessenger "github.com/JakeFAU/lms-courier/internal/messenger/memory"
	"github.com/JakeFAU/lms-courier/internal/natsbus"
	"github.com/JakeFAU/lms-courier/internal/progress"
	progresssinks "github.com/JakeFAU/lms-courier/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/lms-courier/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/lms-courier/internal/queue/memory"
	"github.com/JakeFAU/lms-courier/internal/registry"
	"github.com/JakeFAU/lms-courier/internal/relay"
	gcsstorage "github.com/JakeFAU/lms-courier/internal/storage/gcs"
	localstorage "github.com/JakeFAU/lms-courier/internal/storage/local"
	memorystorage "github.com/JakeFAU/lms-courier/internal/storage/memory"
	s3storage "github.com/JakeFAU/lms-courier/internal/storage/s3"
	"github.com/JakeFAU/lms-courier/internal/supervisor"
	"github.com/JakeFAU/lms-courier/internal/watchdog"
	"github.com/JakeFAU/lms-courier/internal/worker"
)

const (
	serverShutdownTimeout = 10 * time.Second
	jobsDrainTimeout      = 2 * time.Minute
)

// Options override collaborators that Build would otherwise create from the
// configuration.
type Options struct {
	Launcher   supervisor.Launcher
	Messenger  messenger.Messenger
	Registerer prometheus.Registerer
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	ready  atomic.Bool

	registry    *registry.Registry
	progressHub *progress.Hub
	queue       *queueMemory.Queue[intake.Event]
	supervisor  *supervisor.Supervisor
	watchdog    *watchdog.Watchdog
	dispatch    *dispatcher.Dispatcher
	apiServer   *api.Server

	natsClient   *natsbus.Client
	inbound      *nats.Subscription
	pubsub       *gcppublisher.Publisher
	gcsStore     *gcsstorage.BlobStore
	drainTimeout time.Duration
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger, drainTimeout: jobsDrainTimeout}
	app.logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("messenger", cfg.Messenger.Backend),
		zap.Duration("job_deadline", cfg.Jobs.Deadline),
	)
	ok := false
	defer func() {
		if !ok {
			app.closeInfrastructure(context.WithoutCancel(ctx))
		}
	}()

	catalog, err := setupCatalog(app)
	if err != nil {
		return nil, err
	}
	if cfg.NATS.URL != "" {
		app.natsClient, err = natsbus.Connect(cfg.NATS.URL, cfg.NATS.Name, logger)
		if err != nil {
			return nil, fmt.Errorf("nats init failed: %w", err)
		}
		app.logger.Info("connected to NATS", zap.String("url", cfg.NATS.URL))
	}
	msgr := opts.Messenger
	if msgr == nil {
		msgr, err = setupMessenger(ctx, app)
		if err != nil {
			return nil, err
		}
	}
	msgr = messenger.NewThrottle(msgr, cfg.Messenger.EditRPS, cfg.Messenger.EditBurst)

	if err := setupProgress(ctx, app, opts.Registerer); err != nil {
		return nil, err
	}

	launcher := opts.Launcher
	if launcher == nil {
		l, err := worker.NewLauncher(worker.Config{LogLevel: cfg.Logging.WorkerLevel}, logger)
		if err != nil {
			return nil, fmt.Errorf("worker launcher init failed: %w", err)
		}
		launcher = supervisor.ProcessLauncher(l)
	}

	clock := system.New()
	app.registry = registry.New()
	app.supervisor, err = supervisor.New(ctx, supervisor.Config{
		Deadline:   cfg.Jobs.Deadline,
		ResultWait: cfg.Jobs.ResultWait,
		ReapWait:   cfg.Jobs.ReapWait,
		TempDir:    cfg.Jobs.TempDir,
		Options:    cfg.TaskOptions(),
		Relay: relay.Config{
			LogCap:        cfg.Relay.LogCap,
			FlushInterval: cfg.Relay.FlushInterval,
			SettleDelay:   cfg.Relay.SettleDelay,
			CallTimeout:   cfg.Relay.CallTimeout,
		},
	}, supervisor.Deps{
		Launcher:  launcher,
		Registry:  app.registry,
		Messenger: msgr,
		Catalog:   catalog,
		Deliverer: delivery.New(delivery.Config{
			MaxAttempts:    cfg.Delivery.MaxAttempts,
			Backoff:        cfg.Delivery.Backoff,
			AttemptTimeout: cfg.Delivery.Timeout,
		}, msgr, app.progressHub, logger),
		Emitter: app.progressHub,
		IDs:     uuid.New(),
		Clock:   clock,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("supervisor init failed: %w", err)
	}
	app.watchdog = watchdog.New(watchdog.Config{
		PollInterval:   cfg.Jobs.PollInterval,
		Grace:          cfg.Jobs.Grace,
		ShutdownWindow: cfg.Jobs.ShutdownWindow,
	}, app.registry, clock, app.progressHub, logger)

	parser, err := intake.NewParser(cfg.Intake.LinkPattern)
	if err != nil {
		return nil, fmt.Errorf("intake parser init failed: %w", err)
	}
	app.queue = queueMemory.NewQueue[intake.Event](cfg.Intake.QueueDepth)
	app.dispatch = dispatcher.New(app.queue, parser, app.supervisor, msgr, catalog, clock, logger)

	if app.natsClient != nil {
		app.inbound, err = intake.Listen(app.natsClient, cfg.NATS.InboundSubject(), app.dispatch, logger)
		if err != nil {
			return nil, err
		}
	}

	apiKey := ""
	if cfg.Auth.Enabled {
		apiKey = cfg.Auth.APIKey
	}
	app.apiServer = api.NewServer(app.dispatch, app.supervisor, api.Config{
		APIKey:         apiKey,
		RequestTimeout: cfg.Server.RequestTimeout,
		Ready:          app.readyCheck,
	}, logger)

	ok = true
	return app, nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the application and blocks until ctx is canceled or a component
// fails. Cancellation starts the shutdown cascade: intake stops, running jobs
// are asked to cancel and are killed once the shutdown window has passed.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		a.logger.Info("dispatcher started")
		return a.dispatch.Run(gctx)
	})
	// The cascade starts only once the supervisor refuses new jobs.
	watchCtx, stopWatchdog := context.WithCancel(context.WithoutCancel(gctx))
	defer stopWatchdog()
	g.Go(func() error {
		a.logger.Info("watchdog started", zap.Duration("grace", a.cfg.Jobs.Grace))
		return a.watchdog.Run(watchCtx)
	})
	g.Go(func() error {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		a.ready.Store(false)
		a.supervisor.Close()
		stopWatchdog()
		a.unsubscribe()
		a.queue.Close()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), serverShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
		return nil
	})

	a.ready.Store(true)
	runErr := g.Wait()

	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.drainTimeout)
	defer cancel()
	return errors.Join(runErr, a.Close(drainCtx))
}

// Close waits for supervised jobs to report and releases infrastructure.
func (a *App) Close(ctx context.Context) error {
	a.supervisor.Close()
	a.unsubscribe()
	var err error
	if waitErr := a.supervisor.Wait(ctx); waitErr != nil {
		err = fmt.Errorf("jobs still running at shutdown: %w", waitErr)
		a.logger.Warn("jobs did not finish in time", zap.Int("running", a.registry.Len()), zap.Error(waitErr))
	}
	a.closeInfrastructure(ctx)
	if syncErr := a.logger.Sync(); syncErr != nil {
		a.logger.Debug("logger sync failed", zap.Error(syncErr))
	}
	a.logger.Info("shutdown complete")
	return err
}

func (a *App) readyCheck() error {
	if !a.ready.Load() {
		return errors.New("not serving")
	}
	return nil
}

func (a *App) unsubscribe() {
	if a.inbound == nil {
		return
	}
	if err := a.inbound.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrBadSubscription) {
		a.logger.Warn("nats unsubscribe failed", zap.Error(err))
	}
	a.inbound = nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.natsClient != nil {
		a.natsClient.Close()
	}
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsStore != nil {
		if err := a.gcsStore.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
}

func setupCatalog(app *App) (*messages.Catalog, error) {
	if app.cfg.Messages.File == "" {
		return messages.Default(), nil
	}
	catalog, err := messages.Load(app.cfg.Messages.File)
	if err != nil {
		return nil, fmt.Errorf("message catalog init failed: %w", err)
	}
	app.logger.Info("loaded message catalog", zap.String("file", app.cfg.Messages.File))
	return catalog, nil
}

func setupMessenger(ctx context.Context, app *App) (messenger.Messenger, error) {
	cfg := app.cfg
	var (
		publisher messenger.Publisher
		prefix    string
	)
	switch cfg.Messenger.Backend {
	case config.BackendNATS:
		if app.natsClient == nil {
			return nil, errors.New("messenger backend is nats but nats.url is not set")
		}
		publisher = app.natsClient
		prefix = cfg.NATS.OutboundPrefix()
		app.logger.Info("using NATS messenger", zap.String("subject_prefix", prefix))
	case config.BackendPubSub:
		p, err := gcppublisher.New(ctx, cfg.PubSub.ProjectID, cfg.PubSub.Topic)
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		app.pubsub = p
		publisher = p
		prefix = "courier.outbound"
		app.logger.Info("using Pub/Sub messenger",
			zap.String("project", cfg.PubSub.ProjectID),
			zap.String("topic", cfg.PubSub.Topic),
		)
	default:
		app.logger.Info("using in-memory messenger")
		return memorymessenger.New(app.logger), nil
	}

	blobs, err := setupStorage(ctx, app)
	if err != nil {
		return nil, err
	}
	outbox, err := messenger.NewOutbox(messenger.OutboxConfig{
		TopicPrefix:  prefix,
		ObjectPrefix: cfg.Storage.ObjectPrefix,
	}, publisher, blobs, sha256.New(), uuid.New(), app.logger.Named("outbox"))
	if err != nil {
		return nil, fmt.Errorf("outbox init failed: %w", err)
	}
	return outbox, nil
}

func setupStorage(ctx context.Context, app *App) (messenger.BlobStore, error) {
	cfg := app.cfg.Storage
	switch cfg.Backend {
	case config.StorageGCS:
		store, err := gcsstorage.Open(ctx, cfg.GCS)
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.gcsStore = store
		app.logger.Info("using GCS storage backend", zap.String("bucket", cfg.GCS.Bucket))
		return store, nil
	case config.StorageS3:
		store, err := s3storage.Open(ctx, cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("s3 blob store init failed: %w", err)
		}
		app.logger.Info("using S3 storage backend", zap.String("bucket", cfg.S3.Bucket))
		return store, nil
	case config.StorageMemory:
		app.logger.Warn("using in-memory storage backend, staged files are lost on restart")
		return memorystorage.NewBlobStore(), nil
	default:
		store, err := localstorage.New(cfg.Local)
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Info("using local storage backend", zap.String("path", cfg.Local.BaseDir))
		return store, nil
	}
}

func setupProgress(ctx context.Context, app *App, reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("prometheus sink init failed: %w", err)
	}
	app.progressHub = progress.NewHub(progress.Config{
		BaseContext: context.WithoutCancel(ctx),
		Logger:      app.logger.Named("progress_hub"),
	}, progresssinks.NewLogSink(app.logger.Named("progress_log")), promSink)
	return nil
}
