package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/vietddude/streamcollector/internal/core/config"
	"github.com/vietddude/streamcollector/internal/core/domain"
	"github.com/vietddude/streamcollector/internal/core/worker"
	"github.com/vietddude/streamcollector/internal/infra/terms"
	"github.com/vietddude/streamcollector/internal/ingest/backoff"
	"github.com/vietddude/streamcollector/internal/ingest/health"
	"github.com/vietddude/streamcollector/internal/ingest/sink"
	"github.com/vietddude/streamcollector/internal/ingest/stream"
)

// App is the collector process: one supervisor plus its supporting services.
type App struct {
	cfg          *config.AppConfig
	backend      *Backend
	sink         *sink.Sink
	supervisor   *Supervisor
	healthServer *health.Server
	pruner       *worker.Pruner
	log          *slog.Logger
}

// NewApp creates the collector with all dependencies initialized.
func NewApp(ctx context.Context, cfg *config.AppConfig) (*App, error) {
	// 1. Initialize Control Store
	backend, err := OpenBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// 2. Initialize Output Sink
	out, err := sink.New(sink.Bucketer{
		Dir:    cfg.Output.Dir,
		Layout: cfg.OutputLayout(),
		Label:  cfg.Collector.Name,
		Suffix: cfg.Output.Suffix,
	}, cfg.Output.Fsync)
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("failed to init output: %w", err)
	}

	// 3. Initialize Term Source
	collection := domain.CollectionType(cfg.Collector.Type)
	var source terms.Source = terms.FileSource{Path: cfg.Collector.TermsFile}
	if collection == domain.CollectionFollow {
		source = terms.NewFollowSource(source, backend.Store, cfg.Collector.FlagsKey)
	}

	// 4. Initialize Supervisor
	settings := StreamSettings(cfg.Stream)
	factory := func(spec WorkerSpec) Worker {
		return stream.NewClient(stream.Config{
			ID:         spec.ID,
			Name:       spec.Name,
			Collection: collection,
			Terms:      spec.Terms,
			FlagsKey:   cfg.Collector.FlagsKey,
			Sink:       out,
			Store:      backend.Store,
			Token:      spec.Token,
			Settings:   settings,
		})
	}
	sup := NewSupervisor(SupervisorConfig{
		Collection:      collection,
		FlagsKey:        cfg.Collector.FlagsKey,
		PollInterval:    cfg.Collector.PollInterval,
		PollBackoffStep: cfg.Collector.PollBackoffStep,
		PollBackoffCap:  cfg.Collector.PollBackoffCap,
	}, backend.Store, source, factory)

	// 5. Initialize Health and Retention
	monitor := health.NewMonitor(sup, backend.Pinger)
	healthServer := health.NewServer(monitor, cfg.Server.Port, cfg.Server.GRPCPort)
	pruner := worker.NewPruner(cfg.Output.Retention, out)

	return &App{
		cfg:          cfg,
		backend:      backend,
		sink:         out,
		supervisor:   sup,
		healthServer: healthServer,
		pruner:       pruner,
		log:          slog.Default().With("component", "app"),
	}, nil
}

// StreamSettings maps the stream section onto client settings.
func StreamSettings(c config.StreamConfig) stream.Settings {
	return stream.Settings{
		URL:            c.URL,
		Headers:        c.Headers,
		Params:         c.Params,
		ReadTimeout:    c.ReadTimeout,
		ConnectTimeout: c.ConnectTimeout,
		BufferSize:     c.BufferSize,
		MaxFrameBytes:  c.MaxFrameBytes,
		Backoff: backoff.Config{
			RetryTimeStart: c.RetryTimeStart,
			Retry420Start:  c.Retry420Start,
			RetryTimeCap:   c.RetryTimeCap,
			SnoozeTimeStep: c.SnoozeTimeStep,
			SnoozeTimeCap:  c.SnoozeTimeCap,
			RetryCount:     c.RetryLimit(),
		},
	}
}

// Backend returns the opened control store.
func (a *App) Backend() *Backend {
	return a.backend
}

// Run starts the supporting services and blocks until the supervisor exits,
// either because run was cleared or because ctx was cancelled.
func (a *App) Run(ctx context.Context) error {
	svcCtx, stopServices := context.WithCancel(ctx)
	defer stopServices()

	// Start Health Server
	go func() {
		if err := a.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("Health server failed", "error", err)
		}
	}()
	a.healthServer.StartStatusSync(svcCtx, 5*time.Second)

	// Start DB Metrics Collector
	a.backend.StartMetricsCollector(svcCtx)

	// Start Pruner
	go a.pruner.Start(svcCtx)

	err := a.supervisor.Run(ctx)
	stopServices()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if stopErr := a.Stop(shutdownCtx); stopErr != nil {
		a.log.Warn("Error during shutdown", "error", stopErr)
	}
	return err
}

// Stop stops the health server and releases the output file and the
// control store.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping collector...")

	if err := a.sink.Close(); err != nil {
		a.log.Warn("Failed to close output file", "error", err)
	}

	// Close Control Store
	if err := a.backend.Close(); err != nil {
		a.log.Warn("Failed to close control store", "error", err)
	}

	// Stop Health Server
	return a.healthServer.Stop(ctx)
}
