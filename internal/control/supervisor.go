package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/streamcollector/internal/core/cancel"
	"github.com/vietddude/streamcollector/internal/core/domain"
	"github.com/vietddude/streamcollector/internal/infra/storage"
	"github.com/vietddude/streamcollector/internal/infra/terms"
	"github.com/vietddude/streamcollector/internal/ingest/health"
	"github.com/vietddude/streamcollector/internal/ingest/metrics"
	"github.com/vietddude/streamcollector/internal/ingest/stream"
)

// ErrAlreadyRunning is returned when Run is called twice.
var ErrAlreadyRunning = errors.New("supervisor already running")

// Worker is a single stream consumer. *stream.Client implements it.
type Worker interface {
	ID() string
	Name() string
	State() stream.State
	MessageCount() uint64
	Run(ctx context.Context) (domain.WorkerStats, error)
}

// WorkerSpec describes the worker the factory should build.
type WorkerSpec struct {
	ID    string
	Name  string
	Terms []string
	Token *cancel.Token
}

// WorkerFactory builds a worker that observes spec.Token.
type WorkerFactory func(spec WorkerSpec) Worker

// SupervisorConfig holds the polling schedule.
type SupervisorConfig struct {
	Collection      domain.CollectionType
	FlagsKey        string
	PollInterval    time.Duration // time between flag reads (default: 2s)
	PollBackoffStep time.Duration // extra delay per failed read (default: 2s)
	PollBackoffCap  time.Duration // cap on the extra delay (default: 60s)
}

// DefaultSupervisorConfig returns the default polling schedule.
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		Collection:      domain.CollectionTrack,
		PollInterval:    2 * time.Second,
		PollBackoffStep: 2 * time.Second,
		PollBackoffCap:  60 * time.Second,
	}
}

// workerHandle is the supervisor's handle on a running Worker. done is closed
// after stats and err are set, so reading them after <-done is safe.
type workerHandle struct {
	w      Worker
	token  *cancel.Token
	done   chan struct{}
	stats  domain.WorkerStats
	err    error
	reaped bool
}

// Supervisor polls the control store and owns at most one worker.
type Supervisor struct {
	cfg     SupervisorConfig
	store   storage.ControlStore
	terms   terms.Source
	factory WorkerFactory
	log     *slog.Logger

	running atomic.Bool

	mu             sync.Mutex
	active         *workerHandle
	starts         int
	rateLimitTotal uint64
	lastStats      domain.WorkerStats
	storeFailures  int

	// Injected for tests
	sleep func(ctx context.Context, d time.Duration) bool
}

// NewSupervisor creates a supervisor. Zero durations take their defaults.
func NewSupervisor(
	cfg SupervisorConfig,
	store storage.ControlStore,
	source terms.Source,
	factory WorkerFactory,
) *Supervisor {
	def := DefaultSupervisorConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.PollBackoffStep <= 0 {
		cfg.PollBackoffStep = def.PollBackoffStep
	}
	if cfg.PollBackoffCap <= 0 {
		cfg.PollBackoffCap = def.PollBackoffCap
	}
	if cfg.Collection == "" {
		cfg.Collection = def.Collection
	}
	if cfg.FlagsKey == "" {
		cfg.FlagsKey = cfg.Collection.FlagsKey()
	}

	return &Supervisor{
		cfg:     cfg,
		store:   store,
		terms:   source,
		factory: factory,
		log:     slog.Default().With("component", "supervisor", "key", cfg.FlagsKey),
		sleep:   sleepContext,
	}
}

// Run polls until the run flag is cleared or ctx is cancelled. The active
// worker is always stopped and reported before Run returns.
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.running.Store(false)

	s.log.Info("Starting supervisor", "collection", s.cfg.Collection, "interval", s.cfg.PollInterval)

	var (
		extra       time.Duration
		initialized bool
	)
	for {
		if ctx.Err() != nil {
			s.shutdown(ctx, "signal")
			return nil
		}

		s.reap(ctx)

		flags, err := s.store.Get(ctx, s.cfg.FlagsKey)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			extra = min(extra+s.cfg.PollBackoffStep, s.cfg.PollBackoffCap)
			s.storeFailed()
			metrics.ControlStoreErrorsTotal.WithLabelValues("get").Inc()
			s.log.Warn("Failed to read control flags",
				"error", err,
				"retry_in", s.cfg.PollInterval+extra,
			)
		} else {
			extra = 0
			s.storeRecovered()

			if !initialized {
				initialized = true
				if !flags.Run {
					s.log.Info("Run flag is off, exiting")
					return nil
				}
				s.resetReporting(ctx)
			}

			if exit := s.apply(ctx, flags); exit {
				return nil
			}
		}

		if !s.sleep(ctx, s.cfg.PollInterval+extra) {
			s.shutdown(ctx, "signal")
			return nil
		}
	}
}

// apply acts on one flag read. It returns true when the process should exit.
func (s *Supervisor) apply(ctx context.Context, flags domain.ControlFlags) bool {
	if s.hasWorker() && (flags.Update || !flags.Collect || !flags.Run) {
		reason := "collect cleared"
		switch {
		case !flags.Run:
			reason = "run cleared"
		case flags.Update:
			reason = "update requested"
		}
		s.stopWorker(ctx, reason)

		if flags.Update {
			s.set(ctx, domain.FieldUpdate, domain.FormatFlag(false))
		}
	} else if !s.hasWorker() && flags.Collect && flags.Run {
		s.startWorker(ctx)
	}

	if !flags.Run {
		s.set(ctx, domain.FieldCollect, domain.FormatFlag(false))
		s.set(ctx, domain.FieldUpdate, domain.FormatFlag(false))
		s.log.Info("Run flag cleared, shutting down")
		return true
	}
	return false
}

// resetReporting clears the counters left by a previous process.
func (s *Supervisor) resetReporting(ctx context.Context) {
	s.set(ctx, domain.FieldErrorCode, "0")
	s.set(ctx, domain.FieldRateLimitTotal, "0")
	if err := s.store.ClearList(ctx, s.cfg.FlagsKey, domain.FieldRateLimitCounts); err != nil {
		s.log.Warn("Failed to clear rate limit history", "error", err)
		metrics.ControlStoreErrorsTotal.WithLabelValues("clear").Inc()
	}
}

func (s *Supervisor) hasWorker() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// startWorker launches a worker. A second call while one is active is a no-op.
func (s *Supervisor) startWorker(ctx context.Context) {
	list, err := s.terms.Terms(ctx)
	if err != nil {
		s.log.Error("Failed to load terms", "error", err)
		return
	}
	if len(list) == 0 {
		s.log.Warn("No terms to collect, not starting worker")
		return
	}

	s.mu.Lock()
	if s.active != nil {
		s.mu.Unlock()
		return
	}
	s.starts++
	spec := WorkerSpec{
		ID:    uuid.NewString(),
		Name:  fmt.Sprintf("collector-%s-%d", s.cfg.Collection, s.starts),
		Terms: list,
		Token: cancel.New(),
	}
	h := &workerHandle{
		w:     s.factory(spec),
		token: spec.Token,
		done:  make(chan struct{}),
	}
	s.active = h
	s.mu.Unlock()

	go func() {
		defer close(h.done)
		h.stats, h.err = h.w.Run(ctx)
	}()

	metrics.WorkerStartsTotal.WithLabelValues(string(s.cfg.Collection)).Inc()
	s.log.Info("Started worker", "worker", spec.Name, "worker_id", spec.ID, "terms", len(list))
	s.set(ctx, domain.FieldWorkerID, spec.ID)
	s.set(ctx, domain.FieldWorkerState, "running")
}

// stopWorker cancels the active worker and blocks until it has exited.
func (s *Supervisor) stopWorker(ctx context.Context, reason string) {
	s.mu.Lock()
	h := s.active
	s.mu.Unlock()
	if h == nil {
		return
	}

	s.log.Info("Stopping worker", "worker", h.w.Name(), "reason", reason)
	h.token.Cancel()
	<-h.done

	s.finish(ctx, h)
}

// reap collects a worker that stopped on its own.
func (s *Supervisor) reap(ctx context.Context) {
	s.mu.Lock()
	h := s.active
	s.mu.Unlock()
	if h == nil {
		return
	}

	select {
	case <-h.done:
	default:
		return
	}

	s.log.Warn("Worker stopped on its own",
		"worker", h.w.Name(),
		"outcome", h.stats.Outcome,
		"error", h.err,
	)
	s.finish(ctx, h)
}

// shutdown stops the active worker on process exit.
func (s *Supervisor) shutdown(ctx context.Context, reason string) {
	s.reap(ctx)
	s.stopWorker(ctx, reason)
	s.log.Info("Supervisor stopped")
}

// finish writes a terminated worker's stats back and releases the slot. A
// worker that stopped on its own clears collect, so it is not restarted until
// an operator sets it again.
func (s *Supervisor) finish(ctx context.Context, h *workerHandle) {
	s.mu.Lock()
	if h.reaped {
		s.mu.Unlock()
		return
	}
	h.reaped = true
	s.active = nil
	s.lastStats = h.stats
	s.rateLimitTotal += h.stats.RateLimitedCount
	total := s.rateLimitTotal
	s.mu.Unlock()

	stats := h.stats
	s.set(ctx, domain.FieldMessageCount, strconv.FormatUint(stats.MessageCount, 10))
	s.set(ctx, domain.FieldRateLimitTotal, strconv.FormatUint(total, 10))
	s.set(ctx, domain.FieldErrorCode, strconv.Itoa(stats.LastErrorCode))
	s.set(ctx, domain.FieldWorkerState, string(stats.Outcome))
	if stats.DisconnectReason != "" {
		s.set(ctx, domain.FieldDisconnectReason, stats.DisconnectReason)
	}
	if stats.SelfTerminated() {
		s.set(ctx, domain.FieldCollect, domain.FormatFlag(false))
	}

	s.log.Info("Worker finished",
		"worker", h.w.Name(),
		"outcome", stats.Outcome,
		"messages", stats.MessageCount,
		"rate_limited", stats.RateLimitedCount,
		"error_code", stats.LastErrorCode,
	)
}

// set writes a field. Failures are logged; the next report overwrites them.
// Writes outlive ctx so the final report still lands during shutdown.
func (s *Supervisor) set(ctx context.Context, field, value string) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.store.Set(wctx, s.cfg.FlagsKey, field, value); err != nil {
		s.log.Warn("Failed to write control field", "field", field, "error", err)
		metrics.ControlStoreErrorsTotal.WithLabelValues("set").Inc()
	}
}

func (s *Supervisor) storeFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storeFailures++
}

func (s *Supervisor) storeRecovered() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storeFailures = 0
}

// Snapshot reports the supervisor and worker state for the health endpoint.
func (s *Supervisor) Snapshot() health.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := health.Snapshot{
		Collection:        string(s.cfg.Collection),
		SupervisorRunning: s.running.Load(),
		LastOutcome:       string(s.lastStats.Outcome),
		LastErrorCode:     s.lastStats.LastErrorCode,
		StoreFailures:     s.storeFailures,
		MessageCount:      s.lastStats.MessageCount,
	}
	if s.active != nil {
		snap.WorkerID = s.active.w.ID()
		snap.WorkerName = s.active.w.Name()
		snap.WorkerState = string(s.active.w.State())
		snap.MessageCount = s.active.w.MessageCount()
	}
	return snap
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
