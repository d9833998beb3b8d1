package health

import (
	"context"
	"sync"
	"time"
)

// StatusSource reports the supervisor state.
type StatusSource interface {
	Snapshot() Snapshot
}

// Pinger checks the control store backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor aggregates health status from the supervisor and the control store.
type Monitor struct {
	source     StatusSource
	pinger     Pinger
	cacheTTL   time.Duration
	lastCheck  time.Time
	lastReport CollectorHealth
	mu         sync.Mutex
}

// NewMonitor creates a new health monitor. pinger may be nil for the
// in-memory backend.
func NewMonitor(source StatusSource, pinger Pinger) *Monitor {
	return &Monitor{
		source:   source,
		pinger:   pinger,
		cacheTTL: 5 * time.Second,
	}
}

// CheckHealth evaluates the collector status.
func (m *Monitor) CheckHealth(ctx context.Context) CollectorHealth {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Rate limit store pings
	if !m.lastCheck.IsZero() && time.Since(m.lastCheck) < m.cacheTTL {
		return m.lastReport
	}

	snap := m.source.Snapshot()
	h := CollectorHealth{
		Collection:        snap.Collection,
		Status:            StatusHealthy,
		SupervisorRunning: snap.SupervisorRunning,
		WorkerID:          snap.WorkerID,
		WorkerName:        snap.WorkerName,
		WorkerState:       snap.WorkerState,
		MessageCount:      snap.MessageCount,
		LastOutcome:       snap.LastOutcome,
		LastErrorCode:     snap.LastErrorCode,
		ControlStore:      "ok",
	}
	if h.WorkerState == "" {
		h.WorkerState = "none"
	}

	storeOK := snap.StoreFailures == 0
	if m.pinger != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := m.pinger.Ping(pingCtx); err != nil {
			h.ControlStore = err.Error()
			storeOK = false
		}
		cancel()
	}
	if !storeOK && h.ControlStore == "ok" {
		h.ControlStore = "unavailable"
	}

	// Evaluate Status
	switch {
	case !snap.SupervisorRunning:
		h.Status = StatusCritical
	case !storeOK, snap.WorkerState == "backoff":
		h.Status = StatusDegraded
	case snap.WorkerID == "" && isSelfTerminated(snap.LastOutcome):
		// Worker gave up and waits for an operator
		h.Status = StatusDegraded
	}

	m.lastCheck = time.Now()
	m.lastReport = h
	return h
}

func isSelfTerminated(outcome string) bool {
	return outcome != "" && outcome != "cancelled"
}
