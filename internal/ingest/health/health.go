// Package health provides collector health monitoring and status reporting.
package health

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// Snapshot is the supervisor's view of itself and its worker.
type Snapshot struct {
	Collection        string
	SupervisorRunning bool
	WorkerID          string
	WorkerName        string
	WorkerState       string
	MessageCount      uint64
	LastOutcome       string
	LastErrorCode     int
	StoreFailures     int // consecutive failed control store reads
}

// CollectorHealth contains health details for a collector process.
type CollectorHealth struct {
	Collection        string       `json:"collection"`
	Status            SystemStatus `json:"status"`
	SupervisorRunning bool         `json:"supervisor_running"`
	WorkerID          string       `json:"worker_id,omitempty"`
	WorkerName        string       `json:"worker_name,omitempty"`
	WorkerState       string       `json:"worker_state"`
	MessageCount      uint64       `json:"message_count"`
	LastOutcome       string       `json:"last_outcome,omitempty"`
	LastErrorCode     int          `json:"last_error_code,omitempty"`
	ControlStore      string       `json:"control_store"`
}
