package domain

// Outcome records why a worker reached its terminal state.
type Outcome string

const (
	OutcomeCancelled        Outcome = "cancelled"
	OutcomeDisconnected     Outcome = "disconnected"
	OutcomeFatal            Outcome = "fatal"
	OutcomeRetriesExhausted Outcome = "retries_exhausted"
)

// WorkerStats is written only by the worker goroutine and read by the
// supervisor after the worker has exited.
type WorkerStats struct {
	MessageCount     uint64
	RateLimitedCount uint64
	LastErrorCode    int
	DisconnectReason string
	Outcome          Outcome
}

// SelfTerminated reports whether the worker stopped for a reason other than
// a cancellation request.
func (s WorkerStats) SelfTerminated() bool {
	return s.Outcome != "" && s.Outcome != OutcomeCancelled
}
