package domain

// ControlFlags are the lifecycle signals an operator sets in the control store.
type ControlFlags struct {
	Run     bool
	Collect bool
	Update  bool
}

// Field names inside a control document.
const (
	FieldRun     = "run"
	FieldCollect = "collect"
	FieldUpdate  = "update"

	// Reported back by the supervisor after a worker stops
	FieldErrorCode        = "error_code"
	FieldMessageCount     = "message_count"
	FieldRateLimitTotal   = "rate_limit_total"
	FieldDisconnectReason = "disconnect_reason"
	FieldWorkerID         = "worker_id"
	FieldWorkerState      = "worker_state"

	// List fields
	FieldRateLimitCounts = "rate_limit_counts"
	FieldTermsList       = "terms_list"
)

// ParseFlag interprets a stored flag value. Anything other than "1" or
// "true" is false.
func ParseFlag(v string) bool {
	return v == "1" || v == "true"
}

// FormatFlag renders a flag the way it is stored.
func FormatFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
