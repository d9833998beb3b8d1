package domain

import "fmt"

// ErrorKind classifies a stream failure by the retry policy it gets.
type ErrorKind int

const (
	KindNetworkTimeout ErrorKind = iota
	KindRateLimited
	KindServerError
	KindProtocolFatal
	KindDisconnect
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetworkTimeout:
		return "network_timeout"
	case KindRateLimited:
		return "rate_limited"
	case KindServerError:
		return "server_error"
	case KindProtocolFatal:
		return "protocol_fatal"
	case KindDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// StreamError is the tagged error returned by the stream client. Callers
// branch on Kind with errors.As, never on the message text.
type StreamError struct {
	Kind   ErrorKind
	Status int
	Reason string
	Err    error
}

func (e *StreamError) Error() string {
	switch {
	case e.Err != nil && e.Status != 0:
		return fmt.Sprintf("%s (status %d): %v", e.Kind, e.Status, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Reason != "":
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.Status, e.Reason)
	default:
		return fmt.Sprintf("%s (status %d)", e.Kind, e.Status)
	}
}

func (e *StreamError) Unwrap() error {
	return e.Err
}
