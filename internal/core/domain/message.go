package domain

import "encoding/json"

// MessageKind tags the variant held by a StreamMessage.
type MessageKind int

const (
	MessageData MessageKind = iota
	MessageRateLimit
	MessageDisconnect
	MessageWarning
)

func (k MessageKind) String() string {
	switch k {
	case MessageData:
		return "data"
	case MessageRateLimit:
		return "rate_limit"
	case MessageDisconnect:
		return "disconnect"
	case MessageWarning:
		return "warning"
	default:
		return "unknown"
	}
}

// StreamMessage is one classified frame from the stream. Only the fields
// belonging to Kind are set.
type StreamMessage struct {
	Kind MessageKind

	// MessageData
	Payload json.RawMessage

	// MessageRateLimit
	Skipped int64

	// MessageDisconnect, MessageWarning
	Code   int
	Reason string
}
