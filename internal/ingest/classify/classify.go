// Package classify routes a decoded stream frame to its handling path.
package classify

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vietddude/streamcollector/internal/core/domain"
	"github.com/vietddude/streamcollector/internal/ingest/frame"
)

// Control object keys sent in place of data objects.
const (
	keyLimit      = "limit"
	keyDisconnect = "disconnect"
	keyWarning    = "warning"
)

type limitNotice struct {
	Track json.Number `json:"track"`
}

type disconnectNotice struct {
	Code       int    `json:"code"`
	StreamName string `json:"stream_name"`
	Reason     string `json:"reason"`
}

type warningNotice struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Classify maps a frame to a StreamMessage. The first matching case wins:
// rate-limit notice, disconnect, warning, then data. Frames that failed to
// decode are returned as an error.
func Classify(f frame.Frame) (domain.StreamMessage, error) {
	if f.Err != nil {
		return domain.StreamMessage{}, f.Err
	}

	if raw, ok := present(f.Fields, keyLimit); ok {
		var n limitNotice
		if err := json.Unmarshal(raw, &n); err != nil {
			return domain.StreamMessage{}, fmt.Errorf("decode limit notice: %w", err)
		}
		skipped, _ := n.Track.Int64()
		return domain.StreamMessage{Kind: domain.MessageRateLimit, Skipped: skipped}, nil
	}

	if raw, ok := present(f.Fields, keyDisconnect); ok {
		var n disconnectNotice
		if err := json.Unmarshal(raw, &n); err != nil {
			// Still a disconnect; keep the raw object as the reason
			return domain.StreamMessage{Kind: domain.MessageDisconnect, Reason: string(raw)}, nil
		}
		return domain.StreamMessage{Kind: domain.MessageDisconnect, Code: n.Code, Reason: n.Reason}, nil
	}

	if raw, ok := present(f.Fields, keyWarning); ok {
		var n warningNotice
		if err := json.Unmarshal(raw, &n); err != nil || n.Message == "" {
			return domain.StreamMessage{Kind: domain.MessageWarning, Reason: string(raw)}, nil
		}
		return domain.StreamMessage{Kind: domain.MessageWarning, Reason: n.Message}, nil
	}

	return domain.StreamMessage{Kind: domain.MessageData, Payload: f.Raw}, nil
}

// present reports whether key is set to something other than a JSON falsy
// value (null, false, 0, "", {} or []).
func present(fields map[string]json.RawMessage, key string) (json.RawMessage, bool) {
	raw, ok := fields[key]
	if !ok {
		return nil, false
	}
	switch string(bytes.TrimSpace(raw)) {
	case "", "null", "false", "0", `""`, "{}", "[]":
		return nil, false
	}
	return raw, true
}
