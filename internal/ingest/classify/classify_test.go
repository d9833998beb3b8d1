package classify

import (
	"errors"
	"testing"

	"github.com/vietddude/streamcollector/internal/core/domain"
	"github.com/vietddude/streamcollector/internal/ingest/frame"
)

func mustFrame(t *testing.T, s string) frame.Frame {
	t.Helper()
	p := frame.NewParser(0)
	frames, err := p.Feed([]byte(s + "\r\n"))
	if err != nil || len(frames) != 1 {
		t.Fatalf("parse %q: frames=%d err=%v", s, len(frames), err)
	}
	return frames[0]
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		kind    domain.MessageKind
		skipped int64
		code    int
		reason  string
	}{
		{
			name:  "data",
			input: `{"id_str":"1","text":"hello"}`,
			kind:  domain.MessageData,
		},
		{
			name:    "rate limit notice",
			input:   `{"limit":{"track":42}}`,
			kind:    domain.MessageRateLimit,
			skipped: 42,
		},
		{
			name:   "disconnect",
			input:  `{"disconnect":{"code":7,"stream_name":"s","reason":"admin logout"}}`,
			kind:   domain.MessageDisconnect,
			code:   7,
			reason: "admin logout",
		},
		{
			name:   "warning",
			input:  `{"warning":{"code":"FALLING_BEHIND","message":"queue 60% full"}}`,
			kind:   domain.MessageWarning,
			reason: "queue 60% full",
		},
		{
			name:    "limit wins over disconnect",
			input:   `{"disconnect":{"code":1},"limit":{"track":3}}`,
			kind:    domain.MessageRateLimit,
			skipped: 3,
		},
		{
			name:  "null indicator is data",
			input: `{"limit":null,"text":"x"}`,
			kind:  domain.MessageData,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Classify(mustFrame(t, tt.input))
			if err != nil {
				t.Fatalf("Classify: %v", err)
			}
			if msg.Kind != tt.kind {
				t.Fatalf("kind = %v, want %v", msg.Kind, tt.kind)
			}
			if msg.Skipped != tt.skipped {
				t.Errorf("skipped = %d, want %d", msg.Skipped, tt.skipped)
			}
			if msg.Code != tt.code {
				t.Errorf("code = %d, want %d", msg.Code, tt.code)
			}
			if msg.Reason != tt.reason {
				t.Errorf("reason = %q, want %q", msg.Reason, tt.reason)
			}
			if tt.kind == domain.MessageData && string(msg.Payload) != tt.input {
				t.Errorf("payload = %s, want %s", msg.Payload, tt.input)
			}
		})
	}
}

func TestClassify_MalformedFrame(t *testing.T) {
	f := frame.Frame{Raw: []byte("{oops"), Err: errors.New("malformed frame")}
	if _, err := Classify(f); err == nil {
		t.Error("expected error for malformed frame")
	}
}
