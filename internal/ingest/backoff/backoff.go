package backoff

import (
	"time"

	"github.com/vietddude/streamcollector/internal/core/domain"
)

// Config defines the reconnect schedule. Values follow the streaming API's
// reconnection guidelines: back off linearly on network errors, exponentially
// on HTTP errors, and start at one minute when rate limited.
type Config struct {
	RetryTimeStart time.Duration // first delay after a 503 (default: 5s)
	Retry420Start  time.Duration // minimum delay after a 420 (default: 60s)
	RetryTimeCap   time.Duration // multiplicative cap (default: 320s)
	SnoozeTimeStep time.Duration // additive step on network timeout (default: 250ms)
	SnoozeTimeCap  time.Duration // additive cap (default: 16s)
	RetryCount     int           // max consecutive HTTP failures, 0 = unlimited
}

// DefaultConfig returns the stock reconnect schedule.
func DefaultConfig() Config {
	return Config{
		RetryTimeStart: 5 * time.Second,
		Retry420Start:  60 * time.Second,
		RetryTimeCap:   320 * time.Second,
		SnoozeTimeStep: 250 * time.Millisecond,
		SnoozeTimeCap:  16 * time.Second,
		RetryCount:     100,
	}
}

// State tracks the delays for one worker's connection attempts. It is owned
// by a single stream client and is not safe for concurrent use.
type State struct {
	cfg Config

	// Kind is the failure kind of the most recent Next call.
	Kind                domain.ErrorKind
	ConsecutiveFailures uint

	retryTime  time.Duration
	snoozeTime time.Duration
}

// NewState creates a State at its base values. Start values above their cap
// are clamped to the cap.
func NewState(cfg Config) *State {
	def := DefaultConfig()
	if cfg.RetryTimeStart <= 0 {
		cfg.RetryTimeStart = def.RetryTimeStart
	}
	if cfg.Retry420Start <= 0 {
		cfg.Retry420Start = def.Retry420Start
	}
	if cfg.RetryTimeCap <= 0 {
		cfg.RetryTimeCap = def.RetryTimeCap
	}
	if cfg.SnoozeTimeStep <= 0 {
		cfg.SnoozeTimeStep = def.SnoozeTimeStep
	}
	if cfg.SnoozeTimeCap <= 0 {
		cfg.SnoozeTimeCap = def.SnoozeTimeCap
	}
	cfg.RetryTimeStart = min(cfg.RetryTimeStart, cfg.RetryTimeCap)
	cfg.Retry420Start = min(cfg.Retry420Start, cfg.RetryTimeCap)
	cfg.SnoozeTimeStep = min(cfg.SnoozeTimeStep, cfg.SnoozeTimeCap)

	s := &State{cfg: cfg}
	s.Reset()
	return s
}

// Reset returns both schedules to their start values and clears the failure
// counter. Called after a successful connect and after every message read.
func (s *State) Reset() {
	s.retryTime = s.cfg.RetryTimeStart
	s.snoozeTime = s.cfg.SnoozeTimeStep
	s.ConsecutiveFailures = 0
}

// Next records a failure of the given kind and returns how long to wait
// before the next connection attempt.
func (s *State) Next(kind domain.ErrorKind) time.Duration {
	s.Kind = kind

	switch kind {
	case domain.KindNetworkTimeout:
		d := s.snoozeTime
		s.snoozeTime = min(s.snoozeTime+s.cfg.SnoozeTimeStep, s.cfg.SnoozeTimeCap)
		return d

	case domain.KindRateLimited:
		s.retryTime = max(s.cfg.Retry420Start, s.retryTime)
		fallthrough

	default:
		s.ConsecutiveFailures++
		d := s.retryTime
		s.retryTime = min(s.retryTime*2, s.cfg.RetryTimeCap)
		return d
	}
}

// Exhausted reports whether the consecutive HTTP failure count has passed
// the configured ceiling.
func (s *State) Exhausted() bool {
	return s.cfg.RetryCount > 0 && s.ConsecutiveFailures > uint(s.cfg.RetryCount)
}

// Config returns the effective configuration after defaults and clamping.
func (s *State) Config() Config {
	return s.cfg
}
