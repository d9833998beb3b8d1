// Package stream keeps one long-lived streaming HTTP connection alive and
// feeds its messages to the output sink.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/vietddude/streamcollector/internal/core/cancel"
	"github.com/vietddude/streamcollector/internal/core/domain"
	"github.com/vietddude/streamcollector/internal/infra/storage"
	"github.com/vietddude/streamcollector/internal/ingest/backoff"
	"github.com/vietddude/streamcollector/internal/ingest/classify"
	"github.com/vietddude/streamcollector/internal/ingest/frame"
	"github.com/vietddude/streamcollector/internal/ingest/metrics"
	"github.com/vietddude/streamcollector/internal/ingest/sink"
)

// ErrAlreadyRunning is returned by Run when the client was already started.
var ErrAlreadyRunning = errors.New("stream client already running")

// RateLimitLayout formats the timestamp of a rate-limit history entry.
const RateLimitLayout = "20060102-150405"

// Sink receives data payloads. *sink.Sink implements it.
type Sink interface {
	KeyNow() sink.BucketKey
	Append(key sink.BucketKey, payload []byte) error
}

// Settings are the connection tunables shared by every worker.
type Settings struct {
	URL            string
	Headers        map[string]string
	Params         map[string]string
	ReadTimeout    time.Duration // per-read idle limit (default: 300s)
	ConnectTimeout time.Duration // dial and TLS handshake limit (default: 30s)
	BufferSize     int           // body read size in bytes (default: 1500)
	MaxFrameBytes  int
	Backoff        backoff.Config
}

// DefaultSettings returns the stock tunables without a URL.
func DefaultSettings() Settings {
	return Settings{
		ReadTimeout:    300 * time.Second,
		ConnectTimeout: 30 * time.Second,
		BufferSize:     1500,
		MaxFrameBytes:  frame.DefaultMaxFrameBytes,
		Backoff:        backoff.DefaultConfig(),
	}
}

// Config holds everything one worker needs.
type Config struct {
	ID         string
	Name       string
	Collection domain.CollectionType
	Terms      []string
	FlagsKey   string // control document that receives rate-limit history
	Sink       Sink
	Store      storage.ControlStore
	Token      *cancel.Token
	Settings   Settings
}

// RateLimitEntry is appended to the rate_limit_counts list for every
// rate-limit notice.
type RateLimitEntry struct {
	At      string `json:"at"`
	Skipped int64  `json:"skipped"`
	Worker  string `json:"worker"`
}

// Client is the connection state machine for one worker. Run may be called
// once; a new worker gets a new Client.
type Client struct {
	cfg     Config
	http    *http.Client
	backoff *backoff.State
	log     *slog.Logger

	state   atomic.Value // State
	running atomic.Bool

	messages      atomic.Uint64
	rateLimited   atomic.Uint64
	lastErrorCode int
	disconnect    string

	// Injected for tests
	sleep func(ctx context.Context, d time.Duration) bool
	now   func() time.Time
}

// NewClient creates a stream client. Zero settings take their defaults.
func NewClient(cfg Config) *Client {
	def := DefaultSettings()
	s := &cfg.Settings
	if s.ReadTimeout <= 0 {
		s.ReadTimeout = def.ReadTimeout
	}
	if s.ConnectTimeout <= 0 {
		s.ConnectTimeout = def.ConnectTimeout
	}
	if s.BufferSize <= 0 {
		s.BufferSize = def.BufferSize
	}
	if s.MaxFrameBytes <= 0 {
		s.MaxFrameBytes = def.MaxFrameBytes
	}
	if cfg.Token == nil {
		cfg.Token = cancel.New()
	}

	c := &Client{
		cfg:     cfg,
		http:    newHTTPClient(*s),
		backoff: backoff.NewState(s.Backoff),
		log: slog.Default().With(
			"component", "stream",
			"worker", cfg.Name,
			"worker_id", cfg.ID,
		),
		sleep: sleepContext,
		now:   time.Now,
	}
	c.state.Store(StateIdle)
	return c
}

// ID returns the worker id.
func (c *Client) ID() string { return c.cfg.ID }

// Name returns the worker name.
func (c *Client) Name() string { return c.cfg.Name }

// Token returns the cancellation token observed by Run.
func (c *Client) Token() *cancel.Token { return c.cfg.Token }

// State returns the current lifecycle state. Safe to call from any goroutine.
func (c *Client) State() State {
	return c.state.Load().(State)
}

// MessageCount returns the number of data messages persisted so far.
func (c *Client) MessageCount() uint64 {
	return c.messages.Load()
}

// Run connects and streams until the token is cancelled, the server sends a
// disconnect, a fatal error occurs or the retry ceiling is reached.
// Cancellation and exhausted retries return a nil error; a disconnect or a
// fatal condition returns a *domain.StreamError.
func (c *Client) Run(ctx context.Context) (domain.WorkerStats, error) {
	if !c.running.CompareAndSwap(false, true) {
		return domain.WorkerStats{}, ErrAlreadyRunning
	}

	// Cancelling the token, or the parent, aborts in-flight requests and reads
	ctx, stop := c.cfg.Token.Context(ctx)
	defer stop()

	c.log.Info("Starting stream worker",
		"collection", c.cfg.Collection,
		"terms", len(c.cfg.Terms),
	)

	for {
		if c.stopping(ctx) {
			return c.finish(domain.OutcomeCancelled, nil)
		}

		c.setState(StateConnecting)
		resp, err := c.connect(ctx)
		if err != nil {
			if c.stopping(ctx) {
				return c.finish(domain.OutcomeCancelled, nil)
			}
			if isTimeout(err) {
				if outcome, ok := c.wait(ctx, domain.KindNetworkTimeout, 0); !ok {
					return c.finish(outcome, nil)
				}
				continue
			}
			return c.fatal(0, fmt.Errorf("connect: %w", err))
		}

		switch resp.StatusCode {
		case http.StatusOK:
			c.backoff.Reset()
			c.setState(StateStreaming)
			c.log.Info("Connected to stream")

			err := c.consume(ctx, resp.Body)
			resp.Body.Close()

			var serr *domain.StreamError
			switch {
			case c.stopping(ctx):
				return c.finish(domain.OutcomeCancelled, nil)
			case errors.As(err, &serr) && serr.Kind == domain.KindDisconnect:
				c.lastErrorCode = serr.Status
				c.log.Warn("Stream disconnected by server", "code", serr.Status, "reason", serr.Reason)
				return c.finish(domain.OutcomeDisconnected, err)
			case isTimeout(err), errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
				c.log.Warn("Stream interrupted", "error", err)
				if outcome, ok := c.wait(ctx, domain.KindNetworkTimeout, 0); !ok {
					return c.finish(outcome, nil)
				}
			default:
				return c.fatal(0, err)
			}

		case 420:
			reason := drain(resp)
			c.log.Warn("Rate limited by stream endpoint", "status", resp.StatusCode, "reason", reason)
			if outcome, ok := c.wait(ctx, domain.KindRateLimited, resp.StatusCode); !ok {
				return c.finish(outcome, nil)
			}

		case http.StatusServiceUnavailable:
			reason := drain(resp)
			c.log.Warn("Stream endpoint unavailable", "status", resp.StatusCode, "reason", reason)
			if outcome, ok := c.wait(ctx, domain.KindServerError, resp.StatusCode); !ok {
				return c.finish(outcome, nil)
			}

		default:
			reason := drain(resp)
			return c.fatal(resp.StatusCode, &domain.StreamError{
				Kind:   domain.KindProtocolFatal,
				Status: resp.StatusCode,
				Reason: reason,
			})
		}
	}
}

func (c *Client) connect(ctx context.Context) (*http.Response, error) {
	form := url.Values{}
	for k, v := range c.cfg.Settings.Params {
		form.Set(k, v)
	}
	form.Set(string(c.cfg.Collection), strings.Join(c.cfg.Terms, ","))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Settings.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range c.cfg.Settings.Headers {
		req.Header.Set(k, v)
	}

	return c.http.Do(req)
}

// consume reads the body until it fails. The returned error is never nil.
func (c *Client) consume(ctx context.Context, body io.Reader) error {
	parser := frame.NewParser(c.cfg.Settings.MaxFrameBytes)
	buf := make([]byte, c.cfg.Settings.BufferSize)
	collection := string(c.cfg.Collection)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			frames, err := parser.Feed(buf[:n])
			for _, f := range frames {
				if err := c.handle(ctx, f); err != nil {
					return err
				}
			}
			if err != nil {
				c.log.Warn("Dropping oversized frame", "error", err)
				metrics.MalformedFramesTotal.WithLabelValues(collection).Inc()
			}
		}
		if readErr != nil {
			return readErr
		}
	}
}

func (c *Client) handle(ctx context.Context, f frame.Frame) error {
	collection := string(c.cfg.Collection)

	msg, err := classify.Classify(f)
	if err != nil {
		c.log.Warn("Skipping malformed frame", "error", err, "bytes", len(f.Raw))
		metrics.MalformedFramesTotal.WithLabelValues(collection).Inc()
		return nil
	}
	c.backoff.Reset()

	switch msg.Kind {
	case domain.MessageData:
		if err := c.cfg.Sink.Append(c.cfg.Sink.KeyNow(), msg.Payload); err != nil {
			return fmt.Errorf("append to sink: %w", err)
		}
		c.messages.Add(1)
		metrics.MessagesTotal.WithLabelValues(collection).Inc()

	case domain.MessageRateLimit:
		metrics.ControlMessagesTotal.WithLabelValues(collection, msg.Kind.String()).Inc()
		if msg.Skipped > 0 {
			c.rateLimited.Add(uint64(msg.Skipped))
			metrics.RateLimitedTotal.WithLabelValues(collection).Add(float64(msg.Skipped))
		}
		c.recordRateLimit(ctx, msg.Skipped)

	case domain.MessageDisconnect:
		metrics.ControlMessagesTotal.WithLabelValues(collection, msg.Kind.String()).Inc()
		c.disconnect = msg.Reason
		return &domain.StreamError{Kind: domain.KindDisconnect, Status: msg.Code, Reason: msg.Reason}

	case domain.MessageWarning:
		metrics.ControlMessagesTotal.WithLabelValues(collection, msg.Kind.String()).Inc()
		c.log.Warn("Stream warning", "message", msg.Reason)
	}
	return nil
}

// recordRateLimit appends to the rate-limit history. A store failure is
// logged; it never stops the stream.
func (c *Client) recordRateLimit(ctx context.Context, skipped int64) {
	if c.cfg.Store == nil || c.cfg.FlagsKey == "" {
		return
	}
	entry, err := json.Marshal(RateLimitEntry{
		At:      c.now().Format(RateLimitLayout),
		Skipped: skipped,
		Worker:  c.cfg.ID,
	})
	if err != nil {
		return
	}
	if err := c.cfg.Store.AppendToList(ctx, c.cfg.FlagsKey, domain.FieldRateLimitCounts, string(entry)); err != nil {
		c.log.Warn("Failed to record rate limit notice", "error", err)
		metrics.ControlStoreErrorsTotal.WithLabelValues("append").Inc()
	}
}

// wait backs off before the next attempt. It returns false with the terminal
// outcome when the worker should stop instead.
func (c *Client) wait(ctx context.Context, kind domain.ErrorKind, status int) (domain.Outcome, bool) {
	c.setState(StateBackoff)
	delay := c.backoff.Next(kind)

	if kind != domain.KindNetworkTimeout && c.backoff.Exhausted() {
		c.lastErrorCode = status
		c.log.Error("Giving up after repeated failures",
			"kind", kind,
			"status", status,
			"failures", c.backoff.ConsecutiveFailures,
		)
		return domain.OutcomeRetriesExhausted, false
	}

	metrics.ReconnectsTotal.WithLabelValues(string(c.cfg.Collection), kind.String()).Inc()
	metrics.BackoffSeconds.WithLabelValues(string(c.cfg.Collection), kind.String()).Observe(delay.Seconds())
	c.log.Info("Backing off before reconnect", "kind", kind, "delay", delay, "failures", c.backoff.ConsecutiveFailures)

	if !c.sleep(ctx, delay) || c.stopping(ctx) {
		return domain.OutcomeCancelled, false
	}
	return "", true
}

func (c *Client) fatal(status int, err error) (domain.WorkerStats, error) {
	c.lastErrorCode = status
	c.log.Error("Stream worker failed", "status", status, "error", err)

	var serr *domain.StreamError
	if !errors.As(err, &serr) {
		err = &domain.StreamError{Kind: domain.KindProtocolFatal, Status: status, Err: err}
	}
	return c.finish(domain.OutcomeFatal, err)
}

func (c *Client) finish(outcome domain.Outcome, err error) (domain.WorkerStats, error) {
	c.setState(StateTerminated)
	stats := domain.WorkerStats{
		MessageCount:     c.messages.Load(),
		RateLimitedCount: c.rateLimited.Load(),
		LastErrorCode:    c.lastErrorCode,
		DisconnectReason: c.disconnect,
		Outcome:          outcome,
	}
	metrics.WorkerExitsTotal.WithLabelValues(string(c.cfg.Collection), string(outcome)).Inc()
	c.log.Info("Stream worker terminated",
		"outcome", outcome,
		"messages", stats.MessageCount,
		"rate_limited", stats.RateLimitedCount,
		"error_code", stats.LastErrorCode,
	)
	return stats, err
}

func (c *Client) setState(to State) {
	from := c.State()
	if from == to {
		return
	}
	t := Transition{From: from, To: to, Timestamp: c.now()}
	if err := t.Validate(); err != nil {
		c.log.Warn("Unexpected state transition", "error", err)
	}
	c.state.Store(to)
	c.log.Debug("State changed", "from", t.From, "to", t.To, "desc", StateDescription(to), "at", t.Timestamp)

	collection := string(c.cfg.Collection)
	for _, s := range AllStates {
		v := 0.0
		if s == to {
			v = 1
		}
		metrics.WorkerState.WithLabelValues(collection, string(s)).Set(v)
	}
}

// drain reads a short prefix of an error response for logging and closes it.
func drain(resp *http.Response) string {
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return strings.TrimSpace(string(b))
}

func (c *Client) stopping(ctx context.Context) bool {
	return c.cfg.Token.Cancelled() || ctx.Err() != nil
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
