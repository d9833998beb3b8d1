package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vietddude/streamcollector/internal/core/cancel"
	"github.com/vietddude/streamcollector/internal/core/domain"
	"github.com/vietddude/streamcollector/internal/infra/storage/memory"
	"github.com/vietddude/streamcollector/internal/ingest/sink"
)

// memorySink records payloads in order.
type memorySink struct {
	mu       sync.Mutex
	lines    []string
	appended chan struct{}
	err      error
}

func newMemorySink() *memorySink {
	return &memorySink{appended: make(chan struct{}, 100)}
}

func (s *memorySink) KeyNow() sink.BucketKey { return "20260101" }

func (s *memorySink) Append(_ sink.BucketKey, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.lines = append(s.lines, string(payload))
	s.appended <- struct{}{}
	return nil
}

func (s *memorySink) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

// sleepRecorder replaces real backoff sleeps. After limit sleeps it cancels
// the token and reports an interrupted sleep.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
	limit  int
	token  *cancel.Token
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) bool {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	n := len(r.delays)
	r.mu.Unlock()

	if r.limit > 0 && n >= r.limit {
		r.token.Cancel()
		return false
	}
	return true
}

func (r *sleepRecorder) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

type testClient struct {
	*Client
	sink  *memorySink
	store *memory.ControlStore
	sleep *sleepRecorder
}

func newTestClient(t *testing.T, url string, limit int, tune func(*Settings)) *testClient {
	t.Helper()

	token := cancel.New()
	store := memory.NewControlStore()
	ms := newMemorySink()

	settings := DefaultSettings()
	settings.URL = url
	settings.ReadTimeout = 2 * time.Second
	settings.Headers = map[string]string{"Authorization": "Bearer test"}
	if tune != nil {
		tune(&settings)
	}

	c := NewClient(Config{
		ID:         "worker-1",
		Name:       "collector-track-1",
		Collection: domain.CollectionTrack,
		Terms:      []string{"golang", "rust"},
		FlagsKey:   "collector-track",
		Sink:       ms,
		Store:      store,
		Token:      token,
		Settings:   settings,
	})
	rec := &sleepRecorder{limit: limit, token: token}
	c.sleep = rec.sleep
	c.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	return &testClient{Client: c, sink: ms, store: store, sleep: rec}
}

func writeLines(w http.ResponseWriter, lines ...string) {
	for _, l := range lines {
		fmt.Fprint(w, l)
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// hold keeps a streaming response open until the client goes away.
func hold(r *http.Request) {
	select {
	case <-r.Context().Done():
	case <-time.After(5 * time.Second):
	}
}

func TestRun_DataMessageWritten(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeLines(w, `{"id":1,"text":"hello"}`+"\r\n")
	}))
	defer srv.Close()

	dir := t.TempDir()
	out, err := sink.New(sink.Bucketer{Dir: dir, Layout: "20060102", Label: "track", Suffix: "out.json"}, false)
	if err != nil {
		t.Fatalf("sink.New: %v", err)
	}
	defer out.Close()

	tc := newTestClient(t, srv.URL, 1, nil)
	tc.cfg.Sink = out

	stats, err := tc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.MessageCount != 1 {
		t.Errorf("MessageCount = %d, want 1", stats.MessageCount)
	}
	if stats.Outcome != domain.OutcomeCancelled {
		t.Errorf("Outcome = %s, want cancelled", stats.Outcome)
	}

	data, err := os.ReadFile(out.Bucketer().Path(out.Current()))
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if got := string(data); got != `{"id":1,"text":"hello"}`+"\n" {
		t.Errorf("output = %q", got)
	}
}

func TestRun_RequestShape(t *testing.T) {
	var (
		mu     sync.Mutex
		track  string
		auth   string
		extra  string
		method string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		mu.Lock()
		method, track, auth, extra = r.Method, r.PostForm.Get("track"), r.Header.Get("Authorization"), r.PostForm.Get("language")
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tc := newTestClient(t, srv.URL, 1, func(s *Settings) {
		s.Params = map[string]string{"language": "en"}
	})
	if _, err := tc.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if method != http.MethodPost {
		t.Errorf("method = %s, want POST", method)
	}
	if track != "golang,rust" {
		t.Errorf("track = %q, want golang,rust", track)
	}
	if auth != "Bearer test" {
		t.Errorf("Authorization = %q", auth)
	}
	if extra != "en" {
		t.Errorf("language = %q, want en", extra)
	}
}

func TestRun_RateLimitedBackoffSchedule(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(420)
	}))
	defer srv.Close()

	tc := newTestClient(t, srv.URL, 4, nil)
	stats, err := tc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Outcome != domain.OutcomeCancelled {
		t.Errorf("Outcome = %s, want cancelled", stats.Outcome)
	}

	want := []time.Duration{60 * time.Second, 120 * time.Second, 240 * time.Second, 320 * time.Second}
	got := tc.sleep.Delays()
	if len(got) != len(want) {
		t.Fatalf("delays = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestRun_DisconnectTerminatesWithoutBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeLines(w, `{"disconnect":{"code":7,"stream_name":"test","reason":"admin logout"}}`+"\n")
		hold(r)
	}))
	defer srv.Close()

	tc := newTestClient(t, srv.URL, 0, nil)
	stats, err := tc.Run(context.Background())

	var serr *domain.StreamError
	if !errors.As(err, &serr) || serr.Kind != domain.KindDisconnect {
		t.Fatalf("err = %v, want disconnect StreamError", err)
	}
	if serr.Status != 7 || serr.Reason != "admin logout" {
		t.Errorf("disconnect = %d %q", serr.Status, serr.Reason)
	}
	if stats.Outcome != domain.OutcomeDisconnected {
		t.Errorf("Outcome = %s, want disconnected", stats.Outcome)
	}
	if stats.DisconnectReason != "admin logout" {
		t.Errorf("DisconnectReason = %q", stats.DisconnectReason)
	}
	if d := tc.sleep.Delays(); len(d) != 0 {
		t.Errorf("expected no backoff, got %v", d)
	}
	if tc.State() != StateTerminated {
		t.Errorf("State = %s, want terminated", tc.State())
	}
}

func TestRun_FatalStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	tc := newTestClient(t, srv.URL, 0, nil)
	stats, err := tc.Run(context.Background())

	var serr *domain.StreamError
	if !errors.As(err, &serr) || serr.Kind != domain.KindProtocolFatal {
		t.Fatalf("err = %v, want protocol fatal", err)
	}
	if serr.Status != http.StatusUnauthorized {
		t.Errorf("Status = %d, want 401", serr.Status)
	}
	if stats.LastErrorCode != http.StatusUnauthorized {
		t.Errorf("LastErrorCode = %d, want 401", stats.LastErrorCode)
	}
	if stats.Outcome != domain.OutcomeFatal {
		t.Errorf("Outcome = %s, want fatal", stats.Outcome)
	}
	if d := tc.sleep.Delays(); len(d) != 0 {
		t.Errorf("expected no backoff, got %v", d)
	}
}

func TestRun_RetriesExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	tc := newTestClient(t, srv.URL, 0, func(s *Settings) {
		s.Backoff.RetryCount = 2
	})
	stats, err := tc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Outcome != domain.OutcomeRetriesExhausted {
		t.Errorf("Outcome = %s, want retries_exhausted", stats.Outcome)
	}
	if stats.LastErrorCode != http.StatusServiceUnavailable {
		t.Errorf("LastErrorCode = %d, want 503", stats.LastErrorCode)
	}

	want := []time.Duration{5 * time.Second, 10 * time.Second}
	got := tc.sleep.Delays()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("delays = %v, want %v", got, want)
	}
}

func TestRun_ReadTimeoutReconnects(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			// Headers, then silence
			w.WriteHeader(http.StatusOK)
			writeLines(w)
			hold(r)
			return
		}
		writeLines(w, `{"id":2}`+"\n")
	}))
	defer srv.Close()

	tc := newTestClient(t, srv.URL, 2, func(s *Settings) {
		s.ReadTimeout = 100 * time.Millisecond
	})
	stats, err := tc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.MessageCount != 1 {
		t.Errorf("MessageCount = %d, want 1", stats.MessageCount)
	}

	// Snooze resets after the message on the second connection
	want := []time.Duration{250 * time.Millisecond, 250 * time.Millisecond}
	got := tc.sleep.Delays()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("delays = %v, want %v", got, want)
	}
}

func TestRun_CancelMidStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeLines(w, `{"id":1}`+"\n")
		hold(r)
	}))
	defer srv.Close()

	tc := newTestClient(t, srv.URL, 0, nil)

	type result struct {
		stats domain.WorkerStats
		err   error
	}
	done := make(chan result, 1)
	go func() {
		stats, err := tc.Run(context.Background())
		done <- result{stats, err}
	}()

	select {
	case <-tc.sink.appended:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for first message")
	}
	tc.Token().Cancel()

	select {
	case res := <-done:
		if res.err != nil {
			t.Fatalf("Run: %v", res.err)
		}
		if res.stats.Outcome != domain.OutcomeCancelled {
			t.Errorf("Outcome = %s, want cancelled", res.stats.Outcome)
		}
		if res.stats.MessageCount != 1 {
			t.Errorf("MessageCount = %d, want 1", res.stats.MessageCount)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("worker did not observe cancellation")
	}
}

func TestRun_ControlMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeLines(w,
			`{"limit":{"track":12}}`+"\n",
			"\n",
			"not json\n",
			`{"warning":{"code":"FALLING_BEHIND","message":"queue full"}}`+"\n",
			`{"id":3}`+"\n",
		)
	}))
	defer srv.Close()

	tc := newTestClient(t, srv.URL, 1, nil)
	stats, err := tc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.RateLimitedCount != 12 {
		t.Errorf("RateLimitedCount = %d, want 12", stats.RateLimitedCount)
	}
	if got := tc.sink.Lines(); len(got) != 1 || got[0] != `{"id":3}` {
		t.Errorf("sink lines = %v", got)
	}

	entries, err := tc.store.List(context.Background(), "collector-track", domain.FieldRateLimitCounts)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("rate limit history = %v", entries)
	}
	var entry RateLimitEntry
	if err := json.Unmarshal([]byte(entries[0]), &entry); err != nil {
		t.Fatalf("decode entry: %v", err)
	}
	want := RateLimitEntry{At: "20260102-030405", Skipped: 12, Worker: "worker-1"}
	if entry != want {
		t.Errorf("entry = %+v, want %+v", entry, want)
	}
}

func TestRun_SinkFailureIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeLines(w, `{"id":1}`+"\n")
		hold(r)
	}))
	defer srv.Close()

	tc := newTestClient(t, srv.URL, 0, nil)
	tc.sink.err = errors.New("disk full")

	stats, err := tc.Run(context.Background())
	var serr *domain.StreamError
	if !errors.As(err, &serr) || serr.Kind != domain.KindProtocolFatal {
		t.Fatalf("err = %v, want protocol fatal", err)
	}
	if !strings.Contains(err.Error(), "disk full") {
		t.Errorf("err = %v, want cause", err)
	}
	if stats.Outcome != domain.OutcomeFatal {
		t.Errorf("Outcome = %s, want fatal", stats.Outcome)
	}
}

func TestRun_AlreadyCancelled(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
	}))
	defer srv.Close()

	tc := newTestClient(t, srv.URL, 0, nil)
	tc.Token().Cancel()

	stats, err := tc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Outcome != domain.OutcomeCancelled {
		t.Errorf("Outcome = %s, want cancelled", stats.Outcome)
	}
	if requests.Load() != 0 {
		t.Errorf("expected no requests, got %d", requests.Load())
	}

	if _, err := tc.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run err = %v, want ErrAlreadyRunning", err)
	}
}
