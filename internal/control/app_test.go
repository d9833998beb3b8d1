package control

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vietddude/streamcollector/internal/core/config"
	"github.com/vietddude/streamcollector/internal/core/domain"
	"github.com/vietddude/streamcollector/internal/infra/storage"
)

func newTestApp(t *testing.T, url string) (*App, *config.AppConfig) {
	t.Helper()
	dir := t.TempDir()
	termsPath := filepath.Join(dir, "terms.txt")
	if err := os.WriteFile(termsPath, []byte("golang\n"), 0o644); err != nil {
		t.Fatalf("write terms: %v", err)
	}

	cfg := &config.AppConfig{
		Stream:    config.StreamConfig{URL: url, ReadTimeout: 2 * time.Second},
		Collector: config.CollectorConfig{TermsFile: termsPath, PollInterval: 10 * time.Millisecond},
		Output:    config.OutputConfig{Dir: filepath.Join(dir, "out")},
	}
	cfg.ApplyDefaults()
	cfg.Server.Port = 0 // Random port
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	app, err := NewApp(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewApp failed: %v", err)
	}
	return app, cfg
}

func outputLines(dir string) int {
	matches, _ := filepath.Glob(filepath.Join(dir, "*-track-out.json"))
	n := 0
	for _, m := range matches {
		data, err := os.ReadFile(m)
		if err == nil {
			n += bytes.Count(data, []byte("\n"))
		}
	}
	return n
}

func streamingServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for i := 1; i <= 2; i++ {
			fmt.Fprintf(w, "{\"id\":%d}\r\n", i)
		}
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
}

func TestApp_CollectsUntilRunCleared(t *testing.T) {
	srv := streamingServer()
	defer srv.Close()

	app, cfg := newTestApp(t, srv.URL)
	store := app.Backend().Store
	ctx := context.Background()
	_ = store.Set(ctx, cfg.Collector.FlagsKey, domain.FieldRun, "1")
	_ = store.Set(ctx, cfg.Collector.FlagsKey, domain.FieldCollect, "1")

	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	waitFor(t, "two output lines", func() bool { return outputLines(cfg.Output.Dir) == 2 })

	_ = store.Set(ctx, cfg.Collector.FlagsKey, domain.FieldRun, "0")
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after run was cleared")
	}

	fields, err := store.(storage.FieldReader).Fields(ctx, cfg.Collector.FlagsKey)
	if err != nil {
		t.Fatalf("Fields: %v", err)
	}
	if fields[domain.FieldMessageCount] != "2" {
		t.Errorf("expected message_count 2, got %q", fields[domain.FieldMessageCount])
	}
	if fields[domain.FieldCollect] != "0" {
		t.Errorf("expected collect cleared, got %q", fields[domain.FieldCollect])
	}
}

func TestApp_GracefulShutdown(t *testing.T) {
	srv := streamingServer()
	defer srv.Close()

	app, cfg := newTestApp(t, srv.URL)
	store := app.Backend().Store
	_ = store.Set(context.Background(), cfg.Collector.FlagsKey, domain.FieldRun, "1")
	_ = store.Set(context.Background(), cfg.Collector.FlagsKey, domain.FieldCollect, "1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	waitFor(t, "first output line", func() bool { return outputLines(cfg.Output.Dir) > 0 })

	// Trigger shutdown
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Error("Run did not return within 10s of cancel")
	}
}
