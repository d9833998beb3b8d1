// Package sink appends data messages to time-bucketed NDJSON files.
package sink

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/vietddude/streamcollector/internal/ingest/metrics"
)

// Sink writes one line per payload to the file of its bucket. Once the clock
// moves to a new bucket the previous file is closed and never reopened.
type Sink struct {
	bucketer Bucketer
	fsync    bool
	log      *slog.Logger

	mu      sync.Mutex
	current BucketKey
	file    *os.File
	now     func() time.Time
}

// New creates a sink and its output directory.
func New(bucketer Bucketer, fsync bool) (*Sink, error) {
	if err := os.MkdirAll(bucketer.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &Sink{
		bucketer: bucketer,
		fsync:    fsync,
		log:      slog.Default().With("component", "sink", "label", bucketer.Label),
		now:      time.Now,
	}, nil
}

// KeyNow returns the bucket for the current wall-clock time.
func (s *Sink) KeyNow() BucketKey {
	return s.bucketer.KeyFor(s.now())
}

// Append writes payload and a newline to the file for key. The write is a
// single append to the file descriptor, so it is visible to readers when
// Append returns.
func (s *Sink) Append(key BucketKey, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key != s.current || s.file == nil {
		if err := s.rotate(key); err != nil {
			return err
		}
	}

	line := make([]byte, 0, len(payload)+1)
	line = append(line, payload...)
	line = append(line, '\n')
	if _, err := s.file.Write(line); err != nil {
		return fmt.Errorf("failed to write %s: %w", s.file.Name(), err)
	}
	if s.fsync {
		if err := s.file.Sync(); err != nil {
			return fmt.Errorf("failed to sync %s: %w", s.file.Name(), err)
		}
	}
	return nil
}

func (s *Sink) rotate(key BucketKey) error {
	if s.file != nil {
		if err := s.file.Close(); err != nil {
			s.log.Warn("Failed to close output file", "file", s.file.Name(), "error", err)
		}
		s.file = nil
	}

	path := s.bucketer.Path(key)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		s.log.Info("Creating new output file", "file", path)
		metrics.OutputFilesCreated.WithLabelValues(s.bucketer.Label).Inc()
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open output file: %w", err)
	}
	s.file = f
	s.current = key
	return nil
}

// Current returns the key of the open bucket, empty before the first write.
func (s *Sink) Current() BucketKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Bucketer returns the naming scheme in use.
func (s *Sink) Bucketer() Bucketer {
	return s.bucketer
}

// Close closes the open bucket file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
