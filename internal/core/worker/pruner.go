package worker

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/vietddude/streamcollector/internal/ingest/metrics"
	"github.com/vietddude/streamcollector/internal/ingest/sink"
)

// BucketOwner exposes the output naming scheme and the bucket being written.
// *sink.Sink implements it.
type BucketOwner interface {
	Bucketer() sink.Bucketer
	Current() sink.BucketKey
}

// Pruner deletes output bucket files based on retention policy.
type Pruner struct {
	retention time.Duration
	owner     BucketOwner
	log       *slog.Logger
	now       func() time.Time
}

// NewPruner creates a new Pruner worker. retention <= 0 disables it.
func NewPruner(retention time.Duration, owner BucketOwner) *Pruner {
	return &Pruner{
		retention: retention,
		owner:     owner,
		log:       slog.Default().With("component", "pruner", "label", owner.Bucketer().Label),
		now:       time.Now,
	}
}

// Start runs the pruner loop.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		return // Retention disabled
	}

	// Check at 10% of the retention period, between 1 minute and 1 hour
	interval := min(p.retention/10, 1*time.Hour)
	interval = max(interval, 1*time.Minute)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Initial prune
	p.prune()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.prune()
		}
	}
}

// prune removes bucket files last written before the retention window. The
// open bucket is never removed.
func (p *Pruner) prune() int {
	b := p.owner.Bucketer()
	matches, err := filepath.Glob(b.Pattern())
	if err != nil {
		p.log.Error("Failed to list output files", "error", err)
		return 0
	}

	current := ""
	if key := p.owner.Current(); key != "" {
		current = b.Path(key)
	}
	threshold := p.now().Add(-p.retention)

	removed := 0
	for _, path := range matches {
		if path == current {
			continue
		}
		info, err := os.Stat(path)
		if err != nil || info.IsDir() || !info.ModTime().Before(threshold) {
			continue
		}
		if err := os.Remove(path); err != nil {
			p.log.Error("Failed to prune output file", "file", path, "error", err)
			continue
		}
		removed++
		metrics.OutputFilesPruned.WithLabelValues(b.Label).Inc()
	}

	if removed > 0 {
		p.log.Info("Pruned output files", "count", removed, "older_than", threshold.Format(time.RFC3339))
	}
	return removed
}
