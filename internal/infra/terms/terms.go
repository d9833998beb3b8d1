// Package terms loads the keyword or account list a collector subscribes to.
package terms

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/vietddude/streamcollector/internal/core/domain"
	"github.com/vietddude/streamcollector/internal/infra/storage"
)

// Source yields the terms for a worker start. It is called once per start so
// an operator can edit the list and raise update.
type Source interface {
	Terms(ctx context.Context) ([]string, error)
}

// FileSource reads one term per line. Blank lines and lines starting with #
// are skipped.
type FileSource struct {
	Path string
}

func (s FileSource) Terms(ctx context.Context) ([]string, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open terms file: %w", err)
	}
	defer f.Close()

	var out []string
	seen := make(map[string]struct{})
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read terms file: %w", err)
	}
	return out, nil
}

// FollowSource resolves account handles from a FileSource to numeric ids
// using handle:id pairs stored in the control document's terms_list.
type FollowSource struct {
	Handles Source
	Store   storage.ControlStore
	Key     string

	log *slog.Logger
}

func NewFollowSource(handles Source, store storage.ControlStore, key string) *FollowSource {
	return &FollowSource{
		Handles: handles,
		Store:   store,
		Key:     key,
		log:     slog.Default().With("component", "terms"),
	}
}

func (s *FollowSource) Terms(ctx context.Context) ([]string, error) {
	handles, err := s.Handles.Terms(ctx)
	if err != nil {
		return nil, err
	}

	pairs, err := s.Store.List(ctx, s.Key, domain.FieldTermsList)
	if err != nil {
		return nil, fmt.Errorf("load stored ids: %w", err)
	}
	known := ParsePairs(pairs)

	ids := make([]string, 0, len(handles))
	for _, h := range handles {
		h = normalizeHandle(h)
		if isNumeric(h) {
			ids = append(ids, h)
			continue
		}
		id, ok := known[h]
		if !ok {
			s.log.Warn("Skipping unresolved handle", "handle", h)
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ParsePairs turns "handle:id" entries into a lookup map. Malformed entries
// are ignored.
func ParsePairs(entries []string) map[string]string {
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		handle, id, ok := strings.Cut(e, ":")
		if !ok {
			continue
		}
		handle, id = normalizeHandle(handle), strings.TrimSpace(id)
		if handle == "" || !isNumeric(id) {
			continue
		}
		out[handle] = id
	}
	return out
}

func normalizeHandle(h string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(h), "@"))
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
