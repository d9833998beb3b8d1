package memory

import (
	"context"
	"maps"
	"sync"

	"github.com/vietddude/streamcollector/internal/core/domain"
	"github.com/vietddude/streamcollector/internal/infra/storage"
)

type document struct {
	fields map[string]string
	lists  map[string][]string
}

// ControlStore is an in-process control store for local runs and tests.
type ControlStore struct {
	docs map[string]*document
	mu   sync.RWMutex

	// err, when set, is returned by every call to simulate an outage
	err error
}

func NewControlStore() *ControlStore {
	return &ControlStore{docs: make(map[string]*document)}
}

// SetFailure makes every subsequent call fail with ErrControlStoreUnavailable
// wrapping err. Pass nil to recover.
func (s *ControlStore) SetFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *ControlStore) doc(key string) *document {
	d, ok := s.docs[key]
	if !ok {
		d = &document{fields: make(map[string]string), lists: make(map[string][]string)}
		s.docs[key] = d
	}
	return d
}

// -----------------------------------------------------------------------------
// storage.ControlStore
// -----------------------------------------------------------------------------

func (s *ControlStore) Get(ctx context.Context, key string) (domain.ControlFlags, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return domain.ControlFlags{}, storage.Unavailable("get", s.err)
	}
	d, ok := s.docs[key]
	if !ok {
		return domain.ControlFlags{}, storage.ErrFlagsNotFound
	}
	return domain.ControlFlags{
		Run:     domain.ParseFlag(d.fields[domain.FieldRun]),
		Collect: domain.ParseFlag(d.fields[domain.FieldCollect]),
		Update:  domain.ParseFlag(d.fields[domain.FieldUpdate]),
	}, nil
}

func (s *ControlStore) Set(ctx context.Context, key, field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return storage.Unavailable("set", s.err)
	}
	s.doc(key).fields[field] = value
	return nil
}

func (s *ControlStore) AppendToList(ctx context.Context, key, field, entry string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return storage.Unavailable("append", s.err)
	}
	d := s.doc(key)
	d.lists[field] = append(d.lists[field], entry)
	return nil
}

func (s *ControlStore) List(ctx context.Context, key, field string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, storage.Unavailable("list", s.err)
	}
	d, ok := s.docs[key]
	if !ok {
		return nil, nil
	}
	out := make([]string, len(d.lists[field]))
	copy(out, d.lists[field])
	return out, nil
}

func (s *ControlStore) ClearList(ctx context.Context, key, field string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return storage.Unavailable("clear", s.err)
	}
	if d, ok := s.docs[key]; ok {
		delete(d.lists, field)
	}
	return nil
}

// -----------------------------------------------------------------------------
// storage.FieldReader
// -----------------------------------------------------------------------------

func (s *ControlStore) Fields(ctx context.Context, key string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, storage.Unavailable("fields", s.err)
	}
	d, ok := s.docs[key]
	if !ok {
		return nil, storage.ErrFlagsNotFound
	}
	return maps.Clone(d.fields), nil
}

// Field returns a single scalar field, used by tests to inspect reports.
func (s *ControlStore) Field(key, field string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[key]
	if !ok {
		return "", false
	}
	v, ok := d.fields[field]
	return v, ok
}
