package redis

import (
	"context"

	"github.com/vietddude/streamcollector/internal/core/domain"
	"github.com/vietddude/streamcollector/internal/infra/storage"
)

// ControlStore keeps each control document as a hash of scalar fields, with
// one list per list field.
type ControlStore struct {
	client *Client
}

// NewControlStore creates a Redis-backed control store.
func NewControlStore(client *Client) *ControlStore {
	return &ControlStore{client: client}
}

// Get reads the run/collect/update flags.
func (s *ControlStore) Get(ctx context.Context, key string) (domain.ControlFlags, error) {
	fields, err := s.client.rdb.HGetAll(ctx, s.client.docKey(key)).Result()
	if err != nil {
		return domain.ControlFlags{}, storage.Unavailable("hgetall", err)
	}
	if len(fields) == 0 {
		return domain.ControlFlags{}, storage.ErrFlagsNotFound
	}
	return flagsFromFields(fields), nil
}

// Set writes one field.
func (s *ControlStore) Set(ctx context.Context, key, field, value string) error {
	if err := s.client.rdb.HSet(ctx, s.client.docKey(key), field, value).Err(); err != nil {
		return storage.Unavailable("hset", err)
	}
	return nil
}

// AppendToList pushes an entry to the tail of a list field.
func (s *ControlStore) AppendToList(ctx context.Context, key, field, entry string) error {
	if err := s.client.rdb.RPush(ctx, s.client.listKey(key, field), entry).Err(); err != nil {
		return storage.Unavailable("rpush", err)
	}
	return nil
}

// List returns all entries of a list field.
func (s *ControlStore) List(ctx context.Context, key, field string) ([]string, error) {
	entries, err := s.client.rdb.LRange(ctx, s.client.listKey(key, field), 0, -1).Result()
	if err != nil {
		return nil, storage.Unavailable("lrange", err)
	}
	return entries, nil
}

// ClearList deletes a list field.
func (s *ControlStore) ClearList(ctx context.Context, key, field string) error {
	if err := s.client.rdb.Del(ctx, s.client.listKey(key, field)).Err(); err != nil {
		return storage.Unavailable("del", err)
	}
	return nil
}

// Fields returns every scalar field of a control document.
func (s *ControlStore) Fields(ctx context.Context, key string) (map[string]string, error) {
	fields, err := s.client.rdb.HGetAll(ctx, s.client.docKey(key)).Result()
	if err != nil {
		return nil, storage.Unavailable("hgetall", err)
	}
	if len(fields) == 0 {
		return nil, storage.ErrFlagsNotFound
	}
	return fields, nil
}

func flagsFromFields(fields map[string]string) domain.ControlFlags {
	return domain.ControlFlags{
		Run:     domain.ParseFlag(fields[domain.FieldRun]),
		Collect: domain.ParseFlag(fields[domain.FieldCollect]),
		Update:  domain.ParseFlag(fields[domain.FieldUpdate]),
	}
}
