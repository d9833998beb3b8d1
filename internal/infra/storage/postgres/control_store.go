package postgres

import (
	"context"

	"github.com/vietddude/streamcollector/internal/core/domain"
	"github.com/vietddude/streamcollector/internal/infra/storage"
)

// ControlStore implements storage.ControlStore on the control_fields and
// control_lists tables.
type ControlStore struct {
	db *DB
}

// NewControlStore creates a PostgreSQL-backed control store.
func NewControlStore(db *DB) *ControlStore {
	return &ControlStore{db: db}
}

type fieldRow struct {
	Field string `db:"field"`
	Value string `db:"value"`
}

const (
	selectFieldsSQL = `SELECT field, value FROM control_fields WHERE doc_key = $1`

	upsertFieldSQL = `
		INSERT INTO control_fields (doc_key, field, value, updated_at)
		VALUES (:doc_key, :field, :value, now())
		ON CONFLICT (doc_key, field) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`

	appendEntrySQL = `INSERT INTO control_lists (doc_key, field, entry) VALUES ($1, $2, $3)`

	selectEntriesSQL = `SELECT entry FROM control_lists WHERE doc_key = $1 AND field = $2 ORDER BY id`

	deleteEntriesSQL = `DELETE FROM control_lists WHERE doc_key = $1 AND field = $2`
)

// Get reads the run/collect/update flags.
func (s *ControlStore) Get(ctx context.Context, key string) (domain.ControlFlags, error) {
	fields, err := s.Fields(ctx, key)
	if err != nil {
		return domain.ControlFlags{}, err
	}
	return domain.ControlFlags{
		Run:     domain.ParseFlag(fields[domain.FieldRun]),
		Collect: domain.ParseFlag(fields[domain.FieldCollect]),
		Update:  domain.ParseFlag(fields[domain.FieldUpdate]),
	}, nil
}

// Set upserts one field.
func (s *ControlStore) Set(ctx context.Context, key, field, value string) error {
	_, err := s.db.NamedExecContext(ctx, upsertFieldSQL, map[string]any{
		"doc_key": key,
		"field":   field,
		"value":   value,
	})
	if err != nil {
		return storage.Unavailable("set", err)
	}
	return nil
}

// AppendToList inserts a list entry.
func (s *ControlStore) AppendToList(ctx context.Context, key, field, entry string) error {
	if _, err := s.db.ExecContext(ctx, appendEntrySQL, key, field, entry); err != nil {
		return storage.Unavailable("append", err)
	}
	return nil
}

// List returns the entries of a list field in insertion order.
func (s *ControlStore) List(ctx context.Context, key, field string) ([]string, error) {
	var entries []string
	if err := s.db.SelectContext(ctx, &entries, selectEntriesSQL, key, field); err != nil {
		return nil, storage.Unavailable("list", err)
	}
	return entries, nil
}

// ClearList deletes every entry of a list field.
func (s *ControlStore) ClearList(ctx context.Context, key, field string) error {
	if _, err := s.db.ExecContext(ctx, deleteEntriesSQL, key, field); err != nil {
		return storage.Unavailable("clear", err)
	}
	return nil
}

// Fields returns every scalar field of a control document.
func (s *ControlStore) Fields(ctx context.Context, key string) (map[string]string, error) {
	var rows []fieldRow
	if err := s.db.SelectContext(ctx, &rows, selectFieldsSQL, key); err != nil {
		return nil, storage.Unavailable("get", err)
	}
	if len(rows) == 0 {
		return nil, storage.ErrFlagsNotFound
	}
	fields := make(map[string]string, len(rows))
	for _, r := range rows {
		fields[r.Field] = r.Value
	}
	return fields, nil
}
