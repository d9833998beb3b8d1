package redis

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"

	"github.com/vietddude/streamcollector/internal/core/domain"
	"github.com/vietddude/streamcollector/internal/infra/storage"
)

func TestControlStore_Live(t *testing.T) {
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("Skipping live Redis test. Set REDIS_TEST_URL to run.")
	}

	ctx := context.Background()
	client, err := NewClient(ctx, Config{URL: url, Namespace: "collector-test"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	store := NewControlStore(client)
	key := "test-" + uuid.NewString()
	defer client.rdb.Del(ctx, client.docKey(key), client.listKey(key, domain.FieldRateLimitCounts))

	if _, err := store.Get(ctx, key); !errors.Is(err, storage.ErrFlagsNotFound) {
		t.Fatalf("expected ErrFlagsNotFound, got %v", err)
	}

	for field, v := range map[string]string{"run": "1", "collect": "1", "update": "0"} {
		if err := store.Set(ctx, key, field, v); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	flags, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !flags.Run || !flags.Collect || flags.Update {
		t.Errorf("unexpected flags %+v", flags)
	}

	for _, e := range []string{"a", "b"} {
		if err := store.AppendToList(ctx, key, domain.FieldRateLimitCounts, e); err != nil {
			t.Fatalf("AppendToList: %v", err)
		}
	}
	entries, err := store.List(ctx, key, domain.FieldRateLimitCounts)
	if err != nil || len(entries) != 2 || entries[0] != "a" {
		t.Fatalf("List = %v, %v", entries, err)
	}
	if err := store.ClearList(ctx, key, domain.FieldRateLimitCounts); err != nil {
		t.Fatalf("ClearList: %v", err)
	}
	entries, _ = store.List(ctx, key, domain.FieldRateLimitCounts)
	if len(entries) != 0 {
		t.Errorf("expected empty list, got %v", entries)
	}
}
