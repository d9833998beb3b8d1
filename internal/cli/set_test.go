package cli

import (
	"context"
	"testing"

	"github.com/vietddude/streamcollector/internal/core/domain"
	"github.com/vietddude/streamcollector/internal/infra/storage/memory"
)

func TestApplySet(t *testing.T) {
	tests := []struct {
		field, value string
		wantErr      bool
		want         string
	}{
		{domain.FieldRun, "on", false, "1"},
		{domain.FieldCollect, "false", false, "0"},
		{domain.FieldUpdate, "1", false, "1"},
		{domain.FieldCollect, "maybe", true, ""},
		{domain.FieldErrorCode, "0", false, "0"},
		{domain.FieldRateLimitCounts, "x", true, ""},
		{domain.FieldTermsList, "nohandle", true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.field+"="+tt.value, func(t *testing.T) {
			store := memory.NewControlStore()
			err := applySet(context.Background(), store, "k", tt.field, tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got, _ := store.Field("k", tt.field); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestApplySet_TermsList(t *testing.T) {
	store := memory.NewControlStore()
	ctx := context.Background()
	if err := applySet(ctx, store, "k", domain.FieldTermsList, "gopher:1001"); err != nil {
		t.Fatalf("applySet: %v", err)
	}
	entries, _ := store.List(ctx, "k", domain.FieldTermsList)
	if len(entries) != 1 || entries[0] != "gopher:1001" {
		t.Errorf("entries = %v", entries)
	}
}

func TestReadFields_FlagsFallback(t *testing.T) {
	store := memory.NewControlStore()
	ctx := context.Background()
	_ = store.Set(ctx, "k", domain.FieldRun, "1")
	_ = store.Set(ctx, "k", domain.FieldMessageCount, "12")

	fields, err := readFields(ctx, store, "k")
	if err != nil {
		t.Fatalf("readFields: %v", err)
	}
	if fields[domain.FieldMessageCount] != "12" || fields[domain.FieldRun] != "1" {
		t.Errorf("fields = %v", fields)
	}
}
