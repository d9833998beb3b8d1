package postgres

import (
	"io/fs"
	"strings"
	"testing"
)

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := fs.ReadDir(migrations, "migrations")
	if err != nil {
		t.Fatalf("read migrations: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("expected at least one migration")
	}

	data, err := fs.ReadFile(migrations, "migrations/"+entries[0].Name())
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	for _, table := range []string{"control_fields", "control_lists"} {
		if !strings.Contains(string(data), table) {
			t.Errorf("migration does not create %s", table)
		}
	}
}
