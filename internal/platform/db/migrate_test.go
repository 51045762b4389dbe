package db

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeMigrations(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("failed to write test file %s: %v", name, err)
		}
	}
	return dir
}

func TestLoadMigrations_SortOrder(t *testing.T) {
	dir := writeMigrations(t, map[string]string{
		"010_invoice_indexes.sql": "SELECT 10;",
		"002_lab_results.sql":     "SELECT 2;",
		"001_lab_core.sql":        "CREATE TABLE customer (id UUID PRIMARY KEY);",
		"005_counters.sql":        "SELECT 5;",
	})

	migrations, err := NewMigrator(nil, dir).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 4 {
		t.Fatalf("expected 4 migrations, got %d", len(migrations))
	}
	for i, want := range []int{1, 2, 5, 10} {
		if migrations[i].Version != want {
			t.Errorf("migration[%d]: expected version %d, got %d", i, want, migrations[i].Version)
		}
	}
	if migrations[0].Name != "001_lab_core.sql" {
		t.Errorf("expected name 001_lab_core.sql, got %s", migrations[0].Name)
	}
	if migrations[0].SQL != "CREATE TABLE customer (id UUID PRIMARY KEY);" {
		t.Errorf("unexpected SQL content: %s", migrations[0].SQL)
	}
}

func TestLoadMigrations_SkipsUnversionedFiles(t *testing.T) {
	dir := writeMigrations(t, map[string]string{
		"001_valid.sql":      "SELECT 1;",
		"readme.sql":         "-- no version prefix",
		"notes.txt":          "not a sql file",
		"abc_invalid.sql":    "-- non-numeric prefix",
		"002_also_valid.sql": "SELECT 2;",
	})

	migrations, err := NewMigrator(nil, dir).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 valid migrations, got %d", len(migrations))
	}
}

func TestLoadMigrations_NonExistentDir(t *testing.T) {
	_, err := NewMigrator(nil, "/nonexistent/path/that/does/not/exist").LoadMigrations()
	if err == nil {
		t.Error("expected error for non-existent directory")
	}
}

func TestMergeStatus(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	migrations := []Migration{
		{Version: 1, Name: "001_lab_core.sql"},
		{Version: 2, Name: "002_lab_results.sql"},
	}

	statuses := mergeStatus(migrations, map[int]time.Time{1: at})

	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if !statuses[0].Applied || statuses[0].AppliedAt == nil || !statuses[0].AppliedAt.Equal(at) {
		t.Errorf("expected 001 applied at %v, got %+v", at, statuses[0])
	}
	if statuses[1].Applied || statuses[1].AppliedAt != nil {
		t.Errorf("expected 002 pending, got %+v", statuses[1])
	}
}

func TestLoadMigrations_RepositorySchema(t *testing.T) {
	migrations, err := NewMigrator(nil, "../../../migrations").LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) == 0 || migrations[0].Version != 1 {
		t.Fatalf("expected the lab core migration first, got %+v", migrations)
	}
}
