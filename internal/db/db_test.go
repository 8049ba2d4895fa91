package db

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := New(dbPath, testLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer db.Close()

	tables := []string{"metadata", "markers", "_migrations"}
	for _, table := range tables {
		var name string
		err := db.Conn().QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}
}

func TestWALMode(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := New(dbPath, testLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer db.Close()

	var mode string
	if err := db.Conn().QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("querying journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db1, err := New(dbPath, testLogger())
	if err != nil {
		t.Fatalf("first New failed: %v", err)
	}

	var count1 int
	if err := db1.Conn().QueryRow("SELECT COUNT(*) FROM _migrations").Scan(&count1); err != nil {
		t.Fatalf("counting migrations: %v", err)
	}
	db1.Close()

	db2, err := New(dbPath, testLogger())
	if err != nil {
		t.Fatalf("second New failed: %v", err)
	}
	defer db2.Close()

	var count2 int
	if err := db2.Conn().QueryRow("SELECT COUNT(*) FROM _migrations").Scan(&count2); err != nil {
		t.Fatalf("counting migrations after reopen: %v", err)
	}

	if count1 != count2 {
		t.Errorf("migration count changed on reopen: %d -> %d", count1, count2)
	}
	if count1 == 0 {
		t.Error("no migrations recorded")
	}
}

func TestSchemaVersionRecorded(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := New(dbPath, testLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer db.Close()

	var version string
	err = db.Conn().QueryRow("SELECT value FROM metadata WHERE key = 'schema_version'").Scan(&version)
	if err != nil {
		t.Fatalf("schema_version not recorded: %v", err)
	}
	if version != "2" {
		t.Errorf("schema_version = %q, want %q", version, "2")
	}
}
