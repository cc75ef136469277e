package store

import (
	"path/filepath"
	"testing"
)

// testDB opens an in-memory database for tests.
func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenMemory(t *testing.T) {
	db := testDB(t)
	if db.Path != ":memory:" {
		t.Errorf("Path = %q, want :memory:", db.Path)
	}
}

func TestSchemaVersion(t *testing.T) {
	db := testDB(t)

	v, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != 6 {
		t.Errorf("SchemaVersion = %d, want 6", v)
	}
}

func TestTablesExist(t *testing.T) {
	db := testDB(t)

	tables := []string{"memories", "access_log", "graph_links", "hebbian_links", "memory_vectors"}
	for _, table := range tables {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name = ?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}
}

func TestExportTo(t *testing.T) {
	db := testDB(t)
	mustCreate(t, db, "mem-1", "survives the export", "factual")

	path := filepath.Join(t.TempDir(), "backup.db")
	if err := db.ExportTo(path); err != nil {
		t.Fatalf("ExportTo: %v", err)
	}

	snap, err := Open(path)
	if err != nil {
		t.Fatalf("open exported db: %v", err)
	}
	defer snap.Close()

	m, err := snap.GetMemory("mem-1")
	if err != nil {
		t.Fatalf("GetMemory on snapshot: %v", err)
	}
	if m == nil {
		t.Fatal("expected mem-1 in the exported database")
	}

	// An existing target is refused, not clobbered.
	if err := db.ExportTo(path); err == nil {
		t.Error("expected error exporting over an existing file")
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	db := testDB(t)

	// Running migrate again on an up-to-date schema must be a no-op.
	if err := db.migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	v, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != 6 {
		t.Errorf("SchemaVersion = %d, want 6", v)
	}
}
