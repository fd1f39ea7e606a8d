package database

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func schemaVersion(t *testing.T, db *DB) int {
	t.Helper()
	version, err := getSchemaVersion(db.conn)
	if err != nil {
		t.Fatalf("getSchemaVersion: %v", err)
	}
	return version
}

func TestMigrateNewDB(t *testing.T) {
	db := openTestDB(t)
	if got := schemaVersion(t, db); got != latestVersion() {
		t.Errorf("expected version %d, got %d", latestVersion(), got)
	}
	for _, table := range []string{"runs", "model_scores", "user_results"} {
		var n int
		if err := db.conn.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
			t.Errorf("table %s not created: %v", table, err)
		}
	}
}

func TestMigrateKeepsHistory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")

	db1, err := Open(dbPath, nil)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	id, _ := db1.InsertRun(Run{OutputDir: "out"})
	db1.Close()

	db2, err := Open(dbPath, nil)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer db2.Close()

	if got := schemaVersion(t, db2); got != latestVersion() {
		t.Errorf("expected version %d, got %d", latestVersion(), got)
	}
	run, err := db2.GetRun(id)
	if err != nil || run == nil {
		t.Errorf("expected run to survive reopening, got %v, %v", run, err)
	}
}

func TestMigrateRejectsNewerSchema(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "newer.db")

	// A history written by a later release.
	raw, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	if _, err := raw.Exec(fmt.Sprintf("PRAGMA user_version = %d", latestVersion()+1)); err != nil {
		t.Fatalf("stamp version: %v", err)
	}
	raw.Close()

	_, err = Open(dbPath, nil)
	var sve *SchemaVersionError
	if !errors.As(err, &sve) {
		t.Fatalf("expected SchemaVersionError, got %v", err)
	}
	if sve.Found != latestVersion()+1 || sve.Supported != latestVersion() {
		t.Errorf("unexpected versions in %+v", sve)
	}
}
