package memory

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_time_format=sqlite")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestRunMigrations_FreshDB(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	d := dialects["sqlite"]

	if err := runMigrations(ctx, db, d, "turns", testLogger()); err != nil {
		t.Fatalf("runMigrations failed: %v", err)
	}

	version, err := getSchemaVersion(ctx, db, d, "turns")
	if err != nil {
		t.Fatal(err)
	}
	if version != schemaVersion {
		t.Errorf("expected schema version %d, got %d", schemaVersion, version)
	}
}

func TestRunMigrations_Idempotent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	d := dialects["sqlite"]

	if err := runMigrations(ctx, db, d, "turns", testLogger()); err != nil {
		t.Fatalf("first migration failed: %v", err)
	}
	if err := runMigrations(ctx, db, d, "turns", testLogger()); err != nil {
		t.Fatalf("second migration failed: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM history_schema WHERE table_name = 'turns'").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != len(migrations) {
		t.Errorf("expected %d recorded migrations, got %d", len(migrations), count)
	}
}

func TestRunMigrations_TracksTablesSeparately(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	d := dialects["sqlite"]

	for _, table := range []string{"bot_a", "bot_b"} {
		if err := runMigrations(ctx, db, d, table, testLogger()); err != nil {
			t.Fatalf("migrate %s: %v", table, err)
		}
	}

	for _, table := range []string{"bot_a", "bot_b", "history_schema"} {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}
}

func TestGetSchemaVersion_Unmigrated(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	d := dialects["sqlite"]

	if err := runMigrations(ctx, db, d, "turns", testLogger()); err != nil {
		t.Fatal(err)
	}
	version, err := getSchemaVersion(ctx, db, d, "other")
	if err != nil {
		t.Fatal(err)
	}
	if version != 0 {
		t.Errorf("expected version 0 for unmigrated table, got %d", version)
	}
}

func TestSplitSQL(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected int
	}{
		{"empty", "", 0},
		{"single", "CREATE TABLE t (id INT)", 1},
		{"multiple", "CREATE TABLE t1 (id INT); CREATE TABLE t2 (id INT)", 2},
		{"trailing semicolon", "CREATE TABLE t (id INT);", 1},
		{"whitespace", "  CREATE TABLE t (id INT)  ;  ", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := splitSQL(tt.input)
			if len(result) != tt.expected {
				t.Errorf("expected %d statements, got %d: %v", tt.expected, len(result), result)
			}
		})
	}
}

func TestRenderMigration(t *testing.T) {
	got := renderMigration("CREATE TABLE {{table}} (at {{timestamp}})", dialects["postgres"], "turns")
	want := "CREATE TABLE turns (at TIMESTAMPTZ)"
	if got != want {
		t.Errorf("renderMigration = %q, want %q", got, want)
	}
}

func TestRebind(t *testing.T) {
	q := "INSERT INTO t (a, b, c) VALUES (?, ?, ?)"
	if got := dialects["sqlite"].rebind(q); got != q {
		t.Errorf("sqlite rebind changed query: %q", got)
	}
	want := "INSERT INTO t (a, b, c) VALUES ($1, $2, $3)"
	if got := dialects["postgres"].rebind(q); got != want {
		t.Errorf("postgres rebind = %q, want %q", got, want)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("hello", 10); got != "hello" {
		t.Errorf("expected 'hello', got %q", got)
	}
	if got := truncate("hello world", 5); got != "hello..." {
		t.Errorf("expected 'hello...', got %q", got)
	}
}
