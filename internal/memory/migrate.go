package memory

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

// schemaVersion is the current expected schema version of a history table.
const schemaVersion = 2

// migration represents a single schema migration step. SQL may reference
// {{table}} and {{timestamp}}, which are filled in per table and dialect.
type migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations is the ordered list of history table migrations.
// Each migration is applied exactly once per table, tracked in history_schema.
var migrations = []migration{
	{
		Version:     1,
		Description: "conversation turns",
		SQL: `
		CREATE TABLE IF NOT EXISTS {{table}} (
			id          TEXT PRIMARY KEY,
			owner_id    TEXT NOT NULL,
			role        TEXT NOT NULL,
			content     TEXT NOT NULL,
			created_at  {{timestamp}} NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_{{table}}_owner ON {{table}}(owner_id, created_at);
		`,
	},
	{
		Version:     2,
		Description: "v2: created_at index for retention pruning",
		SQL: `
		CREATE INDEX IF NOT EXISTS idx_{{table}}_created ON {{table}}(created_at);
		`,
	},
}

// runMigrations applies all pending migrations for the given history table.
func runMigrations(ctx context.Context, db *sql.DB, d dialect, table string, logger *slog.Logger) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS history_schema (
			table_name  TEXT NOT NULL,
			version     INTEGER NOT NULL,
			description TEXT,
			applied_at  `+d.timestampType+` DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (table_name, version)
		)
	`); err != nil {
		return fmt.Errorf("create history_schema table: %w", err)
	}

	currentVersion, err := getSchemaVersion(ctx, db, d, table)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		logger.Info("applying migration",
			"table", table,
			"version", m.Version,
			"description", m.Description,
		)
		if err := applyMigration(ctx, db, d, table, m); err != nil {
			return err
		}
		logger.Info("migration applied", "table", table, "version", m.Version)
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, d dialect, table string, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration v%d: %w", m.Version, err)
	}
	defer tx.Rollback()

	for _, stmt := range splitSQL(renderMigration(m.SQL, d, table)) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration v%d statement failed: %w\nSQL: %s", m.Version, err, truncate(stmt, 200))
		}
	}

	if _, err := tx.ExecContext(ctx,
		d.rebind("INSERT INTO history_schema (table_name, version, description) VALUES (?, ?, ?)"),
		table, m.Version, m.Description,
	); err != nil {
		return fmt.Errorf("record migration v%d: %w", m.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration v%d: %w", m.Version, err)
	}
	return nil
}

func renderMigration(sqlText string, d dialect, table string) string {
	return strings.NewReplacer(
		"{{table}}", table,
		"{{timestamp}}", d.timestampType,
	).Replace(sqlText)
}

// splitSQL splits a multi-statement SQL string on semicolons.
func splitSQL(sqlText string) []string {
	var result []string
	for _, s := range strings.Split(sqlText, ";") {
		s = strings.TrimSpace(s)
		if s != "" {
			result = append(result, s)
		}
	}
	return result
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// getSchemaVersion returns the applied schema version of a history table,
// or 0 when nothing has been applied yet.
func getSchemaVersion(ctx context.Context, db *sql.DB, d dialect, table string) (int, error) {
	var version int
	err := db.QueryRowContext(ctx,
		d.rebind("SELECT COALESCE(MAX(version), 0) FROM history_schema WHERE table_name = ?"),
		table,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("query schema version: %w", err)
	}
	return version, nil
}
