// Package memory persists conversation turns per LINE user in SQL.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"linechat/internal/domain"
)

// HistoryWindow is the number of most recent turns fed back to the model.
const HistoryWindow = 10

// StoreConfig configures a SQLStore.
type StoreConfig struct {
	Driver string // sqlite | postgres
	DSN    string // file path for sqlite, connection string for postgres
	Table  string
	Logger *slog.Logger
}

// SQLStore implements domain.HistoryStore over database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	table   string
	logger  *slog.Logger

	now   func() time.Time
	newID func() string
}

// Open connects to the configured database and migrates the history table.
func Open(ctx context.Context, cfg StoreConfig) (*SQLStore, error) {
	d, err := lookupDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}

	dsn := cfg.DSN
	if d.name == "sqlite" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
		if !strings.Contains(dsn, "?") {
			dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_time_format=sqlite"
		}
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.name, err)
	}
	if d.name == "sqlite" {
		// SQLite supports only one writer at a time
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.name, err)
	}

	s, err := newSQLStore(ctx, db, d, cfg.Table, cfg.Logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect, table string, logger *slog.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := runMigrations(ctx, db, d, table, logger); err != nil {
		return nil, fmt.Errorf("migrate %s: %w", table, err)
	}
	return &SQLStore{
		db:      db,
		dialect: d,
		table:   table,
		logger:  logger,
		now:     time.Now,
		newID:   uuid.NewString,
	}, nil
}

// FetchRecent returns up to HistoryWindow turns for ownerID, oldest first.
func (s *SQLStore) FetchRecent(ctx context.Context, ownerID string) ([]domain.Turn, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(
		"SELECT role, content FROM "+s.table+" WHERE owner_id = ? ORDER BY created_at DESC LIMIT ?"),
		ownerID, HistoryWindow,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var turns []domain.Turn
	for rows.Next() {
		var t domain.Turn
		if err := rows.Scan(&t.Role, &t.Content); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}

	slices.Reverse(turns)
	return turns, nil
}

// AppendTurns records turns for ownerID. Each turn is written independently
// and all are attempted; the first error is returned.
func (s *SQLStore) AppendTurns(ctx context.Context, ownerID string, turns []domain.Turn) error {
	query := s.dialect.rebind(
		"INSERT INTO " + s.table + " (id, owner_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)")

	now := s.now().UTC()
	var firstErr error
	for i, t := range turns {
		// Turns of one call keep their order even on a coarse clock.
		createdAt := now.Add(time.Duration(i) * time.Microsecond)
		id := s.newID()
		if _, err := s.db.ExecContext(ctx, query, id, ownerID, t.Role, t.Content, createdAt); err != nil {
			s.logger.Error("append turn failed", "owner", ownerID, "role", t.Role, "err", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("insert %s turn: %w", t.Role, err)
			}
			continue
		}
		s.logger.Debug("turn appended", "owner", ownerID, "role", t.Role, "id", id)
	}
	return firstErr
}

// ListTurns returns up to limit most recent stored turns for ownerID,
// oldest first. A limit <= 0 returns every turn.
func (s *SQLStore) ListTurns(ctx context.Context, ownerID string, limit int) ([]domain.ConversationTurn, error) {
	q := "SELECT id, owner_id, role, content, created_at FROM " + s.table +
		" WHERE owner_id = ? ORDER BY created_at DESC"
	args := []any{ownerID}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var turns []domain.ConversationTurn
	for rows.Next() {
		var t domain.ConversationTurn
		if err := rows.Scan(&t.ID, &t.OwnerID, &t.Role, &t.Content, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}

	slices.Reverse(turns)
	return turns, nil
}

// Prune deletes turns older than maxAge and reports how many were removed.
func (s *SQLStore) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := s.now().UTC().Add(-maxAge)
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(
		"DELETE FROM "+s.table+" WHERE created_at < ?"), cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	s.logger.Info("history pruned", "table", s.table, "removed", n, "cutoff", cutoff)
	return n, nil
}

// Ping checks the database connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
