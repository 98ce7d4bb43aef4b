// Package audit keeps an operator-facing trail of command invocations.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"ltlive/internal/domain"

	_ "modernc.org/sqlite"
)

// Record is a stored audit entry.
type Record struct {
	ID        int64
	CreatedAt time.Time
	domain.AuditEntry
}

// SQLiteStore implements domain.AuditLogger using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ domain.AuditLogger = (*SQLiteStore)(nil)

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Set connection pool (single connection for SQLite)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) LogAudit(ctx context.Context, entry domain.AuditEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (invocation_id, service, guild_id, channel_id, user_id, command, result, details)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.InvocationID, string(entry.Service), entry.GuildID, entry.ChannelID,
		entry.UserID, entry.Command, entry.Result, entry.Details,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, COALESCE(invocation_id, ''), service, COALESCE(guild_id, ''), COALESCE(channel_id, ''),
		        user_id, COALESCE(command, ''), result, COALESCE(details, ''), created_at
		 FROM audit_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var service, createdAt string
		if err := rows.Scan(&r.ID, &r.InvocationID, &service, &r.GuildID, &r.ChannelID,
			&r.UserID, &r.Command, &r.Result, &r.Details, &createdAt); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		r.Service = domain.Service(service)
		r.CreatedAt = parseTimestamp(createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// parseTimestamp accepts both the SQLite CURRENT_TIMESTAMP text form and
// the RFC 3339 form the driver produces for DATETIME columns.
func parseTimestamp(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// DB exposes the underlying handle for diagnostics.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Noop discards audit entries. It is used when the audit trail is disabled.
type Noop struct{}

func (Noop) LogAudit(context.Context, domain.AuditEntry) error { return nil }
