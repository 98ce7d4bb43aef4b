package audit

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

const schemaVersion = 2

type migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations must stay ordered by Version.
var migrations = []migration{
	{
		Version:     1,
		Description: "base schema: audit_log",
		SQL: `
		CREATE TABLE IF NOT EXISTS audit_log (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			invocation_id TEXT,
			service       TEXT NOT NULL,
			guild_id      TEXT,
			channel_id    TEXT,
			user_id       TEXT NOT NULL,
			command       TEXT,
			result        TEXT NOT NULL,
			details       TEXT,
			created_at    DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_audit_time ON audit_log(created_at);
		`,
	},
	{
		Version:     2,
		Description: "v2: per-user lookup index",
		SQL: `
		CREATE INDEX IF NOT EXISTS idx_audit_user ON audit_log(user_id, created_at);
		`,
	},
}

// RunMigrations brings db up to schemaVersion. Each step runs in its own
// transaction together with its schema_version row.
func RunMigrations(db *sql.DB, logger *slog.Logger) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	applied, err := GetSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("query schema version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= applied {
			continue
		}
		if err := m.apply(db); err != nil {
			return fmt.Errorf("audit migration v%d (%s): %w", m.Version, m.Description, err)
		}
		logger.Info("audit schema migrated", "version", m.Version, "description", m.Description)
	}
	return nil
}

func (m migration) apply(db *sql.DB) (err error) {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, stmt := range strings.Split(m.SQL, ";") {
		if stmt = strings.TrimSpace(stmt); stmt == "" {
			continue
		}
		if _, err = tx.Exec(stmt); err != nil {
			return err
		}
	}
	if _, err = tx.Exec(
		"INSERT INTO schema_version (version, description) VALUES (?, ?)",
		m.Version, m.Description,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// GetSchemaVersion returns the current schema version from the database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	var n int
	if err := db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&n); err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}

	var version int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}
