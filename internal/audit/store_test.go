package audit

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"ltlive/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "audit.db"), testLogger())
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLogAuditAndRecent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	entries := []domain.AuditEntry{
		{InvocationID: "a", Service: domain.ServiceDiscord, GuildID: "g", ChannelID: "c", UserID: "1", Command: "pause", Result: domain.AuditAllowed},
		{InvocationID: "b", Service: domain.ServiceDiscord, UserID: "2", Command: "presentations.pop", Result: domain.AuditDenied, Details: "no operator role"},
	}
	for _, e := range entries {
		if err := s.LogAudit(ctx, e); err != nil {
			t.Fatalf("LogAudit: %v", err)
		}
	}

	got, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	if got[0].InvocationID != "b" || got[0].Result != domain.AuditDenied || got[0].Details != "no operator role" {
		t.Errorf("newest record = %+v", got[0])
	}
	if got[1].AuditEntry != entries[0] {
		t.Errorf("oldest record = %+v, want %+v", got[1].AuditEntry, entries[0])
	}
	if got[1].CreatedAt.IsZero() {
		t.Error("created_at not populated")
	}
}

func TestRecent_Limit(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		s.LogAudit(ctx, domain.AuditEntry{Service: domain.ServiceDiscord, UserID: "u", Result: domain.AuditAllowed})
	}

	got, err := s.Recent(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Errorf("got %d, want 3", len(got))
	}
}

func TestNoop(t *testing.T) {
	var l domain.AuditLogger = Noop{}
	if err := l.LogAudit(context.Background(), domain.AuditEntry{}); err != nil {
		t.Fatal(err)
	}
}

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db")+"?_journal_mode=WAL")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunMigrations_FreshDB(t *testing.T) {
	db := testDB(t)
	if err := RunMigrations(db, testLogger()); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}
	version, err := GetSchemaVersion(db)
	if err != nil {
		t.Fatal(err)
	}
	if version != schemaVersion {
		t.Errorf("schema version = %d, want %d", version, schemaVersion)
	}
}

func TestRunMigrations_Idempotent(t *testing.T) {
	db := testDB(t)
	for i := 0; i < 2; i++ {
		if err := RunMigrations(db, testLogger()); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != len(migrations) {
		t.Errorf("schema_version rows = %d, want %d", n, len(migrations))
	}
}

func TestParseTimestamp(t *testing.T) {
	if got := parseTimestamp("2026-03-01 10:20:30"); got.Year() != 2026 || got.Second() != 30 {
		t.Errorf("sqlite form parsed as %v", got)
	}
	if got := parseTimestamp("2026-03-01T10:20:30Z"); got.Hour() != 10 {
		t.Errorf("rfc3339 form parsed as %v", got)
	}
	if !parseTimestamp("garbage").IsZero() {
		t.Error("garbage parsed")
	}
}

func TestGetSchemaVersion_Empty(t *testing.T) {
	db := testDB(t)
	v, err := GetSchemaVersion(db)
	if err != nil || v != 0 {
		t.Errorf("version = %d, err = %v", v, err)
	}
}
