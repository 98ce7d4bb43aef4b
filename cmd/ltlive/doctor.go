package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"ltlive/internal/config"
	"ltlive/internal/obs"
	"ltlive/internal/queue"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks before going live",
		Long: `Verifies that the configuration, presentation snapshot, audit database,
overlay port and OBS connection are ready. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("ltlive doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'ltlive init' to create a default configuration.\n")
				return errors.New("config file missing")
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				fmt.Printf("\n%d passed, 1 failed\n", passed)
				return err
			}
			printPass("Config validation", "valid")
			passed++

			// 3. Operator roles
			if len(cfg.Discord.OperatorRoleIDs) == 0 {
				printWarn("Operator roles", "none configured, every command will be denied")
				warned++
			} else {
				printPass("Operator roles", fmt.Sprintf("%d role(s) in guild %s", len(cfg.Discord.OperatorRoleIDs), cfg.Discord.GuildID))
				passed++
			}

			// 4. Presentation snapshot
			list, err := queue.Load(cfg.Presentations.SnapshotPath)
			switch {
			case err == nil:
				printPass("Snapshot", fmt.Sprintf("%s (%d queued)", cfg.Presentations.SnapshotPath, len(list)))
				passed++
			case errors.Is(err, os.ErrNotExist) && cfg.Presentations.StartEmpty:
				printWarn("Snapshot", "missing, an empty one will be created")
				warned++
			default:
				printFail("Snapshot", err.Error())
				failed++
			}

			// 5. Audit database writable
			if cfg.Audit.Enabled {
				if err := checkDatabase(cfg.Audit.DBPath); err != nil {
					printFail("Audit database", err.Error())
					failed++
				} else {
					printPass("Audit database", cfg.Audit.DBPath)
					passed++
				}
			}

			// 6. Overlay port
			if err := checkPort(cfg.Overlay.Host, cfg.Overlay.Port); err != nil {
				printWarn("Overlay port", fmt.Sprintf("port %d may be in use: %v", cfg.Overlay.Port, err))
				warned++
			} else {
				printPass("Overlay port", fmt.Sprintf("%s:%d available", cfg.Overlay.Host, cfg.Overlay.Port))
				passed++
			}

			// 7. OBS reachable
			if cfg.OBS.Enabled {
				ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
				v, err := obs.New(obs.Config{Host: cfg.OBS.Host, Port: cfg.OBS.Port, Password: cfg.OBS.Password, Logger: logger}).Version(ctx)
				cancel()
				if err != nil {
					printWarn("OBS", err.Error())
					warned++
				} else {
					printPass("OBS", "websocket "+v)
					passed++
				}
			}

			// 8. Announcer
			if cfg.Announce.Provider == "none" {
				printWarn("Announcer", "none, tweets will only be logged")
				warned++
			} else {
				printPass("Announcer", cfg.Announce.Provider)
				passed++
			}

			// 9. Check log file writable
			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before going live.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nltlive should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! Ready to go live.\n")
			}
			return nil
		},
	}
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}

	// Try a write.
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	_, _ = db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")

	return nil
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return err
	}
	return ln.Close()
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
