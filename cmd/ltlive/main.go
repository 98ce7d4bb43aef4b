package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"ltlive/internal/audit"
	"ltlive/internal/browser"
	"ltlive/internal/command"
	"ltlive/internal/config"
	"ltlive/internal/queue"

	"github.com/spf13/cobra"
)

var (
	version    = "0.3.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "ltlive",
		Short:   "ltlive: lightning talk control room bot",
		Long:    "ltlive drives the lightning talk overlay from Discord staff commands and forwards Twitter and YouTube chat to the timeline.",
		Version: version,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: ./"+config.DefaultConfigPath+")")

	root.AddCommand(serveCmd())
	root.AddCommand(initCmd())
	root.AddCommand(configCmd())
	root.AddCommand(queueCmd())
	root.AddCommand(parseCmd())
	root.AddCommand(auditCmd())
	root.AddCommand(youtubeCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(restoreCmd())

	daemon := &cobra.Command{Use: "daemon", Short: "Manage the ltlive system service"}
	daemon.AddCommand(installDaemonCmd(), uninstallDaemonCmd())
	root.AddCommand(daemon)

	return root
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath
}

// newLogger builds the process logger from the general config section.
// The returned closer releases the log file, if any.
func newLogger(gc config.GeneralConfig) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(gc.LogLevel)); err != nil {
		return nil, nil, fmt.Errorf("log level %q: %w", gc.LogLevel, err)
	}

	var w io.Writer = os.Stderr
	var closer io.Closer = io.NopCloser(nil)
	if gc.LogFile != "" {
		f, err := os.OpenFile(gc.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w = io.MultiWriter(os.Stderr, f)
		closer = f
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), closer, nil
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			fmt.Fprintln(cmd.OutOrStdout(), "Set DISCORD_TOKEN in the environment or in .env next to the config, then run 'ltlive serve'.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. overlay.port)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. announce.provider slack)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), resolveConfigPath())
		},
	})

	return cmd
}

// snapshotPath reads the snapshot location from the config, falling back
// to the default when no config exists yet.
func snapshotPath() string {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return config.Defaults().Presentations.SnapshotPath
	}
	return cfg.Presentations.SnapshotPath
}

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the presentation snapshot offline",
	}

	var file string
	cmd.PersistentFlags().StringVarP(&file, "file", "f", "", "snapshot file (default: presentations.snapshotPath)")
	path := func() string {
		if file != "" {
			return file
		}
		return snapshotPath()
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print the queued presentations",
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := queue.Load(path())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), queue.Format(list))
			return nil
		},
	})

	var force bool
	initQueue := &cobra.Command{
		Use:   "init",
		Short: "Create an empty snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := path()
			if _, err := os.Stat(p); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to empty it)", p)
			}
			if err := queue.Save(p, nil); err != nil {
				return err
			}
			logger.Info("empty snapshot written", "path", p)
			return nil
		},
	}
	initQueue.Flags().BoolVar(&force, "force", false, "empty an existing snapshot")
	cmd.AddCommand(initQueue)

	return cmd
}

func parseCmd() *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "parse <text...>",
		Short: "Show how a chat line would be parsed",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), describeParse(command.NewParser(prefix), strings.Join(args, " ")))
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", command.DefaultPrefix, "command prefix")
	return cmd
}

func describeParse(p *command.Parser, line string) string {
	c := p.Parse(line)
	if c == nil {
		return "not a command"
	}
	return fmt.Sprintf("%s %+v", command.Name(c), c)
}

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Read the command audit trail",
	}

	var limit int
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the most recent command decisions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if !cfg.Audit.Enabled {
				return errors.New("audit is disabled (set audit.enabled to true)")
			}
			store, err := audit.NewSQLiteStore(cfg.Audit.DBPath, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tRESULT\tUSER\tCHANNEL\tCOMMAND\tDETAILS")
			for _, r := range records {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					r.CreatedAt.Local().Format("01-02 15:04:05"), r.Result, r.UserID, r.ChannelID, r.Command, r.Details)
			}
			return tw.Flush()
		},
	}
	tail.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries")
	cmd.AddCommand(tail)
	return cmd
}

func youtubeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "youtube",
		Short: "YouTube live chat helpers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "login",
		Short: "Open a browser to sign in to YouTube for the browser chat source",
		Long:  "Opens a visible Chrome window with the profile used by youtube.mode=browser. Press Ctrl+C after signing in.",
		RunE: func(cmd *cobra.Command, args []string) error {
			profile := browser.DefaultProfileDir()
			if cfg, err := config.Load(resolveConfigPath()); err == nil && cfg.YouTube.ProfileDir != "" {
				profile = cfg.YouTube.ProfileDir
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			b := browser.NewBridge(browser.BridgeConfig{ProfileDir: profile, Logger: logger})
			return b.Login(ctx, browser.LoginURL)
		},
	})
	return cmd
}
