package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ltlive/internal/announce"
	"ltlive/internal/audit"
	"ltlive/internal/browser"
	"ltlive/internal/bus"
	"ltlive/internal/channel"
	"ltlive/internal/command"
	"ltlive/internal/config"
	"ltlive/internal/dispatch"
	"ltlive/internal/domain"
	"ltlive/internal/obs"
	"ltlive/internal/overlay"
	"ltlive/internal/queue"
	"ltlive/internal/security"
	"ltlive/internal/supervise"

	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var fresh bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bot, the overlay server and the chat sources",
		Long:  "Connects to Discord, serves the overlay websocket and forwards Twitter and YouTube chat. Press Ctrl+C to stop.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(fresh)
		},
	}
	cmd.Flags().BoolVar(&fresh, "fresh", false, "start with an empty presentation queue when no snapshot exists")
	return cmd
}

func runServe(fresh bool) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if fresh {
		cfg.Presentations.StartEmpty = true
	}

	log, logCloser, err := newLogger(cfg.General)
	if err != nil {
		return err
	}
	defer logCloser.Close()
	logger = log

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	presentations, err := queue.Open(cfg.Presentations.SnapshotPath, queue.Options{StartEmpty: cfg.Presentations.StartEmpty}, logger)
	if err != nil {
		if errors.Is(err, queue.ErrNoSnapshot) {
			return fmt.Errorf("%w (run 'ltlive queue init' or pass --fresh)", err)
		}
		return err
	}

	events := overlay.NewQueue(cfg.Overlay.QueueSize, logger)
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Endpoint
	}
	overlaySrv := overlay.NewServer(overlay.ServerConfig{
		Host:        cfg.Overlay.Host,
		Port:        cfg.Overlay.Port,
		Path:        cfg.Overlay.Path,
		MetricsPath: metricsPath,
		Queue:       events,
		Logger:      logger,
	})

	var auditLog domain.AuditLogger = audit.Noop{}
	if cfg.Audit.Enabled {
		store, err := audit.NewSQLiteStore(cfg.Audit.DBPath, logger)
		if err != nil {
			return fmt.Errorf("audit store: %w", err)
		}
		defer store.Close()
		auditLog = store
	}

	announcer := newAnnouncer(ctx, cfg.Announce, cfgPath, logger)
	stream := newStreamControl(cfg.OBS, logger)

	// Message bus (closed during shutdown below)
	messageBus := bus.New(100, logger)
	defer messageBus.Close()

	state := dispatch.NewListenerState()
	discord := channel.NewDiscord(channel.DiscordConfig{
		Token:   cfg.Discord.Token,
		GuildID: cfg.Discord.GuildID,
		Bus:     messageBus,
		OnReady: state.SetSelf,
		Logger:  logger,
	})

	authorizer := security.NewRoleAuthorizer(security.RoleAuthorizerConfig{
		Roles:   discord,
		GuildID: cfg.Discord.GuildID,
		RoleIDs: cfg.Discord.OperatorRoleIDs,
		Audit:   auditLog,
		Logger:  logger,
	})

	dispatcher := dispatch.New(dispatch.Config{
		Queue:     presentations,
		Overlay:   events,
		Announcer: announcer,
		Stream:    stream,
		Users:     discord,
		State:     state,
		GuildID:   cfg.Discord.GuildID,
		SNS: dispatch.SNS{
			StreamURL: cfg.SNS.StreamURL,
			InviteURL: cfg.SNS.InviteURL,
			Hashtags:  cfg.Twitter.Hashtags,
		},
		HelpURL: cfg.General.HelpURL,
		Prefix:  cfg.General.CommandPrefix,
		Logger:  logger,
	})

	router := dispatch.NewRouter(dispatch.RouterConfig{
		Parser:     command.NewParser(cfg.General.CommandPrefix),
		Dispatcher: dispatcher,
		Authorizer: authorizer,
		Gateway:    discord,
		Overlay:    events,
		Logger:     logger,
	})

	tasks := []supervise.Task{
		supervise.FromSource(overlaySrv),
		supervise.FromSource(discord),
		{Name: "router", Run: func(ctx context.Context) error { return router.Run(ctx, messageBus) }},
	}
	for _, src := range chatSources(cfg, events, logger) {
		tasks = append(tasks, supervise.FromSource(src))
	}

	logger.Info("ltlive started. Press Ctrl+C to stop.",
		"version", version,
		"overlay", fmt.Sprintf("ws://%s%s", overlaySrv.Addr(), cfg.Overlay.Path),
		"announcer", announcer.Name(),
		"queued", presentations.Len(),
		"tasks", len(tasks),
	)

	err = supervise.Run(ctx, supervise.Config{Logger: logger}, tasks...)
	logger.Info("shutdown complete")
	return err
}

// newAnnouncer picks the configured announcement service. Unknown
// providers are rejected by config validation. Rotated Twitter tokens are
// written back to the config file at cfgPath.
func newAnnouncer(ctx context.Context, ac config.AnnounceConfig, cfgPath string, logger *slog.Logger) domain.Announcer {
	switch ac.Provider {
	case "twitter":
		return announce.NewTwitter(ctx, announce.TwitterConfig{
			ClientID:     ac.Twitter.ClientID,
			ClientSecret: ac.Twitter.ClientSecret,
			AccessToken:  ac.Twitter.AccessToken,
			RefreshToken: ac.Twitter.RefreshToken,
			OnTokenRefresh: func(accessToken, refreshToken string) error {
				skipped, err := config.UpdateTwitterTokens(cfgPath, accessToken, refreshToken)
				if len(skipped) > 0 {
					logger.Warn("rotated twitter token not stored for env-backed fields; update the environment before restarting", "fields", skipped)
				}
				return err
			},
			Logger: logger,
		})
	case "telegram":
		return announce.NewTelegram(announce.TelegramConfig{
			Token:           ac.Telegram.Token,
			ChatID:          ac.Telegram.ChatID,
			ChannelUsername: ac.Telegram.ChannelUsername,
			Logger:          logger,
		})
	case "slack":
		return announce.NewSlack(announce.SlackConfig{
			BotToken: ac.Slack.BotToken,
			Channel:  ac.Slack.Channel,
			Logger:   logger,
		})
	default:
		return announce.Noop{Logger: logger}
	}
}

func newStreamControl(oc config.OBSConfig, logger *slog.Logger) domain.StreamControl {
	if !oc.Enabled {
		return obs.Noop{}
	}
	return obs.New(obs.Config{
		Host:     oc.Host,
		Port:     oc.Port,
		Password: oc.Password,
		Logger:   logger,
	})
}

// chatSources builds the enabled viewer chat listeners. They publish
// straight to the overlay queue.
func chatSources(cfg *config.Config, events overlay.Publisher, logger *slog.Logger) []domain.Source {
	var sources []domain.Source

	if cfg.Twitter.Enabled {
		sources = append(sources, channel.NewTwitter(channel.TwitterConfig{
			BearerToken:  cfg.Twitter.BearerToken,
			Hashtags:     cfg.Twitter.Hashtags,
			PollInterval: seconds(cfg.Twitter.PollIntervalSeconds),
			Overlay:      events,
			Logger:       logger,
		}))
	}

	if cfg.YouTube.Enabled {
		switch cfg.YouTube.Mode {
		case "browser":
			sources = append(sources, browser.NewLiveChat(browser.LiveChatConfig{
				Bridge: browser.NewBridge(browser.BridgeConfig{
					ProfileDir: cfg.YouTube.ProfileDir,
					Headless:   cfg.YouTube.Headless,
					Logger:     logger,
				}),
				VideoID: cfg.YouTube.VideoID,
				Overlay: events,
				Logger:  logger,
			}))
		default:
			sources = append(sources, channel.NewYouTube(channel.YouTubeConfig{
				APIKey:       cfg.YouTube.APIKey,
				VideoID:      cfg.YouTube.VideoID,
				PollInterval: seconds(cfg.YouTube.PollIntervalSeconds),
				Overlay:      events,
				Logger:       logger,
			}))
		}
	}

	return sources
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
