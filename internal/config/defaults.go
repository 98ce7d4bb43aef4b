package config

import "ltlive/internal/dispatch"

// Defaults returns the configuration `init` writes. Secrets are left as
// environment references.
func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:      "info",
			CommandPrefix: "g!live",
			HelpURL:       dispatch.DefaultHelpURL,
		},
		Discord: DiscordConfig{
			Token: "${DISCORD_TOKEN}",
		},
		Twitter: TwitterConfig{
			Enabled:             false,
			BearerToken:         "${TWITTER_BEARER_TOKEN}",
			Hashtags:            []string{"#限界LT"},
			PollIntervalSeconds: 15,
		},
		YouTube: YouTubeConfig{
			Enabled:             false,
			Mode:                "api",
			APIKey:              "${YOUTUBE_API_KEY}",
			PollIntervalSeconds: 5,
			Headless:            true,
		},
		Announce: AnnounceConfig{
			Provider: "none",
		},
		OBS: OBSConfig{
			Enabled: false,
			Host:    "localhost",
			Port:    4455,
		},
		Overlay: OverlayConfig{
			Host:      "127.0.0.1",
			Port:      8080,
			Path:      "/ws",
			QueueSize: 64,
		},
		Presentations: PresentationsConfig{
			SnapshotPath: "./temp_presentations.yaml",
		},
		Audit: AuditConfig{
			Enabled: false,
			DBPath:  "./ltlive-audit.db",
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
	}
}
