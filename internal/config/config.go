package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the root configuration for ltlive.
type Config struct {
	General       GeneralConfig       `json:"general"`
	Discord       DiscordConfig       `json:"discord"`
	Twitter       TwitterConfig       `json:"twitter"`
	YouTube       YouTubeConfig       `json:"youtube"`
	Announce      AnnounceConfig      `json:"announce"`
	OBS           OBSConfig           `json:"obs"`
	Overlay       OverlayConfig       `json:"overlay"`
	Presentations PresentationsConfig `json:"presentations"`
	SNS           SNSConfig           `json:"sns"`
	Audit         AuditConfig         `json:"audit"`
	Metrics       MetricsConfig       `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel      string `json:"logLevel"`
	LogFile       string `json:"logFile,omitempty"` // optional log file path
	CommandPrefix string `json:"commandPrefix"`
	HelpURL       string `json:"helpURL"`
}

type DiscordConfig struct {
	Token   string `json:"token"`
	GuildID string `json:"guildId"`
	// OperatorRoleIDs are the roles allowed to run staff commands.
	OperatorRoleIDs FlexStringList `json:"operatorRoleIds"`
}

type TwitterConfig struct {
	Enabled             bool     `json:"enabled"`
	BearerToken         string   `json:"bearerToken,omitempty"`
	Hashtags            []string `json:"hashtags"`
	PollIntervalSeconds int      `json:"pollIntervalSeconds"`
}

type YouTubeConfig struct {
	Enabled             bool   `json:"enabled"`
	Mode                string `json:"mode"` // "api" | "browser"
	APIKey              string `json:"apiKey,omitempty"`
	VideoID             string `json:"videoId"`
	PollIntervalSeconds int    `json:"pollIntervalSeconds"`
	ProfileDir          string `json:"profileDir,omitempty"`
	Headless            bool   `json:"headless"`
}

type AnnounceConfig struct {
	Provider string                 `json:"provider"` // "none" | "twitter" | "telegram" | "slack"
	Twitter  TwitterAnnounceConfig  `json:"twitter"`
	Telegram TelegramAnnounceConfig `json:"telegram"`
	Slack    SlackAnnounceConfig    `json:"slack"`
}

type TwitterAnnounceConfig struct {
	ClientID     string `json:"clientId,omitempty"`
	ClientSecret string `json:"clientSecret,omitempty"`
	AccessToken  string `json:"accessToken,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

type TelegramAnnounceConfig struct {
	Token           string `json:"token,omitempty"`
	ChatID          int64  `json:"chatId,omitempty"`
	ChannelUsername string `json:"channelUsername,omitempty"` // public channel, used to build post links
}

type SlackAnnounceConfig struct {
	BotToken string `json:"botToken,omitempty"`
	Channel  string `json:"channel,omitempty"`
}

type OBSConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password,omitempty"`
}

type OverlayConfig struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Path      string `json:"path"`
	QueueSize int    `json:"queueSize"`
}

type PresentationsConfig struct {
	SnapshotPath string `json:"snapshotPath"`
	StartEmpty   bool   `json:"startEmpty"`
}

type SNSConfig struct {
	StreamURL string `json:"streamUrl"`
	InviteURL string `json:"inviteUrl"`
}

type AuditConfig struct {
	Enabled bool   `json:"enabled"`
	DBPath  string `json:"dbPath"`
}

// MetricsConfig configures the Prometheus text endpoint on the overlay server.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
// Numbers keep every digit, so Discord snowflakes survive unquoted.
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(item))
		dec.UseNumber()
		var n json.Number
		if err := dec.Decode(&n); err == nil {
			result = append(result, n.String())
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// DefaultConfigPath is where `init` writes and `serve` reads by default.
const DefaultConfigPath = "ltlive.json"

// LoadDotEnv loads .env from dir into the environment. Variables already
// set win. A missing file is not an error.
func LoadDotEnv(dir string) error {
	path := filepath.Join(dir, ".env")
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads the config file at path. The .env next to the file is loaded
// first so ${VAR} references can resolve from it.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	if err := LoadDotEnv(filepath.Dir(path)); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Presentations.SnapshotPath = ExpandPath(cfg.Presentations.SnapshotPath)
	cfg.Audit.DBPath = ExpandPath(cfg.Audit.DBPath)
	cfg.YouTube.ProfileDir = ExpandPath(cfg.YouTube.ProfileDir)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if strings.TrimSpace(cfg.General.CommandPrefix) == "" {
		errs = append(errs, "general.commandPrefix is required")
	}

	switch {
	case cfg.Discord.Token == "":
		errs = append(errs, "discord.token is required")
	case unresolved(cfg.Discord.Token):
		errs = append(errs, "discord.token references an unset environment variable")
	}
	if cfg.Discord.GuildID == "" && len(cfg.Discord.OperatorRoleIDs) > 0 {
		errs = append(errs, "discord.guildId is required when operatorRoleIds are set")
	}

	if cfg.Twitter.Enabled {
		if cfg.Twitter.BearerToken == "" || unresolved(cfg.Twitter.BearerToken) {
			errs = append(errs, "twitter.bearerToken is required when twitter is enabled")
		}
		if len(cfg.Twitter.Hashtags) == 0 {
			errs = append(errs, "twitter.hashtags must not be empty")
		}
	}

	switch cfg.YouTube.Mode {
	case "api", "browser":
	default:
		errs = append(errs, "youtube.mode must be one of: api, browser")
	}
	if cfg.YouTube.Enabled {
		if cfg.YouTube.VideoID == "" {
			errs = append(errs, "youtube.videoId is required when youtube is enabled")
		}
		if cfg.YouTube.Mode == "api" && (cfg.YouTube.APIKey == "" || unresolved(cfg.YouTube.APIKey)) {
			errs = append(errs, "youtube.apiKey is required in api mode")
		}
	}

	switch cfg.Announce.Provider {
	case "none", "twitter", "telegram", "slack":
	default:
		errs = append(errs, "announce.provider must be one of: none, twitter, telegram, slack")
	}

	if cfg.OBS.Enabled && !validPort(cfg.OBS.Port) {
		errs = append(errs, "obs.port must be between 1 and 65535")
	}
	if !validPort(cfg.Overlay.Port) {
		errs = append(errs, "overlay.port must be between 1 and 65535")
	}
	if !strings.HasPrefix(cfg.Overlay.Path, "/") {
		errs = append(errs, "overlay.path must start with /")
	}
	if cfg.Overlay.QueueSize < 1 {
		errs = append(errs, "overlay.queueSize must be >= 1")
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
		errs = append(errs, "metrics.endpoint must start with /")
	}

	if strings.TrimSpace(cfg.Presentations.SnapshotPath) == "" {
		errs = append(errs, "presentations.snapshotPath is required")
	}
	if cfg.Audit.Enabled && cfg.Audit.DBPath == "" {
		errs = append(errs, "audit.dbPath is required when audit is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// unresolved reports whether s still holds a ${VAR} reference.
func unresolved(s string) bool { return envVarPattern.MatchString(s) }

func validPort(p int) bool { return p > 0 && p <= 65535 }

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
