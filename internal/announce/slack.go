package announce

import (
	"context"
	"fmt"
	"log/slog"

	"ltlive/internal/domain"

	"github.com/slack-go/slack"
)

// SlackConfig configures the Slack announcer.
type SlackConfig struct {
	BotToken string
	Channel  string
	APIURL   string // optional override, used in tests
	Logger   *slog.Logger
}

// Slack posts announcements to a Slack channel.
type Slack struct {
	client  *slack.Client
	channel string
	logger  *slog.Logger
}

var _ domain.Announcer = (*Slack)(nil)

func NewSlack(cfg SlackConfig) *Slack {
	var opts []slack.Option
	if cfg.APIURL != "" {
		opts = append(opts, slack.OptionAPIURL(cfg.APIURL))
	}
	return &Slack{
		client:  slack.New(cfg.BotToken, opts...),
		channel: cfg.Channel,
		logger:  cfg.Logger,
	}
}

func (s *Slack) Name() string { return "slack" }

// Post sends text and returns the message permalink.
func (s *Slack) Post(ctx context.Context, text string) (string, error) {
	channelID, ts, err := s.client.PostMessageContext(ctx, s.channel,
		slack.MsgOptionText(text, false),
		slack.MsgOptionDisableLinkUnfurl(),
	)
	if err != nil {
		return "", fmt.Errorf("slack post: %w", err)
	}

	link, err := s.client.GetPermalinkContext(ctx, &slack.PermalinkParameters{Channel: channelID, Ts: ts})
	if err != nil {
		s.logger.Warn("slack permalink lookup failed", "channel_id", channelID, "ts", ts, "err", err)
		return fmt.Sprintf("slack:%s/%s", channelID, ts), nil
	}
	return link, nil
}
