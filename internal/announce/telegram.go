package announce

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"ltlive/internal/domain"
	"ltlive/internal/httpx"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramConfig configures the Telegram announcer.
type TelegramConfig struct {
	Token  string
	ChatID int64
	// ChannelUsername posts to a public channel (without the leading @) and
	// takes precedence over ChatID.
	ChannelUsername string
	APIEndpoint     string // default: tgbotapi.APIEndpoint
	HTTPClient      *http.Client
	Logger          *slog.Logger
}

// Telegram posts announcements to a chat or channel through a bot.
type Telegram struct {
	cfg TelegramConfig

	mu  sync.Mutex
	bot *tgbotapi.BotAPI
}

var _ domain.Announcer = (*Telegram)(nil)

func NewTelegram(cfg TelegramConfig) *Telegram {
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = tgbotapi.APIEndpoint
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = httpx.NewClient(30 * time.Second)
	}
	cfg.ChannelUsername = strings.TrimPrefix(cfg.ChannelUsername, "@")
	return &Telegram{cfg: cfg}
}

func (t *Telegram) Name() string { return "telegram" }

// client connects lazily so an unreachable Telegram never blocks startup.
func (t *Telegram) client() (*tgbotapi.BotAPI, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bot != nil {
		return t.bot, nil
	}
	bot, err := tgbotapi.NewBotAPIWithClient(t.cfg.Token, t.cfg.APIEndpoint, t.cfg.HTTPClient)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	t.cfg.Logger.Info("telegram announcer connected", "username", bot.Self.UserName)
	t.bot = bot
	return bot, nil
}

// Post sends text and returns a link to the message when the target is a
// public channel.
func (t *Telegram) Post(ctx context.Context, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	bot, err := t.client()
	if err != nil {
		return "", err
	}

	var msg tgbotapi.MessageConfig
	if t.cfg.ChannelUsername != "" {
		msg = tgbotapi.NewMessageToChannel("@"+t.cfg.ChannelUsername, text)
	} else {
		msg = tgbotapi.NewMessage(t.cfg.ChatID, text)
	}

	sent, err := bot.Send(msg)
	if err != nil {
		return "", fmt.Errorf("telegram send: %w", err)
	}

	if t.cfg.ChannelUsername != "" {
		return fmt.Sprintf("https://t.me/%s/%d", t.cfg.ChannelUsername, sent.MessageID), nil
	}
	chatID := t.cfg.ChatID
	if sent.Chat != nil {
		chatID = sent.Chat.ID
	}
	return fmt.Sprintf("telegram:%d/%d", chatID, sent.MessageID), nil
}
