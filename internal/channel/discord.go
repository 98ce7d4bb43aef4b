// Package channel connects ltlive to the chat services it listens to.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"ltlive/internal/domain"

	"github.com/bwmarrin/discordgo"
)

const (
	discordMaxMsgLen = 2000
)

var errDiscordNotConnected = errors.New("discord session not connected")

// Discord is the staff chat gateway. It publishes inbound messages to the
// bus, sends replies, and answers user and role lookups.
type Discord struct {
	token   string
	guildID string
	bus     domain.MessageBus
	onReady func(self domain.Identity)
	logger  *slog.Logger

	mu      sync.RWMutex
	session *discordgo.Session
}

var (
	_ domain.Source       = (*Discord)(nil)
	_ domain.ChatGateway  = (*Discord)(nil)
	_ domain.UserResolver = (*Discord)(nil)
)

// DiscordConfig configures the Discord gateway.
type DiscordConfig struct {
	Token   string
	GuildID string // home guild; messages from other guilds are ignored
	Bus     domain.MessageBus
	// OnReady receives the bot's own identity after every handshake.
	OnReady func(self domain.Identity)
	Logger  *slog.Logger
}

// NewDiscord creates a new Discord gateway.
func NewDiscord(cfg DiscordConfig) *Discord {
	return &Discord{
		token:   cfg.Token,
		guildID: cfg.GuildID,
		bus:     cfg.Bus,
		onReady: cfg.OnReady,
		logger:  cfg.Logger,
	}
}

func (d *Discord) Name() string { return "discord" }

// Start connects to Discord and blocks until ctx is cancelled.
func (d *Discord) Start(ctx context.Context) error {
	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent

	session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		d.logger.Info("discord bot ready", "user", r.User.Username, "user_id", r.User.ID)
		if d.onReady != nil {
			d.onReady(domain.Identity{Service: domain.ServiceDiscord, UserID: r.User.ID})
		}
	})

	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		msg, ok := d.inbound(m)
		if !ok {
			return
		}
		d.logger.Debug("discord message received",
			"user_id", msg.Author.UserID,
			"channel_id", msg.ChannelID,
			"content_len", len(msg.Content),
		)
		d.bus.Publish(msg)
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}

	d.mu.Lock()
	d.session = session
	d.mu.Unlock()

	<-ctx.Done()
	d.logger.Info("discord bot disconnecting")

	d.mu.Lock()
	d.session = nil
	d.mu.Unlock()
	return session.Close()
}

// inbound converts a gateway event, dropping events from other guilds.
func (d *Discord) inbound(m *discordgo.MessageCreate) (domain.InboundMessage, bool) {
	if m.Author == nil {
		return domain.InboundMessage{}, false
	}
	if d.guildID != "" && m.GuildID != "" && m.GuildID != d.guildID {
		return domain.InboundMessage{}, false
	}

	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return domain.InboundMessage{
		Service:   domain.ServiceDiscord,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		Author: domain.Identity{
			Service: domain.ServiceDiscord,
			UserID:  m.Author.ID,
			GuildID: m.GuildID,
		},
		AuthorDisplay: domain.DisplayUser{
			Icon: domain.StringPtr(m.Author.AvatarURL("")),
			Name: displayName(m.Member, m.Author),
		},
		Content:   m.Content,
		Timestamp: ts,
	}, true
}

func (d *Discord) current() (*discordgo.Session, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.session == nil {
		return nil, errDiscordNotConnected
	}
	return d.session, nil
}

// SendReply posts text to channelID, split to fit Discord's message limit.
func (d *Discord) SendReply(ctx context.Context, channelID, text string) error {
	s, err := d.current()
	if err != nil {
		return err
	}
	for _, chunk := range splitMessage(text, discordMaxMsgLen) {
		if _, err := s.ChannelMessageSend(channelID, chunk, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("discord send to %s: %w", channelID, err)
		}
	}
	return nil
}

// ResolveUser looks up a user, preferring their nickname in guildID.
func (d *Discord) ResolveUser(ctx context.Context, guildID, userID string) (domain.DisplayUser, error) {
	s, err := d.current()
	if err != nil {
		return domain.DisplayUser{}, err
	}

	var member *discordgo.Member
	var user *discordgo.User
	if guildID != "" {
		member, err = d.member(ctx, s, guildID, userID)
		if err != nil && !isNotFound(err) {
			return domain.DisplayUser{}, fmt.Errorf("discord member %s: %w", userID, err)
		}
		if member != nil {
			user = member.User
		}
	}
	if user == nil {
		user, err = s.User(userID, discordgo.WithContext(ctx))
		if isNotFound(err) {
			return domain.DisplayUser{}, fmt.Errorf("%w: %s", domain.ErrUserNotFound, userID)
		}
		if err != nil {
			return domain.DisplayUser{}, fmt.Errorf("discord user %s: %w", userID, err)
		}
	}

	return domain.DisplayUser{
		Icon:       domain.StringPtr(user.AvatarURL("")),
		Identifier: domain.StringPtr(user.Username),
		Name:       displayName(member, user),
	}, nil
}

// MemberRoles returns the role IDs a member holds. An unknown member holds none.
func (d *Discord) MemberRoles(ctx context.Context, guildID, userID string) ([]string, error) {
	s, err := d.current()
	if err != nil {
		return nil, err
	}
	member, err := d.member(ctx, s, guildID, userID)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("discord member roles %s: %w", userID, err)
	}
	return member.Roles, nil
}

// member reads the state cache first and falls back to REST.
func (d *Discord) member(ctx context.Context, s *discordgo.Session, guildID, userID string) (*discordgo.Member, error) {
	if s.State != nil {
		if m, err := s.State.Member(guildID, userID); err == nil && m.User != nil {
			return m, nil
		}
	}
	m, err := s.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	if s.State != nil && s.State.TrackMembers {
		if err := s.State.MemberAdd(m); err != nil {
			d.logger.Debug("member cache add failed", "user_id", userID, "err", err)
		}
	}
	return m, nil
}

// displayName prefers the guild nickname, then the global display name,
// then the account name.
func displayName(member *discordgo.Member, user *discordgo.User) string {
	if member != nil && member.Nick != "" {
		return member.Nick
	}
	if user == nil {
		return "Unknown user"
	}
	if user.GlobalName != "" {
		return user.GlobalName
	}
	return user.Username
}

func isNotFound(err error) bool {
	var restErr *discordgo.RESTError
	return errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound
}

const codeFence = "```"

// splitMessage splits msg into chunks of at most maxLen characters, cutting
// after a newline when one is close enough and never inside a UTF-8
// sequence. A code fence open at a cut is closed and reopened in the next
// chunk.
func splitMessage(msg string, maxLen int) []string {
	if utf8.RuneCountInString(msg) <= maxLen {
		return []string{msg}
	}

	reserve := 0
	if strings.Contains(msg, codeFence) {
		reserve = utf8.RuneCountInString("\n" + codeFence)
	}

	var chunks []string
	inFence := false
	for msg != "" {
		prefix := ""
		if inFence {
			prefix = codeFence + "\n"
		}
		if utf8.RuneCountInString(prefix+msg) <= maxLen {
			chunks = append(chunks, prefix+msg)
			break
		}

		budget := max(maxLen-utf8.RuneCountInString(prefix)-reserve, 1)
		cut := runeOffset(msg, budget)
		if idx := strings.LastIndex(msg[:cut], "\n"); idx > cut/2 {
			cut = idx + 1
		}
		// Keep a fence marker whole.
		for cut > 1 && msg[cut-1] == '`' && msg[cut] == '`' {
			cut--
		}

		chunk := msg[:cut]
		if strings.Count(chunk, codeFence)%2 == 1 {
			inFence = !inFence
		}
		if inFence {
			if !strings.HasSuffix(chunk, "\n") {
				chunk += "\n"
			}
			chunk += codeFence
		}
		chunks = append(chunks, prefix+chunk)
		msg = msg[cut:]
	}
	return chunks
}

// runeOffset returns the byte offset just past the first n runes of s.
func runeOffset(s string, n int) int {
	i := 0
	for ; n > 0 && i < len(s); n-- {
		i++
		for i < len(s) && !utf8.RuneStart(s[i]) {
			i++
		}
	}
	return i
}
