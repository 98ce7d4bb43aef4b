// Package dispatch turns parsed staff commands into queue mutations, overlay
// events and announcements, and routes inbound chat messages.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"ltlive/internal/command"
	"ltlive/internal/domain"
	"ltlive/internal/metrics"
	"ltlive/internal/overlay"
	"ltlive/internal/queue"
)

// DefaultHelpURL points at the staff command reference.
const DefaultHelpURL = "https://hackmd.io/@U9f9Fv6rTt2UkRA6UriFTA/BJRVQlTZO"

// Replies that are compared against in tests and by operators.
const (
	ReplyNotListening   = "currently not listening any channel"
	ReplyEmptyQueue     = "no other entries in queue"
	ReplyNotFound       = "not found such entry"
	ReplyBadMention     = "invalid mention: expected a user mention like @someone"
	ReplyUnknownUser    = "failed to resolve user, check logs"
	ReplyReorder        = "presentations reorder is not supported yet"
	ReplySaveFailed     = "failed to save presentations, check logs"
	ReplyNoCurrent      = "internal error: no current presentation is set yet"
	ReplySwitching      = "switching requested"
	ReplyTweetFailed    = "failed to tweet, check logs"
	ReplyTweetSimulated = "simulation: not tweeted"
)

// Invocation is the context of one command: who ran it and where.
type Invocation struct {
	Identity  domain.Identity
	ChannelID string
	GuildID   string
}

// Config wires a Dispatcher to its collaborators.
type Config struct {
	Queue     *queue.Queue
	Overlay   overlay.Publisher
	Announcer domain.Announcer
	Stream    domain.StreamControl
	Users     domain.UserResolver
	State     *ListenerState
	Picker    Picker // defaults to RandomPicker
	GuildID   string // home guild, used to resolve mentions sent by DM
	SNS       SNS
	HelpURL   string
	Prefix    string
	Logger    *slog.Logger
}

// Dispatcher executes commands. It is safe for concurrent use; queue
// commands are serialized.
type Dispatcher struct {
	queue     *queue.Queue
	overlay   overlay.Publisher
	announcer domain.Announcer
	stream    domain.StreamControl
	users     domain.UserResolver
	state     *ListenerState
	picker    Picker
	guildID   string
	sns       SNS
	helpURL   string
	prefix    string
	logger    *slog.Logger

	queueMu sync.Mutex
}

func New(cfg Config) *Dispatcher {
	if cfg.Picker == nil {
		cfg.Picker = RandomPicker
	}
	if cfg.HelpURL == "" {
		cfg.HelpURL = DefaultHelpURL
	}
	if cfg.Prefix == "" {
		cfg.Prefix = command.DefaultPrefix
	}
	if cfg.State == nil {
		cfg.State = NewListenerState()
	}
	metrics.QueueLength.Set(int64(cfg.Queue.Len()))
	return &Dispatcher{
		queue:     cfg.Queue,
		overlay:   cfg.Overlay,
		announcer: cfg.Announcer,
		stream:    cfg.Stream,
		users:     cfg.Users,
		state:     cfg.State,
		picker:    cfg.Picker,
		guildID:   cfg.GuildID,
		sns:       cfg.SNS,
		helpURL:   cfg.HelpURL,
		prefix:    cfg.Prefix,
		logger:    cfg.Logger,
	}
}

// State returns the listener state the dispatcher mutates.
func (d *Dispatcher) State() *ListenerState { return d.state }

// Dispatch runs cmd and returns the reply text for the invoking channel.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd command.Command, inv Invocation) string {
	name := command.Name(cmd)
	metrics.CommandsTotal(name).Inc()
	d.logger.Info("dispatching command",
		"command", name,
		"user_id", inv.Identity.UserID,
		"channel_id", inv.ChannelID,
	)

	switch c := cmd.(type) {
	case command.Help:
		if c.Hint != "" {
			return c.Hint + "\n" + d.helpURL
		}
		return d.helpURL

	case command.Listen:
		d.state.Listen(inv.ChannelID)
		d.logger.Info("now listening", "channel_id", inv.ChannelID)
		return fmt.Sprintf("now listening at <#%s>", inv.ChannelID)

	case command.StopListening:
		if d.state.StopListening() {
			return "stopped"
		}
		return ReplyNotListening

	case command.SetNotification:
		d.overlay.Publish(overlay.NotificationUpdate{Text: c.Text})
		return "set"

	case command.TimelineClear:
		d.overlay.Publish(overlay.TimelineFlush{})
		return "cleared"

	case command.Pause:
		d.overlay.Publish(overlay.ScreenUpdate{Page: overlay.PageWaitingScreen})
		if err := d.stream.Mute(ctx); err != nil {
			d.logger.Warn("mute failed", "err", err)
		}
		return ReplySwitching

	case command.Resume:
		d.overlay.Publish(overlay.ScreenUpdate{Page: overlay.PageLTScreen})
		if err := d.stream.Unmute(ctx); err != nil {
			d.logger.Warn("unmute failed", "err", err)
		}
		return ReplySwitching

	case command.PresentationPush:
		return d.push(ctx, c, inv)

	case command.PresentationReorder:
		return ReplyReorder

	case command.PresentationRemove:
		return d.remove(ctx, c.Index)

	case command.PresentationUpdate:
		return d.update(ctx, c.Index, c.Title)

	case command.PresentationList:
		list := d.queue.List()
		if list == "" {
			list = "(empty)"
		}
		return codeBlock(list)

	case command.PresentationPop:
		return d.pop(ctx)

	case command.Tweet:
		return d.tweet(ctx, ComposeTweet(c.Body, c.Enabled, d.sns), c.Simulation)

	case command.PresentationTweet:
		current, ok := d.state.Current()
		if !ok {
			return ReplyNoCurrent
		}
		picked := d.picker()
		body := PresentationAnnouncement(current.Presenter.Name, current.Title)
		text := ComposeTweet(body, func(f command.Footer) bool { return f == picked }, d.sns)
		return d.tweet(ctx, text, c.Simulation)
	}

	d.logger.Error("unhandled command", "command", fmt.Sprintf("%T", cmd))
	return "unknown subcommand\n" + d.helpURL
}

func (d *Dispatcher) push(ctx context.Context, c command.PresentationPush, inv Invocation) string {
	userID, ok := command.ExtractUserID(c.Mention)
	if !ok {
		return ReplyBadMention
	}

	guildID := inv.GuildID
	if guildID == "" {
		guildID = inv.Identity.GuildID
	}
	if guildID == "" {
		guildID = d.guildID
	}
	user, err := d.users.ResolveUser(ctx, guildID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			d.logger.Warn("mentioned user not found", "user_id", userID)
		} else {
			d.logger.Error("resolve mentioned user", "user_id", userID, "err", err)
		}
		return ReplyUnknownUser
	}

	p := domain.Presentation{Presenter: user, Title: c.Title}

	d.queueMu.Lock()
	defer d.queueMu.Unlock()

	if err := d.queue.Push(ctx, p); err != nil {
		d.logger.Error("push presentation", "err", err)
		return ReplySaveFailed
	}
	d.queueChanged()
	return fmt.Sprintf("pushed: #%d %s - %s", d.queue.Len()-1, user.Name, c.Title)
}

func (d *Dispatcher) pop(ctx context.Context) string {
	d.queueMu.Lock()
	defer d.queueMu.Unlock()

	p, ok, err := d.queue.Pop(ctx)
	if err != nil {
		d.logger.Error("pop presentation", "err", err)
		return ReplySaveFailed
	}
	if !ok {
		return ReplyEmptyQueue
	}

	d.state.SetCurrent(p)
	d.queueChanged()
	d.overlay.Publish(overlay.PresentationUpdate{Presentation: p})

	return fmt.Sprintf("popped: %s - %s\ndon't forget to announce it: %s presentation_tweet",
		p.Presenter.Name, p.Title, d.prefix)
}

func (d *Dispatcher) remove(ctx context.Context, index int) string {
	d.queueMu.Lock()
	defer d.queueMu.Unlock()

	ok, err := d.queue.Remove(ctx, index)
	if err != nil {
		d.logger.Error("remove presentation", "index", index, "err", err)
		return ReplySaveFailed
	}
	if !ok {
		return ReplyNotFound
	}
	d.queueChanged()
	return "removed"
}

func (d *Dispatcher) update(ctx context.Context, index int, title string) string {
	d.queueMu.Lock()
	defer d.queueMu.Unlock()

	ok, err := d.queue.Update(ctx, index, title)
	if err != nil {
		d.logger.Error("update presentation", "index", index, "err", err)
		return ReplySaveFailed
	}
	if !ok {
		return ReplyNotFound
	}
	d.queueChanged()
	return "overwrote"
}

// queueChanged publishes the upcoming list. d.queueMu must be held.
func (d *Dispatcher) queueChanged() {
	metrics.QueueLength.Set(int64(d.queue.Len()))
	d.overlay.Publish(overlay.PendingUpdate{Presentations: d.queue.Snapshot()})
}

func (d *Dispatcher) tweet(ctx context.Context, text string, simulation bool) string {
	if score := Score(text); score > MaxTweetScore {
		return fmt.Sprintf("too long (%d/%d), not tweeted\n%s", score, MaxTweetScore, codeBlock(text))
	}
	if simulation {
		return ReplyTweetSimulated + "\n" + codeBlock(text)
	}

	start := time.Now()
	link, err := d.announcer.Post(ctx, text)
	metrics.AnnounceLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		d.logger.Error("announcement post failed", "announcer", d.announcer.Name(), "err", err)
		return ReplyTweetFailed + "\n" + codeBlock(text)
	}
	metrics.TweetsTotal.Inc()
	d.logger.Info("announcement posted", "announcer", d.announcer.Name(), "link", link)
	return "tweeted: " + strings.TrimSpace(link) + "\n" + codeBlock(text)
}
