package dispatch

import (
	"context"
	"log/slog"
	"strings"

	"ltlive/internal/command"
	"ltlive/internal/domain"
	"ltlive/internal/metrics"
	"ltlive/internal/overlay"
	"ltlive/internal/security"

	"github.com/google/uuid"
)

// RouterConfig wires a Router.
type RouterConfig struct {
	Parser     *command.Parser
	Dispatcher *Dispatcher
	Authorizer domain.Authorizer
	Gateway    domain.ChatGateway
	Overlay    overlay.Publisher
	Logger     *slog.Logger
}

// Router runs inbound chat messages through parse, authorize and dispatch,
// and forwards ordinary chat from the listening channel to the timeline.
type Router struct {
	parser     *command.Parser
	dispatcher *Dispatcher
	authorizer domain.Authorizer
	gateway    domain.ChatGateway
	overlay    overlay.Publisher
	state      *ListenerState
	logger     *slog.Logger
}

func NewRouter(cfg RouterConfig) *Router {
	if cfg.Parser == nil {
		cfg.Parser = command.NewParser(command.DefaultPrefix)
	}
	return &Router{
		parser:     cfg.Parser,
		dispatcher: cfg.Dispatcher,
		authorizer: cfg.Authorizer,
		gateway:    cfg.Gateway,
		overlay:    cfg.Overlay,
		state:      cfg.Dispatcher.State(),
		logger:     cfg.Logger,
	}
}

// Run consumes the bus until ctx is cancelled or the bus is closed.
// Messages are handled one at a time in arrival order.
func (r *Router) Run(ctx context.Context, bus domain.MessageBus) error {
	in := bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-in:
			if !ok {
				return nil
			}
			r.Handle(ctx, msg)
		}
	}
}

// Handle processes one inbound chat message.
func (r *Router) Handle(ctx context.Context, msg domain.InboundMessage) {
	if self, ok := r.state.Self(); ok && self.UserID == msg.Author.UserID && self.Service == msg.Service {
		return
	}

	content := strings.TrimSpace(msg.Content)

	if cmd := r.parser.Parse(content); cmd != nil {
		inv := security.Invocation{
			ID:        uuid.NewString(),
			ChannelID: msg.ChannelID,
			Command:   command.Name(cmd),
		}
		ctx := security.WithInvocation(ctx, inv)

		if r.authorizer.CanInvoke(ctx, msg.Author) {
			reply := r.dispatcher.Dispatch(ctx, cmd, Invocation{
				Identity:  msg.Author,
				ChannelID: msg.ChannelID,
				GuildID:   msg.GuildID,
			})
			if err := r.gateway.SendReply(ctx, msg.ChannelID, reply); err != nil {
				r.logger.Error("failed to send reply",
					"invocation_id", inv.ID,
					"channel_id", msg.ChannelID,
					"err", err,
				)
			}
			return
		}

		r.logger.Info("command from unauthorized user ignored",
			"invocation_id", inv.ID,
			"command", inv.Command,
			"user_id", msg.Author.UserID,
			"channel_id", msg.ChannelID,
		)
	}

	if listening, ok := r.state.Listening(); ok && listening == msg.ChannelID {
		r.overlay.Publish(overlay.TimelineAdd{
			User:    msg.AuthorDisplay,
			Service: domain.ServiceDiscord,
			Content: content,
		})
		metrics.TimelineMessages.Inc()
	}
}
