// Package announce publishes announcement posts to social services.
package announce

import (
	"context"
	"log/slog"

	"ltlive/internal/domain"
)

// Unavailable is the link returned when no announcer is configured.
const Unavailable = "unavailable"

// Noop logs the would-be post and reports it as unavailable.
type Noop struct {
	Logger *slog.Logger
}

var _ domain.Announcer = Noop{}

func (Noop) Name() string { return "none" }

func (n Noop) Post(ctx context.Context, text string) (string, error) {
	n.Logger.Info("no announcer configured, post not sent", "text", text)
	return Unavailable, nil
}
