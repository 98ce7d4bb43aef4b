package domain

import (
	"context"
	"errors"
)

// ErrStreamControlUnavailable is returned by the null StreamControl.
var ErrStreamControlUnavailable = errors.New("stream control unavailable")

// Announcer publishes an announcement post and returns a link to it.
type Announcer interface {
	Name() string
	Post(ctx context.Context, text string) (string, error)
}

// StreamControl mutes and unmutes the streaming software's audio.
type StreamControl interface {
	Mute(ctx context.Context) error
	Unmute(ctx context.Context) error
}
