package domain

import (
	"context"
	"errors"
)

// ErrUserNotFound is returned by a UserResolver for an unknown account.
var ErrUserNotFound = errors.New("user not found")

// ChatGateway sends replies back to the originating chat channel.
type ChatGateway interface {
	SendReply(ctx context.Context, channelID, text string) error
}

// UserResolver turns a platform user ID into a display user, preferring the
// in-guild nickname when guildID is set and the member has one.
type UserResolver interface {
	ResolveUser(ctx context.Context, guildID, userID string) (DisplayUser, error)
}

// Source is a long-running chat listener (Discord, Twitter, YouTube).
// Start blocks until ctx is cancelled or the connection is lost.
type Source interface {
	Name() string
	Start(ctx context.Context) error
}
