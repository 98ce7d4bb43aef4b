package domain

import "time"

// Service identifies the chat platform a message came from.
type Service string

const (
	ServiceDiscord Service = "discord"
	ServiceTwitter Service = "twitter"
	ServiceYoutube Service = "youtube"
)

// Identity is the invoking account, scoped to an optional guild.
type Identity struct {
	Service Service
	UserID  string
	GuildID string
}

// InboundMessage is a chat line received from a chat gateway.
type InboundMessage struct {
	Service   Service
	ChannelID string
	GuildID   string
	Author    Identity
	// AuthorDisplay is the best available display form of the author
	// (guild nickname preferred over the global account name).
	AuthorDisplay DisplayUser
	Content       string
	Timestamp     time.Time
}
