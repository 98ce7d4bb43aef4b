package dispatch

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"ltlive/internal/command"
)

// MaxTweetScore is the highest accepted length score.
const MaxTweetScore = 280

// SNS holds the links and tags used in announcement footers.
type SNS struct {
	StreamURL string
	InviteURL string
	Hashtags  []string
}

// Picker chooses the footer attached to a presentation announcement.
type Picker func() command.Footer

// RandomPicker picks uniformly among all footer kinds.
func RandomPicker() command.Footer {
	return command.Footers[rand.IntN(len(command.Footers))]
}

func (s SNS) footer(f command.Footer) string {
	switch f {
	case command.FooterYoutube:
		return "配信はこちら\n" + s.StreamURL
	case command.FooterDiscord:
		return "Discordサーバーはこちら\n" + s.InviteURL
	case command.FooterTwitter:
		return strings.Join(s.Hashtags, " ")
	}
	return ""
}

// ComposeTweet appends the enabled footers to body, separated by blank lines,
// in youtube, discord, twitter order.
func ComposeTweet(body string, enabled func(command.Footer) bool, sns SNS) string {
	blocks := []string{body}
	for _, f := range command.Footers {
		if enabled(f) {
			blocks = append(blocks, sns.footer(f))
		}
	}
	return strings.Join(blocks, "\n\n")
}

// PresentationAnnouncement is the body announcing the next talk.
func PresentationAnnouncement(name, title string) string {
	return fmt.Sprintf("次の発表は\n%s さんによる\n「%s」\nです！", name, title)
}

// Score weighs a post the way the announcement service counts length:
// ASCII runes count 1, everything else counts 2.
func Score(text string) int {
	n := 0
	for _, r := range text {
		if r < 0x80 {
			n++
		} else {
			n += 2
		}
	}
	return n
}

func codeBlock(s string) string {
	return "```\n" + s + "\n```"
}
