// Package command parses staff chat lines into typed commands.
package command

// Command is one parsed staff command. The set of implementations is closed;
// dispatchers switch over the concrete types below.
type Command interface {
	isCommand()
}

// Footer selects an optional block appended to an announcement post.
type Footer int

const (
	FooterYoutube Footer = iota
	FooterDiscord
	FooterTwitter
)

// Footers lists every footer kind in composition order.
var Footers = []Footer{FooterYoutube, FooterDiscord, FooterTwitter}

func (f Footer) String() string {
	switch f {
	case FooterYoutube:
		return "youtube"
	case FooterDiscord:
		return "discord"
	case FooterTwitter:
		return "twitter"
	}
	return "unknown"
}

type (
	// Help replies with the documentation link, optionally prefixed by Hint.
	Help struct{ Hint string }

	Listen          struct{}
	StopListening   struct{}
	SetNotification struct{ Text string }
	TimelineClear   struct{}
	Pause           struct{}
	Resume          struct{}

	PresentationPush struct {
		Mention string
		Title   string
	}
	// PresentationReorder is recognized but never executed.
	PresentationReorder struct{ Map []int }
	PresentationRemove  struct{ Index int }
	PresentationUpdate  struct {
		Index int
		Title string
	}
	PresentationList struct{}
	PresentationPop  struct{}

	Tweet struct {
		Youtube    bool
		Discord    bool
		Twitter    bool
		Body       string
		Simulation bool
	}
	PresentationTweet struct{ Simulation bool }
)

func (Help) isCommand()                {}
func (Listen) isCommand()              {}
func (StopListening) isCommand()       {}
func (SetNotification) isCommand()     {}
func (TimelineClear) isCommand()       {}
func (Pause) isCommand()               {}
func (Resume) isCommand()              {}
func (PresentationPush) isCommand()    {}
func (PresentationReorder) isCommand() {}
func (PresentationRemove) isCommand()  {}
func (PresentationUpdate) isCommand()  {}
func (PresentationList) isCommand()    {}
func (PresentationPop) isCommand()     {}
func (Tweet) isCommand()               {}
func (PresentationTweet) isCommand()   {}

// Enabled reports whether footer f was requested.
func (t Tweet) Enabled(f Footer) bool {
	switch f {
	case FooterYoutube:
		return t.Youtube
	case FooterDiscord:
		return t.Discord
	case FooterTwitter:
		return t.Twitter
	}
	return false
}

// Name returns a short stable name for logs, audit entries and metrics.
func Name(c Command) string {
	switch c := c.(type) {
	case Help:
		return "help"
	case Listen:
		return "listen"
	case StopListening:
		return "stop_listening"
	case SetNotification:
		return "set_notification"
	case TimelineClear:
		return "clear_timeline"
	case Pause:
		return "pause"
	case Resume:
		return "resume"
	case PresentationPush:
		return "presentations.push"
	case PresentationReorder:
		return "presentations.reorder"
	case PresentationRemove:
		return "presentations.remove"
	case PresentationUpdate:
		return "presentations.update"
	case PresentationList:
		return "presentations.list"
	case PresentationPop:
		return "presentations.pop"
	case Tweet:
		if c.Simulation {
			return "tweet_simulation"
		}
		return "tweet"
	case PresentationTweet:
		if c.Simulation {
			return "presentation_tweet_simulation"
		}
		return "presentation_tweet"
	}
	return "unknown"
}
