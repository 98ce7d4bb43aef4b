package command

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// DefaultPrefix is the literal every staff command starts with.
const DefaultPrefix = "g!live"

const codeFence = "```"

// Hints shown above the help link.
const (
	HintSetNotificationArgs = "set_notification requires argument"
	HintPushArgs            = "presentations push command requires >= 2 arguments"
	HintRemoveMissing       = "presentations remove command requires an index"
	HintRemoveIndex         = "presentations remove command's argument must be valid usize"
	HintUpdateArgs          = "presentations update command requires >= 2 arguments"
	HintUpdateIndex         = "presentations update command's first argument must be valid usize"
	HintReorderArgs         = "presentations reorder command's arguments must be valid usize"
	HintTweetMissing        = "tweet requires a body"
	HintTweetFence          = "tweet body must be wrapped in a code block (```...```)"
	HintTweetEmpty          = "tweet body is empty"
	HintUnknown             = "unknown subcommand"
)

// Parser turns raw chat text into a Command.
type Parser struct {
	Prefix string
}

// NewParser returns a Parser for prefix, falling back to DefaultPrefix.
func NewParser(prefix string) *Parser {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Parser{Prefix: prefix}
}

// Parse returns nil when raw is not addressed to the bot at all, so the text
// can be treated as ordinary chat. A recognized prefix with bad arguments
// yields Help with a hint instead.
func (p *Parser) Parse(raw string) Command {
	tokens := split(raw)
	if len(tokens) == 0 || tokens[0] != p.Prefix {
		return nil
	}
	if len(tokens) == 1 {
		return Help{}
	}

	sub, args := tokens[1], tokens[2:]
	switch sub {
	case "help":
		return Help{}
	case "pause":
		return Pause{}
	case "resume":
		return Resume{}
	case "listen":
		return Listen{}
	case "stop_listening":
		return StopListening{}
	case "clear_timeline":
		return TimelineClear{}
	case "set_notification":
		if len(args) == 0 {
			return Help{Hint: HintSetNotificationArgs}
		}
		return SetNotification{Text: strings.Join(args, " ")}
	case "presentations":
		return parsePresentations(args)
	case "tweet":
		return parseTweet(afterTokens(raw, 2), false)
	case "tweet_simulation":
		return parseTweet(afterTokens(raw, 2), true)
	case "presentation_tweet":
		return PresentationTweet{}
	case "presentation_tweet_simulation":
		return PresentationTweet{Simulation: true}
	}
	return Help{Hint: HintUnknown}
}

// split cuts on single spaces and drops the empty tokens left by runs of
// spaces. Newlines stay inside tokens.
func split(raw string) []string {
	parts := strings.Split(raw, " ")
	tokens := parts[:0]
	for _, p := range parts {
		if p != "" {
			tokens = append(tokens, p)
		}
	}
	return tokens
}

// afterTokens returns raw from the start of its (n+1)th token on, exactly as
// typed.
func afterTokens(raw string, n int) string {
	s := strings.TrimLeft(raw, " ")
	for ; n > 0 && s != ""; n-- {
		i := strings.IndexByte(s, ' ')
		if i < 0 {
			return ""
		}
		s = strings.TrimLeft(s[i:], " ")
	}
	return s
}

func parsePresentations(args []string) Command {
	if len(args) == 0 {
		return Help{Hint: HintUnknown}
	}

	op, rest := args[0], args[1:]
	switch op {
	case "list":
		return PresentationList{}
	case "pop":
		return PresentationPop{}
	case "push":
		if len(rest) < 2 {
			return Help{Hint: HintPushArgs}
		}
		return PresentationPush{Mention: rest[0], Title: strings.Join(rest[1:], " ")}
	case "remove", "delete":
		if len(rest) == 0 {
			return Help{Hint: HintRemoveMissing}
		}
		index, ok := parseIndex(rest[0])
		if !ok {
			return Help{Hint: HintRemoveIndex}
		}
		return PresentationRemove{Index: index}
	case "update":
		if len(rest) < 2 {
			return Help{Hint: HintUpdateArgs}
		}
		index, ok := parseIndex(rest[0])
		if !ok {
			return Help{Hint: HintUpdateIndex}
		}
		return PresentationUpdate{Index: index, Title: strings.Join(rest[1:], " ")}
	case "reorder":
		perm := make([]int, 0, len(rest))
		for _, tok := range rest {
			n, ok := parseIndex(tok)
			if !ok {
				return Help{Hint: HintReorderArgs}
			}
			perm = append(perm, n)
		}
		return PresentationReorder{Map: perm}
	}
	return Help{Hint: HintUnknown}
}

// parseIndex accepts non-negative decimal integers only. Values too large
// for an int are clamped; no queue is that long.
func parseIndex(s string) (int, bool) {
	n, err := strconv.ParseUint(s, 10, 64)
	if errors.Is(err, strconv.ErrRange) || (err == nil && n > math.MaxInt) {
		return math.MaxInt, true
	}
	if err != nil {
		return 0, false
	}
	return int(n), true
}

// parseTweet reads the flags and the fenced body from text, the command line
// after the subcommand. The body keeps its spacing and line breaks.
func parseTweet(text string, simulation bool) Command {
	text = strings.TrimRight(text, " ")
	if text == "" {
		return Help{Hint: HintTweetMissing}
	}

	t := Tweet{Simulation: simulation}
	if strings.HasPrefix(text, "-") {
		flags, _, _ := strings.Cut(text, " ")
		for _, c := range flags[1:] {
			switch c {
			case 't':
				t.Twitter = true
			case 'y':
				t.Youtube = true
			case 'd':
				t.Discord = true
			default:
				return Help{Hint: fmt.Sprintf("unknown tweet flag: %c", c)}
			}
		}
		text = afterTokens(text, 1)
	}
	if text == "" {
		return Help{Hint: HintTweetMissing}
	}

	// The fence keeps chat mention syntax in the body from being rendered live.
	body := text
	if len(body) < 2*len(codeFence) || !strings.HasPrefix(body, codeFence) || !strings.HasSuffix(body, codeFence) {
		return Help{Hint: HintTweetFence}
	}
	body = strings.TrimSpace(body[len(codeFence) : len(body)-len(codeFence)])
	if body == "" {
		return Help{Hint: HintTweetEmpty}
	}
	t.Body = body
	return t
}

var mentionPattern = regexp.MustCompile(`^<@!?(\d+)>$`)

// ExtractUserID returns the user ID inside a user mention such as <@123>.
func ExtractUserID(mention string) (string, bool) {
	m := mentionPattern.FindStringSubmatch(mention)
	if m == nil {
		return "", false
	}
	return m[1], true
}
