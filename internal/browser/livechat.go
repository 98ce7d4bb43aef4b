package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ltlive/internal/domain"
	"ltlive/internal/metrics"
	"ltlive/internal/overlay"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

const (
	liveChatPageURL   = "https://www.youtube.com/live_chat?v="
	liveChatAPIPrefix = "https://www.youtube.com/youtubei/v1/live_chat/get_live_chat"

	bodyAttempts = 10
	bodyBackoff  = 500 * time.Millisecond
)

// LoginURL is opened by `ltlive youtube login`.
const LoginURL = "https://accounts.google.com/ServiceLogin?service=youtube"

var errBrowserClosed = errors.New("browser closed")

// Comment is one chat line read from the live chat page.
type Comment struct {
	User    domain.DisplayUser
	Content string
}

// LiveChat opens the popout live chat of a broadcast and forwards the
// messages the page fetches to the overlay timeline.
type LiveChat struct {
	bridge  *Bridge
	videoID string
	overlay overlay.Publisher
	logger  *slog.Logger
}

var _ domain.Source = (*LiveChat)(nil)

// LiveChatConfig configures the browser live chat source.
type LiveChatConfig struct {
	Bridge  *Bridge
	VideoID string
	Overlay overlay.Publisher
	Logger  *slog.Logger
}

func NewLiveChat(cfg LiveChatConfig) *LiveChat {
	return &LiveChat{
		bridge:  cfg.Bridge,
		videoID: cfg.VideoID,
		overlay: cfg.Overlay,
		logger:  cfg.Logger,
	}
}

func (l *LiveChat) Name() string { return "youtube" }

// Start opens the chat page and blocks until ctx is cancelled or the
// browser goes away.
func (l *LiveChat) Start(ctx context.Context) error {
	taskCtx, cancel := l.bridge.NewContext(ctx)
	defer cancel()

	chromedp.ListenTarget(taskCtx, func(ev any) {
		e, ok := ev.(*network.EventResponseReceived)
		if !ok || e.Response == nil || !strings.HasPrefix(e.Response.URL, liveChatAPIPrefix) {
			return
		}
		// Listeners must not block the event loop.
		go l.handleResponse(taskCtx, e.RequestID)
	})

	url := liveChatPageURL + l.videoID
	if err := chromedp.Run(taskCtx, network.Enable(), chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("open live chat %s: %w", url, err)
	}
	l.logger.Info("youtube live chat opened", "url", url, "profile", l.bridge.ProfileDir())

	<-taskCtx.Done()
	if ctx.Err() != nil {
		return nil
	}
	return errBrowserClosed
}

func (l *LiveChat) handleResponse(ctx context.Context, id network.RequestID) {
	body, err := l.responseBody(ctx, id)
	if err != nil {
		if ctx.Err() == nil {
			l.logger.Warn("live chat response unreadable", "request_id", id, "err", err)
		}
		return
	}
	comments, err := ParseLiveChat(body)
	if err != nil {
		l.logger.Warn("live chat response undecodable", "request_id", id, "err", err)
		return
	}
	for _, c := range comments {
		l.overlay.Publish(overlay.TimelineAdd{
			User:    c.User,
			Service: domain.ServiceYoutube,
			Content: c.Content,
		})
		metrics.TimelineMessages.Inc()
	}
}

// responseBody polls until the body is available; the response event can
// arrive before loading has finished.
func (l *LiveChat) responseBody(ctx context.Context, id network.RequestID) ([]byte, error) {
	var lastErr error
	for range bodyAttempts {
		var body []byte
		err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			body, err = network.GetResponseBody(id).Do(ctx)
			return err
		}))
		if err == nil && len(body) > 0 {
			return body, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(bodyBackoff):
		}
	}
	if lastErr == nil {
		lastErr = errors.New("empty body")
	}
	return nil, lastErr
}

type liveChatResponse struct {
	ContinuationContents struct {
		LiveChatContinuation struct {
			Actions []struct {
				AddChatItemAction *struct {
					Item struct {
						LiveChatTextMessageRenderer *textMessageRenderer `json:"liveChatTextMessageRenderer"`
					} `json:"item"`
				} `json:"addChatItemAction"`
			} `json:"actions"`
		} `json:"liveChatContinuation"`
	} `json:"continuationContents"`
}

type textMessageRenderer struct {
	AuthorName struct {
		SimpleText string `json:"simpleText"`
	} `json:"authorName"`
	AuthorPhoto struct {
		Thumbnails []struct {
			URL string `json:"url"`
		} `json:"thumbnails"`
	} `json:"authorPhoto"`
	Message struct {
		Runs []struct {
			Text  string `json:"text"`
			Emoji *struct {
				Shortcuts []string `json:"shortcuts"`
			} `json:"emoji"`
		} `json:"runs"`
	} `json:"message"`
}

// ParseLiveChat extracts text messages from a get_live_chat response.
// Other actions (deletions, tickers, paid messages) are ignored.
func ParseLiveChat(body []byte) ([]Comment, error) {
	var resp liveChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode live chat: %w", err)
	}

	var comments []Comment
	for _, a := range resp.ContinuationContents.LiveChatContinuation.Actions {
		if a.AddChatItemAction == nil || a.AddChatItemAction.Item.LiveChatTextMessageRenderer == nil {
			continue
		}
		r := a.AddChatItemAction.Item.LiveChatTextMessageRenderer

		var content strings.Builder
		for _, run := range r.Message.Runs {
			switch {
			case run.Text != "":
				content.WriteString(run.Text)
			case run.Emoji != nil && len(run.Emoji.Shortcuts) > 0:
				content.WriteString(run.Emoji.Shortcuts[0])
			}
		}
		if content.Len() == 0 {
			continue
		}

		user := domain.DisplayUser{Name: r.AuthorName.SimpleText}
		if n := len(r.AuthorPhoto.Thumbnails); n > 0 {
			user.Icon = domain.StringPtr(r.AuthorPhoto.Thumbnails[n-1].URL)
		}
		comments = append(comments, Comment{User: user, Content: content.String()})
	}
	return comments, nil
}
