package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ltlive/internal/domain"
	"ltlive/internal/metrics"
	"ltlive/internal/overlay"

	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

const defaultYouTubePollInterval = 5 * time.Second

// ErrNoLiveChat is returned when the video has no active live chat.
var ErrNoLiveChat = errors.New("video has no active live chat")

// YouTube forwards live chat messages of one broadcast to the overlay
// timeline, using the Data API.
type YouTube struct {
	apiKey   string
	videoID  string
	endpoint string
	interval time.Duration
	overlay  overlay.Publisher
	logger   *slog.Logger
}

var _ domain.Source = (*YouTube)(nil)

// YouTubeConfig configures the Data API live chat source.
type YouTubeConfig struct {
	APIKey       string
	VideoID      string
	PollInterval time.Duration // lower bound; the API may ask for longer
	Endpoint     string        // overrides the API base URL
	Overlay      overlay.Publisher
	Logger       *slog.Logger
}

// NewYouTube creates the live chat source.
func NewYouTube(cfg YouTubeConfig) *YouTube {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultYouTubePollInterval
	}
	return &YouTube{
		apiKey:   cfg.APIKey,
		videoID:  cfg.VideoID,
		endpoint: cfg.Endpoint,
		interval: cfg.PollInterval,
		overlay:  cfg.Overlay,
		logger:   cfg.Logger,
	}
}

func (y *YouTube) Name() string { return "youtube" }

// Start resolves the live chat of the configured video and polls it until
// ctx is cancelled. Messages already in the chat on the first page are
// skipped.
func (y *YouTube) Start(ctx context.Context) error {
	opts := []option.ClientOption{option.WithAPIKey(y.apiKey)}
	if y.endpoint != "" {
		opts = append(opts, option.WithEndpoint(y.endpoint))
	}
	svc, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return fmt.Errorf("youtube client: %w", err)
	}

	chatID, err := y.liveChatID(ctx, svc)
	if err != nil {
		return err
	}
	y.logger.Info("youtube source started", "video_id", y.videoID, "live_chat_id", chatID)

	var pageToken string
	first := true
	for {
		call := svc.LiveChatMessages.List(chatID, []string{"snippet", "authorDetails"}).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("youtube live chat messages: %w", err)
		}

		if !first {
			for _, m := range resp.Items {
				y.forward(m)
			}
		}
		first = false
		pageToken = resp.NextPageToken

		wait := time.Duration(resp.PollingIntervalMillis) * time.Millisecond
		if wait < y.interval {
			wait = y.interval
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (y *YouTube) liveChatID(ctx context.Context, svc *youtube.Service) (string, error) {
	resp, err := svc.Videos.List([]string{"liveStreamingDetails"}).Id(y.videoID).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("youtube video %s: %w", y.videoID, err)
	}
	if len(resp.Items) == 0 {
		return "", fmt.Errorf("youtube video %s: not found", y.videoID)
	}
	details := resp.Items[0].LiveStreamingDetails
	if details == nil || details.ActiveLiveChatId == "" {
		return "", fmt.Errorf("youtube video %s: %w", y.videoID, ErrNoLiveChat)
	}
	return details.ActiveLiveChatId, nil
}

func (y *YouTube) forward(m *youtube.LiveChatMessage) {
	if m.Snippet == nil || m.Snippet.DisplayMessage == "" {
		return
	}
	user := domain.DisplayUser{Name: "Unknown user"}
	if a := m.AuthorDetails; a != nil {
		user.Icon = domain.StringPtr(a.ProfileImageUrl)
		if a.DisplayName != "" {
			user.Name = a.DisplayName
		}
	}
	y.overlay.Publish(overlay.TimelineAdd{
		User:    user,
		Service: domain.ServiceYoutube,
		Content: m.Snippet.DisplayMessage,
	})
	metrics.TimelineMessages.Inc()
}
