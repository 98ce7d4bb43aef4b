package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ltlive/internal/domain"
	"ltlive/internal/httpx"
	"ltlive/internal/metrics"
	"ltlive/internal/overlay"

	"golang.org/x/oauth2"
)

const (
	defaultTwitterSearchURL    = "https://api.twitter.com/2/tweets/search/recent"
	defaultTwitterPollInterval = 15 * time.Second
	twitterMaxResults          = 100
)

// Twitter follows the event hashtags and forwards every new post to the
// overlay timeline.
type Twitter struct {
	token     string
	query     string
	searchURL string
	interval  time.Duration
	client    *http.Client
	overlay   overlay.Publisher
	logger    *slog.Logger

	sinceID string
}

var _ domain.Source = (*Twitter)(nil)

// TwitterConfig configures the hashtag timeline source.
type TwitterConfig struct {
	BearerToken  string
	Hashtags     []string
	PollInterval time.Duration
	SearchURL    string
	HTTPClient   *http.Client // base transport; the bearer token is added on top
	Overlay      overlay.Publisher
	Logger       *slog.Logger
}

// NewTwitter creates the hashtag timeline source.
func NewTwitter(cfg TwitterConfig) *Twitter {
	if cfg.SearchURL == "" {
		cfg.SearchURL = defaultTwitterSearchURL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultTwitterPollInterval
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = httpx.NewClient(30 * time.Second)
	}
	return &Twitter{
		token:     cfg.BearerToken,
		query:     SearchQuery(cfg.Hashtags),
		searchURL: cfg.SearchURL,
		interval:  cfg.PollInterval,
		client:    cfg.HTTPClient,
		overlay:   cfg.Overlay,
		logger:    cfg.Logger,
	}
}

func (t *Twitter) Name() string { return "twitter" }

// SearchQuery builds a recent-search query matching any of the hashtags,
// excluding retweets.
func SearchQuery(hashtags []string) string {
	tags := make([]string, 0, len(hashtags))
	for _, h := range hashtags {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if !strings.HasPrefix(h, "#") {
			h = "#" + h
		}
		tags = append(tags, h)
	}
	q := strings.Join(tags, " OR ")
	if len(tags) > 1 {
		q = "(" + q + ")"
	}
	return q + " -is:retweet"
}

// Start polls until ctx is cancelled. The first poll only records the
// newest post so the backlog is not replayed onto the overlay.
func (t *Twitter) Start(ctx context.Context) error {
	client := oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, t.client), oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: t.token,
		TokenType:   "Bearer",
	}))

	t.logger.Info("twitter source started", "query", t.query, "interval", t.interval)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		if err := t.poll(ctx, client); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (t *Twitter) poll(ctx context.Context, client *http.Client) error {
	page, err := t.search(ctx, client)
	if err != nil {
		return err
	}
	if page.Meta.NewestID == "" {
		return nil
	}

	first := t.sinceID == ""
	t.sinceID = page.Meta.NewestID
	if first {
		t.logger.Debug("twitter backlog skipped", "since_id", t.sinceID, "count", len(page.Data))
		return nil
	}

	// The API lists newest first.
	for i := len(page.Data) - 1; i >= 0; i-- {
		tw := page.Data[i]
		t.overlay.Publish(overlay.TimelineAdd{
			User:    page.author(tw.AuthorID),
			Service: domain.ServiceTwitter,
			Content: tw.Text,
		})
		metrics.TimelineMessages.Inc()
	}
	return nil
}

func (t *Twitter) search(ctx context.Context, client *http.Client) (*searchPage, error) {
	q := url.Values{}
	q.Set("query", t.query)
	q.Set("max_results", fmt.Sprint(twitterMaxResults))
	q.Set("expansions", "author_id")
	q.Set("user.fields", "profile_image_url,username,name")
	if t.sinceID != "" {
		q.Set("since_id", t.sinceID)
	}

	resp, err := httpx.DoWithRetry(ctx, client, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, t.searchURL+"?"+q.Encode(), nil)
	}, httpx.DefaultRetries, t.logger)
	if err != nil {
		return nil, fmt.Errorf("twitter search: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("twitter search read: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("twitter search: status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	return parseSearchPage(body)
}

type searchPage struct {
	Data []struct {
		ID       string `json:"id"`
		Text     string `json:"text"`
		AuthorID string `json:"author_id"`
	} `json:"data"`
	Includes struct {
		Users []twitterUser `json:"users"`
	} `json:"includes"`
	Meta struct {
		NewestID    string `json:"newest_id"`
		ResultCount int    `json:"result_count"`
	} `json:"meta"`
}

type twitterUser struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Username        string `json:"username"`
	ProfileImageURL string `json:"profile_image_url"`
}

func parseSearchPage(body []byte) (*searchPage, error) {
	var page searchPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("twitter search decode: %w", err)
	}
	return &page, nil
}

// author returns the expanded user for id, or a placeholder when the
// expansion is missing.
func (p *searchPage) author(id string) domain.DisplayUser {
	for _, u := range p.Includes.Users {
		if u.ID == id {
			return domain.DisplayUser{
				Icon:       domain.StringPtr(u.ProfileImageURL),
				Identifier: domain.StringPtr(u.Username),
				Name:       u.Name,
			}
		}
	}
	return domain.DisplayUser{Name: "Unknown user"}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
