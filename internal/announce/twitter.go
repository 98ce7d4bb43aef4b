package announce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"ltlive/internal/domain"
	"ltlive/internal/httpx"

	"golang.org/x/oauth2"
)

const (
	defaultTweetsURL     = "https://api.twitter.com/2/tweets"
	defaultTwitterToken  = "https://api.twitter.com/2/oauth2/token"
	defaultStatusBaseURL = "https://x.com/i/web/status/"
)

// TwitterConfig configures the Twitter announcer. It uses an OAuth 2.0 user
// context token; the refresh token keeps it valid across long events.
type TwitterConfig struct {
	ClientID     string
	ClientSecret string
	AccessToken  string
	RefreshToken string

	// OnTokenRefresh receives rotated tokens. Twitter invalidates the old
	// refresh token, so they must be stored to survive a restart.
	OnTokenRefresh func(accessToken, refreshToken string) error

	TweetsURL  string // default: https://api.twitter.com/2/tweets
	TokenURL   string // default: https://api.twitter.com/2/oauth2/token
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Twitter posts tweets through the v2 API.
type Twitter struct {
	client    *http.Client
	tweetsURL string
	logger    *slog.Logger
}

var _ domain.Announcer = (*Twitter)(nil)

// NewTwitter builds the announcer. ctx bounds token refreshes.
func NewTwitter(ctx context.Context, cfg TwitterConfig) *Twitter {
	if cfg.TweetsURL == "" {
		cfg.TweetsURL = defaultTweetsURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTwitterToken
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = httpx.NewClient(30 * time.Second)
	}

	conf := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
	tok := &oauth2.Token{
		AccessToken:  cfg.AccessToken,
		RefreshToken: cfg.RefreshToken,
		TokenType:    "Bearer",
	}
	if cfg.AccessToken != "" && cfg.RefreshToken != "" {
		// Unknown expiry: refresh on first use so a stale token never reaches the API.
		tok.Expiry = time.Now()
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, cfg.HTTPClient)
	src := &rotatingSource{
		base:    conf.TokenSource(ctx, tok),
		refresh: cfg.RefreshToken,
		onRotate: func(t *oauth2.Token) {
			if cfg.OnTokenRefresh == nil {
				cfg.Logger.Warn("twitter refresh token rotated but not stored; update announce.twitter before restarting")
				return
			}
			if err := cfg.OnTokenRefresh(t.AccessToken, t.RefreshToken); err != nil {
				cfg.Logger.Warn("failed to store rotated twitter tokens; update announce.twitter before restarting", "err", err)
				return
			}
			cfg.Logger.Info("twitter tokens refreshed and stored")
		},
	}
	return &Twitter{
		client:    oauth2.NewClient(ctx, src),
		tweetsURL: cfg.TweetsURL,
		logger:    cfg.Logger,
	}
}

func (t *Twitter) Name() string { return "twitter" }

// rotatingSource reports every new refresh token issued by base.
type rotatingSource struct {
	base     oauth2.TokenSource
	onRotate func(*oauth2.Token)

	mu      sync.Mutex
	refresh string
}

func (s *rotatingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	rotated := tok.RefreshToken != "" && tok.RefreshToken != s.refresh
	if rotated {
		s.refresh = tok.RefreshToken
	}
	s.mu.Unlock()

	if rotated {
		s.onRotate(tok)
	}
	return tok, nil
}

type tweetRequest struct {
	Text string `json:"text"`
}

type tweetResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
	} `json:"errors"`
	Detail string `json:"detail"`
	Title  string `json:"title"`
}

// Post creates a tweet and returns its status URL.
func (t *Twitter) Post(ctx context.Context, text string) (string, error) {
	body, err := json.Marshal(tweetRequest{Text: text})
	if err != nil {
		return "", fmt.Errorf("encode tweet: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.tweetsURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build tweet request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("post tweet: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read tweet response: %w", err)
	}

	var out tweetResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode tweet response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("twitter API %d: %s", resp.StatusCode, apiErrorText(out, raw))
	}
	if out.Data.ID == "" {
		return "", fmt.Errorf("twitter API returned no tweet id: %s", apiErrorText(out, raw))
	}

	t.logger.Debug("tweet created", "id", out.Data.ID)
	return defaultStatusBaseURL + out.Data.ID, nil
}

func apiErrorText(r tweetResponse, raw []byte) string {
	switch {
	case r.Detail != "":
		return r.Detail
	case len(r.Errors) > 0 && r.Errors[0].Detail != "":
		return r.Errors[0].Detail
	case len(r.Errors) > 0:
		return r.Errors[0].Message
	case r.Title != "":
		return r.Title
	}
	if len(raw) > 200 {
		raw = raw[:200]
	}
	return string(raw)
}
