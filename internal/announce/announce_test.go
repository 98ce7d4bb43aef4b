package announce

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNoop(t *testing.T) {
	link, err := Noop{Logger: testLogger()}.Post(context.Background(), "hello")
	if err != nil || link != Unavailable {
		t.Errorf("Post = %q, %v", link, err)
	}
}

func twitterServer(t *testing.T, tweetStatus int, tweetBody string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var refreshes atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.Form.Get("grant_type") != "refresh_token" || r.Form.Get("refresh_token") != "refresh-1" {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		if id, _, ok := r.BasicAuth(); !ok || id != "client" {
			http.Error(w, `{"error":"invalid_client"}`, http.StatusUnauthorized)
			return
		}
		refreshes.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"fresh","token_type":"bearer","refresh_token":"refresh-2","expires_in":7200}`)
	})
	mux.HandleFunc("POST /2/tweets", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer fresh" {
			http.Error(w, `{"title":"Unauthorized","detail":"bad token"}`, http.StatusUnauthorized)
			return
		}
		var req tweetRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
			http.Error(w, `{"detail":"empty"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(tweetStatus)
		io.WriteString(w, tweetBody)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &refreshes
}

func newTestTwitter(srv *httptest.Server) *Twitter {
	return NewTwitter(context.Background(), TwitterConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		AccessToken:  "stale",
		RefreshToken: "refresh-1",
		TweetsURL:    srv.URL + "/2/tweets",
		TokenURL:     srv.URL + "/token",
		HTTPClient:   srv.Client(),
		Logger:       testLogger(),
	})
}

func TestTwitter_PostRefreshesAndReturnsLink(t *testing.T) {
	srv, refreshes := twitterServer(t, http.StatusCreated, `{"data":{"id":"1880","text":"hi"}}`)
	tw := newTestTwitter(srv)

	for i := 0; i < 2; i++ {
		link, err := tw.Post(context.Background(), "hi")
		if err != nil {
			t.Fatalf("Post: %v", err)
		}
		if link != "https://x.com/i/web/status/1880" {
			t.Errorf("link = %q", link)
		}
	}
	if n := refreshes.Load(); n != 1 {
		t.Errorf("token refreshed %d times, want 1", n)
	}
}

func TestTwitter_RotatedTokensAreStored(t *testing.T) {
	srv, _ := twitterServer(t, http.StatusCreated, `{"data":{"id":"7","text":"hi"}}`)
	var stored [][2]string
	tw := NewTwitter(context.Background(), TwitterConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		AccessToken:  "stale",
		RefreshToken: "refresh-1",
		OnTokenRefresh: func(accessToken, refreshToken string) error {
			stored = append(stored, [2]string{accessToken, refreshToken})
			return nil
		},
		TweetsURL:  srv.URL + "/2/tweets",
		TokenURL:   srv.URL + "/token",
		HTTPClient: srv.Client(),
		Logger:     testLogger(),
	})

	for i := 0; i < 2; i++ {
		if _, err := tw.Post(context.Background(), "hi"); err != nil {
			t.Fatalf("Post: %v", err)
		}
	}
	if len(stored) != 1 || stored[0] != [2]string{"fresh", "refresh-2"} {
		t.Fatalf("stored tokens = %v", stored)
	}
}

func TestTwitter_APIError(t *testing.T) {
	srv, _ := twitterServer(t, http.StatusForbidden, `{"title":"Forbidden","detail":"You are not allowed to create a Tweet with duplicate content."}`)
	tw := newTestTwitter(srv)

	_, err := tw.Post(context.Background(), "dup")
	if err == nil || !strings.Contains(err.Error(), "duplicate content") || !strings.Contains(err.Error(), "403") {
		t.Errorf("err = %v", err)
	}
}

func TestTelegram_PostToChannel(t *testing.T) {
	var sentText string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"lt","username":"ltbot"}}`)
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			r.ParseForm()
			if r.Form.Get("chat_id") != "@ltchan" {
				io.WriteString(w, `{"ok":false,"error_code":400,"description":"chat not found"}`)
				return
			}
			sentText = r.Form.Get("text")
			io.WriteString(w, `{"ok":true,"result":{"message_id":77,"date":0,"chat":{"id":-100,"type":"channel","username":"ltchan"},"text":"x"}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	tg := NewTelegram(TelegramConfig{
		Token:           "123:abc",
		ChannelUsername: "@ltchan",
		APIEndpoint:     srv.URL + "/bot%s/%s",
		HTTPClient:      srv.Client(),
		Logger:          testLogger(),
	})

	link, err := tg.Post(context.Background(), "次の発表は")
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if link != "https://t.me/ltchan/77" {
		t.Errorf("link = %q", link)
	}
	if sentText != "次の発表は" {
		t.Errorf("sent text = %q", sentText)
	}
}

func TestTelegram_InitFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"ok":false,"error_code":401,"description":"Unauthorized"}`)
	}))
	defer srv.Close()

	tg := NewTelegram(TelegramConfig{
		Token:       "bad",
		ChatID:      5,
		APIEndpoint: srv.URL + "/bot%s/%s",
		HTTPClient:  srv.Client(),
		Logger:      testLogger(),
	})
	if _, err := tg.Post(context.Background(), "x"); err == nil {
		t.Fatal("expected error for rejected token")
	}
}

func TestSlack_PostReturnsPermalink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/chat.postMessage":
			io.WriteString(w, `{"ok":true,"channel":"C1","ts":"1700000000.000100"}`)
		case "/chat.getPermalink":
			io.WriteString(w, `{"ok":true,"channel":"C1","permalink":"https://lt.slack.com/archives/C1/p1700000000000100"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	s := NewSlack(SlackConfig{BotToken: "xoxb-test", Channel: "#lt", APIURL: srv.URL + "/", Logger: testLogger()})
	link, err := s.Post(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if link != "https://lt.slack.com/archives/C1/p1700000000000100" {
		t.Errorf("link = %q", link)
	}
}

func TestSlack_PermalinkFailureFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/chat.postMessage" {
			io.WriteString(w, `{"ok":true,"channel":"C1","ts":"1.2"}`)
			return
		}
		io.WriteString(w, `{"ok":false,"error":"missing_scope"}`)
	}))
	defer srv.Close()

	s := NewSlack(SlackConfig{BotToken: "xoxb-test", Channel: "#lt", APIURL: srv.URL + "/", Logger: testLogger()})
	link, err := s.Post(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if link != "slack:C1/1.2" {
		t.Errorf("link = %q", link)
	}
}

func TestSlack_PostError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"ok":false,"error":"channel_not_found"}`)
	}))
	defer srv.Close()

	s := NewSlack(SlackConfig{BotToken: "xoxb-test", Channel: "#nope", APIURL: srv.URL + "/", Logger: testLogger()})
	if _, err := s.Post(context.Background(), "hello"); err == nil || !strings.Contains(err.Error(), "channel_not_found") {
		t.Errorf("err = %v", err)
	}
}
