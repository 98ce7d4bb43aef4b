package dispatch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"ltlive/internal/command"
	"ltlive/internal/domain"
	"ltlive/internal/overlay"
	"ltlive/internal/queue"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type recordingOverlay struct {
	mu     sync.Mutex
	events []overlay.Event
}

func (o *recordingOverlay) Publish(e overlay.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, e)
}

func (o *recordingOverlay) types() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.events))
	for i, e := range o.events {
		out[i] = e.Type()
	}
	return out
}

type fakeAnnouncer struct {
	link  string
	err   error
	posts []string
}

func (a *fakeAnnouncer) Name() string { return "fake" }

func (a *fakeAnnouncer) Post(ctx context.Context, text string) (string, error) {
	a.posts = append(a.posts, text)
	return a.link, a.err
}

type fakeStream struct {
	err     error
	mutes   int
	unmutes int
}

func (s *fakeStream) Mute(ctx context.Context) error   { s.mutes++; return s.err }
func (s *fakeStream) Unmute(ctx context.Context) error { s.unmutes++; return s.err }

type fakeUsers struct {
	users  map[string]domain.DisplayUser
	err    error
	guilds []string
}

func (u *fakeUsers) ResolveUser(ctx context.Context, guildID, userID string) (domain.DisplayUser, error) {
	u.guilds = append(u.guilds, guildID)
	if u.err != nil {
		return domain.DisplayUser{}, u.err
	}
	user, ok := u.users[userID]
	if !ok {
		return domain.DisplayUser{}, domain.ErrUserNotFound
	}
	return user, nil
}

type fixture struct {
	d         *Dispatcher
	q         *queue.Queue
	overlay   *recordingOverlay
	announcer *fakeAnnouncer
	stream    *fakeStream
	users     *fakeUsers
}

func testSNS() SNS {
	return SNS{
		StreamURL: "https://youtu.be/live",
		InviteURL: "https://discord.gg/invite",
		Hashtags:  []string{"#限界LT", "#ltlive"},
	}
}

func newFixture(t *testing.T, entries ...domain.Presentation) *fixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), "presentations.yaml")
	q, err := queue.Open(path, queue.Options{StartEmpty: true}, testLogger())
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	for _, p := range entries {
		if err := q.Push(context.Background(), p); err != nil {
			t.Fatalf("seed queue: %v", err)
		}
	}

	f := &fixture{
		q:         q,
		overlay:   &recordingOverlay{},
		announcer: &fakeAnnouncer{link: "https://x.com/i/web/status/1"},
		stream:    &fakeStream{},
		users: &fakeUsers{users: map[string]domain.DisplayUser{
			"123": {Name: "Alice", Identifier: domain.StringPtr("alice")},
		}},
	}
	f.d = New(Config{
		Queue:     q,
		Overlay:   f.overlay,
		Announcer: f.announcer,
		Stream:    f.stream,
		Users:     f.users,
		Picker:    func() command.Footer { return command.FooterTwitter },
		GuildID:   "home",
		SNS:       testSNS(),
		Prefix:    "g!live",
		Logger:    testLogger(),
	})
	return f
}

func pres(name, title string) domain.Presentation {
	return domain.Presentation{Presenter: domain.DisplayUser{Name: name}, Title: title}
}

func staffInvocation() Invocation {
	return Invocation{
		Identity:  domain.Identity{Service: domain.ServiceDiscord, UserID: "42", GuildID: "g1"},
		ChannelID: "c1",
		GuildID:   "g1",
	}
}
