package dispatch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"ltlive/internal/command"
	"ltlive/internal/domain"
	"ltlive/internal/overlay"
)

func TestDispatch_Help(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if got := f.d.Dispatch(ctx, command.Help{}, staffInvocation()); got != DefaultHelpURL {
		t.Errorf("help = %q", got)
	}
	got := f.d.Dispatch(ctx, command.Help{Hint: command.HintUnknown}, staffInvocation())
	if got != command.HintUnknown+"\n"+DefaultHelpURL {
		t.Errorf("help with hint = %q", got)
	}
}

func TestDispatch_ListenAndStop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if got := f.d.Dispatch(ctx, command.StopListening{}, staffInvocation()); got != ReplyNotListening {
		t.Errorf("stop before listen = %q", got)
	}
	if got := f.d.Dispatch(ctx, command.Listen{}, staffInvocation()); got != "now listening at <#c1>" {
		t.Errorf("listen = %q", got)
	}
	if ch, ok := f.d.State().Listening(); !ok || ch != "c1" {
		t.Errorf("listening = %q, %v", ch, ok)
	}
	if got := f.d.Dispatch(ctx, command.StopListening{}, staffInvocation()); got != "stopped" {
		t.Errorf("stop = %q", got)
	}
	if _, ok := f.d.State().Listening(); ok {
		t.Error("still listening after stop")
	}
}

func TestDispatch_OverlayCommands(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if got := f.d.Dispatch(ctx, command.SetNotification{Text: "break"}, staffInvocation()); got != "set" {
		t.Errorf("set_notification = %q", got)
	}
	if got := f.d.Dispatch(ctx, command.TimelineClear{}, staffInvocation()); got != "cleared" {
		t.Errorf("clear_timeline = %q", got)
	}

	want := []string{overlay.TypeNotificationUpdate, overlay.TypeTimelineFlush}
	if got := f.overlay.types(); !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
	if n := f.overlay.events[0].(overlay.NotificationUpdate); n.Text != "break" {
		t.Errorf("notification text = %q", n.Text)
	}
}

func TestDispatch_PauseResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if got := f.d.Dispatch(ctx, command.Pause{}, staffInvocation()); got != ReplySwitching {
		t.Errorf("pause = %q", got)
	}
	if got := f.d.Dispatch(ctx, command.Resume{}, staffInvocation()); got != ReplySwitching {
		t.Errorf("resume = %q", got)
	}
	if f.stream.mutes != 1 || f.stream.unmutes != 1 {
		t.Errorf("mutes=%d unmutes=%d", f.stream.mutes, f.stream.unmutes)
	}

	pages := []overlay.Page{}
	for _, e := range f.overlay.events {
		pages = append(pages, e.(overlay.ScreenUpdate).Page)
	}
	if !reflect.DeepEqual(pages, []overlay.Page{overlay.PageWaitingScreen, overlay.PageLTScreen}) {
		t.Errorf("pages = %v", pages)
	}
}

func TestDispatch_PauseStreamErrorKeepsReply(t *testing.T) {
	f := newFixture(t)
	f.stream.err = domain.ErrStreamControlUnavailable

	if got := f.d.Dispatch(context.Background(), command.Pause{}, staffInvocation()); got != ReplySwitching {
		t.Errorf("pause = %q", got)
	}
}

func TestDispatch_PushResolvesMention(t *testing.T) {
	f := newFixture(t, pres("Bob", "First"))

	got := f.d.Dispatch(context.Background(), command.PresentationPush{Mention: "<@!123>", Title: "Intro to Widgets"}, staffInvocation())
	if got != "pushed: #1 Alice - Intro to Widgets" {
		t.Errorf("push = %q", got)
	}

	snap := f.q.Snapshot()
	if len(snap) != 2 || snap[1].Presenter.Name != "Alice" || *snap[1].Presenter.Identifier != "alice" {
		t.Errorf("queue = %+v", snap)
	}
	if got := f.overlay.types(); !reflect.DeepEqual(got, []string{overlay.TypePendingUpdate}) {
		t.Errorf("events = %v", got)
	}
	pending := f.overlay.events[0].(overlay.PendingUpdate)
	if len(pending.Presentations) != 2 {
		t.Errorf("pending list has %d entries", len(pending.Presentations))
	}
}

func TestDispatch_PushFromDMUsesHomeGuild(t *testing.T) {
	f := newFixture(t)
	dm := Invocation{
		Identity:  domain.Identity{Service: domain.ServiceDiscord, UserID: "42"},
		ChannelID: "dm1",
	}

	if got := f.d.Dispatch(context.Background(), command.PresentationPush{Mention: "<@123>", Title: "Tea"}, dm); got != "pushed: #0 Alice - Tea" {
		t.Fatalf("push = %q", got)
	}
	if !reflect.DeepEqual(f.users.guilds, []string{"home"}) {
		t.Fatalf("resolved in guilds %v, want [home]", f.users.guilds)
	}

	f.d.Dispatch(context.Background(), command.PresentationPush{Mention: "<@123>", Title: "Cake"}, staffInvocation())
	if f.users.guilds[1] != "g1" {
		t.Fatalf("guild invocation resolved in %q", f.users.guilds[1])
	}
}

func TestDispatch_PushMentionFailures(t *testing.T) {
	tests := []struct {
		name    string
		mention string
		usersFn func(*fakeUsers)
		want    string
	}{
		{name: "not a mention", mention: "alice", want: ReplyBadMention},
		{name: "channel mention", mention: "<#123>", want: ReplyBadMention},
		{name: "unknown user", mention: "<@999>", want: ReplyUnknownUser},
		{
			name:    "resolver error",
			mention: "<@123>",
			usersFn: func(u *fakeUsers) { u.err = errors.New("rate limited") },
			want:    ReplyUnknownUser,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.usersFn != nil {
				tt.usersFn(f.users)
			}
			got := f.d.Dispatch(context.Background(), command.PresentationPush{Mention: tt.mention, Title: "T"}, staffInvocation())
			if got != tt.want {
				t.Errorf("reply = %q, want %q", got, tt.want)
			}
			if f.q.Len() != 0 {
				t.Error("queue mutated on failed push")
			}
			if len(f.overlay.events) != 0 {
				t.Errorf("unexpected events %v", f.overlay.types())
			}
		})
	}
}

func TestDispatch_PopEmitsQueueAndPresentationEvents(t *testing.T) {
	f := newFixture(t, pres("Alice", "Widgets"), pres("Bob", "Gadgets"))

	got := f.d.Dispatch(context.Background(), command.PresentationPop{}, staffInvocation())
	want := "popped: Alice - Widgets\ndon't forget to announce it: g!live presentation_tweet"
	if got != want {
		t.Errorf("pop = %q, want %q", got, want)
	}

	wantTypes := []string{overlay.TypePendingUpdate, overlay.TypePresentationUpdate}
	if got := f.overlay.types(); !reflect.DeepEqual(got, wantTypes) {
		t.Fatalf("events = %v, want %v", got, wantTypes)
	}
	pending := f.overlay.events[0].(overlay.PendingUpdate)
	if len(pending.Presentations) != 1 || pending.Presentations[0].Title != "Gadgets" {
		t.Errorf("pending = %+v", pending.Presentations)
	}
	if p := f.overlay.events[1].(overlay.PresentationUpdate); p.Presentation.Title != "Widgets" {
		t.Errorf("presentation update = %+v", p)
	}

	current, ok := f.d.State().Current()
	if !ok || current.Title != "Widgets" {
		t.Errorf("current = %+v, %v", current, ok)
	}
}

func TestDispatch_PopEmpty(t *testing.T) {
	f := newFixture(t)

	if got := f.d.Dispatch(context.Background(), command.PresentationPop{}, staffInvocation()); got != ReplyEmptyQueue {
		t.Errorf("pop = %q", got)
	}
	if len(f.overlay.events) != 0 {
		t.Errorf("unexpected events %v", f.overlay.types())
	}
	if _, ok := f.d.State().Current(); ok {
		t.Error("current set by empty pop")
	}
}

func TestDispatch_RemoveAndUpdate(t *testing.T) {
	f := newFixture(t, pres("Alice", "Widgets"), pres("Bob", "Gadgets"))
	ctx := context.Background()

	if got := f.d.Dispatch(ctx, command.PresentationRemove{Index: 5}, staffInvocation()); got != ReplyNotFound {
		t.Errorf("remove out of range = %q", got)
	}
	huge := command.NewParser("g!live").Parse("g!live presentations remove 4294967296")
	if got := f.d.Dispatch(ctx, huge, staffInvocation()); got != ReplyNotFound {
		t.Errorf("remove huge index = %q", got)
	}
	if got := f.d.Dispatch(ctx, command.PresentationUpdate{Index: 1, Title: "Gizmos"}, staffInvocation()); got != "overwrote" {
		t.Errorf("update = %q", got)
	}
	if got := f.d.Dispatch(ctx, command.PresentationRemove{Index: 0}, staffInvocation()); got != "removed" {
		t.Errorf("remove = %q", got)
	}
	if got := f.d.Dispatch(ctx, command.PresentationUpdate{Index: 3, Title: "x"}, staffInvocation()); got != ReplyNotFound {
		t.Errorf("update out of range = %q", got)
	}

	snap := f.q.Snapshot()
	if len(snap) != 1 || snap[0].Title != "Gizmos" {
		t.Errorf("queue = %+v", snap)
	}
	if n := len(f.overlay.events); n != 2 {
		t.Errorf("expected 2 pending updates, got %v", f.overlay.types())
	}
}

func TestDispatch_List(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if got := f.d.Dispatch(ctx, command.PresentationList{}, staffInvocation()); got != "```\n(empty)\n```" {
		t.Errorf("empty list = %q", got)
	}

	f = newFixture(t, pres("Alice", "Widgets"), pres("Bob", "Gadgets"))
	want := "```\n0: name: Alice title: Widgets\n1: name: Bob title: Gadgets\n```"
	if got := f.d.Dispatch(ctx, command.PresentationList{}, staffInvocation()); got != want {
		t.Errorf("list = %q, want %q", got, want)
	}
}

func TestDispatch_Reorder(t *testing.T) {
	f := newFixture(t, pres("Alice", "Widgets"), pres("Bob", "Gadgets"))

	got := f.d.Dispatch(context.Background(), command.PresentationReorder{Map: []int{1, 0}}, staffInvocation())
	if got != ReplyReorder {
		t.Errorf("reorder = %q", got)
	}
	if f.q.Snapshot()[0].Title != "Widgets" {
		t.Error("reorder changed the queue")
	}
}

func TestDispatch_PersistenceFailure(t *testing.T) {
	f := newFixture(t, pres("Alice", "Widgets"))

	// Replace the snapshot directory with a regular file so writes fail.
	dir := filepath.Dir(f.q.Path())
	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dir, []byte("not a dir"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	for _, cmd := range []command.Command{
		command.PresentationPop{},
		command.PresentationRemove{Index: 0},
		command.PresentationUpdate{Index: 0, Title: "x"},
		command.PresentationPush{Mention: "<@123>", Title: "y"},
	} {
		if got := f.d.Dispatch(ctx, cmd, staffInvocation()); got != ReplySaveFailed {
			t.Errorf("%s: reply = %q", command.Name(cmd), got)
		}
	}

	snap := f.q.Snapshot()
	if len(snap) != 1 || snap[0].Title != "Widgets" {
		t.Errorf("queue changed after failed writes: %+v", snap)
	}
	if _, ok := f.d.State().Current(); ok {
		t.Error("current set after failed pop")
	}
	if len(f.overlay.events) != 0 {
		t.Errorf("events emitted after failed writes: %v", f.overlay.types())
	}
}

func TestDispatch_TweetFooterOrder(t *testing.T) {
	f := newFixture(t)

	cmd := command.Tweet{Twitter: true, Youtube: true, Discord: true, Body: "hello"}
	got := f.d.Dispatch(context.Background(), cmd, staffInvocation())

	wantText := "hello\n\n配信はこちら\nhttps://youtu.be/live\n\nDiscordサーバーはこちら\nhttps://discord.gg/invite\n\n#限界LT #ltlive"
	if len(f.announcer.posts) != 1 || f.announcer.posts[0] != wantText {
		t.Fatalf("posted %q, want %q", f.announcer.posts, wantText)
	}
	wantReply := "tweeted: https://x.com/i/web/status/1\n```\n" + wantText + "\n```"
	if got != wantReply {
		t.Errorf("reply = %q, want %q", got, wantReply)
	}
}

func TestDispatch_TweetLengthLimit(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t)
	body := strings.Repeat("a", 280)
	if got := f.d.Dispatch(ctx, command.Tweet{Body: body}, staffInvocation()); !strings.HasPrefix(got, "tweeted: ") {
		t.Errorf("280 ascii rejected: %q", got)
	}

	f = newFixture(t)
	body = strings.Repeat("a", 281)
	got := f.d.Dispatch(ctx, command.Tweet{Body: body}, staffInvocation())
	if !strings.HasPrefix(got, "too long (281/280), not tweeted\n```\n") {
		t.Errorf("281 ascii reply = %q", got)
	}
	if len(f.announcer.posts) != 0 {
		t.Error("announcer called for an oversized tweet")
	}

	f = newFixture(t)
	body = strings.Repeat("あ", 141)
	if got := f.d.Dispatch(ctx, command.Tweet{Body: body}, staffInvocation()); !strings.HasPrefix(got, "too long (282/280)") {
		t.Errorf("wide body reply = %q", got)
	}
}

func TestDispatch_TweetSimulation(t *testing.T) {
	f := newFixture(t)

	got := f.d.Dispatch(context.Background(), command.Tweet{Body: "dry run", Simulation: true}, staffInvocation())
	if got != "simulation: not tweeted\n```\ndry run\n```" {
		t.Errorf("reply = %q", got)
	}
	if len(f.announcer.posts) != 0 {
		t.Error("announcer called in simulation")
	}
}

func TestDispatch_TweetPostFailure(t *testing.T) {
	f := newFixture(t)
	f.announcer.err = errors.New("401 unauthorized")

	got := f.d.Dispatch(context.Background(), command.Tweet{Body: "hi"}, staffInvocation())
	if got != ReplyTweetFailed+"\n```\nhi\n```" {
		t.Errorf("reply = %q", got)
	}
}

func TestDispatch_PresentationTweet(t *testing.T) {
	f := newFixture(t, pres("Alice", "Widgets"))
	ctx := context.Background()

	if got := f.d.Dispatch(ctx, command.PresentationTweet{}, staffInvocation()); got != ReplyNoCurrent {
		t.Errorf("before pop = %q", got)
	}

	f.d.Dispatch(ctx, command.PresentationPop{}, staffInvocation())
	got := f.d.Dispatch(ctx, command.PresentationTweet{Simulation: true}, staffInvocation())

	wantText := "次の発表は\nAlice さんによる\n「Widgets」\nです！\n\n#限界LT #ltlive"
	if got != "simulation: not tweeted\n```\n"+wantText+"\n```" {
		t.Errorf("reply = %q", got)
	}

	// The current presentation stays set after announcing.
	if _, ok := f.d.State().Current(); !ok {
		t.Error("current cleared after presentation_tweet")
	}
}

func TestDispatch_PresentationTweetUsesPicker(t *testing.T) {
	f := newFixture(t, pres("Alice", "Widgets"))
	f.d.picker = func() command.Footer { return command.FooterDiscord }
	ctx := context.Background()

	f.d.Dispatch(ctx, command.PresentationPop{}, staffInvocation())
	f.d.Dispatch(ctx, command.PresentationTweet{}, staffInvocation())

	if len(f.announcer.posts) != 1 {
		t.Fatalf("posts = %d", len(f.announcer.posts))
	}
	if !strings.HasSuffix(f.announcer.posts[0], "\n\nDiscordサーバーはこちら\nhttps://discord.gg/invite") {
		t.Errorf("post = %q", f.announcer.posts[0])
	}
}
