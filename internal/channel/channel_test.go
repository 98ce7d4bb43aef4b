package channel

import (
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"ltlive/internal/overlay"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type recordingOverlay struct {
	mu     sync.Mutex
	events []overlay.Event
}

func (r *recordingOverlay) Publish(e overlay.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingOverlay) snapshot() []overlay.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]overlay.Event(nil), r.events...)
}

// waitFor polls until at least n events were published.
func (r *recordingOverlay) waitFor(t *testing.T, n int) []overlay.Event {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if ev := r.snapshot(); len(ev) >= n {
			return ev
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d events, got %d", n, len(r.snapshot()))
	return nil
}
