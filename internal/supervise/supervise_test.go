package supervise

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func fastConfig() Config {
	return Config{MinBackoff: time.Millisecond, MaxBackoff: 4 * time.Millisecond, Logger: testLogger()}
}

func TestRun_RestartsFailingTask(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs atomic.Int32
	failing := Task{Name: "flaky", Run: func(ctx context.Context) error {
		if runs.Add(1) >= 3 {
			cancel()
			<-ctx.Done()
			return ctx.Err()
		}
		return errors.New("connection reset")
	}}

	done := make(chan error, 1)
	go func() { done <- Run(ctx, fastConfig(), failing) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	if n := runs.Load(); n != 3 {
		t.Errorf("runs = %d, want 3", n)
	}
}

func TestRun_FailureDoesNotAffectOthers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var steadyRuns, flakyRuns atomic.Int32
	steady := Task{Name: "steady", Run: func(ctx context.Context) error {
		steadyRuns.Add(1)
		<-ctx.Done()
		return nil
	}}
	flaky := Task{Name: "flaky", Run: func(ctx context.Context) error {
		flakyRuns.Add(1)
		return errors.New("boom")
	}}

	done := make(chan error, 1)
	go func() { done <- Run(ctx, fastConfig(), steady, flaky) }()

	deadline := time.Now().Add(5 * time.Second)
	for flakyRuns.Load() < 5 {
		if time.Now().After(deadline) {
			t.Fatal("flaky task was not restarted")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done

	if n := steadyRuns.Load(); n != 1 {
		t.Errorf("steady task ran %d times, want 1", n)
	}
}

func TestRun_RecoversPanics(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs atomic.Int32
	task := Task{Name: "panicky", Run: func(ctx context.Context) error {
		if runs.Add(1) == 1 {
			panic("nil map")
		}
		cancel()
		return nil
	}}

	if err := Run(ctx, fastConfig(), task); err != nil {
		t.Fatalf("Run = %v", err)
	}
	if runs.Load() != 2 {
		t.Errorf("runs = %d, want 2", runs.Load())
	}
}

func TestRun_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MinBackoff: time.Hour, Logger: testLogger()}

	task := Task{Name: "once", Run: func(ctx context.Context) error {
		return errors.New("fail")
	}}

	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg, task) }()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run stuck in backoff after cancel")
	}
}

func TestPanicErrorMessage(t *testing.T) {
	err := runSafely(context.Background(), Task{Run: func(context.Context) error { panic("x") }})
	if err == nil || err.Error() != "panic: x" {
		t.Errorf("err = %v", err)
	}
}
