// Package supervise keeps long-running listeners alive, restarting each one
// independently when it fails.
package supervise

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"ltlive/internal/domain"
	"ltlive/internal/metrics"

	"golang.org/x/sync/errgroup"
)

// Task is one supervised unit of work. Run should block until ctx is done.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// FromSource adapts a chat source to a Task.
func FromSource(src domain.Source) Task {
	return Task{Name: src.Name(), Run: src.Start}
}

// Config tunes restart behaviour.
type Config struct {
	MinBackoff time.Duration // default 1s
	MaxBackoff time.Duration // default 1m
	// StableAfter resets the backoff once a run lasted this long. Default 2m.
	StableAfter time.Duration
	Logger      *slog.Logger
}

func (c *Config) defaults() {
	if c.MinBackoff <= 0 {
		c.MinBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = time.Minute
	}
	if c.MaxBackoff < c.MinBackoff {
		c.MaxBackoff = c.MinBackoff
	}
	if c.StableAfter <= 0 {
		c.StableAfter = 2 * time.Minute
	}
}

// Run starts every task and restarts any that return before ctx is
// cancelled. It returns once all tasks have stopped after cancellation.
func Run(ctx context.Context, cfg Config, tasks ...Task) error {
	cfg.defaults()

	var g errgroup.Group
	for _, t := range tasks {
		g.Go(func() error {
			keepAlive(ctx, cfg, t)
			return nil
		})
	}
	return g.Wait()
}

func keepAlive(ctx context.Context, cfg Config, t Task) {
	backoff := cfg.MinBackoff
	for {
		start := time.Now()
		err := runSafely(ctx, t)
		if ctx.Err() != nil {
			cfg.Logger.Info("task stopped", "task", t.Name)
			return
		}

		if time.Since(start) >= cfg.StableAfter {
			backoff = cfg.MinBackoff
		}
		wait := backoff + time.Duration(rand.Int64N(int64(backoff/2)+1))
		metrics.SourceRestarts.Inc()
		cfg.Logger.Warn("task exited, restarting",
			"task", t.Name,
			"err", err,
			"backoff", wait,
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		backoff = min(backoff*2, cfg.MaxBackoff)
	}
}

// runSafely turns a panic in a task into an error so one listener cannot
// take the process down.
func runSafely(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	return t.Run(ctx)
}

type panicError struct{ value any }

func (p *panicError) Error() string {
	return "panic: " + slog.AnyValue(p.value).String()
}
