// Package queue holds the ordered list of upcoming presentations and keeps a
// YAML snapshot of it on disk in step with every mutation.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"ltlive/internal/domain"
)

// ErrNoSnapshot is returned by Open when the snapshot file does not exist
// and StartEmpty is not set.
var ErrNoSnapshot = errors.New("presentation snapshot not found")

// Options controls how Open treats the snapshot file.
type Options struct {
	// StartEmpty allows a missing snapshot file; an empty one is written instead.
	StartEmpty bool
}

// Queue is a FIFO of presentations. Index 0 is always next up.
type Queue struct {
	mu     sync.RWMutex
	list   []domain.Presentation
	path   string
	logger *slog.Logger
}

// Open loads the snapshot at path. A malformed file is always an error.
func Open(path string, opts Options, logger *slog.Logger) (*Queue, error) {
	q := &Queue{path: path, logger: logger}

	list, err := Load(path)
	switch {
	case err == nil:
		q.list = list
	case errors.Is(err, os.ErrNotExist) && opts.StartEmpty:
		if err := Save(path, nil); err != nil {
			return nil, fmt.Errorf("create empty snapshot: %w", err)
		}
		logger.Info("starting with an empty presentation queue", "path", path)
	case errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("%w: %s", ErrNoSnapshot, path)
	default:
		return nil, err
	}

	logger.Info("presentation queue loaded", "path", path, "entries", len(q.list))
	return q, nil
}

// Path returns the snapshot file path.
func (q *Queue) Path() string { return q.path }

// Len returns the number of queued presentations.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.list)
}

// Snapshot returns a copy of the queue in order.
func (q *Queue) Snapshot() []domain.Presentation {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return append([]domain.Presentation(nil), q.list...)
}

// List renders one "{index}: name: {name} title: {title}" line per entry.
func (q *Queue) List() string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return Format(q.list)
}

// Format renders list one entry per line, prefixed with its index.
func Format(list []domain.Presentation) string {
	lines := make([]string, 0, len(list))
	for i, p := range list {
		lines = append(lines, fmt.Sprintf("%d: name: %s title: %s", i, p.Presenter.Name, p.Title))
	}
	return strings.Join(lines, "\n")
}

// Push appends p to the back of the queue.
func (q *Queue) Push(ctx context.Context, p domain.Presentation) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	next := make([]domain.Presentation, 0, len(q.list)+1)
	next = append(next, q.list...)
	next = append(next, p)
	return q.commit(ctx, next)
}

// Pop removes and returns the front entry. An empty queue reports false and
// leaves the snapshot untouched.
func (q *Queue) Pop(ctx context.Context) (domain.Presentation, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.list) == 0 {
		return domain.Presentation{}, false, nil
	}
	front := q.list[0]
	next := append([]domain.Presentation(nil), q.list[1:]...)
	if err := q.commit(ctx, next); err != nil {
		return domain.Presentation{}, false, err
	}
	return front, true, nil
}

// Remove deletes the entry at index. An out-of-range index reports false.
func (q *Queue) Remove(ctx context.Context, index int) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if index < 0 || index >= len(q.list) {
		return false, nil
	}
	next := make([]domain.Presentation, 0, len(q.list)-1)
	next = append(next, q.list[:index]...)
	next = append(next, q.list[index+1:]...)
	if err := q.commit(ctx, next); err != nil {
		return false, err
	}
	return true, nil
}

// Update replaces the title of the entry at index.
func (q *Queue) Update(ctx context.Context, index int, title string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if index < 0 || index >= len(q.list) {
		return false, nil
	}
	next := append([]domain.Presentation(nil), q.list...)
	next[index].Title = title
	if err := q.commit(ctx, next); err != nil {
		return false, err
	}
	return true, nil
}

// commit writes next to disk and only then swaps it in. Caller holds q.mu.
func (q *Queue) commit(ctx context.Context, next []domain.Presentation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := Save(q.path, next); err != nil {
		q.logger.Error("presentation snapshot write failed", "path", q.path, "err", err)
		return err
	}
	q.list = next
	return nil
}
