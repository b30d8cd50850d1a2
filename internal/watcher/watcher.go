// Package watcher implements the consumption side of spec.md's
// optional filesystem-watcher collaborator: a channel of changed-path
// notifications. No inotify/FSEvents backend is implemented; the only
// concrete Watcher polls mtimes on a schedule, grounded in the
// teacher's ninja-rbe/schedule.go use of
// github.com/go-co-op/gocron/v2.
package watcher

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/kiln-build/kiln/internal/diskutil"
)

// Watcher delivers a channel of paths that have changed since it was
// started.
type Watcher interface {
	Changes() <-chan string
	Start() error
	Stop() error
}

// PollWatcher stats a fixed set of paths on a gocron schedule and
// reports any whose mtime moved since the previous tick.
type PollWatcher struct {
	disk  diskutil.DiskInterface
	paths []string

	scheduler gocron.Scheduler
	interval  time.Duration

	mu      sync.Mutex
	last    map[string]int64
	changes chan string
}

// New returns a PollWatcher that checks paths every interval.
func New(disk diskutil.DiskInterface, paths []string, interval time.Duration) *PollWatcher {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &PollWatcher{
		disk:     disk,
		paths:    paths,
		interval: interval,
		last:     make(map[string]int64),
		changes:  make(chan string, 64),
	}
}

func (w *PollWatcher) Changes() <-chan string { return w.changes }

// Start primes the mtime baseline and begins polling.
func (w *PollWatcher) Start() error {
	for _, p := range w.paths {
		if _, mt, err := w.disk.Stat(p); err == nil {
			w.last[p] = mt
		}
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	w.scheduler = s
	if _, err := s.NewJob(gocron.DurationJob(w.interval), gocron.NewTask(w.poll)); err != nil {
		return err
	}
	s.Start()
	return nil
}

func (w *PollWatcher) poll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, p := range w.paths {
		_, mt, err := w.disk.Stat(p)
		if err != nil {
			continue
		}
		if prev, ok := w.last[p]; !ok || mt != prev {
			w.last[p] = mt
			select {
			case w.changes <- p:
			default:
			}
		}
	}
}

// Stop shuts down the underlying scheduler.
func (w *PollWatcher) Stop() error {
	if w.scheduler == nil {
		return nil
	}
	return w.scheduler.Shutdown()
}

// WaitForChange blocks until the watcher reports a change or ctx is
// done, for "kiln -t watch"'s rebuild loop.
func WaitForChange(ctx context.Context, w Watcher) (string, error) {
	select {
	case p := <-w.Changes():
		return p, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
