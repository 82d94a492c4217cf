// Package autosave periodically saves editor buffers with unsaved
// changes to the wiki.
package autosave

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/tidsync/internal/editor"
	"github.com/starford/tidsync/internal/models"
)

// BufferSource lists editor buffers and writes them to disk.
// *editor.Registry implements it.
type BufferSource interface {
	Buffers() []editor.Buffer
	Persist(path string) error
}

// Saver uploads a mirror file.
type Saver interface {
	Save(ctx context.Context, path string) (*models.Tiddler, error)
}

// UnsavedLister is implemented by savers that track mirror files with
// changes not yet uploaded, such as files recovered from a previous run.
// Tick saves those even when no editor buffer holds them.
type UnsavedLister interface {
	Unsaved() []string
}

// PathFilter decides which buffers belong to the mirror.
type PathFilter interface {
	IsManaged(path string) bool
}

// Result summarises one tick.
type Result struct {
	Saved  []string
	Failed []string
}

// Timer drives the autosave loop.
type Timer struct {
	source BufferSource
	saver  Saver
	filter PathFilter
	logger *slog.Logger

	mu       sync.Mutex
	enabled  bool
	interval time.Duration
	changed  chan struct{}
}

// New creates a timer. interval below one second is raised to one second.
func New(source BufferSource, saver Saver, filter PathFilter, enabled bool, interval time.Duration, logger *slog.Logger) *Timer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Timer{
		source:   source,
		saver:    saver,
		filter:   filter,
		logger:   logger,
		enabled:  enabled,
		interval: clampInterval(interval),
		changed:  make(chan struct{}, 1),
	}
}

func clampInterval(d time.Duration) time.Duration {
	if d < time.Second {
		return time.Second
	}
	return d
}

// Configure changes the schedule. It takes effect immediately.
func (t *Timer) Configure(enabled bool, interval time.Duration) {
	t.mu.Lock()
	t.enabled = enabled
	t.interval = clampInterval(interval)
	t.mu.Unlock()
	select {
	case t.changed <- struct{}{}:
	default:
	}
}

func (t *Timer) schedule() (bool, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled, t.interval
}

// Run ticks until ctx is cancelled. While disabled it waits for
// Configure.
func (t *Timer) Run(ctx context.Context) error {
	for {
		enabled, interval := t.schedule()
		var tick <-chan time.Time
		var ticker *time.Ticker
		if enabled {
			ticker = time.NewTicker(interval)
			tick = ticker.C
			t.logger.Info("autosave: enabled", slog.Duration("interval", interval))
		} else {
			t.logger.Info("autosave: disabled")
		}

		stop := func() {
			if ticker != nil {
				ticker.Stop()
			}
		}
	wait:
		for {
			select {
			case <-ctx.Done():
				stop()
				return nil
			case <-t.changed:
				stop()
				break wait
			case <-tick:
				t.Tick(ctx)
			}
		}
	}
}

// Tick saves every dirty managed buffer once, then every unsaved mirror
// file the saver reports that no buffer covered. A failure on one path is
// logged and the remaining paths are still attempted.
func (t *Timer) Tick(ctx context.Context) Result {
	var res Result
	attempted := make(map[string]bool)
	for _, b := range t.source.Buffers() {
		if !b.Dirty || !t.filter.IsManaged(b.Path) {
			continue
		}
		attempted[b.Path] = true
		if err := t.source.Persist(b.Path); err != nil {
			t.logger.Warn("autosave: persist failed", slog.String("path", b.Path), slog.String("error", err.Error()))
			res.Failed = append(res.Failed, b.Path)
			continue
		}
		t.save(ctx, b.Path, &res)
	}
	if lister, ok := t.saver.(UnsavedLister); ok {
		for _, p := range lister.Unsaved() {
			if attempted[p] || !t.filter.IsManaged(p) {
				continue
			}
			attempted[p] = true
			t.save(ctx, p, &res)
		}
	}
	if len(res.Saved)+len(res.Failed) > 0 {
		t.logger.Debug("autosave: tick", slog.Int("saved", len(res.Saved)), slog.Int("failed", len(res.Failed)))
	}
	return res
}

func (t *Timer) save(ctx context.Context, path string, res *Result) {
	if _, err := t.saver.Save(ctx, path); err != nil {
		t.logger.Warn("autosave: save failed", slog.String("path", path), slog.String("error", err.Error()))
		res.Failed = append(res.Failed, path)
		return
	}
	res.Saved = append(res.Saved, path)
}
