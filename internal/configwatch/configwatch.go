// Package configwatch reloads the configuration file when it changes and
// applies the new settings to the running components.
package configwatch

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/tidsync/internal/push"
	"github.com/starford/tidsync/internal/wikiapi"
)

// Settings is the part of the configuration that can change at runtime.
type Settings struct {
	Host             string
	Recipe           string
	Timeout          time.Duration
	SyncCursor       bool
	AutosaveEnabled  bool
	AutosaveInterval time.Duration
}

// Coordinator is retargeted when the wiki identity changes.
type Coordinator interface {
	Reconfigure(store wikiapi.Store)
	SetStore(store wikiapi.Store)
	SetSyncCursor(on bool)
}

// Channel is the push channel.
type Channel interface {
	Retarget(url string)
}

// Autosave is the autosave timer.
type Autosave interface {
	Configure(enabled bool, interval time.Duration)
}

// StoreFactory builds a remote store client for the wiki named by s.
type StoreFactory func(s Settings) wikiapi.Store

// Reloader applies settings changes.
type Reloader struct {
	coord    Coordinator
	channel  Channel
	autosave Autosave
	newStore StoreFactory
	logger   *slog.Logger

	mu      sync.Mutex
	current Settings
}

// NewReloader returns a reloader whose current settings are initial.
// channel and autosave may be nil.
func NewReloader(initial Settings, coord Coordinator, channel Channel, autosave Autosave, newStore StoreFactory, logger *slog.Logger) *Reloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reloader{
		coord:    coord,
		channel:  channel,
		autosave: autosave,
		newStore: newStore,
		logger:   logger,
		current:  initial,
	}
}

// Current returns the settings last applied.
func (r *Reloader) Current() Settings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Apply moves the components to next. A host or recipe change closes all
// mirror files, swaps the store client and reconnects the push channel.
// A timeout change alone only swaps the store client.
func (r *Reloader) Apply(next Settings) {
	r.mu.Lock()
	prev := r.current
	r.current = next
	r.mu.Unlock()

	if prev.Host != next.Host || prev.Recipe != next.Recipe {
		r.logger.Info("config: wiki changed",
			slog.String("host", next.Host),
			slog.String("recipe", next.Recipe))
		r.coord.Reconfigure(r.newStore(next))
		if r.channel != nil {
			r.channel.Retarget(push.SocketURL(next.Host))
		}
	} else if prev.Timeout != next.Timeout {
		r.logger.Info("config: wiki timeout changed", slog.Duration("timeout", next.Timeout))
		r.coord.SetStore(r.newStore(next))
	}
	if prev.SyncCursor != next.SyncCursor {
		r.coord.SetSyncCursor(next.SyncCursor)
	}
	if r.autosave != nil && (prev.AutosaveEnabled != next.AutosaveEnabled || prev.AutosaveInterval != next.AutosaveInterval) {
		r.autosave.Configure(next.AutosaveEnabled, next.AutosaveInterval)
	}
}

// LoadFunc reads and validates the configuration file.
type LoadFunc func() (Settings, error)

const reloadDelay = 200 * time.Millisecond

// Watch watches the directory holding path and applies the file's
// settings after it changes. Invalid files are logged and ignored. It
// runs until ctx is cancelled.
func Watch(ctx context.Context, path string, load LoadFunc, r *Reloader, logger *slog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	// Editors often replace the file, so watch its directory.
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return err
	}
	logger.Info("config: watching", slog.String("path", abs))

	var reloadTimer *time.Timer
	var reloadCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			return nil

		case <-reloadCh:
			reloadCh = nil
			next, err := load()
			if err != nil {
				logger.Warn("config: reload failed", slog.String("error", err.Error()))
				continue
			}
			logger.Info("config: reloaded")
			r.Apply(next)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if reloadTimer == nil {
				reloadTimer = time.NewTimer(reloadDelay)
			} else {
				reloadTimer.Reset(reloadDelay)
			}
			reloadCh = reloadTimer.C

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("config: watch error", slog.String("error", watchErr.Error()))
		}
	}
}
