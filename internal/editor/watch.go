package editor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/tidsync/internal/checksum"
	"github.com/starford/tidsync/internal/mirror"
	"github.com/starford/tidsync/internal/models"
)

// Saver uploads a mirror file. *syncer.Coordinator implements it.
type Saver interface {
	Save(ctx context.Context, path string) (*models.Tiddler, error)
}

// ChecksumSource returns the checksum of the last synced text of a title.
type ChecksumSource interface {
	GetChecksum(title string) (string, error)
}

// EventCallback is called after a watcher-driven save attempt. err is
// nil when the save succeeded.
type EventCallback func(path string, err error)

// debounce is how long a mirror file must be quiet before it is saved.
// Editors often write a file in several steps.
const debounce = 150 * time.Millisecond

// Watch watches the scratch directory and treats every write that
// changes a mirror file's content, compared with the last synced
// checksum, as an editor save. It runs until ctx is cancelled.
func Watch(ctx context.Context, m mirror.Provider, dir string, sums ChecksumSource, saver Saver, logger *slog.Logger, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return err
	}
	logger.Info("watcher: started", slog.String("dir", dir))

	var (
		mu      sync.Mutex
		pending = make(map[string]*time.Timer)
		wg      sync.WaitGroup
	)
	schedule := func(path string) {
		mu.Lock()
		defer mu.Unlock()
		if t, ok := pending[path]; ok && t.Stop() {
			t.Reset(debounce)
			return
		}
		wg.Add(1)
		var t *time.Timer
		t = time.AfterFunc(debounce, func() {
			defer wg.Done()
			mu.Lock()
			if pending[path] == t {
				delete(pending, path)
			}
			mu.Unlock()
			if ctx.Err() != nil {
				return
			}
			saveIfChanged(ctx, m, sums, saver, path, logger, cb)
		})
		pending[path] = t
	}

	for {
		select {
		case <-ctx.Done():
			mu.Lock()
			for p, t := range pending {
				if t.Stop() {
					wg.Done()
				}
				delete(pending, p)
			}
			mu.Unlock()
			wg.Wait()
			logger.Info("watcher: stopped")
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !m.IsManaged(ev.Name) {
				continue
			}
			schedule(ev.Name)

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// saveIfChanged saves path when its content differs from the last
// synced text. Writes made by the mirror itself match and are skipped.
func saveIfChanged(ctx context.Context, m mirror.Provider, sums ChecksumSource, saver Saver, path string, logger *slog.Logger, cb EventCallback) {
	title, err := m.TitleFor(path)
	if err != nil {
		return
	}
	data, err := m.Read(path)
	if err != nil {
		logger.Debug("watcher: read failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}
	synced, err := sums.GetChecksum(title)
	if err != nil {
		logger.Warn("watcher: checksum lookup failed", slog.String("title", title), slog.String("error", err.Error()))
		return
	}
	if synced == checksum.Text(string(data)) {
		return
	}

	logger.Debug("watcher: change detected", slog.String("title", title))
	_, err = saver.Save(ctx, path)
	if err != nil {
		logger.Warn("watcher: save failed", slog.String("path", path), slog.String("error", err.Error()))
	}
	if cb != nil {
		cb(path, err)
	}
}
