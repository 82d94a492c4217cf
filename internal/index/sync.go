package index

import (
	"log/slog"

	"github.com/starford/tidsync/internal/checksum"
)

// MirrorSource is the read side of the local mirror.
type MirrorSource interface {
	Paths() []string
	TitleFor(path string) (string, error)
	Read(path string) ([]byte, error)
}

// Reconcile compares every mirror file with the cached checksum of its
// tiddler and returns the paths whose content differs from what was
// last synced. Files without a cache entry are reported as changed.
func Reconcile(db TiddlerCache, mirror MirrorSource, logger *slog.Logger) []string {
	checksums, err := db.AllChecksums()
	if err != nil {
		logger.Warn("reconcile: all checksums failed", slog.String("error", err.Error()))
		return nil
	}

	var changed []string
	for _, p := range mirror.Paths() {
		title, err := mirror.TitleFor(p)
		if err != nil {
			logger.Warn("reconcile: skip file", slog.String("path", p), slog.String("error", err.Error()))
			continue
		}
		data, err := mirror.Read(p)
		if err != nil {
			logger.Warn("reconcile: read failed", slog.String("path", p), slog.String("error", err.Error()))
			continue
		}
		if checksums[title] == checksum.Text(string(data)) {
			continue
		}
		logger.Debug("reconcile: changed", slog.String("title", title))
		changed = append(changed, p)
	}
	return changed
}
