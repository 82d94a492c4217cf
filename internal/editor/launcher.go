package editor

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/starford/tidsync/internal/apperr"
	"github.com/starford/tidsync/internal/mirror"
)

// Launcher starts an external editor on mirror files. Command is split on
// whitespace and the file path is appended, e.g. "code --reuse-window".
type Launcher struct {
	Command string
	Logger  *slog.Logger
}

// Launch starts the editor without waiting for it to exit.
func (l *Launcher) Launch(_ context.Context, path string, lang mirror.Language) error {
	args := strings.Fields(l.Command)
	if len(args) == 0 {
		return fmt.Errorf("editor: no command configured: %w", apperr.ErrInvalidInput)
	}
	args = append(args, path)
	// The editor outlives the request that opened the file.
	cmd := exec.Command(args[0], args[1:]...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("editor: start %s: %w", args[0], err)
	}
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("editor: launched", slog.String("path", path), slog.String("language", string(lang)))
	go func() {
		if err := cmd.Wait(); err != nil {
			logger.Warn("editor: exited", slog.String("path", path), slog.String("error", err.Error()))
		}
	}()
	return nil
}
