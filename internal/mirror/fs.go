package mirror

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/natefinch/atomic"
	"golang.org/x/text/cases"

	"github.com/starford/tidsync/internal/apperr"
	"github.com/starford/tidsync/internal/models"
	"github.com/starford/tidsync/internal/titlecodec"
)

// DirName is the name of the default scratch directory under the
// system temp directory.
const DirName = "tiddlyedit-temp"

// DefaultDir returns the default scratch directory.
func DefaultDir() string {
	return filepath.Join(os.TempDir(), DirName)
}

// caseInsensitive is true on platforms whose default file systems
// compare names without case.
var caseInsensitive = runtime.GOOS == "windows" || runtime.GOOS == "darwin"

// FS implements Provider on the local file system.
type FS struct {
	root   string // absolute path to the scratch directory
	logger *slog.Logger

	mu   sync.Mutex
	open map[string]string // path -> title
}

var _ Provider = (*FS)(nil)

// NewFS creates the scratch directory if needed and returns a mirror
// rooted there.
func NewFS(dir string, logger *slog.Logger) (*FS, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(dir) == "" {
		dir = DefaultDir()
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("mirror: resolve dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("mirror: create dir: %w: %w", apperr.ErrFileSystem, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("mirror: stat dir: %w: %w", apperr.ErrFileSystem, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("mirror: not a directory: %s: %w", abs, apperr.ErrFileSystem)
	}
	return &FS{root: abs, logger: logger, open: make(map[string]string)}, nil
}

// Dir returns the absolute scratch directory.
func (f *FS) Dir() string { return f.root }

// PathFor returns the mirror path for a title.
func (f *FS) PathFor(title string) (string, error) {
	if err := titlecodec.Valid(title); err != nil {
		return "", err
	}
	return filepath.Join(f.root, titlecodec.Encode(title)+Ext), nil
}

// Open writes td.Text to the tiddler's mirror file, replacing any
// previous content, and adds the path to the open-set.
func (f *FS) Open(td *models.Tiddler) (string, Language, error) {
	if td == nil {
		return "", "", fmt.Errorf("mirror: open: nil tiddler: %w", apperr.ErrInvalidInput)
	}
	path, err := f.PathFor(td.Title)
	if err != nil {
		return "", "", fmt.Errorf("mirror: open: %w", err)
	}
	text := models.NormalizeNewlines(td.Text)
	if err := atomic.WriteFile(path, strings.NewReader(text)); err != nil {
		return "", "", fmt.Errorf("mirror: write %s: %w: %w", path, apperr.ErrFileSystem, err)
	}

	f.mu.Lock()
	f.open[path] = td.Title
	f.mu.Unlock()
	return path, LanguageFor(td.Type), nil
}

// IsMirrorPath reports whether path, after resolving symlinks, lies
// strictly inside the scratch directory. It returns false when either
// path cannot be resolved.
func (f *FS) IsMirrorPath(path string) bool {
	root, err := filepath.EvalSymlinks(f.root)
	if err != nil {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return false
	}
	return within(root, resolved, caseInsensitive)
}

// within reports whether p is strictly below root. Both must be clean
// absolute paths.
func within(root, p string, fold bool) bool {
	if fold {
		root = cases.Fold().String(root)
		p = cases.Fold().String(p)
	}
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return false
	}
	return !filepath.IsAbs(rel)
}

// IsManaged implements Provider.
func (f *FS) IsManaged(path string) bool {
	return strings.EqualFold(filepath.Ext(path), Ext) && f.IsMirrorPath(path)
}

// TitleFor implements Provider.
func (f *FS) TitleFor(path string) (string, error) {
	if !f.IsManaged(path) {
		return "", fmt.Errorf("mirror: not a mirror file: %s: %w", path, apperr.ErrInvalidInput)
	}
	base := filepath.Base(path)
	title := titlecodec.Decode(strings.TrimSuffix(base, filepath.Ext(base)))
	if err := titlecodec.Valid(title); err != nil {
		return "", fmt.Errorf("mirror: %s: %w", path, err)
	}
	return title, nil
}

// Read implements Provider.
func (f *FS) Read(path string) ([]byte, error) {
	if !f.IsMirrorPath(path) {
		return nil, fmt.Errorf("mirror: read outside scratch dir: %s: %w", path, apperr.ErrInvalidInput)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mirror: read %s: %w: %w", path, apperr.ErrFileSystem, err)
	}
	return data, nil
}

// Write implements Provider. Only files already inside the scratch
// directory can be written.
func (f *FS) Write(path string, content []byte) error {
	if !f.IsMirrorPath(path) {
		return fmt.Errorf("mirror: write outside scratch dir: %s: %w", path, apperr.ErrInvalidInput)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(content)); err != nil {
		return fmt.Errorf("mirror: write %s: %w: %w", path, apperr.ErrFileSystem, err)
	}
	return nil
}

// IsOpen reports whether path is in the open-set.
func (f *FS) IsOpen(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.open[path]
	return ok
}

// Paths implements Provider.
func (f *FS) Paths() []string {
	f.mu.Lock()
	out := make([]string, 0, len(f.open))
	for p := range f.open {
		out = append(out, p)
	}
	f.mu.Unlock()
	sort.Strings(out)
	return out
}

// Entries returns the open-set as path to title.
func (f *FS) Entries() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.open))
	for p, title := range f.open {
		out[p] = title
	}
	return out
}

// CloseAll implements Provider. Deletion failures are logged and the
// open-set is cleared regardless. The scratch directory itself is kept.
func (f *FS) CloseAll() {
	f.mu.Lock()
	paths := make([]string, 0, len(f.open))
	for p := range f.open {
		paths = append(paths, p)
	}
	f.open = make(map[string]string)
	f.mu.Unlock()

	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			f.logger.Warn("mirror: delete failed", slog.String("path", p), slog.String("error", err.Error()))
		}
	}
}

// Recover adopts mirror files left behind by a previous run into the
// open-set and returns their paths. Files whose names do not decode to
// a valid title are skipped.
func (f *FS) Recover() ([]string, error) {
	entries, err := os.ReadDir(f.root)
	if err != nil {
		return nil, fmt.Errorf("mirror: recover: %w: %w", apperr.ErrFileSystem, err)
	}
	var adopted []string
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || !strings.EqualFold(ext, Ext) {
			continue
		}
		title := titlecodec.Decode(strings.TrimSuffix(e.Name(), ext))
		if titlecodec.Valid(title) != nil {
			continue
		}
		p := filepath.Join(f.root, e.Name())
		if _, ok := f.open[p]; ok {
			continue
		}
		f.open[p] = title
		adopted = append(adopted, p)
	}
	return adopted, nil
}
