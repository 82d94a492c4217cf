// Package editor tracks the editor buffers showing mirror files, watches
// the scratch directory for saves made by the editor and launches an
// external editor on open.
package editor

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/starford/tidsync/internal/apperr"
	"github.com/starford/tidsync/internal/mirror"
)

// Buffer is the state of one editor buffer as reported by the editor.
type Buffer struct {
	Path    string `json:"path"`
	Content string `json:"content,omitempty"`
	// Offset is the caret position in characters.
	Offset int  `json:"offset"`
	Dirty  bool `json:"dirty"`
}

// DirtyFunc is called when a buffer gains unsaved changes.
type DirtyFunc func(path string)

// Registry holds the buffers currently visible in the editor. It
// implements the cursor source used for open-tiddler offsets.
type Registry struct {
	mirror  mirror.Provider
	onDirty DirtyFunc

	mu     sync.Mutex
	bufs   map[string]*Buffer
	active string
}

// NewRegistry creates an empty registry. onDirty may be nil.
func NewRegistry(m mirror.Provider, onDirty DirtyFunc) *Registry {
	return &Registry{mirror: m, onDirty: onDirty, bufs: make(map[string]*Buffer)}
}

// Update records the reported state of a buffer and makes it the active
// one.
func (r *Registry) Update(b Buffer) error {
	if strings.TrimSpace(b.Path) == "" {
		return fmt.Errorf("editor: buffer without path: %w", apperr.ErrInvalidInput)
	}
	if b.Offset < 0 {
		return fmt.Errorf("editor: negative offset %d: %w", b.Offset, apperr.ErrInvalidInput)
	}
	r.mu.Lock()
	prev, ok := r.bufs[b.Path]
	becameDirty := b.Dirty && (!ok || !prev.Dirty)
	cp := b
	r.bufs[b.Path] = &cp
	r.active = b.Path
	r.mu.Unlock()

	if becameDirty && r.onDirty != nil {
		r.onDirty(b.Path)
	}
	return nil
}

// Close forgets the buffer for path.
func (r *Registry) Close(path string) {
	r.mu.Lock()
	delete(r.bufs, path)
	if r.active == path {
		r.active = ""
	}
	r.mu.Unlock()
}

// Buffers returns a copy of all buffers ordered by path.
func (r *Registry) Buffers() []Buffer {
	r.mu.Lock()
	out := make([]Buffer, 0, len(r.bufs))
	for _, b := range r.bufs {
		out = append(out, *b)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Active returns the path of the buffer reported last.
func (r *Registry) Active() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Offset returns the caret offset of the buffer showing path.
func (r *Registry) Offset(path string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bufs[path]
	if !ok {
		return 0, false
	}
	return b.Offset, true
}

// Persist writes the buffer content for path to its mirror file and
// clears the dirty flag. Only files inside the scratch directory can be
// persisted.
func (r *Registry) Persist(path string) error {
	r.mu.Lock()
	b, ok := r.bufs[path]
	var content string
	if ok {
		content = b.Content
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("editor: no buffer for %s: %w", path, apperr.ErrNotFound)
	}
	if err := r.mirror.Write(path, []byte(content)); err != nil {
		return fmt.Errorf("editor: persist: %w", err)
	}

	r.mu.Lock()
	// A newer report may have arrived while writing.
	if cur, ok := r.bufs[path]; ok && cur.Content == content {
		cur.Dirty = false
	}
	r.mu.Unlock()
	return nil
}
