// Package syncer coordinates opening remote tiddlers into the local
// mirror and saving local edits back to the wiki.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/starford/tidsync/internal/apperr"
	"github.com/starford/tidsync/internal/checksum"
	"github.com/starford/tidsync/internal/index"
	"github.com/starford/tidsync/internal/mirror"
	"github.com/starford/tidsync/internal/models"
	"github.com/starford/tidsync/internal/parser"
	"github.com/starford/tidsync/internal/sse"
	"github.com/starford/tidsync/internal/wikiapi"
)

// Publisher receives observer notifications. *sse.Broker implements it.
type Publisher interface {
	PublishTiddlerEvent(kind string, data interface{})
	PublishNotice(level, title, message string)
}

// Pusher sends open-tiddler requests to live views over the push channel.
type Pusher interface {
	SendOpen(ctx context.Context, title string, offset *int) error
}

// CursorSource reports the caret offset of the editor showing path.
type CursorSource interface {
	Offset(path string) (int, bool)
}

// Launcher opens a mirror file in an external editor.
type Launcher interface {
	Launch(ctx context.Context, path string, lang mirror.Language) error
}

// Config holds the collaborators of a Coordinator. Store and Mirror are
// required.
type Config struct {
	Store      wikiapi.Store
	Mirror     mirror.Provider
	Cache      index.TiddlerCache
	Publisher  Publisher
	Logger     *slog.Logger
	SyncCursor bool
	Now        func() time.Time
}

// OpenResult describes a tiddler opened into the mirror.
type OpenResult struct {
	Path     string          `json:"path"`
	Language mirror.Language `json:"language"`
	Tiddler  *models.Tiddler `json:"-"`
	Meta     models.Meta     `json:"meta"`
}

// Coordinator implements the open and save flows.
type Coordinator struct {
	mirror    mirror.Provider
	cache     index.TiddlerCache
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time

	mu         sync.RWMutex
	store      wikiapi.Store
	pusher     Pusher
	cursor     CursorSource
	launcher   Launcher
	syncCursor bool

	states *stateTable
}

// New creates a coordinator.
func New(cfg Config) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Coordinator{
		store:      cfg.Store,
		mirror:     cfg.Mirror,
		cache:      cfg.Cache,
		publisher:  cfg.Publisher,
		logger:     logger,
		syncCursor: cfg.SyncCursor,
		now:        now,
		states:     newStateTable(),
	}
}

// SetPusher wires the push channel used for save notifications and previews.
func (c *Coordinator) SetPusher(p Pusher) {
	c.mu.Lock()
	c.pusher = p
	c.mu.Unlock()
}

// SetCursorSource wires the editor caret positions.
func (c *Coordinator) SetCursorSource(s CursorSource) {
	c.mu.Lock()
	c.cursor = s
	c.mu.Unlock()
}

// SetSyncCursor turns caret offsets in save notifications on or off.
func (c *Coordinator) SetSyncCursor(on bool) {
	c.mu.Lock()
	c.syncCursor = on
	c.mu.Unlock()
}

// SetLauncher wires the external editor started on open.
func (c *Coordinator) SetLauncher(l Launcher) {
	c.mu.Lock()
	c.launcher = l
	c.mu.Unlock()
}

// Store returns the remote store currently in use.
func (c *Coordinator) Store() wikiapi.Store {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store
}

// Mirror returns the local mirror.
func (c *Coordinator) Mirror() mirror.Provider { return c.mirror }

// Open fetches title from the wiki and writes it to its mirror file. When
// the tiddler does not exist nothing is written.
func (c *Coordinator) Open(ctx context.Context, title string) (*OpenResult, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("syncer: open: empty title: %w", apperr.ErrInvalidInput)
	}

	td, err := c.Store().FetchByTitle(ctx, title)
	if err != nil {
		c.report(title, "open", err)
		return nil, fmt.Errorf("syncer: open %q: %w", title, err)
	}

	path, lang, err := c.mirror.Open(td)
	if err != nil {
		c.report(title, "open", err)
		return nil, fmt.Errorf("syncer: open %q: %w", title, err)
	}
	c.remember(td)
	c.setState(title, StateClean)

	res := &OpenResult{Path: path, Language: lang, Tiddler: td, Meta: td.Meta()}
	c.logger.Info("syncer: opened", slog.String("title", title), slog.String("path", path))
	if c.publisher != nil {
		c.publisher.PublishTiddlerEvent(sse.TypeOpened, res)
	}

	c.mu.RLock()
	launcher := c.launcher
	c.mu.RUnlock()
	if launcher != nil {
		if err := launcher.Launch(ctx, path, lang); err != nil {
			c.logger.Warn("syncer: launch editor failed", slog.String("path", path), slog.String("error", err.Error()))
		}
	}
	return res, nil
}

// OpenTitle opens title and discards the result. It is the entry point
// for edit requests arriving over the push channel.
func (c *Coordinator) OpenTitle(ctx context.Context, title string) error {
	_, err := c.Open(ctx, title)
	return err
}

// Save writes the content of a mirror file back to its tiddler. Paths
// that are not managed mirror files are ignored and return nil, nil. A
// file whose tiddler no longer exists on the wiki is never uploaded;
// the call fails with apperr.ErrOriginNotFound instead.
func (c *Coordinator) Save(ctx context.Context, path string) (*models.Tiddler, error) {
	if !c.mirror.IsManaged(path) {
		c.logger.Debug("syncer: save skipped", slog.String("path", path))
		return nil, nil
	}
	title, err := c.mirror.TitleFor(path)
	if err != nil {
		return nil, fmt.Errorf("syncer: save: %w", err)
	}
	data, err := c.mirror.Read(path)
	if err != nil {
		c.setState(title, StateSaveFailed)
		c.report(title, "save", err)
		return nil, fmt.Errorf("syncer: save %q: %w", title, err)
	}
	text := models.NormalizeNewlines(string(data))

	c.setState(title, StateSaving)
	store := c.Store()

	if _, err := store.FetchByTitle(ctx, title); err != nil {
		c.setState(title, StateSaveFailed)
		if errors.Is(err, apperr.ErrNotFound) {
			err = fmt.Errorf("syncer: save %q: %w", title, apperr.ErrOriginNotFound)
			c.report(title, "save", err)
			return nil, err
		}
		c.report(title, "save", err)
		return nil, fmt.Errorf("syncer: save %q: %w", title, err)
	}

	patch := map[string]string{
		models.FieldText:     text,
		models.FieldModified: models.FormatTimestamp(c.now()),
	}
	saved, err := store.Upsert(ctx, title, nil, patch)
	if err != nil {
		c.setState(title, StateSaveFailed)
		c.report(title, "save", err)
		return nil, fmt.Errorf("syncer: save %q: %w", title, err)
	}

	c.remember(saved)
	c.setState(title, StateClean)
	c.logger.Info("syncer: saved", slog.String("title", title))
	if c.publisher != nil {
		c.publisher.PublishTiddlerEvent(sse.TypeSaved, saved.Meta())
	}
	c.notifySaved(ctx, title, path)
	return saved, nil
}

// notifySaved asks live views to show the saved tiddler. Failures are
// logged only.
func (c *Coordinator) notifySaved(ctx context.Context, title, path string) {
	c.mu.RLock()
	pusher, cursor, syncCursor := c.pusher, c.cursor, c.syncCursor
	c.mu.RUnlock()
	if pusher == nil {
		return
	}
	var offset *int
	if syncCursor && cursor != nil {
		if off, ok := cursor.Offset(path); ok {
			offset = &off
		}
	}
	if err := pusher.SendOpen(ctx, title, offset); err != nil {
		level := slog.LevelWarn
		if errors.Is(err, apperr.ErrNotConnected) {
			level = slog.LevelDebug
		}
		c.logger.Log(ctx, level, "syncer: save notification failed", slog.String("title", title), slog.String("error", err.Error()))
	}
}

// AddTags adds tags to title, creating the tiddler when it does not exist.
func (c *Coordinator) AddTags(ctx context.Context, title string, tags []string) (*models.Tiddler, error) {
	title = strings.TrimSpace(title)
	clean := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			clean = append(clean, t)
		}
	}
	if title == "" || len(clean) == 0 {
		return nil, fmt.Errorf("syncer: add tags: title and tags required: %w", apperr.ErrInvalidInput)
	}
	saved, err := c.Store().Upsert(ctx, title, clean, nil)
	if err != nil {
		c.report(title, "add tags", err)
		return nil, fmt.Errorf("syncer: add tags %q: %w", title, err)
	}
	c.remember(saved)
	if c.publisher != nil {
		c.publisher.PublishTiddlerEvent(sse.TypeSaved, saved.Meta())
	}
	return saved, nil
}

// Preview asks live views to show the tiddler behind path. path is either
// a mirror file or an R Markdown document whose header names a remote
// tiddler. It returns the title sent.
func (c *Coordinator) Preview(ctx context.Context, path string) (string, error) {
	title, err := c.previewTitle(path)
	if err != nil {
		return "", err
	}
	c.mu.RLock()
	pusher := c.pusher
	c.mu.RUnlock()
	if pusher == nil {
		return "", fmt.Errorf("syncer: preview: %w", apperr.ErrNotConnected)
	}
	if err := pusher.SendOpen(ctx, title, nil); err != nil {
		return "", fmt.Errorf("syncer: preview %q: %w", title, err)
	}
	return title, nil
}

func (c *Coordinator) previewTitle(path string) (string, error) {
	if c.mirror.IsManaged(path) {
		return c.mirror.TitleFor(path)
	}
	if !strings.EqualFold(filepath.Ext(path), ".rmd") {
		return "", fmt.Errorf("syncer: preview: %s is neither a mirror file nor R Markdown: %w", path, apperr.ErrInvalidInput)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("syncer: preview: %w: %w", apperr.ErrFileSystem, err)
	}
	h, ok := parser.ParseRmd(data)
	if !ok || !h.Previewable() {
		return "", fmt.Errorf("syncer: preview: no remote tiddler title in %s: %w", path, apperr.ErrInvalidInput)
	}
	return h.Title, nil
}

// MarkDirty records an unsaved local edit of a mirror file.
func (c *Coordinator) MarkDirty(path string) {
	title, err := c.mirror.TitleFor(path)
	if err != nil {
		return
	}
	c.setState(title, StateDirty)
}

// Search runs a title search or filter on the wiki.
func (c *Coordinator) Search(ctx context.Context, term string) ([]models.Tiddler, error) {
	out, err := c.Store().Search(ctx, term)
	if err != nil {
		return nil, fmt.Errorf("syncer: search: %w", err)
	}
	return out, nil
}

// Latest returns the n most recently modified tiddlers.
func (c *Coordinator) Latest(ctx context.Context, n int) ([]models.Tiddler, error) {
	out, err := c.Store().Latest(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("syncer: latest: %w", err)
	}
	return out, nil
}

// List returns the tiddlers selected by filter.
func (c *Coordinator) List(ctx context.Context, filter string) ([]models.Tiddler, error) {
	out, err := c.Store().SearchByFilter(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("syncer: list: %w", err)
	}
	return out, nil
}

// Fetch returns a tiddler without opening it.
func (c *Coordinator) Fetch(ctx context.Context, title string) (*models.Tiddler, error) {
	td, err := c.Store().FetchByTitle(ctx, title)
	if err != nil {
		return nil, fmt.Errorf("syncer: fetch %q: %w", title, err)
	}
	return td, nil
}

// SetStore replaces the store client for the same wiki. Open mirror files
// and sync states are kept.
func (c *Coordinator) SetStore(store wikiapi.Store) {
	c.mu.Lock()
	c.store = store
	c.mu.Unlock()
	c.logger.Info("syncer: store client replaced")
}

// Reconfigure switches to a new remote store. Mirror files of the old
// store are closed and per-title states are dropped.
func (c *Coordinator) Reconfigure(store wikiapi.Store) {
	c.mu.Lock()
	c.store = store
	c.mu.Unlock()
	c.mirror.CloseAll()
	c.states.reset()
	c.logger.Info("syncer: store reconfigured")
	if c.publisher != nil {
		c.publisher.PublishTiddlerEvent(sse.TypeMirrorUpdated, map[string]string{})
	}
}

// Recover adopts mirror files left by a previous run. Files whose content
// differs from the cached sync state are marked dirty so the next
// autosave or save uploads them.
func (c *Coordinator) Recover() ([]string, error) {
	adopted, err := c.mirror.Recover()
	if err != nil {
		return nil, err
	}
	if len(adopted) == 0 {
		return nil, nil
	}
	var changed []string
	if c.cache != nil {
		changed = index.Reconcile(c.cache, c.mirror, c.logger)
	} else {
		changed = adopted
	}
	for _, p := range changed {
		c.MarkDirty(p)
	}
	c.logger.Info("syncer: recovered mirror files", slog.Int("adopted", len(adopted)), slog.Int("dirty", len(changed)))
	return changed, nil
}

// Close deletes every mirror file.
func (c *Coordinator) Close() {
	c.mirror.CloseAll()
}

// remember stores the synced state of td in the cache. Failures only
// degrade change detection and are logged.
func (c *Coordinator) remember(td *models.Tiddler) {
	if c.cache == nil || td == nil {
		return
	}
	row := index.TiddlerRow{
		Title:    td.Title,
		Type:     td.EffectiveType(),
		Tags:     []string(td.Tags),
		Modified: td.Modified,
		Checksum: checksum.Text(td.Text),
		SyncedAt: c.now(),
	}
	if err := c.cache.UpsertTiddler(row, td.Text, parser.Parse(td.Text).Targets()); err != nil {
		c.logger.Warn("syncer: cache update failed", slog.String("title", td.Title), slog.String("error", err.Error()))
	}
}

// report logs a failed user action and publishes it as a notice.
// NotFound conditions are warnings; everything else is an error.
func (c *Coordinator) report(title, op string, err error) {
	level, noticeLevel := slog.LevelError, sse.LevelError
	if errors.Is(err, apperr.ErrNotFound) || errors.Is(err, apperr.ErrOriginNotFound) {
		level, noticeLevel = slog.LevelWarn, sse.LevelWarning
	}
	c.logger.Log(context.Background(), level, "syncer: "+op+" failed", slog.String("title", title), slog.String("error", err.Error()))
	if c.publisher != nil {
		c.publisher.PublishNotice(noticeLevel, title, noticeMessage(op, title, err))
	}
}

func noticeMessage(op, title string, err error) string {
	switch {
	case errors.Is(err, apperr.ErrOriginNotFound):
		return fmt.Sprintf("Original tiddler %q not found; local file was not uploaded", title)
	case errors.Is(err, apperr.ErrNotFound):
		return fmt.Sprintf("Tiddler %q not found", title)
	case errors.Is(err, apperr.ErrNetwork):
		return fmt.Sprintf("Cannot reach the wiki server to %s %q", op, title)
	default:
		return fmt.Sprintf("Failed to %s %q: %v", op, title, err)
	}
}

// States returns the sync state of every known title, sorted by title.
func (c *Coordinator) States() []TitleState {
	return c.states.snapshot()
}

// State returns the sync state of title.
func (c *Coordinator) State(title string) (State, bool) {
	return c.states.get(title)
}

// Unsaved returns the open mirror paths whose title is dirty or whose
// last save failed, sorted.
func (c *Coordinator) Unsaved() []string {
	var out []string
	for _, p := range c.mirror.Paths() {
		title, err := c.mirror.TitleFor(p)
		if err != nil {
			continue
		}
		if s, ok := c.states.get(title); ok && (s == StateDirty || s == StateSaveFailed) {
			out = append(out, p)
		}
	}
	return out
}

func (c *Coordinator) setState(title string, s State) {
	if !c.states.set(title, s) {
		return
	}
	if c.publisher != nil {
		c.publisher.PublishTiddlerEvent(sse.TypeState, TitleState{Title: title, State: s})
	}
}

// TitleState pairs a title with its sync state.
type TitleState struct {
	Title string `json:"title"`
	State State  `json:"state"`
}

type stateTable struct {
	mu     sync.Mutex
	states map[string]State
}

func newStateTable() *stateTable {
	return &stateTable{states: make(map[string]State)}
}

// set records s and reports whether the state changed.
func (t *stateTable) set(title string, s State) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.states[title] == s {
		return false
	}
	t.states[title] = s
	return true
}

func (t *stateTable) get(title string) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[title]
	return s, ok
}

func (t *stateTable) reset() {
	t.mu.Lock()
	t.states = make(map[string]State)
	t.mu.Unlock()
}

func (t *stateTable) snapshot() []TitleState {
	t.mu.Lock()
	out := make([]TitleState, 0, len(t.states))
	for title, s := range t.states {
		out = append(out, TitleState{Title: title, State: s})
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out
}
