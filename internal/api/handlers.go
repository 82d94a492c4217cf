package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/tidsync/internal/apperr"
	"github.com/starford/tidsync/internal/editor"
	"github.com/starford/tidsync/internal/index"
	"github.com/starford/tidsync/internal/push"
	"github.com/starford/tidsync/internal/syncer"
)

// PushControl is the push channel as seen by the API.
type PushControl interface {
	Reconnect()
	Status() push.Status
}

// statusReporter is implemented by remote stores that expose server status.
type statusReporter interface {
	Status(ctx context.Context) (map[string]any, error)
}

// Deps are the components behind the API. Sync is required; the rest
// may be nil, in which case their routes answer 503.
type Deps struct {
	Sync          *syncer.Coordinator
	Buffers       *editor.Registry
	Push          PushControl
	Cache         index.TiddlerCache
	DefaultFilter string
}

// Handler holds API route handlers.
type Handler struct {
	deps Deps
}

// NewHandler creates a new Handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{deps: deps}
}

// titleParam extracts the tiddler title from the URL (everything after
// the route prefix). Titles may contain slashes and are usually escaped.
func titleParam(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return false
	}
	return true
}

// Open handles POST /api/open.
//
//	@Summary		Fetch a tiddler and write it to its mirror file
//	@Tags			sync
//	@Accept			json
//	@Produce		json
//	@Param			body	body		OpenRequest	true	"Tiddler to open"
//	@Success		200		{object}	OpenResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		502		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/open [post]
func (h *Handler) Open(w http.ResponseWriter, r *http.Request) {
	var req OpenRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.deps.Sync.Open(r.Context(), req.Title)
	if err != nil {
		writeError(w, "open", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Save handles POST /api/save.
//
//	@Summary		Upload a mirror file to its tiddler
//	@Tags			sync
//	@Accept			json
//	@Produce		json
//	@Param			body	body		PathRequest	true	"Mirror file"
//	@Success		200		{object}	models.Meta
//	@Success		204		"Not a mirror file; nothing saved"
//	@Failure		409		{object}	errResponse
//	@Failure		502		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/save [post]
func (h *Handler) Save(w http.ResponseWriter, r *http.Request) {
	var req PathRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	saved, err := h.deps.Sync.Save(r.Context(), req.Path)
	if err != nil {
		writeError(w, "save", err)
		return
	}
	if saved == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, saved.Meta())
}

// ListTiddlers handles GET /api/tiddlers.
//
//	@Summary		List tiddlers selected by a filter expression
//	@Tags			wiki
//	@Produce		json
//	@Param			filter	query		string	false	"Filter expression; the configured default when empty"
//	@Success		200		{object}	TiddlerListResponse
//	@Failure		502		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tiddlers [get]
func (h *Handler) ListTiddlers(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("filter")
	if filter == "" {
		filter = h.deps.DefaultFilter
	}
	items, err := h.deps.Sync.List(r.Context(), filter)
	if err != nil {
		writeError(w, "list", err)
		return
	}
	writeJSON(w, http.StatusOK, TiddlerListResponse{Tiddlers: items})
}

// GetTiddler handles GET /api/tiddlers/*.
//
//	@Summary		Fetch a tiddler without opening it
//	@Tags			wiki
//	@Produce		json
//	@Param			title	path		string	true	"Tiddler title"
//	@Success		200		{object}	models.Tiddler
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tiddlers/{title} [get]
func (h *Handler) GetTiddler(w http.ResponseWriter, r *http.Request) {
	title := titleParam(r)
	if title == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("title is required"))
		return
	}
	td, err := h.deps.Sync.Fetch(r.Context(), title)
	if err != nil {
		writeError(w, "fetch", err)
		return
	}
	writeJSON(w, http.StatusOK, td)
}

// Search handles GET /api/search.
//
//	@Summary		Search tiddler titles on the wiki
//	@Tags			wiki
//	@Produce		json
//	@Param			q	query		string	true	"Title term or filter expression"
//	@Success		200	{object}	TiddlerListResponse
//	@Failure		400	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if strings.TrimSpace(q) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	items, err := h.deps.Sync.Search(r.Context(), q)
	if err != nil {
		writeError(w, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, TiddlerListResponse{Tiddlers: items})
}

// Latest handles GET /api/latest.
//
//	@Summary		Most recently modified tiddlers
//	@Tags			wiki
//	@Produce		json
//	@Param			n	query		int	false	"Number of tiddlers"	default(10)
//	@Success		200	{object}	TiddlerListResponse
//	@Security		BearerAuth
//	@Router			/latest [get]
func (h *Handler) Latest(w http.ResponseWriter, r *http.Request) {
	n := 10
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("n must be an integer"))
			return
		}
		n = v
	}
	items, err := h.deps.Sync.Latest(r.Context(), n)
	if err != nil {
		writeError(w, "latest", err)
		return
	}
	writeJSON(w, http.StatusOK, TiddlerListResponse{Tiddlers: items})
}

// AddTags handles POST /api/tags.
//
//	@Summary		Add tags to a tiddler
//	@Tags			sync
//	@Accept			json
//	@Produce		json
//	@Param			body	body		TagsRequest	true	"Title and tags"
//	@Success		200		{object}	models.Meta
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tags [post]
func (h *Handler) AddTags(w http.ResponseWriter, r *http.Request) {
	var req TagsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	td, err := h.deps.Sync.AddTags(r.Context(), req.Title, req.Tags)
	if err != nil {
		writeError(w, "add tags", err)
		return
	}
	writeJSON(w, http.StatusOK, td.Meta())
}

// Preview handles POST /api/preview.
//
//	@Summary		Show the tiddler behind a file in live views
//	@Tags			sync
//	@Accept			json
//	@Produce		json
//	@Param			body	body		PathRequest	true	"Mirror file or R Markdown document"
//	@Success		200		{object}	PreviewResponse
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/preview [post]
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	var req PathRequest
	if !decodeBody(w, r, &req) {
		return
	}
	title, err := h.deps.Sync.Preview(r.Context(), req.Path)
	if err != nil {
		writeError(w, "preview", err)
		return
	}
	writeJSON(w, http.StatusOK, PreviewResponse{Title: title})
}

// Mirror handles GET /api/mirror.
//
//	@Summary		List open mirror files
//	@Tags			sync
//	@Produce		json
//	@Success		200	{object}	map[string][]MirrorEntry
//	@Security		BearerAuth
//	@Router			/mirror [get]
func (h *Handler) Mirror(w http.ResponseWriter, r *http.Request) {
	m := h.deps.Sync.Mirror()
	entries := make([]MirrorEntry, 0)
	for _, p := range m.Paths() {
		title, err := m.TitleFor(p)
		if err != nil {
			continue
		}
		e := MirrorEntry{Path: p, Title: title}
		if s, ok := h.deps.Sync.State(title); ok {
			e.State = s
		}
		entries = append(entries, e)
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": entries})
}

// States handles GET /api/states.
//
//	@Summary		Per-title sync states
//	@Tags			sync
//	@Produce		json
//	@Success		200	{object}	map[string][]syncer.TitleState
//	@Security		BearerAuth
//	@Router			/states [get]
func (h *Handler) States(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"states": h.deps.Sync.States()})
}

// ListBuffers handles GET /api/buffers.
//
//	@Summary		List editor buffers
//	@Tags			editor
//	@Produce		json
//	@Success		200	{object}	map[string][]Buffer
//	@Security		BearerAuth
//	@Router			/buffers [get]
func (h *Handler) ListBuffers(w http.ResponseWriter, r *http.Request) {
	if h.deps.Buffers == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("editor buffers not available"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"buffers": h.deps.Buffers.Buffers()})
}

// PutBuffer handles PUT /api/buffers.
//
//	@Summary		Report the state of an editor buffer
//	@Tags			editor
//	@Accept			json
//	@Param			body	body	Buffer	true	"Buffer state"
//	@Success		204		"Recorded"
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/buffers [put]
func (h *Handler) PutBuffer(w http.ResponseWriter, r *http.Request) {
	if h.deps.Buffers == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("editor buffers not available"))
		return
	}
	var b Buffer
	if !decodeBody(w, r, &b) {
		return
	}
	if err := h.deps.Buffers.Update(b); err != nil {
		writeError(w, "buffer", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CloseBuffer handles DELETE /api/buffers.
//
//	@Summary		Forget an editor buffer
//	@Tags			editor
//	@Param			path	query	string	true	"Buffer path"
//	@Success		204		"Forgotten"
//	@Security		BearerAuth
//	@Router			/buffers [delete]
func (h *Handler) CloseBuffer(w http.ResponseWriter, r *http.Request) {
	if h.deps.Buffers == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("editor buffers not available"))
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	h.deps.Buffers.Close(path)
	w.WriteHeader(http.StatusNoContent)
}

// Reconnect handles POST /api/push/reconnect.
//
//	@Summary		Reconnect the push channel
//	@Tags			push
//	@Produce		json
//	@Success		202	{object}	push.Status
//	@Security		BearerAuth
//	@Router			/push/reconnect [post]
func (h *Handler) Reconnect(w http.ResponseWriter, r *http.Request) {
	if h.deps.Push == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("push channel not available"))
		return
	}
	h.deps.Push.Reconnect()
	writeJSON(w, http.StatusAccepted, h.deps.Push.Status())
}

// PushStatus handles GET /api/push.
//
//	@Summary		Push channel state
//	@Tags			push
//	@Produce		json
//	@Success		200	{object}	push.Status
//	@Security		BearerAuth
//	@Router			/push [get]
func (h *Handler) PushStatus(w http.ResponseWriter, r *http.Request) {
	if h.deps.Push == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("push channel not available"))
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Push.Status())
}

// Status handles GET /api/status.
//
//	@Summary		Wiki server status
//	@Tags			wiki
//	@Produce		json
//	@Success		200	{object}	map[string]any
//	@Failure		502	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/status [get]
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	sr, ok := h.deps.Sync.Store().(statusReporter)
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("status not supported"))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	status, err := sr.Status(ctx)
	if err != nil {
		writeError(w, "status", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// CacheSearch handles GET /api/cache/search.
//
//	@Summary		Full-text search across synced tiddlers
//	@Tags			cache
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	map[string][]CacheSearchResult
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/cache/search [get]
func (h *Handler) CacheSearch(w http.ResponseWriter, r *http.Request) {
	if h.deps.Cache == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("cache not available"))
		return
	}
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	hits, err := h.deps.Cache.Search(q, limit)
	if err != nil {
		slog.Error("cache search failed", slog.String("query", q), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	results := make([]CacheSearchResult, 0, len(hits))
	for _, hit := range hits {
		results = append(results, CacheSearchResult{Title: hit.Title, Snippet: hit.Snippet})
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// CacheList handles GET /api/cache/tiddlers.
//
//	@Summary		List synced tiddlers with optional pagination and tag filter
//	@Tags			cache
//	@Produce		json
//	@Param			limit	query		int		false	"Page size"
//	@Param			offset	query		int		false	"Page offset"
//	@Param			tag		query		string	false	"Filter by tag"
//	@Success		200		{object}	map[string]any
//	@Security		BearerAuth
//	@Router			/cache/tiddlers [get]
func (h *Handler) CacheList(w http.ResponseWriter, r *http.Request) {
	if h.deps.Cache == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("cache not available"))
		return
	}
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	rows, total, err := h.deps.Cache.ListTiddlers(limit, offset, q.Get("tag"))
	if err != nil {
		slog.Error("cache list failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	items := make([]CacheListItem, 0, len(rows))
	for _, row := range rows {
		tags := row.Tags
		if tags == nil {
			tags = []string{}
		}
		items = append(items, CacheListItem{
			Title:    row.Title,
			Type:     row.Type,
			Tags:     tags,
			Modified: row.Modified,
			Checksum: row.Checksum,
			SyncedAt: row.SyncedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tiddlers": items,
		"total":    total,
	})
}

// Backlinks handles GET /api/cache/backlinks/*.
//
//	@Summary		Synced tiddlers linking to or transcluding a title
//	@Tags			cache
//	@Produce		json
//	@Param			title	path		string	true	"Target title"
//	@Success		200		{object}	map[string][]string
//	@Security		BearerAuth
//	@Router			/cache/backlinks/{title} [get]
func (h *Handler) Backlinks(w http.ResponseWriter, r *http.Request) {
	if h.deps.Cache == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("cache not available"))
		return
	}
	title := titleParam(r)
	if title == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("title is required"))
		return
	}
	sources, err := h.deps.Cache.Backlinks(title)
	if err != nil {
		slog.Error("backlinks failed", slog.String("title", title), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	if sources == nil {
		sources = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"backlinks": sources})
}

// writeError maps domain errors to HTTP statuses.
func writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, apperr.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrOriginNotFound):
		writeJSON(w, http.StatusConflict, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, apperr.ErrNotConnected):
		writeJSON(w, http.StatusConflict, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrNetwork), errors.Is(err, apperr.ErrChannelClosed), isUpstream(err):
		slog.Warn(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadGateway, errorBody(err.Error()))
	default:
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}
