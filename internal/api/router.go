package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(deps Deps, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(deps)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Open and save flows.
	r.Post("/open", h.Open)
	r.Post("/save", h.Save)
	r.Post("/tags", h.AddTags)
	r.Post("/preview", h.Preview)
	r.Get("/mirror", h.Mirror)
	r.Get("/states", h.States)

	// Remote wiki.
	r.Get("/tiddlers", h.ListTiddlers)
	r.Get("/tiddlers/*", h.GetTiddler)
	r.Get("/search", h.Search)
	r.Get("/latest", h.Latest)
	r.Get("/status", h.Status)

	// Editor buffers.
	r.Get("/buffers", h.ListBuffers)
	r.Put("/buffers", h.PutBuffer)
	r.Delete("/buffers", h.CloseBuffer)

	// Push channel.
	r.Get("/push", h.PushStatus)
	r.Post("/push/reconnect", h.Reconnect)

	// Offline cache.
	r.Get("/cache/search", h.CacheSearch)
	r.Get("/cache/tiddlers", h.CacheList)
	r.Get("/cache/backlinks/*", h.Backlinks)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
