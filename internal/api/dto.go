package api

import (
	"github.com/starford/tidsync/internal/editor"
	"github.com/starford/tidsync/internal/models"
	"github.com/starford/tidsync/internal/syncer"
)

// OpenRequest is the request body for opening a tiddler.
type OpenRequest struct {
	Title string `json:"title" example:"$:/config/Example" validate:"required"`
}

// PathRequest names a local file for save and preview.
type PathRequest struct {
	Path string `json:"path" example:"/tmp/tiddlyedit-temp/Example.tid" validate:"required"`
}

// TagsRequest is the request body for adding tags.
type TagsRequest struct {
	Title string   `json:"title" example:"Example" validate:"required"`
	Tags  []string `json:"tags" example:"todo,draft" validate:"required"`
}

// OpenResponse is returned after a tiddler was opened (aliased from the domain layer).
type OpenResponse = syncer.OpenResult

// Buffer is an editor buffer report (aliased from the editor layer).
type Buffer = editor.Buffer

// TiddlerListResponse wraps remote listings.
type TiddlerListResponse struct {
	Tiddlers []models.Tiddler `json:"tiddlers" validate:"required"`
}

// MirrorEntry is one open mirror file.
type MirrorEntry struct {
	Path  string       `json:"path" example:"/tmp/tiddlyedit-temp/Example.tid" validate:"required"`
	Title string       `json:"title" example:"Example" validate:"required"`
	State syncer.State `json:"state,omitempty" example:"clean"`
}

// PreviewResponse names the tiddler sent to live views.
type PreviewResponse struct {
	Title string `json:"title" example:"Example" validate:"required"`
}

// CacheSearchResult is a single offline search hit.
type CacheSearchResult struct {
	Title   string `json:"title" example:"Example" validate:"required"`
	Snippet string `json:"snippet" example:"...matched text..." validate:"required"`
}

// CacheListItem is a cached tiddler row.
type CacheListItem struct {
	Title    string   `json:"title" example:"Example"`
	Type     string   `json:"type" example:"text/vnd.tiddlywiki"`
	Tags     []string `json:"tags" example:"tag1,tag2"`
	Modified string   `json:"modified" example:"20240506070809010"`
	Checksum string   `json:"checksum" example:"abc123..."`
	SyncedAt string   `json:"synced_at" example:"2024-05-06T07:08:09Z"`
}
