// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes tiddler sync tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/tidsync/internal/index"
	"github.com/starford/tidsync/internal/models"
	"github.com/starford/tidsync/internal/syncer"
)

const mirrorFormatURI = "tidsync://mirror-format"

// Server wraps the MCP server with sync tools.
type Server struct {
	mcp   *server.MCPServer
	sync  *syncer.Coordinator
	cache index.TiddlerCache
}

// New creates a new MCP server with all sync tools registered. cache may
// be nil, in which case get_backlinks reports an error.
func New(coord *syncer.Coordinator, cache index.TiddlerCache) *Server {
	s := &Server{sync: coord, cache: cache}

	s.mcp = server.NewMCPServer(
		"tidsync",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("open_tiddler",
		mcp.WithDescription("Fetch a tiddler from the wiki and write its text to a local mirror file. "+
			"Returns the file path, editor language and metadata."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Exact tiddler title (e.g. $:/config/Example)")),
	), s.openTiddler)

	s.mcp.AddTool(mcp.NewTool("save_tiddler",
		mcp.WithDescription("Upload the content of a mirror file back to its tiddler. "+
			"Tags and custom fields are preserved. Read the contract first via "+
			"the get_mirror_contract tool or the "+mirrorFormatURI+" resource."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Absolute path of the mirror file")),
	), s.saveTiddler)

	s.mcp.AddTool(mcp.NewTool("read_tiddler",
		mcp.WithDescription("Read a tiddler from the wiki without opening it."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Exact tiddler title")),
	), s.readTiddler)

	s.mcp.AddTool(mcp.NewTool("search_tiddlers",
		mcp.WithDescription("Search tiddler titles and text on the wiki."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search term")),
	), s.searchTiddlers)

	s.mcp.AddTool(mcp.NewTool("latest_tiddlers",
		mcp.WithDescription("List the most recently modified tiddlers."),
		mcp.WithNumber("n", mcp.Description("Number of tiddlers to return (default 10)")),
	), s.latestTiddlers)

	s.mcp.AddTool(mcp.NewTool("add_tags",
		mcp.WithDescription("Add tags to a tiddler, creating it when missing."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Exact tiddler title")),
		mcp.WithString("tags", mcp.Required(), mcp.Description("Tags in wiki list form, e.g. todo [[two words]]")),
	), s.addTags)

	s.mcp.AddTool(mcp.NewTool("list_mirror",
		mcp.WithDescription("List open mirror files with their titles and sync states."),
	), s.listMirror)

	s.mcp.AddTool(mcp.NewTool("get_backlinks",
		mcp.WithDescription("Find synced tiddlers that link to the specified tiddler."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Title to find backlinks for")),
	), s.getBacklinks)

	s.mcp.AddTool(mcp.NewTool("get_mirror_contract",
		mcp.WithDescription("Returns the mirror file contract. "+
			"Call this before editing mirror files to keep titles and fields intact."),
	), s.getMirrorContract)

	// Resource: mirror file contract.
	s.mcp.AddResource(
		mcp.NewResource(mirrorFormatURI, "Mirror File Contract",
			mcp.WithResourceDescription("How tiddlers map to local mirror files."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readMirrorFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

type mirrorEntry struct {
	Path  string       `json:"path"`
	Title string       `json:"title"`
	State syncer.State `json:"state,omitempty"`
}

func (s *Server) openTiddler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.sync.Open(ctx, title)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

func (s *Server) saveTiddler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	td, err := s.sync.Save(ctx, path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if td == nil {
		return mcp.NewToolResultError(fmt.Sprintf("not a mirror file: %s", path)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Saved %q (modified %s)", td.Title, td.Modified)), nil
}

func (s *Server) readTiddler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	td, err := s.sync.Fetch(ctx, title)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", title)), nil
	}
	return mcp.NewToolResultText(td.Text), nil
}

func (s *Server) searchTiddlers(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	list, err := s.sync.Search(ctx, query)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(titles(list))
}

func (s *Server) latestTiddlers(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	n := req.GetInt("n", 10)
	if n <= 0 {
		return mcp.NewToolResultError("n must be positive"), nil
	}
	list, err := s.sync.Latest(ctx, n)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(titles(list))
}

func (s *Server) addTags(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	raw, err := req.RequireString("tags")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	tags := models.ParseTags(raw)
	if len(tags) == 0 {
		return mcp.NewToolResultError("no tags given"), nil
	}
	td, err := s.sync.AddTags(ctx, title, tags)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Tagged %q: %s", td.Title, td.Tags.String())), nil
}

func (s *Server) listMirror(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	m := s.sync.Mirror()
	paths := m.Paths()
	out := make([]mirrorEntry, 0, len(paths))
	for _, p := range paths {
		title, err := m.TitleFor(p)
		if err != nil {
			continue
		}
		st, _ := s.sync.State(title)
		out = append(out, mirrorEntry{Path: p, Title: title, State: st})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return jsonResult(out)
}

func (s *Server) getBacklinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if s.cache == nil {
		return mcp.NewToolResultError("cache disabled"), nil
	}
	links, err := s.cache.Backlinks(title)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(links)
}

func (s *Server) getMirrorContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(MirrorContract), nil
}

func (s *Server) readMirrorFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      mirrorFormatURI,
			MIMEType: "text/markdown",
			Text:     MirrorContract,
		},
	}, nil
}

func titles(list []models.Tiddler) []string {
	out := make([]string, 0, len(list))
	for _, td := range list {
		out = append(out, td.Title)
	}
	return out
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}
