// Package wikitest runs an in-memory wiki server for tests.
package wikitest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/starford/tidsync/internal/models"
)

var limitRe = regexp.MustCompile(`limit\[(\d+)\]`)

// Server is a minimal wiki server holding tiddlers for one recipe.
type Server struct {
	*httptest.Server

	recipe string

	mu       sync.Mutex
	tiddlers map[string]models.Tiddler
	filters  []string
	puts     int
	failWith int
}

// NewServer starts a server for recipe "default". It is closed when the
// test ends.
func NewServer(t *testing.T) *Server {
	t.Helper()
	s := &Server{recipe: "default", tiddlers: make(map[string]models.Tiddler)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// Add stores a tiddler as if it already existed on the server.
func (s *Server) Add(td models.Tiddler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tiddlers[td.Title] = *td.Clone()
}

// Get returns the stored tiddler.
func (s *Server) Get(title string) (models.Tiddler, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	td, ok := s.tiddlers[title]
	if !ok {
		return models.Tiddler{}, false
	}
	return *td.Clone(), true
}

// Filters returns every filter expression received so far.
func (s *Server) Filters() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.filters...)
}

// Puts returns the number of successful writes.
func (s *Server) Puts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

// FailWith makes every request answer with status code. Zero restores
// normal handling.
func (s *Server) FailWith(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = code
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	fail := s.failWith
	s.mu.Unlock()
	if fail != 0 {
		http.Error(w, http.StatusText(fail), fail)
		return
	}
	if r.Method != http.MethodGet && r.Header.Get("X-Requested-With") != "TiddlyWiki" {
		http.Error(w, "missing X-Requested-With", http.StatusForbidden)
		return
	}

	path := r.URL.EscapedPath()
	prefix := "/recipes/" + s.recipe + "/"
	switch {
	case path == "/status":
		writeJSON(w, map[string]any{"username": "GUEST", "anonymous": true, "read_only": false})
	case path == prefix+"tiddlers.json" && r.Method == http.MethodGet:
		s.list(w, r.URL.Query().Get("filter"))
	case strings.HasPrefix(path, prefix+"tiddlers/"):
		title, err := url.PathUnescape(strings.TrimPrefix(path, prefix+"tiddlers/"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		switch r.Method {
		case http.MethodGet:
			s.get(w, title)
		case http.MethodPut:
			s.put(w, r, title)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) get(w http.ResponseWriter, title string) {
	td, ok := s.Get(title)
	if !ok {
		http.NotFound(w, nil)
		return
	}
	writeJSON(w, td)
}

func (s *Server) put(w http.ResponseWriter, r *http.Request, title string) {
	var td models.Tiddler
	if err := json.NewDecoder(r.Body).Decode(&td); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	td.Title = title
	if td.Extra == nil {
		td.Extra = make(map[string]json.RawMessage)
	}
	td.Extra["bag"] = json.RawMessage(`"default"`)

	s.mu.Lock()
	s.tiddlers[title] = td
	s.puts++
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

// list returns skinny tiddlers sorted by title. Only the limit[] operator
// of the filter is honoured.
func (s *Server) list(w http.ResponseWriter, filter string) {
	s.mu.Lock()
	s.filters = append(s.filters, filter)
	out := make([]models.Tiddler, 0, len(s.tiddlers))
	for _, td := range s.tiddlers {
		skinny := *td.Clone()
		skinny.Text = ""
		out = append(out, skinny)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	if m := limitRe.FindStringSubmatch(filter); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n < len(out) {
			out = out[:n]
		}
	}
	writeJSON(w, out)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
