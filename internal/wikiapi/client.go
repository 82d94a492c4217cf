// Package wikiapi is the HTTP client for the wiki server's tiddler API.
package wikiapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/starford/tidsync/internal/apperr"
	"github.com/starford/tidsync/internal/models"
)

// Default connection settings.
const (
	DefaultHost   = "http://localhost:8080"
	DefaultRecipe = "default"
)

// Store is the remote tiddler store the sync engine works against.
type Store interface {
	// FetchByTitle returns the tiddler with the given title.
	FetchByTitle(ctx context.Context, title string) (*models.Tiddler, error)
	// SearchByFilter returns the tiddlers selected by a filter expression.
	SearchByFilter(ctx context.Context, filter string) ([]models.Tiddler, error)
	// Search runs a title search, or a filter if term starts with "[".
	Search(ctx context.Context, term string) ([]models.Tiddler, error)
	// Latest returns up to n non-system tiddlers, newest first.
	Latest(ctx context.Context, n int) ([]models.Tiddler, error)
	// Upsert merges tagsToAdd and patch into the tiddler, creating it when absent.
	Upsert(ctx context.Context, title string, tagsToAdd []string, patch map[string]string) (*models.Tiddler, error)
}

// HTTPError is returned for non-2xx responses.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Is maps status codes onto the shared sentinel errors.
func (e *HTTPError) Is(target error) bool {
	switch target {
	case apperr.ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case apperr.ErrInvalidInput:
		return e.StatusCode == http.StatusBadRequest
	}
	return false
}

// Client talks to one recipe on one wiki server.
type Client struct {
	baseURL    string
	recipe     string
	httpClient *http.Client
}

var _ Store = (*Client)(nil)

// NewClient creates a client for recipe on host. Empty values fall back
// to DefaultHost and DefaultRecipe.
func NewClient(host, recipe string, httpClient *http.Client) *Client {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if host == "" {
		host = DefaultHost
	}
	recipe = strings.TrimSpace(recipe)
	if recipe == "" {
		recipe = DefaultRecipe
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{baseURL: host, recipe: recipe, httpClient: httpClient}
}

// Host returns the server base URL.
func (c *Client) Host() string { return c.baseURL }

// Recipe returns the recipe name.
func (c *Client) Recipe() string { return c.recipe }

// Timeout returns the per-request timeout of the HTTP client.
func (c *Client) Timeout() time.Duration { return c.httpClient.Timeout }

// Status returns the server's /status document.
func (c *Client) Status(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.request(ctx, http.MethodGet, "/status", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchByTitle implements Store.
func (c *Client) FetchByTitle(ctx context.Context, title string) (*models.Tiddler, error) {
	if strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("wikiapi: fetch: empty title: %w", apperr.ErrInvalidInput)
	}
	var out *models.Tiddler
	if err := c.request(ctx, http.MethodGet, c.tiddlerPath(title), nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("wikiapi: fetch %q: empty response: %w", title, apperr.ErrNotFound)
	}
	if out.Title == "" {
		out.Title = title
	}
	out.Text = models.NormalizeNewlines(out.Text)
	return out, nil
}

// SearchByFilter implements Store.
func (c *Client) SearchByFilter(ctx context.Context, filter string) ([]models.Tiddler, error) {
	if strings.TrimSpace(filter) == "" {
		return nil, fmt.Errorf("wikiapi: empty filter: %w", apperr.ErrInvalidInput)
	}
	q := url.Values{}
	q.Set("filter", filter)
	var out []models.Tiddler
	path := fmt.Sprintf("/recipes/%s/tiddlers.json?%s", url.PathEscape(c.recipe), q.Encode())
	if err := c.request(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []models.Tiddler{}
	}
	return out, nil
}

// Search implements Store.
func (c *Client) Search(ctx context.Context, term string) ([]models.Tiddler, error) {
	filter, err := SearchFilter(term)
	if err != nil {
		return nil, err
	}
	return c.SearchByFilter(ctx, filter)
}

// Latest implements Store.
func (c *Client) Latest(ctx context.Context, n int) ([]models.Tiddler, error) {
	filter, err := LatestFilter(n)
	if err != nil {
		return nil, err
	}
	return c.SearchByFilter(ctx, filter)
}

// Upsert implements Store. It fetches the current tiddler, merges the
// change with models.Merge and writes the result back.
func (c *Client) Upsert(ctx context.Context, title string, tagsToAdd []string, patch map[string]string) (*models.Tiddler, error) {
	if strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("wikiapi: upsert: empty title: %w", apperr.ErrInvalidInput)
	}
	existing, err := c.FetchByTitle(ctx, title)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	merged := models.Merge(existing, title, tagsToAdd, patch)
	if err := c.request(ctx, http.MethodPut, c.tiddlerPath(title), merged, nil); err != nil {
		return nil, err
	}
	return merged, nil
}

// SearchFilter turns a search term into a filter expression. Terms that
// already look like a filter are passed through.
func SearchFilter(term string) (string, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return "", fmt.Errorf("wikiapi: empty search term: %w", apperr.ErrInvalidInput)
	}
	if strings.HasPrefix(term, "[") {
		return term, nil
	}
	return "[all[tiddlers]!is[system]search:title[" + term + "]limit[10]]", nil
}

// LatestFilter returns the filter selecting the n most recently
// modified non-system tiddlers.
func LatestFilter(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("wikiapi: latest count %d: %w", n, apperr.ErrInvalidInput)
	}
	return "[all[tiddlers]!is[system]!is[shadow]!sort[modified]limit[" + strconv.Itoa(n) + "]]", nil
}

func (c *Client) tiddlerPath(title string) string {
	return fmt.Sprintf("/recipes/%s/tiddlers/%s", url.PathEscape(c.recipe), url.PathEscape(title))
}

// request performs one HTTP round trip. 204 counts as success with no
// data. There is no retry here; callers surface the failure.
func (c *Client) request(ctx context.Context, method, requestPath string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("wikiapi: encode body: %w", err)
		}
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
	if err != nil {
		return fmt.Errorf("wikiapi: build request: %w: %w", apperr.ErrInvalidInput, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Requested-With", "TiddlyWiki")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("wikiapi: %s %s: %w: %w", method, requestPath, apperr.ErrNetwork, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return fmt.Errorf("wikiapi: read response: %w: %w", apperr.ErrNetwork, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HTTPError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(truncate(string(payload), 256)),
		}
	}
	if resp.StatusCode == http.StatusNoContent || out == nil || len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("wikiapi: decode %s: %w", requestPath, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
