//go:build !sqlite_fts5

package index

import (
	"database/sql"
	"fmt"
	"strings"
	"unicode/utf8"
)

func initFTS(_ *sql.DB) error {
	return nil
}

func ftsUpsert(_ *sql.Tx, _, _ string, _ []string) error {
	return nil
}

func ftsDelete(_ *sql.Tx, _ string) {}

// Search matches query as a substring of title, body or tags. Title hits
// sort first. Used when the driver is built without FTS5.
func (db *DB) Search(query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	like := "%" + escapeLike(query) + "%"
	rows, err := db.conn.Query(`
		SELECT title, body
		FROM tiddlers
		WHERE title LIKE ? ESCAPE '\' OR body LIKE ? ESCAPE '\' OR tags LIKE ? ESCAPE '\'
		ORDER BY (title LIKE ? ESCAPE '\') DESC, title
		LIMIT ?
	`, like, like, like, like, limit)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	out, err := collectResults(rows)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Snippet = snippetAround(out[i].Snippet, query, 80)
	}
	return out, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// snippetAround cuts body to about width bytes centred on the first
// case-insensitive match of query.
func snippetAround(body, query string, width int) string {
	if len(body) <= width {
		return body
	}
	at := strings.Index(strings.ToLower(body), strings.ToLower(query))
	if at < 0 {
		at = 0
	}
	start := max(at-width/2, 0)
	end := min(start+width, len(body))
	// Stay on rune boundaries.
	for start > 0 && !utf8.RuneStart(body[start]) {
		start--
	}
	for end < len(body) && !utf8.RuneStart(body[end]) {
		end++
	}
	s := body[start:end]
	if start > 0 {
		s = "..." + s
	}
	if end < len(body) {
		s += "..."
	}
	return s
}
