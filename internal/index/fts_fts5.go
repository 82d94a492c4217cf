//go:build sqlite_fts5

package index

import (
	"database/sql"
	"fmt"
	"strings"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS tiddlers_fts USING fts5(
			title,
			body,
			tags,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsUpsert(tx *sql.Tx, title, body string, tags []string) error {
	_, _ = tx.Exec(`DELETE FROM tiddlers_fts WHERE title = ?`, title)
	_, err := tx.Exec(`INSERT INTO tiddlers_fts (title, body, tags) VALUES (?, ?, ?)`,
		title, body, strings.Join(tags, " "))
	if err != nil {
		return fmt.Errorf("index: upsert fts: %w", err)
	}
	return nil
}

func ftsDelete(tx *sql.Tx, title string) {
	_, _ = tx.Exec(`DELETE FROM tiddlers_fts WHERE title = ?`, title)
}

// matchExpr turns free text into an FTS5 expression: every word becomes a
// quoted prefix term, so titles like "$:/config" cannot break the syntax.
func matchExpr(query string) string {
	words := strings.Fields(query)
	for i, w := range words {
		words[i] = `"` + strings.ReplaceAll(w, `"`, `""`) + `"*`
	}
	return strings.Join(words, " ")
}

// Search runs an FTS5 prefix search ranked by bm25.
func (db *DB) Search(query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	expr := matchExpr(query)
	if expr == "" {
		return nil, nil
	}
	rows, err := db.conn.Query(`
		SELECT title,
		       snippet(tiddlers_fts, 1, '<b>', '</b>', '...', 32)
		FROM tiddlers_fts
		WHERE tiddlers_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, expr, limit)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	return collectResults(rows)
}
