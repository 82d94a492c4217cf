package index

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/starford/tidsync/internal/apperr"
)

// TiddlerRow represents a row in the tiddlers table.
type TiddlerRow struct {
	Title    string
	Type     string
	Tags     []string
	Modified string
	Checksum string
	SyncedAt time.Time
}

// SearchResult represents one search hit.
type SearchResult struct {
	Title   string
	Snippet string
}

// UpsertTiddler inserts or replaces a tiddler, its FTS entry, and links within a transaction.
func (db *DB) UpsertTiddler(r TiddlerRow, body string, links []string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	tags := r.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, _ := json.Marshal(tags)
	syncedAt := r.SyncedAt.UTC()
	if r.SyncedAt.IsZero() {
		syncedAt = time.Now().UTC()
	}

	_, err = tx.Exec(`
		INSERT INTO tiddlers (title, type, tags, modified, checksum, body, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(title) DO UPDATE SET
			type      = excluded.type,
			tags      = excluded.tags,
			modified  = excluded.modified,
			checksum  = excluded.checksum,
			body      = excluded.body,
			synced_at = excluded.synced_at
	`, r.Title, r.Type, string(tagsJSON), r.Modified, r.Checksum, body, syncedAt)
	if err != nil {
		return fmt.Errorf("index: upsert tiddler: %w", err)
	}

	// FTS upsert (no-op when FTS5 tag is absent).
	if err := ftsUpsert(tx, r.Title, body, tags); err != nil {
		return err
	}

	// Replace links: delete old then bulk insert.
	_, _ = tx.Exec(`DELETE FROM links WHERE source = ?`, r.Title)
	if len(links) > 0 {
		stmt, err := tx.Prepare(`INSERT OR IGNORE INTO links (source, target) VALUES (?, ?)`)
		if err != nil {
			return fmt.Errorf("index: prepare link insert: %w", err)
		}
		defer stmt.Close()
		for _, target := range links {
			if _, err := stmt.Exec(r.Title, target); err != nil {
				return fmt.Errorf("index: insert link: %w", err)
			}
		}
	}

	return tx.Commit()
}

// DeleteTiddler removes a tiddler, its FTS entry, and outgoing links.
func (db *DB) DeleteTiddler(title string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ftsDelete(tx, title)
	_, _ = tx.Exec(`DELETE FROM links WHERE source = ?`, title)
	_, _ = tx.Exec(`DELETE FROM tiddlers WHERE title = ?`, title)

	return tx.Commit()
}

// GetChecksum returns the checksum of the last synced text, or empty string if not found.
func (db *DB) GetChecksum(title string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM tiddlers WHERE title = ?`, title).Scan(&cs)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("index: get checksum: %w", err)
	}
	return cs, nil
}

// GetTiddler returns the cached row for title.
func (db *DB) GetTiddler(title string) (*TiddlerRow, error) {
	row := db.conn.QueryRow(`
		SELECT title, type, tags, modified, checksum, synced_at
		FROM tiddlers WHERE title = ?`, title)
	r, err := scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index: %q: %w", title, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("index: get tiddler: %w", err)
	}
	return r, nil
}

// ListTiddlers returns cached rows ordered by most recent sync, with the
// total count. A non-empty tag restricts the result to tiddlers carrying it.
func (db *DB) ListTiddlers(limit, offset int, tag string) ([]TiddlerRow, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	where := ""
	args := []any{}
	if tag != "" {
		where = `WHERE EXISTS (SELECT 1 FROM json_each(tiddlers.tags) WHERE json_each.value = ?)`
		args = append(args, tag)
	}

	var total int
	if err := db.conn.QueryRow(`SELECT count(*) FROM tiddlers `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("index: count tiddlers: %w", err)
	}

	rows, err := db.conn.Query(`
		SELECT title, type, tags, modified, checksum, synced_at
		FROM tiddlers `+where+`
		ORDER BY synced_at DESC, title
		LIMIT ? OFFSET ?`, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("index: list tiddlers: %w", err)
	}
	defer rows.Close()

	var out []TiddlerRow
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *r)
	}
	return out, total, rows.Err()
}

// AllChecksums returns title to checksum for every cached tiddler.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT title, checksum FROM tiddlers`)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var title, cs string
		if err := rows.Scan(&title, &cs); err != nil {
			return nil, err
		}
		out[title] = cs
	}
	return out, rows.Err()
}

// Backlinks returns all tiddler titles that link to the given target.
func (db *DB) Backlinks(target string) ([]string, error) {
	rows, err := db.conn.Query(`SELECT source FROM links WHERE target = ? ORDER BY source`, target)
	if err != nil {
		return nil, fmt.Errorf("index: backlinks: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(s scanner) (*TiddlerRow, error) {
	var (
		r        TiddlerRow
		tagsJSON string
	)
	if err := s.Scan(&r.Title, &r.Type, &tagsJSON, &r.Modified, &r.Checksum, &r.SyncedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tagsJSON), &r.Tags); err != nil {
		return nil, fmt.Errorf("index: decode tags of %q: %w", r.Title, err)
	}
	return &r, nil
}

// collectResults drains title/snippet rows and closes them.
func collectResults(rows *sql.Rows) ([]SearchResult, error) {
	defer rows.Close()
	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.Title, &r.Snippet); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
