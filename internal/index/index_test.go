package index

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/starford/tidsync/internal/apperr"
	"github.com/starford/tidsync/internal/checksum"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "tidsync-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM tiddlers`).Scan(&count); err != nil {
		t.Fatalf("tiddlers table missing: %v", err)
	}
	if err := db.conn.QueryRow(`SELECT count(*) FROM links`).Scan(&count); err != nil {
		t.Fatalf("links table missing: %v", err)
	}
}

func TestOpenInMemory(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()
	if err := db.UpsertTiddler(TiddlerRow{Title: "m", Checksum: "1"}, "", nil); err != nil {
		t.Fatalf("UpsertTiddler: %v", err)
	}
	if cs, _ := db.GetChecksum("m"); cs != "1" {
		t.Errorf("checksum = %q", cs)
	}
}

func TestUpsertAndGetChecksum(t *testing.T) {
	db := testDB(t)
	row := TiddlerRow{
		Title:    "Hello World",
		Type:     "text/vnd.tiddlywiki",
		Checksum: "abc123",
		Tags:     []string{"go", "test"},
		Modified: "20240101000000000",
		SyncedAt: time.Now(),
	}
	if err := db.UpsertTiddler(row, "This is a hello world tiddler.", []string{"Other"}); err != nil {
		t.Fatalf("UpsertTiddler: %v", err)
	}
	cs, err := db.GetChecksum("Hello World")
	if err != nil {
		t.Fatalf("GetChecksum: %v", err)
	}
	if cs != "abc123" {
		t.Errorf("checksum = %q, want %q", cs, "abc123")
	}

	got, err := db.GetTiddler("Hello World")
	if err != nil {
		t.Fatalf("GetTiddler: %v", err)
	}
	if got.Type != "text/vnd.tiddlywiki" || got.Modified != "20240101000000000" {
		t.Errorf("row = %+v", got)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "go" || got.Tags[1] != "test" {
		t.Errorf("tags = %v", got.Tags)
	}
}

func TestGetTiddler_NotFound(t *testing.T) {
	db := testDB(t)
	if _, err := db.GetTiddler("nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestBacklinks(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertTiddler(TiddlerRow{Title: "A", Checksum: "1"}, "body", []string{"B"})
	_ = db.UpsertTiddler(TiddlerRow{Title: "C", Checksum: "2"}, "body", []string{"B"})

	bl, err := db.Backlinks("B")
	if err != nil {
		t.Fatalf("Backlinks: %v", err)
	}
	if len(bl) != 2 || bl[0] != "A" || bl[1] != "C" {
		t.Fatalf("backlinks = %v, want [A C]", bl)
	}
}

func TestDeleteTiddler(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertTiddler(TiddlerRow{Title: "del", Checksum: "x"}, "body", []string{"target"})

	if err := db.DeleteTiddler("del"); err != nil {
		t.Fatalf("DeleteTiddler: %v", err)
	}
	cs, _ := db.GetChecksum("del")
	if cs != "" {
		t.Errorf("deleted tiddler still has checksum %q", cs)
	}
	bl, _ := db.Backlinks("target")
	if len(bl) != 0 {
		t.Errorf("expected 0 backlinks after delete, got %d", len(bl))
	}
}

func TestUpsertUpdatesExisting(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertTiddler(TiddlerRow{Title: "up", Checksum: "1"}, "old body", []string{"x"})
	_ = db.UpsertTiddler(TiddlerRow{Title: "up", Checksum: "2", Tags: []string{"new"}}, "new body", []string{"y"})

	cs, _ := db.GetChecksum("up")
	if cs != "2" {
		t.Errorf("checksum = %q, want %q", cs, "2")
	}
	bl, _ := db.Backlinks("x")
	if len(bl) != 0 {
		t.Error("old link should be removed on upsert")
	}
	bl, _ = db.Backlinks("y")
	if len(bl) != 1 {
		t.Error("new link should exist")
	}
}

func TestGetChecksum_NotFound(t *testing.T) {
	db := testDB(t)
	cs, err := db.GetChecksum("nonexistent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cs != "" {
		t.Errorf("expected empty checksum, got %q", cs)
	}
}

func TestListTiddlers(t *testing.T) {
	db := testDB(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_ = db.UpsertTiddler(TiddlerRow{Title: "old", Tags: []string{"journal"}, SyncedAt: base}, "", nil)
	_ = db.UpsertTiddler(TiddlerRow{Title: "new", Tags: []string{"journal", "x"}, SyncedAt: base.Add(time.Hour)}, "", nil)
	_ = db.UpsertTiddler(TiddlerRow{Title: "other", SyncedAt: base.Add(2 * time.Hour)}, "", nil)

	rows, total, err := db.ListTiddlers(10, 0, "")
	if err != nil {
		t.Fatalf("ListTiddlers: %v", err)
	}
	if total != 3 || len(rows) != 3 || rows[0].Title != "other" {
		t.Errorf("rows = %+v total = %d", rows, total)
	}

	rows, total, err = db.ListTiddlers(1, 0, "journal")
	if err != nil {
		t.Fatalf("ListTiddlers tag: %v", err)
	}
	if total != 2 || len(rows) != 1 || rows[0].Title != "new" {
		t.Errorf("tag rows = %+v total = %d", rows, total)
	}
}

func TestSearch_Basic(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertTiddler(TiddlerRow{Title: "Search Me", Checksum: "1"}, "uniqueword appears here", nil)

	results, err := db.Search("uniqueword", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Title != "Search Me" {
		t.Errorf("search results = %+v, want 1 hit for Search Me", results)
	}
}

type fakeMirror struct {
	files map[string]string // path -> content
	names map[string]string // path -> title
}

func (f fakeMirror) Paths() []string {
	out := make([]string, 0, len(f.files))
	for p := range f.files {
		out = append(out, p)
	}
	return out
}

func (f fakeMirror) TitleFor(p string) (string, error) {
	if t, ok := f.names[p]; ok {
		return t, nil
	}
	return "", apperr.ErrInvalidInput
}

func (f fakeMirror) Read(p string) ([]byte, error) { return []byte(f.files[p]), nil }

func TestReconcile(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertTiddler(TiddlerRow{Title: "same", Checksum: checksum.Text("synced")}, "synced", nil)
	_ = db.UpsertTiddler(TiddlerRow{Title: "edited", Checksum: checksum.Text("before")}, "before", nil)

	m := fakeMirror{
		files: map[string]string{"/m/same.tid": "synced", "/m/edited.tid": "after", "/m/new.tid": "x", "/m/bad": ""},
		names: map[string]string{"/m/same.tid": "same", "/m/edited.tid": "edited", "/m/new.tid": "new"},
	}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	changed := Reconcile(db, m, logger)
	want := map[string]bool{"/m/edited.tid": true, "/m/new.tid": true}
	if len(changed) != len(want) {
		t.Fatalf("changed = %v", changed)
	}
	for _, p := range changed {
		if !want[p] {
			t.Errorf("unexpected changed path %s", p)
		}
	}
}
