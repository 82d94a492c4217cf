//go:build !sqlite_fts5

package index

import (
	"strings"
	"testing"
)

func TestFallbackSearch_TitleHitsFirst(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertTiddler(TiddlerRow{Title: "About", Checksum: "1"}, "mentions widget in passing", nil)
	_ = db.UpsertTiddler(TiddlerRow{Title: "Widget Notes", Checksum: "2"}, "body", nil)

	results, err := db.Search("widget", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 || results[0].Title != "Widget Notes" {
		t.Errorf("results = %+v, want Widget Notes first", results)
	}
}

func TestFallbackSearch_LiteralWildcards(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertTiddler(TiddlerRow{Title: "Plain", Checksum: "1"}, "nothing special", nil)
	_ = db.UpsertTiddler(TiddlerRow{Title: "Percent", Checksum: "2"}, "100% done", nil)

	results, err := db.Search("%", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Title != "Percent" {
		t.Errorf("results = %+v, want only Percent", results)
	}

	results, _ = db.Search("   ", 10)
	if len(results) != 0 {
		t.Errorf("blank query returned %+v", results)
	}
}

func TestSnippetAround(t *testing.T) {
	body := strings.Repeat("a", 100) + "needle" + strings.Repeat("b", 100)
	got := snippetAround(body, "NEEDLE", 40)
	if !strings.Contains(got, "needle") {
		t.Errorf("snippet %q misses the match", got)
	}
	if !strings.HasPrefix(got, "...") || !strings.HasSuffix(got, "...") {
		t.Errorf("snippet %q not elided on both sides", got)
	}

	if got := snippetAround("short", "x", 40); got != "short" {
		t.Errorf("short body = %q", got)
	}

	multi := strings.Repeat("é", 60)
	for _, r := range snippetAround(multi, "é", 41) {
		if r == '\uFFFD' {
			t.Fatal("snippet split a rune")
		}
	}
}
