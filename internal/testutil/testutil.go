// Package testutil provides shared test helpers for setting up mirrors,
// caches and coordinators against a fake wiki.
package testutil

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/tidsync/internal/index"
	"github.com/starford/tidsync/internal/mirror"
	"github.com/starford/tidsync/internal/syncer"
	"github.com/starford/tidsync/internal/wikiapi"
	"github.com/starford/tidsync/internal/wikiapi/wikitest"
)

// TestDB creates a temporary SQLite cache that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "tidsync-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestMirror creates a mirror over a temporary scratch directory.
func TestMirror(t *testing.T) *mirror.FS {
	t.Helper()
	m, err := mirror.NewFS(filepath.Join(t.TempDir(), mirror.DirName), QuietLogger())
	if err != nil {
		t.Fatal(err)
	}
	return m
}

// QuietLogger discards everything.
func QuietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// Env is a coordinator wired to a fake wiki.
type Env struct {
	Wiki   *wikitest.Server
	Mirror *mirror.FS
	DB     *index.DB
	Sync   *syncer.Coordinator
}

// TestEnv starts a fake wiki and builds a coordinator against it.
func TestEnv(t *testing.T) *Env {
	t.Helper()
	srv := wikitest.NewServer(t)
	m := TestMirror(t)
	db := TestDB(t)
	coord := syncer.New(syncer.Config{
		Store:  wikiapi.NewClient(srv.URL, wikiapi.DefaultRecipe, srv.Client()),
		Mirror: m,
		Cache:  db,
		Logger: QuietLogger(),
	})
	return &Env{Wiki: srv, Mirror: m, DB: db, Sync: coord}
}
