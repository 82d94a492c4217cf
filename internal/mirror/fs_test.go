package mirror

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/starford/tidsync/internal/apperr"
	"github.com/starford/tidsync/internal/models"
)

func tempMirror(t *testing.T) *FS {
	t.Helper()
	fs, err := NewFS(filepath.Join(t.TempDir(), DirName), nil)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func TestNewFSCreatesDir(t *testing.T) {
	m := tempMirror(t)
	info, err := os.Stat(m.Dir())
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if !info.IsDir() {
		t.Fatal("scratch dir is not a directory")
	}
	// A second mirror over the same directory must not fail.
	if _, err := NewFS(m.Dir(), nil); err != nil {
		t.Fatalf("NewFS existing: %v", err)
	}
}

func TestOpenWritesNormalizedText(t *testing.T) {
	m := tempMirror(t)
	path, lang, err := m.Open(&models.Tiddler{Title: "Foo", Text: "a\r\nb", Type: "text/markdown"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if lang != LangMarkdown {
		t.Errorf("lang = %q", lang)
	}
	if filepath.Base(path) != "Foo.tid" {
		t.Errorf("path = %s", path)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "a\nb" {
		t.Errorf("content = %q", got)
	}
	if !m.IsOpen(path) {
		t.Error("path not in open-set")
	}
}

func TestOpenSystemTitle(t *testing.T) {
	m := tempMirror(t)
	path, lang, err := m.Open(&models.Tiddler{Title: "$:/config/Test", Text: "x"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if lang != LangWiki {
		t.Errorf("lang = %q", lang)
	}
	if filepath.Dir(path) != m.Dir() {
		t.Errorf("mirror file escaped scratch dir: %s", path)
	}
	title, err := m.TitleFor(path)
	if err != nil {
		t.Fatalf("TitleFor: %v", err)
	}
	if title != "$:/config/Test" {
		t.Errorf("title = %q", title)
	}
}

func TestOpenTwiceKeepsOneFile(t *testing.T) {
	m := tempMirror(t)
	p1, _, _ := m.Open(&models.Tiddler{Title: "Same", Text: "one"})
	p2, _, err := m.Open(&models.Tiddler{Title: "Same", Text: "two"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if p1 != p2 {
		t.Fatalf("paths differ: %s vs %s", p1, p2)
	}
	entries, _ := os.ReadDir(m.Dir())
	if len(entries) != 1 {
		t.Errorf("entries = %d, want 1", len(entries))
	}
	got, _ := os.ReadFile(p2)
	if string(got) != "two" {
		t.Errorf("content = %q", got)
	}
}

func TestOpenInvalidTitle(t *testing.T) {
	m := tempMirror(t)
	for _, title := range []string{"", "   ", ".."} {
		if _, _, err := m.Open(&models.Tiddler{Title: title}); !errors.Is(err, apperr.ErrInvalidInput) {
			t.Errorf("Open(%q) err = %v, want invalid input", title, err)
		}
	}
	if len(m.Paths()) != 0 {
		t.Errorf("open-set = %v", m.Paths())
	}
}

func TestIsMirrorPath(t *testing.T) {
	m := tempMirror(t)
	inside, _, err := m.Open(&models.Tiddler{Title: "x"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	outside := filepath.Join(t.TempDir(), "x.tid")
	if err := os.WriteFile(outside, []byte("o"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if !m.IsMirrorPath(inside) {
		t.Error("inside path rejected")
	}
	if m.IsMirrorPath(outside) {
		t.Error("outside path accepted")
	}
	if m.IsMirrorPath(filepath.Join(m.Dir(), "missing.tid")) {
		t.Error("nonexistent path accepted")
	}
	if m.IsMirrorPath(m.Dir()) {
		t.Error("scratch dir itself accepted")
	}
	if !m.IsMirrorPath(filepath.Join(m.Dir(), "..", filepath.Base(m.Dir()), "x.tid")) {
		t.Error("non-clean inside path rejected")
	}
}

func TestIsMirrorPathSymlink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	m := tempMirror(t)
	target, _, _ := m.Open(&models.Tiddler{Title: "linked"})
	link := filepath.Join(t.TempDir(), "link.tid")
	if err := os.Symlink(target, link); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	if !m.IsMirrorPath(link) {
		t.Error("symlink into scratch dir rejected")
	}

	escape := filepath.Join(m.Dir(), "escape.tid")
	outside := filepath.Join(t.TempDir(), "outside.tid")
	_ = os.WriteFile(outside, nil, 0o644)
	if err := os.Symlink(outside, escape); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	if m.IsMirrorPath(escape) {
		t.Error("symlink out of scratch dir accepted")
	}
}

func TestWithin(t *testing.T) {
	sep := string(os.PathSeparator)
	root := sep + filepath.Join("tmp", "Scratch")
	cases := []struct {
		p    string
		fold bool
		want bool
	}{
		{root + sep + "a.tid", false, true},
		{root + sep + "sub" + sep + "a.tid", false, true},
		{root, false, false},
		{root + "2" + sep + "a.tid", false, false},
		{sep + filepath.Join("tmp", "scratch", "a.tid"), true, true},
		{sep + filepath.Join("TMP", "SCRATCH", "A.tid"), true, true},
	}
	for _, c := range cases {
		if got := within(root, c.p, c.fold); got != c.want {
			t.Errorf("within(%q, %q, %v) = %v, want %v", root, c.p, c.fold, got, c.want)
		}
	}
}

func TestIsManaged(t *testing.T) {
	m := tempMirror(t)
	tid, _, _ := m.Open(&models.Tiddler{Title: "a"})
	other := filepath.Join(m.Dir(), "notes.txt")
	_ = os.WriteFile(other, []byte("x"), 0o644)

	if !m.IsManaged(tid) {
		t.Error(".tid file not managed")
	}
	if m.IsManaged(other) {
		t.Error(".txt file managed")
	}
	if _, err := m.TitleFor(other); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("TitleFor(.txt) err = %v", err)
	}
}

func TestReadWrite(t *testing.T) {
	m := tempMirror(t)
	path, _, _ := m.Open(&models.Tiddler{Title: "rw", Text: "old"})
	if err := m.Write(path, []byte("new")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := m.Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "new" {
		t.Errorf("content = %q", got)
	}

	outside := filepath.Join(t.TempDir(), "o.tid")
	_ = os.WriteFile(outside, []byte("o"), 0o644)
	if err := m.Write(outside, []byte("x")); err == nil {
		t.Error("write outside scratch dir allowed")
	}
	if _, err := m.Read(outside); err == nil {
		t.Error("read outside scratch dir allowed")
	}
}

func TestCloseAllIdempotent(t *testing.T) {
	m := tempMirror(t)
	p1, _, _ := m.Open(&models.Tiddler{Title: "one"})
	p2, _, _ := m.Open(&models.Tiddler{Title: "two"})
	// Removed behind the mirror's back: must not break CloseAll.
	_ = os.Remove(p2)

	m.CloseAll()
	if n := len(m.Paths()); n != 0 {
		t.Errorf("open-set after first CloseAll = %d", n)
	}
	if _, err := os.Stat(p1); !os.IsNotExist(err) {
		t.Errorf("mirror file still present: %v", err)
	}
	m.CloseAll()
	if n := len(m.Paths()); n != 0 {
		t.Errorf("open-set after second CloseAll = %d", n)
	}
	if _, err := os.Stat(m.Dir()); err != nil {
		t.Errorf("scratch dir removed: %v", err)
	}
}

func TestRecover(t *testing.T) {
	dir := filepath.Join(t.TempDir(), DirName)
	first, err := NewFS(dir, nil)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	path, _, _ := first.Open(&models.Tiddler{Title: "$:/left/over", Text: "unsaved"})
	_ = os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("x"), 0o644)

	second, _ := NewFS(dir, nil)
	adopted, err := second.Recover()
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if len(adopted) != 1 || adopted[0] != path {
		t.Fatalf("adopted = %v, want [%s]", adopted, path)
	}
	if title := second.Entries()[path]; title != "$:/left/over" {
		t.Errorf("title = %q", title)
	}
	again, _ := second.Recover()
	if len(again) != 0 {
		t.Errorf("second Recover adopted %v", again)
	}
}

func TestRecoverUpperCaseExtension(t *testing.T) {
	m := tempMirror(t)
	stale := filepath.Join(m.Dir(), "Foo.TID")
	if err := os.WriteFile(stale, []byte("left"), 0o644); err != nil {
		t.Fatal(err)
	}
	if !m.IsManaged(stale) {
		t.Fatalf("IsManaged(%s) = false", stale)
	}
	adopted, err := m.Recover()
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if len(adopted) != 1 || adopted[0] != stale {
		t.Fatalf("adopted = %v, want [%s]", adopted, stale)
	}
	if title := m.Entries()[stale]; title != "Foo" {
		t.Errorf("title = %q, want Foo", title)
	}
}

func TestOpenTitleWithLiteralGlyphs(t *testing.T) {
	m := tempMirror(t)
	for _, title := range []string{"什么是TiddlyWiki？", "会议记录：2024", "a＄b"} {
		path, _, err := m.Open(&models.Tiddler{Title: title, Text: "x"})
		if err != nil {
			t.Fatalf("Open(%q): %v", title, err)
		}
		got, err := m.TitleFor(path)
		if err != nil || got != title {
			t.Errorf("TitleFor(%s) = %q, %v; want %q", path, got, err, title)
		}
	}
}

func TestLanguageFor(t *testing.T) {
	cases := map[string]Language{
		"application/javascript": LangJavaScript,
		"text/css":               LangCSS,
		"application/json":       LangJSON,
		"text/html":              LangHTML,
		"text/markdown":          LangMarkdown,
		"text/x-markdown":        LangMarkdown,
		"text/vnd.tiddlywiki":    LangWiki,
		"":                       LangWiki,
		"image/png":              LangText,
	}
	for in, want := range cases {
		if got := LanguageFor(in); got != want {
			t.Errorf("LanguageFor(%q) = %q, want %q", in, got, want)
		}
	}
}
