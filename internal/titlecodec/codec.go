// Package titlecodec maps tiddler titles to file names and back.
//
// Characters that are illegal or risky in file names are replaced by
// full-width look-alikes, so "$:/config/Test" becomes "＄：／config／Test".
// Titles without such characters are returned unchanged. A title that
// already contains a look-alike glyph (full-width "？" is ordinary CJK
// punctuation) keeps it behind the Escape rune, so every title
// round-trips.
package titlecodec

import (
	"fmt"
	"strings"

	"github.com/starford/tidsync/internal/apperr"
)

// SystemPrefix starts every system tiddler title.
const SystemPrefix = "$:/"

// Substitution pairs a reserved character with its file-safe look-alike.
type Substitution struct {
	Reserved rune
	Glyph    rune
}

// Escape marks the rune after it as literal in an encoded name.
const Escape = '‸'

// Table is the full substitution table. Every reserved rune and glyph is
// distinct, and none equals Escape.
var Table = []Substitution{
	{'/', '／'},
	{'$', '＄'},
	{':', '：'},
	{'?', '？'},
	{'*', '＊'},
	{'"', '＂'},
	{'<', '＜'},
	{'>', '＞'},
	{'|', '｜'},
	{'\\', '＼'},
}

var (
	reserved string
	glyphs   string
)

var (
	toGlyph   = map[rune]rune{}
	fromGlyph = map[rune]rune{}
)

func init() {
	var r, g strings.Builder
	for _, s := range Table {
		r.WriteRune(s.Reserved)
		g.WriteRune(s.Glyph)
		toGlyph[s.Reserved] = s.Glyph
		fromGlyph[s.Glyph] = s.Reserved
	}
	reserved = r.String()
	glyphs = g.String() + string(Escape)
}

// Encode returns the file-safe name for title.
func Encode(title string) string {
	if !strings.ContainsAny(title, reserved) && !strings.ContainsAny(title, glyphs) {
		return title
	}
	var b strings.Builder
	b.Grow(len(title) + 8)
	for _, c := range title {
		if g, ok := toGlyph[c]; ok {
			b.WriteRune(g)
			continue
		}
		if _, ok := fromGlyph[c]; ok || c == Escape {
			b.WriteRune(Escape)
		}
		b.WriteRune(c)
	}
	return b.String()
}

// Decode returns the title a file name was encoded from. Names without
// any glyph are returned unchanged. A trailing lone Escape is kept.
func Decode(name string) string {
	if !strings.ContainsAny(name, glyphs) {
		return name
	}
	var b strings.Builder
	b.Grow(len(name))
	escaped := false
	for _, c := range name {
		switch {
		case escaped:
			b.WriteRune(c)
			escaped = false
		case c == Escape:
			escaped = true
		default:
			if r, ok := fromGlyph[c]; ok {
				c = r
			}
			b.WriteRune(c)
		}
	}
	if escaped {
		b.WriteRune(Escape)
	}
	return b.String()
}

// IsSystem reports whether title lives in the system namespace.
func IsSystem(title string) bool {
	return strings.HasPrefix(title, SystemPrefix)
}

// Valid reports whether title can be mirrored to a file: it must be
// non-empty and must not be a path element such as "." or "..".
func Valid(title string) error {
	switch {
	case strings.TrimSpace(title) == "":
		return fmt.Errorf("titlecodec: empty title: %w", apperr.ErrInvalidInput)
	case title == "." || title == "..":
		return fmt.Errorf("titlecodec: title %q is a path element: %w", title, apperr.ErrInvalidInput)
	case strings.ContainsRune(title, 0):
		return fmt.Errorf("titlecodec: title contains NUL: %w", apperr.ErrInvalidInput)
	}
	return nil
}
