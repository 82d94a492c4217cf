// Package mirror keeps local editing copies of remote tiddlers in a
// scratch directory.
package mirror

import "github.com/starford/tidsync/internal/models"

// Ext is the file extension of managed mirror files.
const Ext = ".tid"

// Provider is the interface for mirror file operations. Paths are
// absolute.
type Provider interface {
	// Open writes the tiddler body to its mirror file and returns the
	// path and the editor language for the tiddler type.
	Open(td *models.Tiddler) (string, Language, error)
	// IsMirrorPath reports whether path lies inside the scratch directory.
	IsMirrorPath(path string) bool
	// IsManaged reports whether path is a mirror path with the managed extension.
	IsManaged(path string) bool
	// TitleFor returns the tiddler title a managed path belongs to.
	TitleFor(path string) (string, error)
	// Read returns the content of a mirror file.
	Read(path string) ([]byte, error)
	// Write atomically replaces the content of a mirror file.
	Write(path string, content []byte) error
	// Paths returns the open-set, sorted.
	Paths() []string
	// CloseAll deletes every open mirror file and empties the open-set.
	CloseAll()
	// Recover adopts mirror files left by a previous run into the open-set.
	Recover() ([]string, error)
}
