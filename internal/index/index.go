package index

// TiddlerCache defines the interface for the local tiddler cache.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with fakes.
type TiddlerCache interface {
	UpsertTiddler(r TiddlerRow, body string, links []string) error
	DeleteTiddler(title string) error
	GetChecksum(title string) (string, error)
	GetTiddler(title string) (*TiddlerRow, error)
	ListTiddlers(limit, offset int, tag string) ([]TiddlerRow, int, error)
	Search(query string, limit int) ([]SearchResult, error)
	Backlinks(target string) ([]string, error)
	AllChecksums() (map[string]string, error)
	Close() error
}

// Verify *DB satisfies TiddlerCache at compile time.
var _ TiddlerCache = (*DB)(nil)
