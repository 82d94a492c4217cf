package mirror

import "github.com/starford/tidsync/internal/models"

// Language is the editor language a mirror file is presented with.
type Language string

const (
	LangJavaScript Language = "javascript"
	LangCSS        Language = "css"
	LangJSON       Language = "json"
	LangHTML       Language = "html"
	LangMarkdown   Language = "markdown"
	LangWiki       Language = "tiddlywiki5"
	LangText       Language = "plaintext"
)

// LanguageFor maps a tiddler content type to an editor language. An
// empty type is the wiki markup type.
func LanguageFor(contentType string) Language {
	switch contentType {
	case "application/javascript":
		return LangJavaScript
	case "text/css":
		return LangCSS
	case "application/json":
		return LangJSON
	case "text/html":
		return LangHTML
	case "text/markdown", "text/x-markdown":
		return LangMarkdown
	case "", models.DefaultType:
		return LangWiki
	default:
		return LangText
	}
}
