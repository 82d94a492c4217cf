// Package parser extracts links from tiddler text and reads the YAML
// header of R Markdown documents.
package parser

import (
	"bytes"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	wikilinkRe   = regexp.MustCompile(`\[\[(.*?)\]\]`)
	transcludeRe = regexp.MustCompile(`\{\{([^{}]*?)\}\}`)
)

// UntitledDocument is the placeholder title of a fresh R Markdown document.
const UntitledDocument = "Untitled Document"

// Result holds the output of parsing tiddler text.
type Result struct {
	Links       []string
	Transcludes []string
}

// Parse extracts link and transclusion targets from wiki text.
func Parse(text string) *Result {
	return &Result{
		Links:       extractLinks(text),
		Transcludes: extractTranscludes(text),
	}
}

// Targets returns links and transclusions merged, without duplicates.
func (r *Result) Targets() []string {
	return dedupe(append(append([]string(nil), r.Links...), r.Transcludes...))
}

// extractLinks returns deduplicated link targets. In [[Label|Target]]
// the target follows the bar.
func extractLinks(text string) []string {
	matches := wikilinkRe.FindAllStringSubmatch(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		target := m[1]
		if i := strings.LastIndex(target, "|"); i >= 0 {
			target = target[i+1:]
		}
		out = append(out, strings.TrimSpace(target))
	}
	return dedupe(out)
}

// extractTranscludes returns the tiddler part of {{Title}},
// {{Title||Template}} and {{Title!!field}}.
func extractTranscludes(text string) []string {
	matches := transcludeRe.FindAllStringSubmatch(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		target := m[1]
		for _, sep := range []string{"||", "!!", "##"} {
			if i := strings.Index(target, sep); i >= 0 {
				target = target[:i]
			}
		}
		out = append(out, strings.TrimSpace(target))
	}
	return dedupe(out)
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// RmdHeader is the part of an R Markdown YAML header the previewer needs.
type RmdHeader struct {
	Title  string
	Remote bool
}

// ParseRmd reads the YAML header of an R Markdown document. ok is false
// when the document has no parsable header.
func ParseRmd(data []byte) (RmdHeader, bool) {
	fm, ok := splitFrontmatter(data)
	if !ok {
		return RmdHeader{}, false
	}
	var h RmdHeader
	if s, ok := fm["title"].(string); ok {
		h.Title = strings.TrimSpace(s)
	}
	if output, ok := fm["output"].(map[string]interface{}); ok {
		if doc, ok := output["rtiddlywiki::tiddler_document"].(map[string]interface{}); ok {
			h.Remote, _ = doc["remote"].(bool)
		}
	}
	return h, true
}

// Previewable reports whether the header names a remote tiddler.
func (h RmdHeader) Previewable() bool {
	return h.Remote && h.Title != "" && h.Title != UntitledDocument
}

// splitFrontmatter decodes the YAML block between leading --- delimiters.
func splitFrontmatter(data []byte) (map[string]interface{}, bool) {
	const delim = "---"
	trimmed := bytes.ReplaceAll(bytes.TrimLeft(data, "\n\r"), []byte("\r\n"), []byte("\n"))

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, false
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, false
	}

	var fm map[string]interface{}
	if err := yaml.Unmarshal(rest[:idx], &fm); err != nil || fm == nil {
		return nil, false
	}
	return fm, true
}
