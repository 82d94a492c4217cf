package mcpserver

// MirrorContract describes how tiddlers map to local mirror files, for
// LLM consumers that edit them.
const MirrorContract = `# tidsync Mirror File Contract

A tiddler opened with the ` + "`" + `open_tiddler` + "`" + ` tool is written to one file in the
scratch directory. The file holds the tiddler's text and nothing else.

## File names

- The file name is the tiddler title with reserved characters replaced by
  look-alike glyphs, plus the ` + "`" + `.tid` + "`" + ` extension.
- ` + "`" + `$:/config/Example` + "`" + ` becomes ` + "`" + `$꞉／config／Example.tid` + "`" + `.
- Never rename mirror files; the name is how the title is recovered.

## Content

1. Only the text field is mirrored. Tags, type and custom fields stay on the
   wiki and are preserved by every save.
2. Line endings are LF. CRLF written by an editor is normalised on save.
3. The content type decides the editor language (markdown, css, javascript,
   json, html, tiddlywiki5 or plaintext).

## Saving

- ` + "`" + `save_tiddler` + "`" + ` uploads the file and stamps the modified time.
- A file whose tiddler was deleted on the wiki is never uploaded; the save
  fails with "original tiddler not found" and the file is kept.
- Use ` + "`" + `add_tags` + "`" + ` to tag a tiddler. Tags with spaces are written as
  ` + "`" + `[[two words]]` + "`" + `.

## Links

Use ` + "`" + `[[Title]]` + "`" + ` or ` + "`" + `[[label|Title]]` + "`" + ` to link and ` + "`" + `{{Title}}` + "`" + ` to transclude.
` + "`" + `get_backlinks` + "`" + ` answers from the local cache of synced tiddlers.
`
