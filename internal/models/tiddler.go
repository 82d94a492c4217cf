// Package models defines the domain types for tidsync.
package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Standard tiddler field names. Every other field is a custom field.
const (
	FieldTitle    = "title"
	FieldText     = "text"
	FieldTags     = "tags"
	FieldType     = "type"
	FieldCreated  = "created"
	FieldModified = "modified"
	FieldCreator  = "creator"
	FieldModifier = "modifier"
)

// DefaultType is the wiki-markup content type assumed when a tiddler has none.
const DefaultType = "text/vnd.tiddlywiki"

// IsStandardField reports whether name is one of the standard tiddler fields.
func IsStandardField(name string) bool {
	switch name {
	case FieldTitle, FieldText, FieldTags, FieldType,
		FieldCreated, FieldModified, FieldCreator, FieldModifier:
		return true
	}
	return false
}

// Tiddler is a remote wiki document.
//
// Fields holds custom fields only. Extra keeps any other top-level
// attribute the server sent (revision, bag, ...) verbatim so a
// read-modify-write cycle round-trips it.
type Tiddler struct {
	Title    string
	Text     string
	Type     string
	Tags     Tags
	Created  string
	Modified string
	Creator  string
	Modifier string
	Fields   map[string]string
	Extra    map[string]json.RawMessage
}

// EffectiveType returns Type, or DefaultType when the tiddler has none.
func (t *Tiddler) EffectiveType() string {
	if t.Type == "" {
		return DefaultType
	}
	return t.Type
}

// Clone returns a deep copy of t.
func (t *Tiddler) Clone() *Tiddler {
	if t == nil {
		return nil
	}
	c := *t
	c.Tags = append(Tags(nil), t.Tags...)
	if t.Fields != nil {
		c.Fields = make(map[string]string, len(t.Fields))
		for k, v := range t.Fields {
			c.Fields[k] = v
		}
	}
	if t.Extra != nil {
		c.Extra = make(map[string]json.RawMessage, len(t.Extra))
		for k, v := range t.Extra {
			c.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return &c
}

// Set assigns a field by name: standard names go to the matching
// attribute, anything else becomes a custom field. A "tags" value is
// parsed as a string array and unioned into the existing tags.
func (t *Tiddler) Set(name, value string) {
	switch name {
	case FieldTitle:
		t.Title = value
	case FieldText:
		t.Text = value
	case FieldTags:
		t.Tags = t.Tags.Union(ParseTags(value))
	case FieldType:
		t.Type = value
	case FieldCreated:
		t.Created = value
	case FieldModified:
		t.Modified = value
	case FieldCreator:
		t.Creator = value
	case FieldModifier:
		t.Modifier = value
	default:
		if t.Fields == nil {
			t.Fields = map[string]string{}
		}
		t.Fields[name] = value
	}
}

// Merge applies an upsert to existing and returns the result without
// mutating existing. With an existing tiddler, tags are the union of
// existing tags and tagsToAdd, custom fields are overlaid by patch and
// every attribute patch does not name is kept. Without one, a new
// tiddler is built from title, tagsToAdd and patch alone.
func Merge(existing *Tiddler, title string, tagsToAdd []string, patch map[string]string) *Tiddler {
	var out *Tiddler
	if existing != nil {
		out = existing.Clone()
	} else {
		out = &Tiddler{}
	}
	out.Title = title
	out.Tags = out.Tags.Union(tagsToAdd)
	for k, v := range patch {
		if k == FieldTitle {
			continue
		}
		out.Set(k, v)
	}
	return out
}

// NormalizeNewlines converts CRLF line endings to LF.
func NormalizeNewlines(s string) string {
	if !strings.Contains(s, "\r\n") {
		return s
	}
	return strings.ReplaceAll(s, "\r\n", "\n")
}

type wireStandard struct {
	Title    string `json:"title"`
	Text     string `json:"text,omitempty"`
	Type     string `json:"type,omitempty"`
	Tags     Tags   `json:"tags,omitempty"`
	Created  string `json:"created,omitempty"`
	Modified string `json:"modified,omitempty"`
	Creator  string `json:"creator,omitempty"`
	Modifier string `json:"modifier,omitempty"`
}

// UnmarshalJSON decodes the server's tiddler representation. Custom
// fields arrive in a nested "fields" object; tags may be a JSON array
// or a string array in wiki syntax.
func (t *Tiddler) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var std wireStandard
	if err := json.Unmarshal(data, &std); err != nil {
		return err
	}
	*t = Tiddler{
		Title:    std.Title,
		Text:     std.Text,
		Type:     std.Type,
		Tags:     std.Tags,
		Created:  std.Created,
		Modified: std.Modified,
		Creator:  std.Creator,
		Modifier: std.Modifier,
	}
	for key, value := range raw {
		if IsStandardField(key) {
			continue
		}
		if key == "fields" {
			fields, err := decodeFields(value)
			if err != nil {
				return fmt.Errorf("models: decode fields: %w", err)
			}
			for k, v := range fields {
				if IsStandardField(k) {
					continue
				}
				if t.Fields == nil {
					t.Fields = map[string]string{}
				}
				t.Fields[k] = v
			}
			continue
		}
		if t.Extra == nil {
			t.Extra = map[string]json.RawMessage{}
		}
		t.Extra[key] = value
	}
	return nil
}

// MarshalJSON encodes the tiddler for a PUT request.
func (t Tiddler) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(t.Extra)+9)
	for k, v := range t.Extra {
		out[k] = v
	}
	out[FieldTitle] = t.Title
	setIf := func(key, value string) {
		if value != "" {
			out[key] = value
		}
	}
	setIf(FieldText, t.Text)
	setIf(FieldType, t.Type)
	setIf(FieldCreated, t.Created)
	setIf(FieldModified, t.Modified)
	setIf(FieldCreator, t.Creator)
	setIf(FieldModifier, t.Modifier)
	if len(t.Tags) > 0 {
		out[FieldTags] = []string(t.Tags)
	}
	if len(t.Fields) > 0 {
		out["fields"] = t.Fields
	}
	return json.Marshal(out)
}

func decodeFields(raw json.RawMessage) (map[string]string, error) {
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(generic))
	for k, v := range generic {
		switch val := v.(type) {
		case nil:
			continue
		case string:
			out[k] = val
		default:
			b, err := json.Marshal(val)
			if err != nil {
				return nil, err
			}
			out[k] = string(b)
		}
	}
	return out, nil
}
