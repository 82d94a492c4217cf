package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

// Tags is an ordered set of tag names.
type Tags []string

// ParseTags splits a wiki string array such as `one [[two words]] three`
// into its members. Bracketed members may contain spaces; duplicates are
// dropped, keeping the first occurrence.
func ParseTags(s string) Tags {
	var out Tags
	seen := map[string]struct{}{}
	add := func(item string) {
		if item == "" {
			return
		}
		if _, ok := seen[item]; ok {
			return
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}

	runes := []rune(s)
	i := 0
	for i < len(runes) {
		if isSeparator(runes[i]) {
			i++
			continue
		}
		if end, ok := bracketEnd(runes, i); ok {
			add(string(runes[i+2 : end]))
			i = end + 2
			continue
		}
		j := i
		for j < len(runes) && !isSeparator(runes[j]) {
			j++
		}
		add(string(runes[i:j]))
		i = j
	}
	return out
}

// bracketEnd looks for a [[...]] member starting at i and returns the
// index of its closing brackets. The closing brackets must be followed
// by a separator or the end of input, and a member never spans lines.
func bracketEnd(runes []rune, i int) (int, bool) {
	if i+1 >= len(runes) || runes[i] != '[' || runes[i+1] != '[' {
		return 0, false
	}
	for j := i + 2; j+1 < len(runes); j++ {
		if runes[j] == '\n' {
			return 0, false
		}
		if runes[j] != ']' || runes[j+1] != ']' {
			continue
		}
		if j+2 == len(runes) || isSeparator(runes[j+2]) {
			return j, true
		}
	}
	return 0, false
}

// isSeparator matches whitespace other than the non-breaking space,
// which is allowed inside unbracketed members.
func isSeparator(r rune) bool {
	return r != '\u00a0' && unicode.IsSpace(r)
}

// String renders the tags as a wiki string array.
func (t Tags) String() string {
	parts := make([]string, 0, len(t))
	for _, tag := range t {
		if strings.IndexFunc(tag, isSeparator) >= 0 {
			parts = append(parts, "[["+tag+"]]")
		} else {
			parts = append(parts, tag)
		}
	}
	return strings.Join(parts, " ")
}

// Union returns t followed by the members of add it does not contain yet.
func (t Tags) Union(add []string) Tags {
	out := make(Tags, 0, len(t)+len(add))
	seen := make(map[string]struct{}, len(t)+len(add))
	for _, group := range [][]string{t, add} {
		for _, tag := range group {
			if _, ok := seen[tag]; ok {
				continue
			}
			seen[tag] = struct{}{}
			out = append(out, tag)
		}
	}
	return out
}

// UnmarshalJSON accepts either a JSON array or a wiki string array.
func (t *Tags) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	switch {
	case trimmed == "null":
		*t = nil
		return nil
	case strings.HasPrefix(trimmed, `"`):
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = ParseTags(s)
		return nil
	case strings.HasPrefix(trimmed, "["):
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*t = Tags(nil).Union(list)
		return nil
	}
	return fmt.Errorf("models: tags must be a string or an array, got %s", trimmed)
}
