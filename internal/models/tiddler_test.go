package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestParseTags(t *testing.T) {
	cases := []struct {
		in   string
		want Tags
	}{
		{"", nil},
		{"one", Tags{"one"}},
		{"one two one", Tags{"one", "two"}},
		{"[[two words]] three", Tags{"two words", "three"}},
		{"a [[b c]] d [[]]", Tags{"a", "b c", "d"}},
		{"[[x]]y z", Tags{"[[x]]y", "z"}},
		{"no\u00a0break here", Tags{"no\u00a0break", "here"}},
		{"  spaced\tout\n", Tags{"spaced", "out"}},
	}
	for _, tc := range cases {
		got := ParseTags(tc.in)
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Errorf("ParseTags(%q) mismatch (-want +got):\n%s", tc.in, diff)
		}
	}
}

func TestTagsStringRoundTrip(t *testing.T) {
	tags := Tags{"a", "b c", "d"}
	s := tags.String()
	if s != "a [[b c]] d" {
		t.Fatalf("String() = %q", s)
	}
	if diff := cmp.Diff(tags, ParseTags(s)); diff != "" {
		t.Errorf("round trip mismatch:\n%s", diff)
	}
}

func TestTagsUnmarshalStringOrArray(t *testing.T) {
	var fromString, fromArray Tags
	require.NoError(t, json.Unmarshal([]byte(`"x [[y z]]"`), &fromString))
	require.NoError(t, json.Unmarshal([]byte(`["x","y z","x"]`), &fromArray))
	require.Equal(t, Tags{"x", "y z"}, fromString)
	require.Equal(t, Tags{"x", "y z"}, fromArray)

	var bad Tags
	require.Error(t, json.Unmarshal([]byte(`42`), &bad))
}

func TestTiddlerUnmarshalKeepsCustomFieldsAndExtras(t *testing.T) {
	payload := `{
		"title": "Foo",
		"text": "hello",
		"tags": "x [[y z]]",
		"type": "text/markdown",
		"modified": "20240102030405006",
		"revision": "7",
		"bag": "default",
		"fields": {"color": "red", "count": 3}
	}`
	var td Tiddler
	require.NoError(t, json.Unmarshal([]byte(payload), &td))
	require.Equal(t, "Foo", td.Title)
	require.Equal(t, "hello", td.Text)
	require.Equal(t, Tags{"x", "y z"}, td.Tags)
	require.Equal(t, map[string]string{"color": "red", "count": "3"}, td.Fields)
	require.Contains(t, td.Extra, "revision")
	require.Contains(t, td.Extra, "bag")

	out, err := json.Marshal(td)
	require.NoError(t, err)
	var back Tiddler
	require.NoError(t, json.Unmarshal(out, &back))
	if diff := cmp.Diff(td, back); diff != "" {
		t.Errorf("marshal round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestMergePreservesUntouchedFields(t *testing.T) {
	existing := &Tiddler{
		Title:  "Foo",
		Text:   "old",
		Tags:   Tags{"a"},
		Fields: map[string]string{"x": "1"},
	}
	got := Merge(existing, "Foo", []string{"b"}, map[string]string{FieldText: "new"})

	want := &Tiddler{
		Title:  "Foo",
		Text:   "new",
		Tags:   Tags{"a", "b"},
		Fields: map[string]string{"x": "1"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Merge mismatch (-want +got):\n%s", diff)
	}
	if existing.Text != "old" || len(existing.Tags) != 1 {
		t.Errorf("Merge mutated its input: %+v", existing)
	}
}

func TestMergeWithoutExistingCreatesFromPatch(t *testing.T) {
	got := Merge(nil, "New", []string{"t"}, map[string]string{FieldText: "body", "color": "blue"})
	require.Equal(t, "New", got.Title)
	require.Equal(t, "body", got.Text)
	require.Equal(t, Tags{"t"}, got.Tags)
	require.Equal(t, map[string]string{"color": "blue"}, got.Fields)
}

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 6*int(time.Millisecond), time.FixedZone("X", 3600))
	got := FormatTimestamp(ts)
	if got != "20240102020405006" {
		t.Fatalf("FormatTimestamp = %q", got)
	}
	if len(got) != TimestampLen {
		t.Fatalf("len = %d", len(got))
	}
	back, err := ParseTimestamp(got)
	require.NoError(t, err)
	require.True(t, back.Equal(ts))
}

func TestDisplayTimestamp(t *testing.T) {
	if got := DisplayTimestamp("20240102030405006"); got != "2024-01-02 03:04:05" {
		t.Errorf("got %q", got)
	}
	if got := DisplayTimestamp("yesterday"); got != "yesterday" {
		t.Errorf("non-timestamp should pass through, got %q", got)
	}
}

func TestNormalizeNewlines(t *testing.T) {
	if got := NormalizeNewlines("a\r\nb\nc\r\n"); got != "a\nb\nc\n" {
		t.Errorf("got %q", got)
	}
}
