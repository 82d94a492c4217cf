package models

// Meta is the metadata view of a tiddler published to observers when
// it is opened for editing.
type Meta struct {
	Title    string            `json:"title"`
	Type     string            `json:"type"`
	Created  string            `json:"created,omitempty"`
	Modified string            `json:"modified,omitempty"`
	Creator  string            `json:"creator,omitempty"`
	Modifier string            `json:"modifier,omitempty"`
	Tags     []string          `json:"tags"`
	Fields   map[string]string `json:"fields,omitempty"`
}

// Meta returns the metadata view of t.
func (t *Tiddler) Meta() Meta {
	tags := []string(t.Tags)
	if tags == nil {
		tags = []string{}
	}
	return Meta{
		Title:    t.Title,
		Type:     t.EffectiveType(),
		Created:  DisplayTimestamp(t.Created),
		Modified: DisplayTimestamp(t.Modified),
		Creator:  t.Creator,
		Modifier: t.Modifier,
		Tags:     tags,
		Fields:   t.Fields,
	}
}
