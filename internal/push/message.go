package push

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Message types.
const (
	TypeEditTiddler = "edit-tiddler"
	TypeOpenTiddler = "open-tiddler"
)

const inboundSchemaURL = "https://tidsync.local/schema/push-inbound.json"

const inboundSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["type"],
	"properties": {
		"type": {"type": "string", "minLength": 1},
		"title": {"type": "string"}
	},
	"if": {"properties": {"type": {"const": "edit-tiddler"}}},
	"then": {
		"required": ["title"],
		"properties": {"title": {"type": "string", "pattern": "\\S"}}
	}
}`

// Inbound is a message received from the server.
type Inbound struct {
	Type  string `json:"type"`
	Title string `json:"title,omitempty"`
}

// Outbound is a message sent to the server.
type Outbound struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Offset *int   `json:"offset,omitempty"`
}

// Decoder validates and decodes inbound frames.
type Decoder struct {
	schema *jsonschema.Schema
}

// NewDecoder compiles the inbound message schema.
func NewDecoder() (*Decoder, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(inboundSchema))
	if err != nil {
		return nil, fmt.Errorf("push: parse schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(inboundSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("push: add schema: %w", err)
	}
	sch, err := c.Compile(inboundSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("push: compile schema: %w", err)
	}
	return &Decoder{schema: sch}, nil
}

// Decode parses one frame. Malformed or invalid frames return an error.
func (d *Decoder) Decode(data []byte) (Inbound, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return Inbound{}, fmt.Errorf("push: malformed message: %w", err)
	}
	if err := d.schema.Validate(inst); err != nil {
		return Inbound{}, fmt.Errorf("push: invalid message: %w", err)
	}
	var msg Inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		return Inbound{}, fmt.Errorf("push: decode message: %w", err)
	}
	return msg, nil
}

// SocketURL turns a wiki host into the push socket address.
func SocketURL(host string) string {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	switch {
	case strings.HasPrefix(host, "https://"):
		return "wss://" + strings.TrimPrefix(host, "https://") + "/ws"
	case strings.HasPrefix(host, "http://"):
		return "ws://" + strings.TrimPrefix(host, "http://") + "/ws"
	}
	return "ws://" + host + "/ws"
}
