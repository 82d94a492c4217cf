package push

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeValid(t *testing.T) {
	d, err := NewDecoder()
	require.NoError(t, err)

	msg, err := d.Decode([]byte(`{"type":"edit-tiddler","title":"$:/config/x"}`))
	require.NoError(t, err)
	require.Equal(t, Inbound{Type: TypeEditTiddler, Title: "$:/config/x"}, msg)

	// Unknown types decode; the channel decides what to do with them.
	msg, err = d.Decode([]byte(`{"type":"ping"}`))
	require.NoError(t, err)
	require.Equal(t, "ping", msg.Type)
}

func TestDecodeInvalid(t *testing.T) {
	d, err := NewDecoder()
	require.NoError(t, err)

	for _, frame := range []string{
		`not json`,
		`[]`,
		`{}`,
		`{"type":""}`,
		`{"type":42}`,
		`{"type":"edit-tiddler"}`,
		`{"type":"edit-tiddler","title":"   "}`,
		`{"type":"edit-tiddler","title":7}`,
	} {
		_, err := d.Decode([]byte(frame))
		require.Error(t, err, "frame %s", frame)
	}
}

func TestOutboundOffsetOmitted(t *testing.T) {
	data, err := json.Marshal(Outbound{Type: TypeOpenTiddler, Title: "Foo"})
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"open-tiddler","title":"Foo"}`, string(data))

	off := 12
	data, err = json.Marshal(Outbound{Type: TypeOpenTiddler, Title: "Foo", Offset: &off})
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"open-tiddler","title":"Foo","offset":12}`, string(data))
}

func TestSocketURL(t *testing.T) {
	cases := map[string]string{
		"http://localhost:8080":    "ws://localhost:8080/ws",
		"http://localhost:8080/":   "ws://localhost:8080/ws",
		"https://wiki.example.org": "wss://wiki.example.org/ws",
		"127.0.0.1:9000":           "ws://127.0.0.1:9000/ws",
		" http://host/prefix ":     "ws://host/prefix/ws",
	}
	for in, want := range cases {
		require.Equal(t, want, SocketURL(in), "SocketURL(%q)", in)
	}
}
