package codec

import (
	"encoding/json"
)

type jsonCodec struct{}

// JSON returns a JSON codec (RFC 8259). Used for the invocation payload and
// the remote exception description, both of which are fixed JSON contracts.
func JSON() Codec { return jsonCodec{} }

func (jsonCodec) ContentType() string             { return ContentJSON }
func (jsonCodec) Marshal(v any) ([]byte, error)   { return json.Marshal(v) }
func (jsonCodec) Unmarshal(b []byte, v any) error { return json.Unmarshal(b, v) }
