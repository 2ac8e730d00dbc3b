package codec

// Codec defines a simple interface for marshaling typed messages.
// Implementations should be deterministic and safe for cross-process exchange:
// the dispatcher side encodes transfer objects that a Lambda built from a
// different checkout of this module must decode.
type Codec interface {
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Content types understood by this module.
const (
	ContentJSON = "application/json"
	ContentCBOR = "application/cbor"
)
