package codec

import (
	cbor "github.com/fxamacker/cbor/v2"
)

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// CBOR returns a deterministic CBOR codec (RFC 8949) with core profile.
// Transfer objects (task payloads and results) use this format.
func CBOR() (Codec, error) {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	// Integers that fit decode to int64 on both sides, so a value survives
	// the dispatch -> handler -> result round trip with one dynamic type.
	dm, err := cbor.DecOptions{IntDec: cbor.IntDecConvertSigned}.DecMode()
	if err != nil {
		return nil, err
	}
	return cborCodec{enc: em, dec: dm}, nil
}

// MustCBOR is CBOR for package-level initialization; the options are
// constants, so a failure is a programming error.
func MustCBOR() Codec {
	c, err := CBOR()
	if err != nil {
		panic(err)
	}
	return c
}

func (c cborCodec) ContentType() string             { return ContentCBOR }
func (c cborCodec) Marshal(v any) ([]byte, error)   { return c.enc.Marshal(v) }
func (c cborCodec) Unmarshal(b []byte, v any) error { return c.dec.Unmarshal(b, v) }
