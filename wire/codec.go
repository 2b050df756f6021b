// Package wire implements the two interchangeable envelope encodings conduit
// supports: a compact binary form (CBOR) and a text form (JSON). Both must
// round-trip opaque byte slices losslessly, per spec §4.1/§6.
package wire

import "fmt"

// CodecError wraps any encode/decode failure from either format.
type CodecError struct {
	Op  string // "encode" or "decode"
	Err error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("codec: %s: %v", e.Op, e.Err)
}

func (e *CodecError) Unwrap() error { return e.Err }

// Codec converts between a generic decoded value (maps with string keys,
// slices, strings, float64/int64/uint64 numbers, []byte, bool, nil — the shapes
// envelope.Parse understands) and its wire representation.
//
// Encode always returns a []byte: in Go a UTF-8 string and the []byte
// holding its bytes are interchangeable for transport purposes (an MQTT
// publish always takes a byte payload), so "binary vs. text" is expressed
// here as how the bytes are structured, not as a distinct Go return type.
type Codec interface {
	// Name identifies the codec ("cbor" or "json") for configuration and
	// diagnostics.
	Name() string
	// Binary reports whether this codec's byte-array fields round-trip via
	// a native byte-string form (true) or the "__bytes" sentinel (false).
	Binary() bool
	Encode(v any) ([]byte, error)
	Decode(data []byte) (any, error)
}

// ByName returns the built-in codec for "cbor" or "json"; an empty name
// selects "cbor" (the default), and any other name is an error, since the
// engine recognizes exactly these two per spec §3.
func ByName(name string) (Codec, error) {
	switch name {
	case "cbor", "":
		return CBOR{}, nil
	case "json":
		return JSON{}, nil
	default:
		return nil, fmt.Errorf("wire: unknown codec %q (want \"cbor\" or \"json\")", name)
	}
}
