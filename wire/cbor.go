package wire

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// CBOR is the binary codec: "compact binary object notation" per spec §4.1.
// Byte-array fields round-trip via CBOR's native byte-string major type, so
// no sentinel wrapping is needed.
type CBOR struct{}

var cborDecMode = mustDecMode()

func mustDecMode() cbor.DecMode {
	mode, err := cbor.DecOptions{
		// Decode CBOR maps into map[string]any rather than the library's
		// default map[any]any, matching envelope.Parse's expectations.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return mode
}

func (CBOR) Name() string { return "cbor" }
func (CBOR) Binary() bool { return true }

func (CBOR) Encode(v any) ([]byte, error) {
	b, err := cbor.Marshal(v)
	if err != nil {
		return nil, &CodecError{Op: "encode", Err: err}
	}
	return b, nil
}

func (CBOR) Decode(data []byte) (any, error) {
	var v any
	if err := cborDecMode.Unmarshal(data, &v); err != nil {
		return nil, &CodecError{Op: "decode", Err: err}
	}
	return v, nil
}
