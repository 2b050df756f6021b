package wire

import (
	"encoding/base64"
	"encoding/json"
)

// bytesSentinelKey is the field name JSON uses to mark a base64-wrapped
// byte sequence, since plain JSON has no native byte-string type.
const bytesSentinelKey = "__bytes"

// JSON is the text codec. Byte-array fields round-trip via the
// self-describing {"__bytes": <base64>} wrapper rather than encoding/json's
// own (silent, ambiguous) default of base64-encoding []byte as a bare
// string, so the decoder can tell a byte array apart from an ordinary
// string field.
type JSON struct{}

func (JSON) Name() string { return "json" }
func (JSON) Binary() bool { return false }

func (JSON) Encode(v any) ([]byte, error) {
	wrapped := wrapBytes(v)
	b, err := json.Marshal(wrapped)
	if err != nil {
		return nil, &CodecError{Op: "encode", Err: err}
	}
	return b, nil
}

func (JSON) Decode(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, &CodecError{Op: "decode", Err: err}
	}
	return unwrapBytes(v), nil
}

// wrapBytes recursively replaces every []byte with its sentinel object form
// ahead of json.Marshal.
func wrapBytes(v any) any {
	switch t := v.(type) {
	case []byte:
		return map[string]any{bytesSentinelKey: base64.StdEncoding.EncodeToString(t)}
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = wrapBytes(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = wrapBytes(val)
		}
		return out
	default:
		return v
	}
}

// unwrapBytes recursively replaces every {"__bytes": <base64>} object
// produced by json.Unmarshal back into a []byte.
func unwrapBytes(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 1 {
			if enc, ok := t[bytesSentinelKey].(string); ok {
				if decoded, err := base64.StdEncoding.DecodeString(enc); err == nil {
					return decoded
				}
			}
		}
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = unwrapBytes(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = unwrapBytes(val)
		}
		return out
	default:
		return v
	}
}
