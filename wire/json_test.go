package wire

import (
	"reflect"
	"strings"
	"testing"
)

func TestJSONRoundTripScalarFields(t *testing.T) {
	in := map[string]any{
		"type":   "event-emission",
		"id":     "abc",
		"event":  "sample/thing",
		"params": []any{"a", float64(7), true, nil},
	}

	j := JSON{}
	enc, err := j.Encode(in)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	out, err := j.Decode(enc)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	m, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("Decode returned %T, want map[string]any", out)
	}
	if m["id"] != "abc" {
		t.Errorf("id = %v, want %q", m["id"], "abc")
	}
}

func TestJSONRoundTripBytesViaSentinel(t *testing.T) {
	payload := []byte{0x00, 0xff, 0x10, 0x20, 0x30}
	in := map[string]any{
		"type":     "resource-transfer-response",
		"id":       "rid-1",
		"resource": "r",
		"chunk":    payload,
		"final":    false,
	}

	j := JSON{}
	enc, err := j.Encode(in)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !strings.Contains(string(enc), bytesSentinelKey) {
		t.Fatalf("encoded JSON missing %q sentinel: %s", bytesSentinelKey, enc)
	}

	out, err := j.Decode(enc)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	m := out.(map[string]any)
	chunk, ok := m["chunk"].([]byte)
	if !ok {
		t.Fatalf("chunk decoded as %T, want []byte", m["chunk"])
	}
	if !reflect.DeepEqual(chunk, payload) {
		t.Errorf("chunk = %v, want %v", chunk, payload)
	}
}

func TestJSONRoundTripBytesInsideNestedMeta(t *testing.T) {
	payload := []byte("hello world")
	in := map[string]any{
		"type":     "resource-transfer-response",
		"id":       "rid-2",
		"resource": "r",
		"meta":     map[string]any{"digest": payload, "name": "file.bin"},
		"final":    true,
	}

	j := JSON{}
	enc, err := j.Encode(in)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	out, err := j.Decode(enc)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	m := out.(map[string]any)
	meta := m["meta"].(map[string]any)
	digest, ok := meta["digest"].([]byte)
	if !ok {
		t.Fatalf("meta.digest decoded as %T, want []byte", meta["digest"])
	}
	if !reflect.DeepEqual(digest, payload) {
		t.Errorf("meta.digest = %v, want %v", digest, payload)
	}
	if meta["name"] != "file.bin" {
		t.Errorf("meta.name = %v, want %q", meta["name"], "file.bin")
	}
}

func TestJSONDecodeInvalidData(t *testing.T) {
	j := JSON{}
	if _, err := j.Decode([]byte("{not json")); err == nil {
		t.Fatal("expected a decode error for malformed JSON")
	}
}

func TestJSONNameAndBinary(t *testing.T) {
	j := JSON{}
	if j.Name() != "json" {
		t.Errorf("Name() = %q, want %q", j.Name(), "json")
	}
	if j.Binary() {
		t.Error("Binary() = true, want false")
	}
}

func TestByNameResolvesBothCodecs(t *testing.T) {
	if c, err := ByName("cbor"); err != nil || c.Name() != "cbor" {
		t.Errorf("ByName(\"cbor\") = %v, %v", c, err)
	}
	if c, err := ByName("json"); err != nil || c.Name() != "json" {
		t.Errorf("ByName(\"json\") = %v, %v", c, err)
	}
	if _, err := ByName("xml"); err == nil {
		t.Error("expected an error for an unknown codec name")
	}
}
