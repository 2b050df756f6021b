package wire

import (
	"reflect"
	"testing"
)

func TestCBORRoundTripScalarFields(t *testing.T) {
	in := map[string]any{
		"type":   "event-emission",
		"id":     "abc",
		"event":  "sample/thing",
		"params": []any{"a", uint64(7), true, nil},
	}

	c := CBOR{}
	enc, err := c.Encode(in)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	out, err := c.Decode(enc)
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

func TestCBORRoundTripBytesNativeByteString(t *testing.T) {
	payload := []byte{0x00, 0xff, 0x10, 0x20, 0x30}
	in := map[string]any{
		"type":     "resource-transfer-response",
		"id":       "rid-1",
		"resource": "r",
		"chunk":    payload,
		"final":    false,
	}

	c := CBOR{}
	enc, err := c.Encode(in)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	out, err := c.Decode(enc)
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

func TestCBORDecodeInvalidData(t *testing.T) {
	c := CBOR{}
	if _, err := c.Decode([]byte{0xff, 0xff, 0xff}); err == nil {
		t.Fatal("expected a decode error for malformed CBOR")
	}
}

func TestCBORNameAndBinary(t *testing.T) {
	c := CBOR{}
	if c.Name() != "cbor" {
		t.Errorf("Name() = %q, want %q", c.Name(), "cbor")
	}
	if !c.Binary() {
		t.Error("Binary() = false, want true")
	}
}
