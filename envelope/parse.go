package envelope

import "fmt"

// FieldError names the single offending field that failed validation,
// letting callers (conduit.ProtocolError) report precisely which part of
// an inbound envelope was malformed.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("envelope: %s: %s", e.Field, e.Message)
}

func fieldErr(field, msg string) error {
	return &FieldError{Field: field, Message: msg}
}

// allowed lists the field names permitted on the wire for each Kind, beyond
// the always-present "type" and "id". Parse rejects any key not in this set
// (plus the common optional "sender"/"receiver") and fails when a
// kind-required field is absent.
var allowed = map[Kind]map[string]bool{
	KindEvent: {
		"sender": true, "receiver": true,
		"event": true, "params": true,
	},
	KindServiceRequest: {
		"sender": true, "receiver": true,
		"service": true, "params": true,
	},
	KindServiceResponse: {
		"sender": true, "receiver": true,
		"result": true, "error": true,
	},
	KindResourceRequest: {
		"sender": true, "receiver": true,
		"resource": true, "params": true,
	},
	KindResourceResponse: {
		"sender": true, "receiver": true,
		"resource": true, "params": true, "chunk": true,
		"meta": true, "error": true, "final": true,
	},
}

// Parse validates a generically decoded wire object (as produced by a
// wire.Codec's Decode) into a typed Envelope, per spec §4.2: the "type"
// field alone selects the variant, then field presence is validated against
// that variant's allowed set. Any field not listed for the selected kind is
// rejected, as is any missing required field.
func Parse(v any) (*Envelope, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fieldErr("$", "expected an object")
	}

	typRaw, ok := m["type"]
	if !ok {
		return nil, fieldErr("type", "required")
	}
	typ, ok := typRaw.(string)
	if !ok {
		return nil, fieldErr("type", "must be a string")
	}
	kind := Kind(typ)
	fields, known := allowed[kind]
	if !known {
		return nil, fieldErr("type", fmt.Sprintf("unknown envelope type %q", typ))
	}

	idRaw, ok := m["id"]
	if !ok {
		return nil, fieldErr("id", "required")
	}
	id, ok := idRaw.(string)
	if !ok {
		return nil, fieldErr("id", "must be a string")
	}

	for key := range m {
		if key == "type" || key == "id" {
			continue
		}
		if !fields[key] {
			return nil, fieldErr(key, fmt.Sprintf("unexpected field for %s", typ))
		}
	}

	env := &Envelope{Type: kind, ID: id}

	if sender, ok := m["sender"]; ok {
		s, ok := sender.(string)
		if !ok {
			return nil, fieldErr("sender", "must be a string")
		}
		env.Sender = s
	}
	if receiver, ok := m["receiver"]; ok {
		s, ok := receiver.(string)
		if !ok {
			return nil, fieldErr("receiver", "must be a string")
		}
		env.Receiver = s
	}

	switch kind {
	case KindEvent:
		event, ok := m["event"]
		if !ok {
			return nil, fieldErr("event", "required")
		}
		s, ok := event.(string)
		if !ok {
			return nil, fieldErr("event", "must be a string")
		}
		env.Event = s
		if err := parseParams(m, env); err != nil {
			return nil, err
		}

	case KindServiceRequest:
		service, ok := m["service"]
		if !ok {
			return nil, fieldErr("service", "required")
		}
		s, ok := service.(string)
		if !ok {
			return nil, fieldErr("service", "must be a string")
		}
		env.Service = s
		if err := parseParams(m, env); err != nil {
			return nil, err
		}

	case KindServiceResponse:
		_, hasResult := m["result"]
		errVal, hasError := m["error"]
		if hasResult == hasError {
			return nil, fieldErr("result/error", "exactly one of result or error must be present")
		}
		if hasResult {
			env.Result = m["result"]
		} else {
			s, ok := errVal.(string)
			if !ok {
				return nil, fieldErr("error", "must be a string")
			}
			env.HasError = true
			env.Error = s
		}

	case KindResourceRequest:
		resource, ok := m["resource"]
		if !ok {
			return nil, fieldErr("resource", "required")
		}
		s, ok := resource.(string)
		if !ok {
			return nil, fieldErr("resource", "must be a string")
		}
		env.Resource = s
		if err := parseParams(m, env); err != nil {
			return nil, err
		}

	case KindResourceResponse:
		if err := parseResourceResponse(m, env); err != nil {
			return nil, err
		}
	}

	return env, nil
}

func parseParams(m map[string]any, env *Envelope) error {
	raw, ok := m["params"]
	if !ok {
		return nil
	}
	arr, ok := raw.([]any)
	if !ok {
		return fieldErr("params", "must be an array")
	}
	env.Params = arr
	return nil
}

func parseResourceResponse(m map[string]any, env *Envelope) error {
	if resource, ok := m["resource"]; ok {
		s, ok := resource.(string)
		if !ok {
			return fieldErr("resource", "must be a string")
		}
		env.Resource = s
	}
	if err := parseParams(m, env); err != nil {
		return err
	}
	if chunk, ok := m["chunk"]; ok && chunk != nil {
		b, ok := chunk.([]byte)
		if !ok {
			return fieldErr("chunk", "must be a byte sequence or null")
		}
		env.Chunk = b
		env.HasChunk = true
	}
	if meta, ok := m["meta"]; ok && meta != nil {
		mm, ok := meta.(map[string]any)
		if !ok {
			return fieldErr("meta", "must be a map")
		}
		env.Meta = mm
	}
	if errVal, ok := m["error"]; ok {
		s, ok := errVal.(string)
		if !ok {
			return fieldErr("error", "must be a string")
		}
		env.HasError = true
		env.Error = s
	}
	if final, ok := m["final"]; ok {
		b, ok := final.(bool)
		if !ok {
			return fieldErr("final", "must be a boolean")
		}
		env.Final = b
	}
	return nil
}

// ToMap renders an Envelope back to the generic wire shape Parse accepts,
// for a wire.Codec to encode. Only fields relevant to e.Type are emitted.
func (e *Envelope) ToMap() map[string]any {
	m := map[string]any{
		"type": string(e.Type),
		"id":   e.ID,
	}
	if e.Sender != "" {
		m["sender"] = e.Sender
	}
	if e.Receiver != "" {
		m["receiver"] = e.Receiver
	}

	switch e.Type {
	case KindEvent:
		m["event"] = e.Event
		if e.Params != nil {
			m["params"] = e.Params
		}
	case KindServiceRequest:
		m["service"] = e.Service
		if e.Params != nil {
			m["params"] = e.Params
		}
	case KindServiceResponse:
		if e.HasError {
			m["error"] = e.Error
		} else {
			m["result"] = e.Result
		}
	case KindResourceRequest:
		m["resource"] = e.Resource
		if e.Params != nil {
			m["params"] = e.Params
		}
	case KindResourceResponse:
		if e.Resource != "" {
			m["resource"] = e.Resource
		}
		if e.Params != nil {
			m["params"] = e.Params
		}
		if e.HasChunk {
			m["chunk"] = e.Chunk
		}
		if e.Meta != nil {
			m["meta"] = e.Meta
		}
		if e.HasError {
			m["error"] = e.Error
		}
		m["final"] = e.Final
	}

	return m
}
