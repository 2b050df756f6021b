// Package envelope defines the wire message shape shared by every conduit
// interaction pattern: event emission, service calls, and resource
// transfers. Every envelope is a tagged variant distinguished by Kind; the
// common fields (Type, ID, Sender, Receiver) are mirrored on every variant
// so the dispatcher can inspect them without knowing the specific kind.
package envelope

// Kind identifies which of the five message shapes an envelope carries.
type Kind string

const (
	KindEvent            Kind = "event-emission"
	KindServiceRequest   Kind = "service-call-request"
	KindServiceResponse  Kind = "service-call-response"
	KindResourceRequest  Kind = "resource-transfer-request"
	KindResourceResponse Kind = "resource-transfer-response"
)

// Envelope is the decoded, validated form of every wire message. Only the
// fields relevant to Kind are populated; Parse (see parse.go) rejects any
// decoded object carrying fields outside its kind's set.
type Envelope struct {
	Type     Kind
	ID       string
	Sender   string
	Receiver string

	// event-emission
	Event  string
	Params []any

	// service-call-request
	Service string

	// service-call-response
	Result   any
	HasError bool
	Error    string

	// resource-transfer-request / resource-transfer-response
	Resource string
	Chunk    []byte
	HasChunk bool
	Meta     map[string]any
	Final    bool
}

// HasResult reports whether a service-call-response carries a result value
// (as opposed to an error). Exactly one of Result/Error is present on a
// well-formed response.
func (e *Envelope) HasResult() bool {
	return e.Type == KindServiceResponse && !e.HasError
}
