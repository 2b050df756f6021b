package conduit

// Receiver wraps a target peer id so a zero-value call option
// unambiguously means "broadcast" rather than "addressed to the empty
// string". It collapses to a plain string once past the package boundary,
// per spec §9's receiver-opacity design note.
type Receiver struct {
	id  string
	set bool
}

// To builds a Receiver targeting peerID.
func To(peerID string) Receiver {
	return Receiver{id: peerID, set: peerID != ""}
}

// PeerID reports the wrapped peer id and whether one was set.
func (r Receiver) PeerID() (string, bool) {
	return r.id, r.set
}

// Meta is the out-of-band metadata map carried on the first chunk of a
// resource transfer. It exists as a named type only to keep call sites
// self-describing; it is a plain map everywhere else.
type Meta map[string]any

// Info is passed to every event and service handler as the final
// argument, carrying delivery context that doesn't belong among the
// user-supplied parameters.
type Info struct {
	Sender   string
	Receiver string // empty when the message was broadcast
}

// ResourceInfo is passed to resource handlers. It carries the same
// delivery context as Info plus the duplex data slots described in
// spec §4.7: inbound Stream/Buffer for push traffic, and the
// Set*/outbound accessors a fetch-serving handler uses to supply its
// response payload.
type ResourceInfo struct {
	Sender   string
	Receiver string

	// Meta is the metadata the sender attached to the first chunk of an
	// inbound push transfer. Always nil when handling a fetch request
	// (requests carry no meta).
	Meta map[string]any

	// Stream and Buffer are populated by the framework only when this
	// invocation is for an inbound push (§4.7.3); nil when serving a
	// fetch request, where the handler instead calls one of the Set*
	// methods below to supply outbound data. They are mutually exclusive
	// views over the same inbound chunk sequence: Buffer drains Stream
	// lazily starting on its first Wait call, so a handler must use one
	// or the other, never both, or chunks will be split unpredictably
	// between the two consumers.
	Stream *Stream
	Buffer *Buffer

	outResource    []byte
	hasOutResource bool
	outStream      *Stream
	hasOutStream   bool
	outBufferFn    func() ([]byte, error)
	hasOutBuffer   bool
	outMeta        map[string]any
	outMetaSet     bool
}

// SetResource supplies the outbound payload as a ready-made byte buffer.
func (i *ResourceInfo) SetResource(data []byte) {
	i.outResource = data
	i.hasOutResource = true
}

// SetStream supplies the outbound payload as a lazy stream, pumped chunk
// by chunk as it produces data.
func (i *ResourceInfo) SetStream(s *Stream) {
	i.outStream = s
	i.hasOutStream = true
}

// SetBufferFunc supplies the outbound payload as a deferred computation,
// awaited once and then chunked like a ready-made buffer.
func (i *ResourceInfo) SetBufferFunc(fn func() ([]byte, error)) {
	i.outBufferFn = fn
	i.hasOutBuffer = true
}

// SetMeta attaches metadata to be transmitted on the first outbound
// response chunk. Must be called before the handler returns.
func (i *ResourceInfo) SetMeta(m map[string]any) {
	i.outMeta = m
	i.outMetaSet = true
}

// hasOutboundData reports whether the handler populated any data source.
func (i *ResourceInfo) hasOutboundData() bool {
	return i.hasOutResource || i.hasOutStream || i.hasOutBuffer
}
