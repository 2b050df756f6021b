package conduit

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tenzoki/conduit/envelope"
	"github.com/tenzoki/conduit/transport"
)

// ResourceHandler serves both directions of a provisioned resource (spec
// §4.7): for an inbound fetch request it must populate info's outbound
// data source before returning; for an inbound push it instead reads
// info.Stream/info.Buffer. Returning a non-nil error answers a fetch with
// a ResourceError, or (for a push) is reported on the peer's error
// handler, since a push carries no response leg.
type ResourceHandler func(params []any, info *ResourceInfo) error

// ResourceRegistration is the teardown handle returned by Provision.
type ResourceRegistration struct {
	res      *resourceSubsystem
	resource string
	topics   [4]string

	mu     sync.Mutex
	closed bool
}

// Unprovision removes the local handler and all four broker subscriptions.
func (reg *ResourceRegistration) Unprovision(ctx context.Context) error {
	reg.mu.Lock()
	if reg.closed {
		reg.mu.Unlock()
		return &NotProvisionedError{Resource: reg.resource}
	}
	reg.closed = true
	reg.mu.Unlock()

	reg.res.mu.Lock()
	delete(reg.res.handlers, reg.resource)
	reg.res.mu.Unlock()

	var firstErr error
	for _, t := range reg.topics {
		if err := reg.res.d.unsubscribeTopic(ctx, t); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// fetchEntry is the consumer-side bookkeeping for one outstanding fetch:
// the Fetch-Callback Table entry of spec §3.
type fetchEntry struct {
	responseTopic string
	stream        *Stream
	meta          *MetaFuture
	timer         *time.Timer
	createdAt     time.Time
}

// pushEntry is the provisioner-side bookkeeping for one inbound push: the
// Push-Stream Table entry of spec §3.
type pushEntry struct {
	stream    *Stream
	buffer    *Buffer
	timer     *time.Timer
	createdAt time.Time
}

// resourceSubsystem implements spec §4.7: provision/fetch/push with
// chunked streaming in both directions. Grounded on
// public/agent/chunking.go's ChunkCollector (group-by-id map, per-entry
// timeout, cleanup on completion) rewritten from token-budget grouping to
// the fixed-size byte chunking chunk.go implements.
type resourceSubsystem struct {
	d             *dispatcher
	timeoutMillis int
	chunkSize     int

	mu       sync.Mutex
	handlers map[string]ResourceHandler

	fetchMu sync.Mutex
	fetches map[string]*fetchEntry

	pushMu sync.Mutex
	pushes map[string]*pushEntry

	stopOnce sync.Once
	stopCh   chan struct{}
}

func newResourceSubsystem(d *dispatcher, timeoutMillis, chunkSize int) *resourceSubsystem {
	r := &resourceSubsystem{
		d:             d,
		timeoutMillis: timeoutMillis,
		chunkSize:     chunkSize,
		handlers:      make(map[string]ResourceHandler),
		fetches:       make(map[string]*fetchEntry),
		pushes:        make(map[string]*pushEntry),
		stopCh:        make(chan struct{}),
	}
	d.addSubsystem(r.dispatch)
	go r.runJanitor()
	return r
}

// stop ends the background sweep goroutine; safe to call more than once.
func (r *resourceSubsystem) stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// runJanitor is the belt-and-braces backstop from SPEC_FULL.md §13: every
// fetch/push already carries its own single-shot timeout timer, but this
// sweep catches any entry whose timer failed to fire by expiring fetch
// entries older than, and push entries idle for longer than, twice the
// configured timeout.
func (r *resourceSubsystem) runJanitor() {
	interval := time.Duration(r.timeoutMillis) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.sweepExpired()
		}
	}
}

func (r *resourceSubsystem) sweepExpired() {
	deadline := time.Duration(2*r.timeoutMillis) * time.Millisecond
	now := time.Now()

	r.fetchMu.Lock()
	var staleFetches []*fetchEntry
	for rid, fe := range r.fetches {
		if now.Sub(fe.createdAt) > deadline {
			staleFetches = append(staleFetches, fe)
			delete(r.fetches, rid)
		}
	}
	r.fetchMu.Unlock()
	for _, fe := range staleFetches {
		fe.timer.Stop()
		fe.meta.resolve(nil)
		fe.stream.CloseWithError(newCallTimeout())
		_ = r.d.unsubscribeTopic(context.Background(), fe.responseTopic)
	}

	r.pushMu.Lock()
	var stalePushes []*pushEntry
	for rid, pe := range r.pushes {
		if now.Sub(pe.createdAt) > deadline {
			stalePushes = append(stalePushes, pe)
			delete(r.pushes, rid)
		}
	}
	r.pushMu.Unlock()
	for _, pe := range stalePushes {
		pe.timer.Stop()
		pe.stream.CloseWithError(newPushTimeout())
	}
}

func (r *resourceSubsystem) dispatch(env *envelope.Envelope, m match) {
	switch env.Type {
	case envelope.KindResourceRequest:
		r.dispatchRequest(env, m)
	case envelope.KindResourceResponse:
		r.dispatchResponse(env, m)
	}
}

func (r *resourceSubsystem) dispatchRequest(env *envelope.Envelope, m match) {
	r.mu.Lock()
	h, ok := r.handlers[m.name]
	r.mu.Unlock()
	if !ok {
		return
	}
	if env.Sender == "" {
		r.d.reportError(newMissingSenderError())
		return
	}
	go r.serveFetch(h, env, m.name)
}

// dispatchResponse distinguishes the two uses of resource-transfer-response
// per spec §4.7.3: if rid is a known outstanding fetch, it's our own
// fetch's response; otherwise, if it carries a resource name, it's
// inbound push traffic for a locally provisioned resource.
func (r *resourceSubsystem) dispatchResponse(env *envelope.Envelope, m match) {
	r.fetchMu.Lock()
	fe, isFetch := r.fetches[env.ID]
	r.fetchMu.Unlock()
	if isFetch {
		r.handleFetchResponse(env, fe)
		return
	}

	if env.Resource == "" {
		return
	}
	r.mu.Lock()
	h, ok := r.handlers[env.Resource]
	r.mu.Unlock()
	if !ok {
		return
	}
	r.handlePushResponse(h, env)
}

func (r *resourceSubsystem) invoke(h ResourceHandler, params []any, info *ResourceInfo) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%v", rec)
		}
	}()
	return h(params, info)
}

// serveFetch runs a provisioner's handler for one inbound fetch request
// and turns its outbound data source into chunked responses per §4.7.2.
func (r *resourceSubsystem) serveFetch(h ResourceHandler, req *envelope.Envelope, resource string) {
	info := &ResourceInfo{Sender: req.Sender, Receiver: req.Receiver}

	if err := r.invoke(h, req.Params, info); err != nil {
		r.publishResourceError(context.Background(), resource, req.Sender, req.ID, err)
		return
	}
	if !info.hasOutboundData() {
		r.publishResourceError(context.Background(), resource, req.Sender, req.ID, &MissingDataError{})
		return
	}

	var meta map[string]any
	if info.outMetaSet {
		meta = info.outMeta
	}

	switch {
	case info.hasOutResource:
		r.sendBufferChunks(context.Background(), resource, req.Sender, req.ID, info.outResource, meta)
	case info.hasOutStream:
		r.sendStreamChunks(context.Background(), resource, req.Sender, req.ID, info.outStream, meta)
	case info.hasOutBuffer:
		data, err := info.outBufferFn()
		if err != nil {
			r.publishResourceError(context.Background(), resource, req.Sender, req.ID, err)
			return
		}
		r.sendBufferChunks(context.Background(), resource, req.Sender, req.ID, data, meta)
	}
}

func (r *resourceSubsystem) publishResourceError(ctx context.Context, resource, targetID, rid string, err error) {
	env := &envelope.Envelope{
		Type: envelope.KindResourceResponse, ID: rid, Sender: r.d.id, Receiver: targetID,
		Resource: resource, Final: true, HasError: true, Error: errorMessage(err),
	}
	t := r.d.topicMake(resource, string(envelope.KindResourceResponse), targetID)
	if pubErr := r.d.publishEnvelope(ctx, t, transport.QoSExactlyOnce, env); pubErr != nil {
		r.d.reportError(pubErr)
	}
}

// seqMeta merges userMeta (attached only on the first chunk of a transfer)
// with a best-effort "_seq" sequence number, carried on every non-final
// chunk after the first per SPEC_FULL.md §13's chunk-grouping-header
// supplement. The first chunk is implicitly number 0 and carries only
// userMeta, so the receiver's first-chunk metadata is exactly what the
// sender supplied. QoS 2 still owns delivery ordering (spec §5), so a gap
// here is diagnostic only, never load-bearing. Returns nil when there is
// nothing to attach.
func seqMeta(seq int, final bool, first bool, userMeta map[string]any) map[string]any {
	var m map[string]any
	if first && userMeta != nil {
		m = make(map[string]any, len(userMeta)+1)
		for k, v := range userMeta {
			m[k] = v
		}
	}
	if !final && !first {
		if m == nil {
			m = make(map[string]any, 1)
		}
		m["_seq"] = int64(seq)
	}
	return m
}

// sendBufferChunks implements the non-empty-buffer and empty-payload
// chunking rules of spec §4.7.2.
func (r *resourceSubsystem) sendBufferChunks(ctx context.Context, resource, targetID, rid string, data []byte, meta map[string]any) {
	t := r.d.topicMake(resource, string(envelope.KindResourceResponse), targetID)
	chunks := splitBuffer(data, r.chunkSize)

	if len(chunks) == 0 {
		env := &envelope.Envelope{Type: envelope.KindResourceResponse, ID: rid, Sender: r.d.id, Receiver: targetID, Resource: resource, Final: true}
		if meta != nil {
			env.Meta = meta
		}
		if err := r.d.publishEnvelope(ctx, t, transport.QoSExactlyOnce, env); err != nil {
			r.d.reportError(err)
		}
		return
	}

	for i, c := range chunks {
		final := i == len(chunks)-1
		env := &envelope.Envelope{
			Type: envelope.KindResourceResponse, ID: rid, Sender: r.d.id, Receiver: targetID,
			Resource: resource, Chunk: c, HasChunk: true, Final: final,
		}
		if m := seqMeta(i, final, i == 0, meta); m != nil {
			env.Meta = m
		}
		if err := r.d.publishEnvelope(ctx, t, transport.QoSExactlyOnce, env); err != nil {
			r.d.reportError(err)
			return
		}
	}
}

// sendStreamChunks implements the stream-source chunking rule of spec
// §4.7.2: every chunk produced publishes one non-final response, clean
// stream end publishes one trailing empty final response, and a stream
// error publishes one trailing error response with no chunk.
func (r *resourceSubsystem) sendStreamChunks(ctx context.Context, resource, targetID, rid string, stream *Stream, meta map[string]any) {
	t := r.d.topicMake(resource, string(envelope.KindResourceResponse), targetID)
	first := true
	seq := 0
	for {
		chunk, ok, err := stream.Next(ctx)
		if !ok {
			env := &envelope.Envelope{Type: envelope.KindResourceResponse, ID: rid, Sender: r.d.id, Receiver: targetID, Resource: resource, Final: true}
			if err != nil {
				env.HasError = true
				env.Error = errorMessage(err)
			} else if first && meta != nil {
				env.Meta = meta
			}
			if pubErr := r.d.publishEnvelope(ctx, t, transport.QoSExactlyOnce, env); pubErr != nil {
				r.d.reportError(pubErr)
			}
			return
		}

		env := &envelope.Envelope{Type: envelope.KindResourceResponse, ID: rid, Sender: r.d.id, Receiver: targetID, Resource: resource, Chunk: chunk, HasChunk: true}
		if m := seqMeta(seq, false, first, meta); m != nil {
			env.Meta = m
		}
		first = false
		seq++
		if pubErr := r.d.publishEnvelope(ctx, t, transport.QoSExactlyOnce, env); pubErr != nil {
			r.d.reportError(pubErr)
			return
		}
	}
}

func (r *resourceSubsystem) handleFetchResponse(env *envelope.Envelope, fe *fetchEntry) {
	fe.meta.resolve(env.Meta)

	if env.HasError {
		fe.timer.Stop()
		fe.stream.CloseWithError(&ResourceError{Message: env.Error})
		r.clearFetch(env.ID, fe.responseTopic)
		return
	}
	if env.HasChunk {
		fe.stream.Push(env.Chunk)
	}
	if env.Final {
		fe.timer.Stop()
		fe.stream.Close()
		r.clearFetch(env.ID, fe.responseTopic)
	}
}

func (r *resourceSubsystem) clearFetch(rid, responseTopic string) {
	r.fetchMu.Lock()
	delete(r.fetches, rid)
	r.fetchMu.Unlock()
	_ = r.d.unsubscribeTopic(context.Background(), responseTopic)
}

func (r *resourceSubsystem) handlePushResponse(h ResourceHandler, env *envelope.Envelope) {
	r.pushMu.Lock()
	pe, exists := r.pushes[env.ID]
	if !exists {
		s := NewStream()
		pe = &pushEntry{stream: s, buffer: newBuffer(s), createdAt: time.Now()}
		pe.timer = time.AfterFunc(time.Duration(r.timeoutMillis)*time.Millisecond, func() {
			r.pushTimeout(env.ID)
		})
		r.pushes[env.ID] = pe
	} else {
		// The janitor ages push entries from createdAt, so every chunk
		// refreshes it: only an idle push is ever swept.
		pe.createdAt = time.Now()
	}
	r.pushMu.Unlock()

	if !exists {
		go func() {
			info := &ResourceInfo{Sender: env.Sender, Receiver: env.Receiver, Meta: env.Meta, Stream: pe.stream, Buffer: pe.buffer}
			if err := r.invoke(h, env.Params, info); err != nil {
				r.d.reportError(err)
			}
		}()
	}

	switch {
	case env.HasError:
		pe.timer.Stop()
		pe.stream.CloseWithError(&ResourceError{Message: env.Error})
		r.clearPush(env.ID)
	case env.Final:
		if env.HasChunk {
			pe.stream.Push(env.Chunk)
		}
		pe.timer.Stop()
		pe.stream.Close()
		r.clearPush(env.ID)
	default:
		if env.HasChunk {
			pe.stream.Push(env.Chunk)
		}
		pe.timer.Reset(time.Duration(r.timeoutMillis) * time.Millisecond)
	}
}

func (r *resourceSubsystem) pushTimeout(rid string) {
	r.pushMu.Lock()
	pe, ok := r.pushes[rid]
	if ok {
		delete(r.pushes, rid)
	}
	r.pushMu.Unlock()
	if !ok {
		return
	}
	pe.stream.CloseWithError(newPushTimeout())
}

func (r *resourceSubsystem) clearPush(rid string) {
	r.pushMu.Lock()
	delete(r.pushes, rid)
	r.pushMu.Unlock()
}

// Provision registers handler to serve both fetch requests and push
// traffic for resource, subscribing all four request/response,
// broadcast/direct topics. Default QoS is 2.
func (r *resourceSubsystem) Provision(ctx context.Context, resource string, handler ResourceHandler, opts ...SubscribeOption) (*ResourceRegistration, error) {
	cfg := subscribeConfig{qos: transport.QoSExactlyOnce}
	for _, o := range opts {
		o(&cfg)
	}

	r.mu.Lock()
	if _, exists := r.handlers[resource]; exists {
		r.mu.Unlock()
		return nil, &AlreadyProvisionedError{Resource: resource}
	}
	r.handlers[resource] = handler
	r.mu.Unlock()

	topics := [4]string{
		r.d.topicMake(resource, string(envelope.KindResourceRequest), ""),
		r.d.topicMake(resource, string(envelope.KindResourceRequest), r.d.id),
		r.d.topicMake(resource, string(envelope.KindResourceResponse), ""),
		r.d.topicMake(resource, string(envelope.KindResourceResponse), r.d.id),
	}

	subscribed := make([]string, 0, 4)
	for _, t := range topics {
		if err := r.d.subscribeTopic(ctx, t, cfg.qos); err != nil {
			for _, s := range subscribed {
				_ = r.d.unsubscribeTopic(ctx, s)
			}
			r.mu.Lock()
			delete(r.handlers, resource)
			r.mu.Unlock()
			return nil, err
		}
		subscribed = append(subscribed, t)
	}

	return &ResourceRegistration{res: r, resource: resource, topics: topics}, nil
}

// FetchRequest is the struct-shaped call form of fetch (spec §4.7.1).
type FetchRequest struct {
	Resource string
	Params   []any
	Receiver Receiver
	QoS      *transport.QoS
}

// FetchResult is the {stream, buffer, meta} triple fetch returns. Stream
// and Buffer are mutually exclusive views over one inbound chunk sequence:
// Buffer only starts draining Stream on its own first Wait call, so a
// caller that reads both races itself. Pick one.
type FetchResult struct {
	Stream *Stream
	Buffer *Buffer
	Meta   *MetaFuture
}

// Fetch issues a resource-transfer-request and returns immediately with a
// lazy view over the response: Stream delivers chunks as they arrive,
// Buffer resolves once the stream ends (draining Stream itself, lazily,
// starting at its first Wait call), and Meta resolves on the first chunk.
func (r *resourceSubsystem) Fetch(ctx context.Context, req FetchRequest) (*FetchResult, error) {
	qos := transport.QoSExactlyOnce
	if req.QoS != nil {
		qos = *req.QoS
	}
	receiverID, _ := req.Receiver.PeerID()

	responseTopic := r.d.topicMake(req.Resource, string(envelope.KindResourceResponse), r.d.id)
	if err := r.d.subscribeTopic(ctx, responseTopic, qos); err != nil {
		return nil, err
	}

	rid := newCorrelationID()
	stream := NewStream()
	buffer := newBuffer(stream)
	meta := newMetaFuture()

	fe := &fetchEntry{responseTopic: responseTopic, stream: stream, meta: meta, createdAt: time.Now()}
	fe.timer = time.AfterFunc(time.Duration(r.timeoutMillis)*time.Millisecond, func() {
		r.fetchTimeout(rid)
	})

	r.fetchMu.Lock()
	r.fetches[rid] = fe
	r.fetchMu.Unlock()

	env := &envelope.Envelope{Type: envelope.KindResourceRequest, ID: rid, Sender: r.d.id, Receiver: receiverID, Resource: req.Resource, Params: req.Params}
	reqTopic := r.d.topicMake(req.Resource, string(envelope.KindResourceRequest), receiverID)
	if err := r.d.publishEnvelope(ctx, reqTopic, transport.QoSExactlyOnce, env); err != nil {
		fe.timer.Stop()
		r.clearFetch(rid, responseTopic)
		return nil, err
	}

	return &FetchResult{Stream: stream, Buffer: buffer, Meta: meta}, nil
}

func (r *resourceSubsystem) fetchTimeout(rid string) {
	r.fetchMu.Lock()
	fe, ok := r.fetches[rid]
	if ok {
		delete(r.fetches, rid)
	}
	r.fetchMu.Unlock()
	if !ok {
		return
	}
	fe.meta.resolve(nil)
	fe.stream.CloseWithError(newCallTimeout())
	_ = r.d.unsubscribeTopic(context.Background(), fe.responseTopic)
}

// PushSource is the streamOrBuffer union push accepts: exactly one of
// Buffer or Stream should be set.
type PushSource struct {
	Buffer []byte
	Stream io.Reader
}

// PushBuffer wraps a ready-made byte buffer as a push source.
func PushBuffer(b []byte) PushSource { return PushSource{Buffer: b} }

// PushStream wraps a reader as a push source, chunked as it's read.
func PushStream(r io.Reader) PushSource { return PushSource{Stream: r} }

// PushRequest is the struct-shaped call form of push (spec §4.7.3).
type PushRequest struct {
	Resource string
	Source   PushSource
	Params   []any
	Meta     map[string]any
	Receiver Receiver
	QoS      *transport.QoS
}

// Push publishes req.Source as a sequence of resource-transfer-response
// chunks and returns once the final chunk has been published.
func (r *resourceSubsystem) Push(ctx context.Context, req PushRequest) error {
	qos := transport.QoSExactlyOnce
	if req.QoS != nil {
		qos = *req.QoS
	}
	receiverID, _ := req.Receiver.PeerID()
	rid := newCorrelationID()
	t := r.d.topicMake(req.Resource, string(envelope.KindResourceResponse), receiverID)

	publish := func(data []byte, final bool, meta map[string]any, errMsg string) error {
		env := &envelope.Envelope{
			Type: envelope.KindResourceResponse, ID: rid, Sender: r.d.id, Receiver: receiverID,
			Resource: req.Resource, Params: req.Params, Final: final,
		}
		if len(data) > 0 {
			env.Chunk = data
			env.HasChunk = true
		}
		if meta != nil {
			env.Meta = meta
		}
		if errMsg != "" {
			env.HasError = true
			env.Error = errMsg
		}
		return r.d.publishEnvelope(ctx, t, qos, env)
	}

	if req.Source.Stream != nil {
		first := true
		seq := 0
		var sendErr error
		chunkStream(req.Source.Stream, r.chunkSize, func(c streamChunk) {
			if sendErr != nil {
				return
			}
			if c.Err != nil {
				sendErr = publish(nil, true, nil, errorMessage(c.Err))
				return
			}
			m := seqMeta(seq, c.Final, first, req.Meta)
			first = false
			seq++
			sendErr = publish(c.Data, c.Final, m, "")
		})
		return sendErr
	}

	chunks := splitBuffer(req.Source.Buffer, r.chunkSize)
	if len(chunks) == 0 {
		return publish(nil, true, req.Meta, "")
	}
	for i, c := range chunks {
		final := i == len(chunks)-1
		m := seqMeta(i, final, i == 0, req.Meta)
		if err := publish(c, final, m, ""); err != nil {
			return err
		}
	}
	return nil
}
