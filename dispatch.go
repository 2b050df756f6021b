package conduit

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/tenzoki/conduit/envelope"
	"github.com/tenzoki/conduit/topic"
	"github.com/tenzoki/conduit/transport"
	"github.com/tenzoki/conduit/wire"
)

// match is the (name, operation, peerId) triple topicMatch recovers from
// an inbound message's topic, per spec §4.3.
type match struct {
	name      string
	operation string
	peerID    string
}

// subsystemHandler inspects one inbound envelope and its matched topic; it
// must ignore any (envelope kind, operation) combination it doesn't own,
// since several subsystem handlers see every message (spec §4.4 step 5).
type subsystemHandler func(env *envelope.Envelope, m match)

// dispatcher owns the transport handle, the inbound message callback, and
// the refcounted subscribe/unsubscribe primitives shared by every
// subsystem. It is the Base Dispatcher of spec §4.4, grounded on
// broker.go's messageListener/responseChans pattern but generalized from
// one JSON-RPC correlation table to an arbitrary chain of subsystem
// handlers keyed by envelope kind.
type dispatcher struct {
	id         string
	codec      wire.Codec
	tr         transport.Transport
	topicMake  topic.MakeFunc
	topicMatch topic.MatchFunc

	mu        sync.Mutex
	destroyed bool
	handlers  []subsystemHandler
	onError   func(error)
	logger    *log.Logger

	refMu     sync.Mutex
	refcounts map[string]int
}

func newDispatcher(c *config) *dispatcher {
	logger := c.logger
	if logger == nil {
		logger = log.Default()
	}
	d := &dispatcher{
		id:         c.id,
		codec:      c.codec,
		tr:         c.transport,
		topicMake:  c.topicMake,
		topicMatch: c.topicMatch,
		refcounts:  make(map[string]int),
		logger:     logger,
	}
	d.onError = func(err error) { d.logger.Printf("conduit: dispatcher error: %v", err) }
	if d.tr != nil {
		d.tr.OnMessage(d.handleMessage)
		d.tr.OnError(d.reportError)
	}
	return d
}

// addSubsystem registers a handler in the dispatch chain. Must be called
// before the transport is connected.
func (d *dispatcher) addSubsystem(h subsystemHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, h)
}

// setErrorHandler replaces the callback invoked for dispatcher-local
// failures (decode, parse, and handler-originated errors per spec §7).
func (d *dispatcher) setErrorHandler(fn func(error)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onError = fn
}

func (d *dispatcher) reportError(err error) {
	d.mu.Lock()
	onErr := d.onError
	d.mu.Unlock()
	onErr(err)
}

// handleMessage implements spec §4.4's five-step inbound pipeline. Step 1
// (bytes-vs-string conversion ahead of decode) has no counterpart here:
// Go's []byte already serves both the CBOR and JSON codecs' Decode, so
// there is nothing to convert.
func (d *dispatcher) handleMessage(msg transport.Message) {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return
	}
	handlers := make([]subsystemHandler, len(d.handlers))
	copy(handlers, d.handlers)
	d.mu.Unlock()

	decoded, err := d.codec.Decode(msg.Payload)
	if err != nil {
		d.reportError(err)
		return
	}

	env, err := envelope.Parse(decoded)
	if err != nil {
		d.reportError(&ProtocolError{Err: err})
		return
	}

	name, operation, peerID, ok := d.topicMatch(msg.Topic)
	if !ok {
		d.reportError(&ProtocolError{Err: fmt.Errorf("topic %q does not match the configured scheme", msg.Topic)})
		return
	}
	if peerID != "" && peerID != d.id {
		return
	}

	m := match{name: name, operation: operation, peerID: peerID}
	for _, h := range handlers {
		h(env, m)
	}
}

// destroy detaches the inbound message callback. In-flight requests are
// not retroactively failed; they will simply time out, per spec §5.
func (d *dispatcher) destroy() {
	d.mu.Lock()
	d.destroyed = true
	d.mu.Unlock()
	if d.tr != nil {
		d.tr.OnMessage(func(transport.Message) {})
	}
}

// subscribeTopic issues a broker subscribe the first time t's refcount
// goes from zero to one; subsequent callers simply bump the count.
func (d *dispatcher) subscribeTopic(ctx context.Context, t string, qos transport.QoS) error {
	d.refMu.Lock()
	n := d.refcounts[t]
	d.refcounts[t] = n + 1
	d.refMu.Unlock()

	if n > 0 || d.tr == nil {
		return nil
	}
	if err := d.tr.Subscribe(ctx, t, qos); err != nil {
		d.refMu.Lock()
		d.refcounts[t]--
		if d.refcounts[t] <= 0 {
			delete(d.refcounts, t)
		}
		d.refMu.Unlock()
		return &TransportError{Op: "subscribe", Err: err}
	}
	return nil
}

// unsubscribeTopic decrements t's refcount, issuing a broker unsubscribe
// only once it reaches zero. Prevents subscribe/unsubscribe churn across
// concurrent calls sharing a response topic (spec's Response-Topic
// Refcount table, §3).
func (d *dispatcher) unsubscribeTopic(ctx context.Context, t string) error {
	d.refMu.Lock()
	n := d.refcounts[t] - 1
	if n <= 0 {
		delete(d.refcounts, t)
	} else {
		d.refcounts[t] = n
	}
	d.refMu.Unlock()

	if n > 0 || d.tr == nil {
		return nil
	}
	if err := d.tr.Unsubscribe(ctx, t); err != nil {
		return &TransportError{Op: "unsubscribe", Err: err}
	}
	return nil
}

// publishEnvelope encodes env and publishes it to t at qos.
func (d *dispatcher) publishEnvelope(ctx context.Context, t string, qos transport.QoS, env *envelope.Envelope) error {
	payload, err := d.codec.Encode(env.ToMap())
	if err != nil {
		return err
	}
	if d.tr == nil {
		return &TransportError{Op: "publish", Err: fmt.Errorf("peer has no transport (dry-run only)")}
	}
	if err := d.tr.Publish(ctx, t, qos, false, payload); err != nil {
		return &TransportError{Op: "publish", Err: err}
	}
	return nil
}
