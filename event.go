package conduit

import (
	"context"
	"fmt"
	"sync"

	"github.com/tenzoki/conduit/envelope"
	"github.com/tenzoki/conduit/transport"
)

// EventHandler processes one inbound event delivery. Returning a non-nil
// error reports it on the peer's error handler; per spec §4.5 this never
// tears down the subscription.
type EventHandler func(params []any, info Info) error

// subscribeConfig carries the QoS override shared by Subscribe, Register,
// and Provision.
type subscribeConfig struct {
	qos transport.QoS
}

// SubscribeOption configures a single Subscribe/Register/Provision call.
type SubscribeOption func(*subscribeConfig)

// WithQoS overrides the default QoS used for a subscription's broker
// subscribe calls.
func WithQoS(qos transport.QoS) SubscribeOption {
	return func(c *subscribeConfig) { c.qos = qos }
}

// EventSubscription is the teardown handle returned by Subscribe. A second
// call to Unsubscribe fails with NotSubscribedError.
type EventSubscription struct {
	ev             *eventSubsystem
	event          string
	broadcastTopic string
	directTopic    string

	mu     sync.Mutex
	closed bool
}

// Unsubscribe removes the local handler and both broker subscriptions.
func (s *EventSubscription) Unsubscribe(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return &NotSubscribedError{Event: s.event}
	}
	s.closed = true
	s.mu.Unlock()

	s.ev.mu.Lock()
	delete(s.ev.handlers, s.event)
	s.ev.mu.Unlock()

	errBroadcast := s.ev.d.unsubscribeTopic(ctx, s.broadcastTopic)
	errDirect := s.ev.d.unsubscribeTopic(ctx, s.directTopic)
	if errBroadcast != nil {
		return errBroadcast
	}
	return errDirect
}

// eventSubsystem implements spec §4.5: subscribe/emit, including dry-run
// emit. Grounded on broker.go's Subscribe/PublishEnvelope pairing; unlike
// the Service Subsystem, events need no response-topic refcounting since
// there is no response leg.
type eventSubsystem struct {
	d *dispatcher

	mu       sync.Mutex
	handlers map[string]EventHandler
}

func newEventSubsystem(d *dispatcher) *eventSubsystem {
	e := &eventSubsystem{d: d, handlers: make(map[string]EventHandler)}
	d.addSubsystem(e.dispatch)
	return e
}

func (e *eventSubsystem) dispatch(env *envelope.Envelope, m match) {
	if env.Type != envelope.KindEvent {
		return
	}
	e.mu.Lock()
	h, ok := e.handlers[m.name]
	e.mu.Unlock()
	if !ok {
		return
	}
	info := Info{Sender: env.Sender, Receiver: env.Receiver}
	if err := h(env.Params, info); err != nil {
		e.d.reportError(err)
	}
}

// Subscribe installs handler for event, subscribing both the broadcast and
// direct topics. Default QoS is 0; callers override via WithQoS.
func (e *eventSubsystem) Subscribe(ctx context.Context, event string, handler EventHandler, opts ...SubscribeOption) (*EventSubscription, error) {
	cfg := subscribeConfig{qos: transport.QoSAtMostOnce}
	for _, o := range opts {
		o(&cfg)
	}

	e.mu.Lock()
	if _, exists := e.handlers[event]; exists {
		e.mu.Unlock()
		return nil, &AlreadySubscribedError{Event: event}
	}
	e.handlers[event] = handler
	e.mu.Unlock()

	broadcastTopic := e.d.topicMake(event, string(envelope.KindEvent), "")
	directTopic := e.d.topicMake(event, string(envelope.KindEvent), e.d.id)

	if err := e.d.subscribeTopic(ctx, broadcastTopic, cfg.qos); err != nil {
		e.mu.Lock()
		delete(e.handlers, event)
		e.mu.Unlock()
		return nil, err
	}
	if err := e.d.subscribeTopic(ctx, directTopic, cfg.qos); err != nil {
		_ = e.d.unsubscribeTopic(ctx, broadcastTopic)
		e.mu.Lock()
		delete(e.handlers, event)
		e.mu.Unlock()
		return nil, err
	}

	return &EventSubscription{ev: e, event: event, broadcastTopic: broadcastTopic, directTopic: directTopic}, nil
}

// EmitRequest is the struct-shaped call form of emit (spec §4.5/§9): the
// positional `emit(event, ...params)` convenience collapses to this with
// Receiver and QoS left at their zero values.
type EmitRequest struct {
	Event    string
	Params   []any
	Receiver Receiver
	QoS      *transport.QoS // nil selects the default (0)
	Dry      bool
}

// DryRunResult is the {topic, payload, qos} tuple a dry-run emit returns
// instead of publishing, intended for MQTT last-will wiring (spec §6).
type DryRunResult struct {
	Topic   string
	Payload []byte
	QoS     transport.QoS
}

// Emit builds and publishes an event-emission envelope. When req.Dry is
// true, nothing is published and the would-be publish tuple is returned
// instead; a peer constructed with no transport may only be used this way.
func (e *eventSubsystem) Emit(ctx context.Context, req EmitRequest) (*DryRunResult, error) {
	qos := transport.QoSAtMostOnce
	if req.QoS != nil {
		qos = *req.QoS
	}

	receiverID, _ := req.Receiver.PeerID()
	env := &envelope.Envelope{
		Type:     envelope.KindEvent,
		ID:       newCorrelationID(),
		Sender:   e.d.id,
		Receiver: receiverID,
		Event:    req.Event,
		Params:   req.Params,
	}
	t := e.d.topicMake(req.Event, string(envelope.KindEvent), receiverID)

	payload, err := e.d.codec.Encode(env.ToMap())
	if err != nil {
		return nil, err
	}

	if req.Dry {
		return &DryRunResult{Topic: t, Payload: payload, QoS: qos}, nil
	}
	if e.d.tr == nil {
		return nil, &TransportError{Op: "publish", Err: fmt.Errorf("peer has no transport (dry-run only)")}
	}
	if err := e.d.tr.Publish(ctx, t, qos, false, payload); err != nil {
		return nil, &TransportError{Op: "publish", Err: err}
	}
	return nil, nil
}
