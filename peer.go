// Package conduit is a communication-pattern overlay on top of a plain
// MQTT publish/subscribe transport: fire-and-forget Event Emission,
// request/response Service Calls, and chunked-stream Resource Fetch/Push,
// all addressed by named endpoints rather than raw topics.
package conduit

import (
	"context"
	"fmt"

	"github.com/tenzoki/conduit/transport"
)

// Peer is the Composition Root of spec §4.8: one process-side instance of
// the engine bound to one transport connection (or no transport, for a
// dry-run-only peer). It assembles the Event, Service, and Resource
// subsystems over a shared dispatcher and exposes their operations as a
// single external surface, grounded on public/agent/base.go's BaseAgent
// construction/teardown shape.
type Peer struct {
	id        string
	d         *dispatcher
	events    *eventSubsystem
	services  *serviceSubsystem
	resources *resourceSubsystem
}

// New constructs a Peer. With no WithTransport option, the returned Peer
// may only be used for dry-run emit (spec §3's null-transport peer).
func New(opts ...Option) *Peer {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}

	d := newDispatcher(cfg)
	return &Peer{
		id:        cfg.id,
		d:         d,
		events:    newEventSubsystem(d),
		services:  newServiceSubsystem(d, cfg.timeoutMillis),
		resources: newResourceSubsystem(d, cfg.timeoutMillis, cfg.chunkSize),
	}
}

// ID returns this peer's id segment, used in directed topics.
func (p *Peer) ID() string { return p.id }

// Connect dials the underlying transport. will, if non-nil, is registered
// as the MQTT last-will message before the connection is established —
// typically built from a dry-run Emit on a separate, never-connected Peer.
func (p *Peer) Connect(ctx context.Context, will *transport.LastWill) error {
	if p.d.tr == nil {
		return fmt.Errorf("conduit: peer has no transport (dry-run only)")
	}
	if err := p.d.tr.Connect(ctx, will); err != nil {
		return &TransportError{Op: "connect", Err: err}
	}
	return nil
}

// Destroy detaches the inbound message callback and disconnects the
// transport. In-flight requests are not retroactively failed; per spec
// §5 they simply time out.
func (p *Peer) Destroy() {
	p.d.destroy()
	p.resources.stop()
	if p.d.tr != nil {
		p.d.tr.Disconnect()
	}
}

// OnError installs the callback notified of dispatcher-local failures:
// decode/parse errors, inbound handler errors with no response leg to
// carry them, and failures publishing a response (spec §7).
func (p *Peer) OnError(fn func(error)) {
	p.d.setErrorHandler(fn)
}

// Receiver wraps peerID for use as a call's Receiver field.
func (p *Peer) Receiver(peerID string) Receiver { return To(peerID) }

// Meta wraps m for use as a push or response's metadata.
func (p *Peer) Meta(m map[string]any) Meta { return Meta(m) }

// Subscribe installs handler for event (spec §4.5).
func (p *Peer) Subscribe(ctx context.Context, event string, handler EventHandler, opts ...SubscribeOption) (*EventSubscription, error) {
	return p.events.Subscribe(ctx, event, handler, opts...)
}

// Emit publishes (or, if req.Dry, encodes without publishing) an event.
func (p *Peer) Emit(ctx context.Context, req EmitRequest) (*DryRunResult, error) {
	return p.events.Emit(ctx, req)
}

// EmitEvent is the positional convenience form of Emit for the common
// broadcast, non-dry-run case.
func (p *Peer) EmitEvent(ctx context.Context, event string, params ...any) error {
	_, err := p.events.Emit(ctx, EmitRequest{Event: event, Params: params})
	return err
}

// Register installs handler for service (spec §4.6).
func (p *Peer) Register(ctx context.Context, service string, handler ServiceHandler, opts ...SubscribeOption) (*ServiceRegistration, error) {
	return p.services.Register(ctx, service, handler, opts...)
}

// Call issues a service-call-request and blocks for the result.
func (p *Peer) Call(ctx context.Context, req CallRequest) (any, error) {
	return p.services.Call(ctx, req)
}

// CallService is the positional convenience form of Call for the common
// broadcast case.
func (p *Peer) CallService(ctx context.Context, service string, params ...any) (any, error) {
	return p.services.Call(ctx, CallRequest{Service: service, Params: params})
}

// Provision installs handler to serve resource's fetch and push traffic
// (spec §4.7).
func (p *Peer) Provision(ctx context.Context, resource string, handler ResourceHandler, opts ...SubscribeOption) (*ResourceRegistration, error) {
	return p.resources.Provision(ctx, resource, handler, opts...)
}

// Fetch issues a resource-transfer-request and returns a lazy view over
// the chunked response.
func (p *Peer) Fetch(ctx context.Context, req FetchRequest) (*FetchResult, error) {
	return p.resources.Fetch(ctx, req)
}

// Push publishes req.Source to resource as chunked responses.
func (p *Peer) Push(ctx context.Context, req PushRequest) error {
	return p.resources.Push(ctx, req)
}
