package conduit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tenzoki/conduit/envelope"
	"github.com/tenzoki/conduit/transport"
)

// ServiceHandler answers one inbound service-call-request, returning
// either a result or an error. Per the Open Question in spec §9, user
// handlers are ordinary synchronous Go functions: there is no deferred
// type to lift, so "uniform lifting" collapses to calling the handler and
// capturing its (any, error) return, with a recover() guarding against a
// panicking handler.
type ServiceHandler func(params []any, info Info) (any, error)

// ServiceRegistration is the teardown handle returned by Register.
type ServiceRegistration struct {
	svc            *serviceSubsystem
	service        string
	broadcastTopic string
	directTopic    string

	mu     sync.Mutex
	closed bool
}

// Unregister removes the local handler and both broker subscriptions.
func (r *ServiceRegistration) Unregister(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return &NotRegisteredError{Service: r.service}
	}
	r.closed = true
	r.mu.Unlock()

	r.svc.mu.Lock()
	delete(r.svc.handlers, r.service)
	r.svc.mu.Unlock()

	errBroadcast := r.svc.d.unsubscribeTopic(ctx, r.broadcastTopic)
	errDirect := r.svc.d.unsubscribeTopic(ctx, r.directTopic)
	if errBroadcast != nil {
		return errBroadcast
	}
	return errDirect
}

type pendingCall struct {
	service  string
	resultCh chan callResult
}

type callResult struct {
	value any
	err   error
}

// serviceSubsystem implements spec §4.6: register/call with per-request
// correlation, timeout, refcounted response-topic subscription, and error
// propagation. Grounded on broker.go's call()/responseChans correlation
// pattern, generalized from one broker-wide RPC channel to one pending
// entry per in-flight call plus a shared, refcounted response topic per
// service name.
type serviceSubsystem struct {
	d             *dispatcher
	timeoutMillis int

	mu       sync.Mutex
	handlers map[string]ServiceHandler

	pendingMu sync.Mutex
	pending   map[string]*pendingCall
}

func newServiceSubsystem(d *dispatcher, timeoutMillis int) *serviceSubsystem {
	s := &serviceSubsystem{
		d:             d,
		timeoutMillis: timeoutMillis,
		handlers:      make(map[string]ServiceHandler),
		pending:       make(map[string]*pendingCall),
	}
	d.addSubsystem(s.dispatch)
	return s
}

func (s *serviceSubsystem) dispatch(env *envelope.Envelope, m match) {
	switch env.Type {
	case envelope.KindServiceRequest:
		s.dispatchRequest(env, m)
	case envelope.KindServiceResponse:
		s.dispatchResponse(env, m)
	}
}

func (s *serviceSubsystem) dispatchRequest(env *envelope.Envelope, m match) {
	s.mu.Lock()
	h, ok := s.handlers[m.name]
	s.mu.Unlock()

	if !ok {
		s.respond(context.Background(), env, m.name, nil, fmt.Sprintf("method not found: %s", m.name), true)
		return
	}
	if env.Sender == "" {
		s.d.reportError(newMissingSenderError())
		return
	}

	go func() {
		result, err := s.invoke(h, env.Params, Info{Sender: env.Sender, Receiver: env.Receiver})
		if err != nil {
			s.respond(context.Background(), env, m.name, nil, errorMessage(err), true)
			return
		}
		s.respond(context.Background(), env, m.name, result, "", false)
	}()
}

func (s *serviceSubsystem) invoke(h ServiceHandler, params []any, info Info) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	return h(params, info)
}

func (s *serviceSubsystem) respond(ctx context.Context, req *envelope.Envelope, service string, result any, errMsg string, isErr bool) {
	resp := &envelope.Envelope{
		Type:     envelope.KindServiceResponse,
		ID:       req.ID,
		Sender:   s.d.id,
		Receiver: req.Sender,
	}
	if isErr {
		resp.HasError = true
		resp.Error = errMsg
	} else {
		resp.Result = result
	}
	t := s.d.topicMake(service, string(envelope.KindServiceResponse), req.Sender)
	if err := s.d.publishEnvelope(ctx, t, transport.QoSExactlyOnce, resp); err != nil {
		s.d.reportError(err)
	}
}

func (s *serviceSubsystem) dispatchResponse(env *envelope.Envelope, m match) {
	s.pendingMu.Lock()
	pc, ok := s.pending[env.ID]
	if ok {
		delete(s.pending, env.ID)
	}
	s.pendingMu.Unlock()
	if !ok {
		return
	}

	if env.HasError {
		pc.resultCh <- callResult{err: &ServiceError{Message: env.Error}}
		return
	}
	pc.resultCh <- callResult{value: env.Result}
}

// Register installs handler for service, subscribing both the broadcast
// and direct request topics. Default QoS is 2.
func (s *serviceSubsystem) Register(ctx context.Context, service string, handler ServiceHandler, opts ...SubscribeOption) (*ServiceRegistration, error) {
	cfg := subscribeConfig{qos: transport.QoSExactlyOnce}
	for _, o := range opts {
		o(&cfg)
	}

	s.mu.Lock()
	if _, exists := s.handlers[service]; exists {
		s.mu.Unlock()
		return nil, &AlreadyRegisteredError{Service: service}
	}
	s.handlers[service] = handler
	s.mu.Unlock()

	broadcastTopic := s.d.topicMake(service, string(envelope.KindServiceRequest), "")
	directTopic := s.d.topicMake(service, string(envelope.KindServiceRequest), s.d.id)

	if err := s.d.subscribeTopic(ctx, broadcastTopic, cfg.qos); err != nil {
		s.mu.Lock()
		delete(s.handlers, service)
		s.mu.Unlock()
		return nil, err
	}
	if err := s.d.subscribeTopic(ctx, directTopic, cfg.qos); err != nil {
		_ = s.d.unsubscribeTopic(ctx, broadcastTopic)
		s.mu.Lock()
		delete(s.handlers, service)
		s.mu.Unlock()
		return nil, err
	}

	return &ServiceRegistration{svc: s, service: service, broadcastTopic: broadcastTopic, directTopic: directTopic}, nil
}

// CallRequest is the struct-shaped call form of call (spec §4.6/§9).
type CallRequest struct {
	Service  string
	Params   []any
	Receiver Receiver
	QoS      *transport.QoS // nil selects the default (2)
}

// Call issues a service-call-request and blocks until a response, a
// remote failure, or a timeout.
func (s *serviceSubsystem) Call(ctx context.Context, req CallRequest) (any, error) {
	qos := transport.QoSExactlyOnce
	if req.QoS != nil {
		qos = *req.QoS
	}
	receiverID, _ := req.Receiver.PeerID()

	responseTopic := s.d.topicMake(req.Service, string(envelope.KindServiceResponse), s.d.id)
	if err := s.d.subscribeTopic(ctx, responseTopic, qos); err != nil {
		return nil, err
	}

	rid := newCorrelationID()
	resultCh := make(chan callResult, 1)
	s.pendingMu.Lock()
	s.pending[rid] = &pendingCall{service: req.Service, resultCh: resultCh}
	s.pendingMu.Unlock()

	cleanup := func() {
		s.pendingMu.Lock()
		delete(s.pending, rid)
		s.pendingMu.Unlock()
		_ = s.d.unsubscribeTopic(context.Background(), responseTopic)
	}

	env := &envelope.Envelope{
		Type:     envelope.KindServiceRequest,
		ID:       rid,
		Sender:   s.d.id,
		Receiver: receiverID,
		Service:  req.Service,
		Params:   req.Params,
	}
	reqTopic := s.d.topicMake(req.Service, string(envelope.KindServiceRequest), receiverID)
	if err := s.d.publishEnvelope(ctx, reqTopic, transport.QoSExactlyOnce, env); err != nil {
		cleanup()
		return nil, err
	}

	timer := time.NewTimer(time.Duration(s.timeoutMillis) * time.Millisecond)
	defer timer.Stop()

	select {
	case res := <-resultCh:
		cleanup()
		if res.err != nil {
			return nil, res.err
		}
		return res.value, nil
	case <-timer.C:
		cleanup()
		return nil, newCallTimeout()
	case <-ctx.Done():
		cleanup()
		return nil, ctx.Err()
	}
}
