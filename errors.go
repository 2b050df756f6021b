package conduit

import "fmt"

// ProtocolError reports a malformed envelope: a required field missing, an
// unexpected field present, or a field holding the wrong type. It wraps the
// underlying envelope.FieldError so callers can inspect which field failed.
// The dispatcher also uses it, wrapping a plain error, for an inbound topic
// that the configured topic scheme does not match.
type ProtocolError struct {
	Err error
}

func (e *ProtocolError) Error() string { return fmt.Sprintf("protocol: %v", e.Err) }
func (e *ProtocolError) Unwrap() error { return e.Err }

// AlreadySubscribedError is returned by Subscribe when this peer already has
// a local handler for the event.
type AlreadySubscribedError struct{ Event string }

func (e *AlreadySubscribedError) Error() string {
	return fmt.Sprintf("conduit: already subscribed to event %q", e.Event)
}

// AlreadyRegisteredError is returned by Register when this peer already has
// a local handler for the service.
type AlreadyRegisteredError struct{ Service string }

func (e *AlreadyRegisteredError) Error() string {
	return fmt.Sprintf("conduit: already registered service %q", e.Service)
}

// AlreadyProvisionedError is returned by Provision when this peer already
// has a local handler for the resource.
type AlreadyProvisionedError struct{ Resource string }

func (e *AlreadyProvisionedError) Error() string {
	return fmt.Sprintf("conduit: already provisioned resource %q", e.Resource)
}

// NotSubscribedError is returned by an event subscription handle's
// Unsubscribe when it has already been torn down.
type NotSubscribedError struct{ Event string }

func (e *NotSubscribedError) Error() string {
	return fmt.Sprintf("conduit: not subscribed to event %q", e.Event)
}

// NotRegisteredError is returned by a service registration handle's
// Unregister when it has already been torn down.
type NotRegisteredError struct{ Service string }

func (e *NotRegisteredError) Error() string {
	return fmt.Sprintf("conduit: not registered for service %q", e.Service)
}

// NotProvisionedError is returned by a resource provisioning handle's
// Unprovision when it has already been torn down.
type NotProvisionedError struct{ Resource string }

func (e *NotProvisionedError) Error() string {
	return fmt.Sprintf("conduit: not provisioned for resource %q", e.Resource)
}

// TransportError wraps a failure reported verbatim by the underlying
// transport (publish, subscribe, or unsubscribe failure).
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport: %s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// TimeoutError reports a call, fetch, or push stream that exceeded its
// deadline without a terminal response.
type TimeoutError struct{ Message string }

func (e *TimeoutError) Error() string { return e.Message }

func newCallTimeout() *TimeoutError { return &TimeoutError{Message: "communication timeout"} }
func newPushTimeout() *TimeoutError { return &TimeoutError{Message: "push stream timeout"} }

// ServiceError reports a remote registrant's handler failure, carrying the
// error string derived by errorMessage below.
type ServiceError struct{ Message string }

func (e *ServiceError) Error() string { return e.Message }

// ResourceError reports a remote provisioner's handler failure, analogous
// to ServiceError.
type ResourceError struct{ Message string }

func (e *ResourceError) Error() string { return e.Message }

// MissingDataError is returned internally (and surfaced as a resource
// response error) when a provisioner handler settles without calling
// info.SetResource, info.SetBufferFunc, or info.SetStream.
type MissingDataError struct{}

func (e *MissingDataError) Error() string {
	return "handler did not provide data via info.resource/buffer/stream"
}

// RoutingError reports an inbound service or resource request that cannot
// be answered because it carries no sender id to route the response to.
type RoutingError struct{ Message string }

func (e *RoutingError) Error() string { return e.Message }

func newMissingSenderError() *RoutingError {
	return &RoutingError{Message: "invalid request: missing sender"}
}

// errorMessage derives the stable error string for a handler failure per
// the rule in spec §4.6: empty value -> "undefined error"; string -> as is;
// error -> its Error() text; anything else -> its string form.
func errorMessage(v any) string {
	switch t := v.(type) {
	case nil:
		return "undefined error"
	case string:
		if t == "" {
			return "undefined error"
		}
		return t
	case error:
		return t.Error()
	default:
		return fmt.Sprintf("%v", t)
	}
}
