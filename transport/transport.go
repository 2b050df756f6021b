// Package transport defines the minimal publish/subscribe contract conduit
// needs from an MQTT client, and a paho-backed implementation of it. Peers
// depend only on the Transport interface, so a test double (see
// transport/fake.go) can stand in without a broker.
package transport

import "context"

// QoS mirrors the three MQTT quality-of-service levels conduit cares about.
type QoS byte

const (
	QoSAtMostOnce  QoS = 0
	QoSAtLeastOnce QoS = 1
	QoSExactlyOnce QoS = 2
)

// Message is a single inbound publish delivered to a Handler.
type Message struct {
	Topic   string
	Payload []byte
	QoS     QoS
	Retain  bool
}

// Handler processes one inbound Message. It is invoked on the transport's
// own delivery goroutine; implementations that need to block should hand
// off to their own goroutine rather than stalling delivery.
type Handler func(Message)

// ErrorHandler is notified of transport-level failures that happen outside
// the lifetime of any single call (connection loss, decode failure on an
// unrelated subscription).
type ErrorHandler func(error)

// LastWill describes a message the broker publishes on this client's behalf
// if the connection drops uncleanly, per spec §6's dry-run-emit use case.
type LastWill struct {
	Topic   string
	Payload []byte
	QoS     QoS
	Retain  bool
}

// Transport is the external contract conduit needs from an MQTT client: the
// ability to publish, subscribe/unsubscribe by topic filter, and register a
// single message handler. Peer owns exactly one Transport and multiplexes
// all subscriptions through it.
type Transport interface {
	// Connect dials the broker. LastWill, if non-nil, must be registered
	// before the connection is established.
	Connect(ctx context.Context, will *LastWill) error
	Disconnect()

	Publish(ctx context.Context, topic string, qos QoS, retain bool, payload []byte) error
	Subscribe(ctx context.Context, topicFilter string, qos QoS) error
	Unsubscribe(ctx context.Context, topicFilter string) error

	// OnMessage installs the single handler invoked for every inbound
	// publish on any topic this Transport is subscribed to. Dispatching to
	// the right logical subsystem is conduit's job, not the transport's.
	OnMessage(Handler)
	OnError(ErrorHandler)
}
