package transport

import (
	"context"
	"strings"
	"sync"
)

// Bus is an in-memory broker shared by a set of Fake transports, used to
// exercise conduit end to end without a real MQTT server. Publishing on one
// Fake delivers to every connected Fake on the same Bus whose subscription
// filter matches, the publisher included, honouring single-level "+" and
// multi-level "#" wildcards. Delivery is synchronous: each matching
// handler runs on the publishing goroutine before Publish returns.
type Bus struct {
	mu      sync.Mutex
	clients []*Fake
}

// NewBus creates an empty shared bus.
func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) register(f *Fake) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients = append(b.clients, f)
}

func (b *Bus) unregister(f *Fake) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, c := range b.clients {
		if c == f {
			b.clients = append(b.clients[:i], b.clients[i+1:]...)
			return
		}
	}
}

func (b *Bus) publish(from *Fake, topic string, qos QoS, retain bool, payload []byte) {
	b.mu.Lock()
	targets := make([]*Fake, len(b.clients))
	copy(targets, b.clients)
	b.mu.Unlock()

	msg := Message{Topic: topic, Payload: payload, QoS: qos, Retain: retain}
	for _, c := range targets {
		c.maybeDeliver(topic, msg)
	}
}

// Fake is a Transport backed by a Bus instead of a network connection.
// Subscriptions, handler dispatch and connection lifecycle all behave like
// the paho adapter, minus the network.
type Fake struct {
	bus       *Bus
	mu        sync.Mutex
	filters   map[string]QoS
	handler   Handler
	onErr     ErrorHandler
	connected bool
}

// NewFake creates a Transport attached to bus. Each simulated peer should
// get its own Fake.
func NewFake(bus *Bus) *Fake {
	return &Fake{bus: bus, filters: make(map[string]QoS)}
}

func (f *Fake) Connect(_ context.Context, _ *LastWill) error {
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	f.bus.register(f)
	return nil
}

func (f *Fake) Disconnect() {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	f.bus.unregister(f)
}

func (f *Fake) Publish(_ context.Context, topic string, qos QoS, retain bool, payload []byte) error {
	f.bus.publish(f, topic, qos, retain, payload)
	return nil
}

func (f *Fake) Subscribe(_ context.Context, topicFilter string, qos QoS) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filters[topicFilter] = qos
	return nil
}

func (f *Fake) Unsubscribe(_ context.Context, topicFilter string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.filters, topicFilter)
	return nil
}

func (f *Fake) OnMessage(h Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
}

func (f *Fake) OnError(h ErrorHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onErr = h
}

func (f *Fake) maybeDeliver(topic string, msg Message) {
	f.mu.Lock()
	var h Handler
	matched := false
	for filter := range f.filters {
		if filterMatches(filter, topic) {
			matched = true
			break
		}
	}
	if matched {
		h = f.handler
	}
	f.mu.Unlock()
	if h != nil {
		h(msg)
	}
}

// filterMatches implements MQTT topic-filter matching for "+" (single
// level) and "#" (multi level, trailing only) wildcards.
func filterMatches(filter, topic string) bool {
	fParts := strings.Split(filter, "/")
	tParts := strings.Split(topic, "/")

	for i, fp := range fParts {
		if fp == "#" {
			return true
		}
		if i >= len(tParts) {
			return false
		}
		if fp == "+" {
			continue
		}
		if fp != tParts[i] {
			return false
		}
	}
	return len(fParts) == len(tParts)
}
