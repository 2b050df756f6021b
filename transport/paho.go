package transport

import (
	"context"
	"fmt"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Paho wraps an eclipse/paho.mqtt.golang client to satisfy Transport. A
// single mqtt.Client is shared across every Subscribe call; inbound
// messages from all subscriptions are funneled through one Handler,
// matching how a conduit Peer multiplexes logical subsystems over one
// connection.
type Paho struct {
	opts *mqtt.ClientOptions

	mu      sync.Mutex
	client  mqtt.Client
	handler Handler
	onErr   ErrorHandler
}

// NewPaho builds a Paho transport against brokerURL (e.g.
// "tcp://localhost:1883"), identifying itself to the broker as clientID.
func NewPaho(brokerURL, clientID string) *Paho {
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetCleanSession(true)

	p := &Paho{opts: opts}

	opts.SetDefaultPublishHandler(func(_ mqtt.Client, msg mqtt.Message) {
		p.deliver(msg)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		p.mu.Lock()
		onErr := p.onErr
		p.mu.Unlock()
		if onErr != nil {
			onErr(fmt.Errorf("transport: connection lost: %w", err))
		}
	})

	return p
}

func (p *Paho) deliver(msg mqtt.Message) {
	p.mu.Lock()
	h := p.handler
	p.mu.Unlock()
	if h == nil {
		return
	}
	h(Message{
		Topic:   msg.Topic(),
		Payload: msg.Payload(),
		QoS:     QoS(msg.Qos()),
		Retain:  msg.Retained(),
	})
}

func (p *Paho) Connect(ctx context.Context, will *LastWill) error {
	p.mu.Lock()
	if will != nil {
		p.opts.SetWill(will.Topic, string(will.Payload), byte(will.QoS), will.Retain)
	}
	client := mqtt.NewClient(p.opts)
	p.client = client
	p.mu.Unlock()

	token := client.Connect()
	return waitToken(ctx, token)
}

func (p *Paho) Disconnect() {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	if client != nil && client.IsConnected() {
		client.Disconnect(250)
	}
}

func (p *Paho) Publish(ctx context.Context, topic string, qos QoS, retain bool, payload []byte) error {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	token := client.Publish(topic, byte(qos), retain, payload)
	return waitToken(ctx, token)
}

func (p *Paho) Subscribe(ctx context.Context, topicFilter string, qos QoS) error {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	token := client.Subscribe(topicFilter, byte(qos), nil)
	return waitToken(ctx, token)
}

func (p *Paho) Unsubscribe(ctx context.Context, topicFilter string) error {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	token := client.Unsubscribe(topicFilter)
	return waitToken(ctx, token)
}

func (p *Paho) OnMessage(h Handler) {
	p.mu.Lock()
	p.handler = h
	p.mu.Unlock()
}

func (p *Paho) OnError(h ErrorHandler) {
	p.mu.Lock()
	p.onErr = h
	p.mu.Unlock()
}

// waitToken blocks on an mqtt.Token until it completes or ctx is canceled,
// whichever comes first.
func waitToken(ctx context.Context, token mqtt.Token) error {
	done := make(chan struct{})
	go func() {
		token.Wait()
		close(done)
	}()

	select {
	case <-done:
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
