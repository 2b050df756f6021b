package conduit

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/tenzoki/conduit/transport"
)

func newTestPeer(t *testing.T, bus *transport.Bus, opts ...Option) *Peer {
	t.Helper()
	allOpts := append([]Option{WithTransport(transport.NewFake(bus))}, opts...)
	p := New(allOpts...)
	if err := p.Connect(context.Background(), nil); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(p.Destroy)
	return p
}

func TestEventRoundTrip(t *testing.T) {
	bus := transport.NewBus()
	emitter := newTestPeer(t, bus)
	subscriber := newTestPeer(t, bus)

	received := make(chan []any, 1)
	_, err := subscriber.Subscribe(context.Background(), "example/greet", func(params []any, info Info) error {
		received <- params
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := emitter.EmitEvent(context.Background(), "example/greet", "world"); err != nil {
		t.Fatalf("EmitEvent failed: %v", err)
	}

	select {
	case params := <-received:
		if len(params) != 1 || params[0] != "world" {
			t.Errorf("params = %v, want [\"world\"]", params)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event delivery")
	}
}

func TestServiceCallSuccess(t *testing.T) {
	bus := transport.NewBus()
	provider := newTestPeer(t, bus)
	caller := newTestPeer(t, bus)

	_, err := provider.Register(context.Background(), "example/echo", func(params []any, info Info) (any, error) {
		return params[0], nil
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	result, err := caller.CallService(context.Background(), "example/echo", "hi there")
	if err != nil {
		t.Fatalf("CallService failed: %v", err)
	}
	if result != "hi there" {
		t.Errorf("result = %v, want %q", result, "hi there")
	}
}

func TestServiceCallError(t *testing.T) {
	bus := transport.NewBus()
	provider := newTestPeer(t, bus)
	caller := newTestPeer(t, bus)

	_, err := provider.Register(context.Background(), "example/fail", func(params []any, info Info) (any, error) {
		return nil, errors.New("boom")
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	_, err = caller.CallService(context.Background(), "example/fail")
	if err == nil {
		t.Fatal("expected an error from CallService")
	}
	var svcErr *ServiceError
	if !errors.As(err, &svcErr) {
		t.Fatalf("err = %T, want *ServiceError", err)
	}
	if svcErr.Message != "boom" {
		t.Errorf("svcErr.Message = %q, want %q", svcErr.Message, "boom")
	}
}

func TestServiceCallTimesOutWhenNoProviderRegistered(t *testing.T) {
	bus := transport.NewBus()
	caller := newTestPeer(t, bus, WithTimeout(100))

	_, err := caller.CallService(context.Background(), "example/nobody-answers")
	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("err = %v (%T), want *TimeoutError", err, err)
	}
}

func TestFetchSuccess(t *testing.T) {
	bus := transport.NewBus()
	provider := newTestPeer(t, bus)
	fetcher := newTestPeer(t, bus)

	payload := []byte("the quick brown fox jumps over the lazy dog")
	_, err := provider.Provision(context.Background(), "example/download", func(params []any, info *ResourceInfo) error {
		info.SetResource(payload)
		return nil
	})
	if err != nil {
		t.Fatalf("Provision failed: %v", err)
	}

	result, err := fetcher.Fetch(context.Background(), FetchRequest{Resource: "example/download"})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := result.Buffer.Wait(ctx)
	if err != nil {
		t.Fatalf("Buffer.Wait failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("got %q, want %q", got, payload)
	}
}

func TestFetchHandlerError(t *testing.T) {
	bus := transport.NewBus()
	provider := newTestPeer(t, bus)
	fetcher := newTestPeer(t, bus)

	_, err := provider.Provision(context.Background(), "example/broken", func(params []any, info *ResourceInfo) error {
		return errors.New("disk on fire")
	})
	if err != nil {
		t.Fatalf("Provision failed: %v", err)
	}

	result, err := fetcher.Fetch(context.Background(), FetchRequest{Resource: "example/broken"})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = result.Buffer.Wait(ctx)
	var resErr *ResourceError
	if !errors.As(err, &resErr) {
		t.Fatalf("err = %v (%T), want *ResourceError", err, err)
	}
}

func TestFetchTimeoutWithNoProvisioner(t *testing.T) {
	bus := transport.NewBus()
	fetcher := newTestPeer(t, bus, WithTimeout(100))

	result, err := fetcher.Fetch(context.Background(), FetchRequest{Resource: "example/nobody-home"})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = result.Buffer.Wait(ctx)
	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("err = %v (%T), want *TimeoutError", err, err)
	}
}

func TestPushDeliversFullPayload(t *testing.T) {
	bus := transport.NewBus()
	receiver := newTestPeer(t, bus)
	pusher := newTestPeer(t, bus)

	payload := make([]byte, 16*1024)
	rand.New(rand.NewSource(1)).Read(payload)

	done := make(chan []byte, 1)
	_, err := receiver.Provision(context.Background(), "example/upload", func(params []any, info *ResourceInfo) error {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		data, err := info.Buffer.Wait(ctx)
		if err != nil {
			return err
		}
		done <- data
		return nil
	})
	if err != nil {
		t.Fatalf("Provision failed: %v", err)
	}

	if err := pusher.Push(context.Background(), PushRequest{
		Resource: "example/upload",
		Source:   PushBuffer(payload),
		Receiver: receiver.Receiver(receiver.ID()),
	}); err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	select {
	case got := <-done:
		if !bytes.Equal(got, payload) {
			t.Error("received payload does not match pushed payload")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for push to be received")
	}
}

func TestDryRunEmitProducesLastWillTuple(t *testing.T) {
	p := New(WithID("lonely-peer"))

	result, err := p.Emit(context.Background(), EmitRequest{
		Event:  "example/offline",
		Params: []any{"lonely-peer"},
		Dry:    true,
	})
	if err != nil {
		t.Fatalf("Emit (dry run) failed: %v", err)
	}
	if result == nil {
		t.Fatal("expected a non-nil DryRunResult")
	}
	if result.Topic == "" {
		t.Error("DryRunResult.Topic is empty")
	}
	if len(result.Payload) == 0 {
		t.Error("DryRunResult.Payload is empty")
	}

	will := &transport.LastWill{Topic: result.Topic, Payload: result.Payload, QoS: result.QoS}

	bus := transport.NewBus()
	live := New(WithTransport(transport.NewFake(bus)))
	if err := live.Connect(context.Background(), will); err != nil {
		t.Fatalf("Connect with last will failed: %v", err)
	}
	live.Destroy()
}

func TestEmitWithNoTransportFailsUnlessDry(t *testing.T) {
	p := New()
	if err := p.EmitEvent(context.Background(), "example/nowhere"); err == nil {
		t.Fatal("expected an error emitting with no transport")
	}
}
