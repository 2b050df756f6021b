package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFilterMatchesSingleLevelWildcard(t *testing.T) {
	require.True(t, filterMatches("svc/+/resp", "svc/call-1/resp"))
	require.False(t, filterMatches("svc/+/resp", "svc/call-1/extra/resp"))
}

func TestFilterMatchesMultiLevelWildcard(t *testing.T) {
	require.True(t, filterMatches("svc/#", "svc/call-1/resp"))
	require.True(t, filterMatches("svc/#", "svc"))
	require.False(t, filterMatches("other/#", "svc/call-1/resp"))
}

func TestFilterMatchesExact(t *testing.T) {
	require.True(t, filterMatches("svc/op/peer", "svc/op/peer"))
	require.False(t, filterMatches("svc/op/peer", "svc/op/other"))
}

// TestFakeBusConcurrentPublishSubscribe exercises the Bus/Fake bookkeeping
// (client registration, per-subscriber filter maps) under concurrent
// publishers and subscribers, which plain sub-test assertions get noisy for.
func TestFakeBusConcurrentPublishSubscribe(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	const subscriberCount = 10
	const messagesPerPublisher = 20

	var mu sync.Mutex
	counts := make([]int, subscriberCount)

	subscribers := make([]*Fake, subscriberCount)
	for i := 0; i < subscriberCount; i++ {
		f := NewFake(bus)
		require.NoError(t, f.Connect(ctx, nil))
		idx := i
		f.OnMessage(func(Message) {
			mu.Lock()
			counts[idx]++
			mu.Unlock()
		})
		require.NoError(t, f.Subscribe(ctx, "room/#", QoSAtMostOnce))
		subscribers[i] = f
	}

	publisher := NewFake(bus)
	require.NoError(t, publisher.Connect(ctx, nil))

	var wg sync.WaitGroup
	for i := 0; i < messagesPerPublisher; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			require.NoError(t, publisher.Publish(ctx, "room/chat", QoSAtMostOnce, false, []byte("hi")))
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for i, c := range counts {
		require.Equal(t, messagesPerPublisher, c, "subscriber %d message count", i)
	}
}

func TestFakeUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	received := make(chan Message, 4)
	sub := NewFake(bus)
	require.NoError(t, sub.Connect(ctx, nil))
	sub.OnMessage(func(m Message) { received <- m })
	require.NoError(t, sub.Subscribe(ctx, "topic/a", QoSAtMostOnce))

	pub := NewFake(bus)
	require.NoError(t, pub.Connect(ctx, nil))
	require.NoError(t, pub.Publish(ctx, "topic/a", QoSAtMostOnce, false, []byte("one")))

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first message")
	}

	require.NoError(t, sub.Unsubscribe(ctx, "topic/a"))
	require.NoError(t, pub.Publish(ctx, "topic/a", QoSAtMostOnce, false, []byte("two")))

	select {
	case m := <-received:
		t.Fatalf("unexpected delivery after unsubscribe: %+v", m)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFakeDisconnectRemovesFromBus(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	received := make(chan Message, 1)
	sub := NewFake(bus)
	require.NoError(t, sub.Connect(ctx, nil))
	sub.OnMessage(func(m Message) { received <- m })
	require.NoError(t, sub.Subscribe(ctx, "topic/a", QoSAtMostOnce))
	sub.Disconnect()

	pub := NewFake(bus)
	require.NoError(t, pub.Connect(ctx, nil))
	require.NoError(t, pub.Publish(ctx, "topic/a", QoSAtMostOnce, false, []byte("one")))

	select {
	case m := <-received:
		t.Fatalf("unexpected delivery after disconnect: %+v", m)
	case <-time.After(50 * time.Millisecond):
	}
}
