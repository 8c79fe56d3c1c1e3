// Package brokertest is a conformance suite shared by every broker.Broker
// implementation.
package brokertest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/graphql-server-go/broker"
	"github.com/google/uuid"
)

// BrokerFactory is a function that creates a new broker instance for testing.
type BrokerFactory func(t *testing.T) broker.Broker

// RunBrokerTests runs the complete broker test suite against the provided factory.
func RunBrokerTests(t *testing.T, factory BrokerFactory) {
	t.Run("RoundTrip", func(t *testing.T) {
		testRoundTrip(t, factory)
	})
	t.Run("ChannelIsolation", func(t *testing.T) {
		testChannelIsolation(t, factory)
	})
	t.Run("IndependentSubscribers", func(t *testing.T) {
		testIndependentSubscribers(t, factory)
	})
	t.Run("NoReplayBeforeSubscribe", func(t *testing.T) {
		testNoReplayBeforeSubscribe(t, factory)
	})
	t.Run("PublishWithoutSubscribers", func(t *testing.T) {
		testPublishWithoutSubscribers(t, factory)
	})
	t.Run("OrderPreserved", func(t *testing.T) {
		testOrderPreserved(t, factory)
	})
	t.Run("CloseEndsSubscription", func(t *testing.T) {
		testCloseEndsSubscription(t, factory)
	})
	t.Run("ContextEndsSubscription", func(t *testing.T) {
		testContextEndsSubscription(t, factory)
	})
	t.Run("NextHonoursContext", func(t *testing.T) {
		testNextHonoursContext(t, factory)
	})
	t.Run("ConcurrentPublishers", func(t *testing.T) {
		testConcurrentPublishers(t, factory)
	})
	t.Run("Stream", func(t *testing.T) {
		testStream(t, factory)
	})
}

// channelName returns a name unique to this run so suites sharing a
// backend do not observe each other.
func channelName(base string) string {
	return base + "-" + uuid.NewString()
}

func subscribe(t *testing.T, ctx context.Context, b broker.Broker, channel string) broker.Subscription {
	t.Helper()
	sub, err := b.Subscribe(ctx, channel)
	if err != nil {
		t.Fatalf("Failed to subscribe to %s: %v", channel, err)
	}
	t.Cleanup(func() { _ = sub.Close() })
	return sub
}

func publish(t *testing.T, ctx context.Context, b broker.Broker, channel, msg string) {
	t.Helper()
	if err := b.Publish(ctx, channel, msg); err != nil {
		t.Fatalf("Failed to publish to %s: %v", channel, err)
	}
}

func expectMessage(t *testing.T, sub broker.Subscription, want string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := sub.Next(ctx)
	if err != nil {
		t.Fatalf("Next on %s: %v", sub.Channel(), err)
	}
	if got != want {
		t.Fatalf("Expected message %q, got %q", want, got)
	}
}

func expectNothing(t *testing.T, sub broker.Subscription) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if got, err := sub.Next(ctx); err == nil {
		t.Fatalf("Expected no message on %s, got %q", sub.Channel(), got)
	}
}

func testRoundTrip(t *testing.T, factory BrokerFactory) {
	b := factory(t)
	defer closeBroker(t, b)
	ctx := context.Background()

	ch := channelName("c1")
	sub := subscribe(t, ctx, b, ch)
	if sub.ID() == "" {
		t.Fatal("Expected non-empty subscription ID")
	}
	if sub.Channel() != ch {
		t.Fatalf("Expected channel %s, got %s", ch, sub.Channel())
	}

	publish(t, ctx, b, ch, "m1")
	expectMessage(t, sub, "m1")
}

func testChannelIsolation(t *testing.T, factory BrokerFactory) {
	b := factory(t)
	defer closeBroker(t, b)
	ctx := context.Background()

	c1, c2 := channelName("c1"), channelName("c2")
	sub1 := subscribe(t, ctx, b, c1)
	sub2 := subscribe(t, ctx, b, c2)

	publish(t, ctx, b, c1, "m1")
	expectMessage(t, sub1, "m1")
	expectNothing(t, sub2)
}

func testIndependentSubscribers(t *testing.T, factory BrokerFactory) {
	b := factory(t)
	defer closeBroker(t, b)
	ctx := context.Background()

	ch := channelName("shared")
	sub1 := subscribe(t, ctx, b, ch)
	sub2 := subscribe(t, ctx, b, ch)
	if sub1.ID() == sub2.ID() {
		t.Fatal("Subscriptions must have distinct IDs")
	}

	publish(t, ctx, b, ch, "a")
	publish(t, ctx, b, ch, "b")

	// Each subscriber gets its own copy regardless of the other's pace.
	expectMessage(t, sub2, "a")
	expectMessage(t, sub2, "b")
	expectMessage(t, sub1, "a")
	expectMessage(t, sub1, "b")
}

func testNoReplayBeforeSubscribe(t *testing.T, factory BrokerFactory) {
	b := factory(t)
	defer closeBroker(t, b)
	ctx := context.Background()

	ch := channelName("late")
	early := subscribe(t, ctx, b, ch)
	publish(t, ctx, b, ch, "before")

	late := subscribe(t, ctx, b, ch)
	publish(t, ctx, b, ch, "after")

	expectMessage(t, early, "before")
	expectMessage(t, early, "after")
	expectMessage(t, late, "after")
	expectNothing(t, late)
}

func testPublishWithoutSubscribers(t *testing.T, factory BrokerFactory) {
	b := factory(t)
	defer closeBroker(t, b)
	ctx := context.Background()

	ch := channelName("empty")
	publish(t, ctx, b, ch, "dropped")

	// Not retained for future subscribers.
	sub := subscribe(t, ctx, b, ch)
	expectNothing(t, sub)
}

func testOrderPreserved(t *testing.T, factory BrokerFactory) {
	b := factory(t)
	defer closeBroker(t, b)
	ctx := context.Background()

	ch := channelName("ordered")
	sub := subscribe(t, ctx, b, ch)

	const n = 100
	for i := 0; i < n; i++ {
		publish(t, ctx, b, ch, fmt.Sprintf("msg-%d", i))
	}
	for i := 0; i < n; i++ {
		expectMessage(t, sub, fmt.Sprintf("msg-%d", i))
	}
}

func testCloseEndsSubscription(t *testing.T, factory BrokerFactory) {
	b := factory(t)
	defer closeBroker(t, b)
	ctx := context.Background()

	ch := channelName("closing")
	sub := subscribe(t, ctx, b, ch)

	if err := sub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got %v", err)
	}

	publish(t, ctx, b, ch, "after-close")

	nctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if _, err := sub.Next(nctx); !errors.Is(err, io.EOF) {
		t.Fatalf("Expected io.EOF after Close, got %v", err)
	}
}

func testContextEndsSubscription(t *testing.T, factory BrokerFactory) {
	b := factory(t)
	defer closeBroker(t, b)

	ch := channelName("ctx")
	subCtx, cancel := context.WithCancel(context.Background())
	sub := subscribe(t, subCtx, b, ch)
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for {
		nctx, ncancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_, err := sub.Next(nctx)
		ncancel()
		if errors.Is(err, io.EOF) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("Subscription not closed after its context ended, last err: %v", err)
		}
	}
}

func testNextHonoursContext(t *testing.T, factory BrokerFactory) {
	b := factory(t)
	defer closeBroker(t, b)

	sub := subscribe(t, context.Background(), b, channelName("idle"))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := sub.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected context.DeadlineExceeded, got %v", err)
	}
}

func testConcurrentPublishers(t *testing.T, factory BrokerFactory) {
	b := factory(t)
	defer closeBroker(t, b)
	ctx := context.Background()

	ch := channelName("busy")
	sub := subscribe(t, ctx, b, ch)

	const publishers, each = 8, 25
	var wg sync.WaitGroup
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				if err := b.Publish(ctx, ch, fmt.Sprintf("%d-%d", p, i)); err != nil {
					t.Errorf("publish: %v", err)
					return
				}
			}
		}(p)
	}
	wg.Wait()

	// Per-publisher order survives interleaving.
	last := make(map[int]int)
	for k := 0; k < publishers*each; k++ {
		nctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		msg, err := sub.Next(nctx)
		cancel()
		if err != nil {
			t.Fatalf("Next after %d messages: %v", k, err)
		}
		var p, i int
		if _, err := fmt.Sscanf(msg, "%d-%d", &p, &i); err != nil {
			t.Fatalf("unexpected message %q", msg)
		}
		if prev, ok := last[p]; ok && i != prev+1 {
			t.Fatalf("publisher %d: got %d after %d", p, i, prev)
		}
		last[p] = i
	}
}

func testStream(t *testing.T, factory BrokerFactory) {
	b := factory(t)
	defer closeBroker(t, b)

	ch := channelName("stream")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := subscribe(t, ctx, b, ch)
	out := broker.Stream(ctx, sub)

	publish(t, context.Background(), b, ch, "x")
	select {
	case got := <-out:
		if got != "x" {
			t.Fatalf("Expected %q, got %q", "x", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stream did not deliver within timeout")
	}

	cancel()
	select {
	case _, ok := <-out:
		if ok {
			t.Fatal("Expected stream to close after cancellation")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stream did not close within timeout")
	}
}

// closeBroker closes b if it supports it. Errors are logged, not fatal.
func closeBroker(t *testing.T, b broker.Broker) {
	if closer, ok := b.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			t.Logf("Warning: failed to close broker: %v", err)
		}
	}
}
