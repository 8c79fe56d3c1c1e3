package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ggoodman/graphql-server-go/broker"
	"github.com/ggoodman/graphql-server-go/broker/brokertest"
)

func TestMemoryBroker(t *testing.T) {
	factory := func(t *testing.T) broker.Broker {
		return New()
	}

	brokertest.RunBrokerTests(t, factory)
}

func TestBroker_CloseDeregisters(t *testing.T) {
	b := New()
	ctx := context.Background()

	s1, err := b.Subscribe(ctx, "c")
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	s2, err := b.Subscribe(ctx, "c")
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	if got := b.subscriberCount("c"); got != 2 {
		t.Fatalf("Expected 2 subscribers, got %d", got)
	}

	_ = s1.Close()
	if got := b.subscriberCount("c"); got != 1 {
		t.Fatalf("Expected 1 subscriber after close, got %d", got)
	}
	_ = s2.Close()

	b.mu.Lock()
	_, present := b.channels["c"]
	b.mu.Unlock()
	if present {
		t.Fatal("Empty channel should be removed from the registry")
	}
}

func TestBroker_ContextCancelDeregisters(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())

	if _, err := b.Subscribe(ctx, "c"); err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	cancel()

	deadline := time.Now().Add(time.Second)
	for b.subscriberCount("c") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("Subscription was not removed after its context ended")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBroker_SlowConsumerDoesNotBlockPublisher(t *testing.T) {
	b := New()
	ctx := context.Background()

	slow, err := b.Subscribe(ctx, "c")
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	defer slow.Close()
	fast, err := b.Subscribe(ctx, "c")
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	defer fast.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10000; i++ {
			if err := b.Publish(ctx, "c", "m"); err != nil {
				t.Errorf("publish: %v", err)
				return
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Publisher blocked on an idle subscriber")
	}

	nctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	for i := 0; i < 10000; i++ {
		if _, err := fast.Next(nctx); err != nil {
			t.Fatalf("fast subscriber at %d: %v", i, err)
		}
	}
}

func TestBroker_Poisoned(t *testing.T) {
	b := New()
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "c")
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	b.setCriticalHook(func() { panic("writer crashed") })
	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("Expected panic to propagate")
			}
		}()
		_ = b.Publish(ctx, "c", "m")
	}()
	b.setCriticalHook(nil)

	if !b.Poisoned() {
		t.Fatal("Expected registry to be poisoned")
	}
	if err := b.Publish(ctx, "c", "m"); !errors.Is(err, broker.ErrPoisoned) {
		t.Fatalf("Publish: expected ErrPoisoned, got %v", err)
	}
	if _, err := b.Subscribe(ctx, "c"); !errors.Is(err, broker.ErrPoisoned) {
		t.Fatalf("Subscribe: expected ErrPoisoned, got %v", err)
	}

	// The lock itself was released; closing still ends the subscription.
	if err := sub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestBroker_Close(t *testing.T) {
	b := New()
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "c")
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := sub.Next(ctx); err == nil {
		t.Fatal("Expected subscription to end when broker closes")
	}
	if err := b.Publish(ctx, "c", "m"); !errors.Is(err, broker.ErrClosed) {
		t.Fatalf("Expected ErrClosed, got %v", err)
	}
}
