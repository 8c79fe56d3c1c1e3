// Package memory provides an in-process implementation of broker.Broker.
// State is local to the process, so it suits single-node deployments and
// tests.
package memory

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/ggoodman/graphql-server-go/broker"
	"github.com/google/uuid"
)

// Broker is the in-memory channel registry. A single mutex guards the
// channel map; delivery happens outside it into per-subscription queues
// that never block the publisher.
//
// Poisoning is a safeguard: none of the critical sections panic on their
// own, but if one ever does the map may be half-updated, so the registry
// refuses further Publish and Subscribe calls instead of serving it.
type Broker struct {
	mu       sync.Mutex
	channels map[string]map[*subscription]struct{}
	poisoned atomic.Bool
	closed   bool

	inCritical func() // set only by tests
}

// New creates an empty registry.
func New() *Broker {
	return &Broker{
		channels: make(map[string]map[*subscription]struct{}),
	}
}

// Poisoned reports whether a panic inside the registry's critical section
// has left its state unusable.
func (b *Broker) Poisoned() bool { return b.poisoned.Load() }

// locked runs fn while holding the registry lock. A panic in fn poisons
// the registry before it propagates.
func (b *Broker) locked(fn func() error) error {
	if b.poisoned.Load() {
		return broker.ErrPoisoned
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.poisoned.Load() {
		return broker.ErrPoisoned
	}
	completed := false
	defer func() {
		if !completed {
			b.poisoned.Store(true)
		}
	}()
	if b.inCritical != nil {
		b.inCritical()
	}
	err := fn()
	completed = true
	return err
}

// Publish implements broker.Broker.
func (b *Broker) Publish(ctx context.Context, channel string, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var targets []*subscription
	err := b.locked(func() error {
		if b.closed {
			return broker.ErrClosed
		}
		subs := b.channels[channel]
		targets = make([]*subscription, 0, len(subs))
		for s := range subs {
			targets = append(targets, s)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, s := range targets {
		s.push(message)
	}
	return nil
}

// Subscribe implements broker.Broker.
func (b *Broker) Subscribe(ctx context.Context, channel string) (broker.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := &subscription{
		id:      uuid.NewString(),
		channel: channel,
		broker:  b,
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	err := b.locked(func() error {
		if b.closed {
			return broker.ErrClosed
		}
		subs, ok := b.channels[channel]
		if !ok {
			subs = make(map[*subscription]struct{})
			b.channels[channel] = subs
		}
		subs[sub] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, func() { _ = sub.Close() })
	sub.mu.Lock()
	sub.stop = stop
	sub.mu.Unlock()
	return sub, nil
}

// Close ends every subscription and rejects further use.
func (b *Broker) Close() error {
	var all []*subscription
	err := b.locked(func() error {
		b.closed = true
		for _, subs := range b.channels {
			for s := range subs {
				all = append(all, s)
			}
		}
		b.channels = make(map[string]map[*subscription]struct{})
		return nil
	})
	for _, s := range all {
		s.finish()
	}
	return err
}

func (b *Broker) remove(s *subscription) {
	_ = b.locked(func() error {
		subs, ok := b.channels[s.channel]
		if !ok {
			return nil
		}
		delete(subs, s)
		if len(subs) == 0 {
			delete(b.channels, s.channel)
		}
		return nil
	})
}

// subscriberCount is used by tests to observe deregistration.
func (b *Broker) subscriberCount(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.channels[channel])
}

// subscription owns an unbounded FIFO. push never blocks; a single notify
// token wakes the consumer.
type subscription struct {
	id      string
	channel string
	broker  *Broker

	mu     sync.Mutex
	stop   func() bool
	queue  []string
	notify chan struct{}

	once sync.Once
	done chan struct{}
}

func (s *subscription) ID() string      { return s.id }
func (s *subscription) Channel() string { return s.channel }

func (s *subscription) push(msg string) {
	select {
	case <-s.done:
		return
	default:
	}
	s.mu.Lock()
	s.queue = append(s.queue, msg)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscription) pop() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return "", false
	}
	msg := s.queue[0]
	s.queue[0] = ""
	s.queue = s.queue[1:]
	return msg, true
}

// Next implements broker.Subscription.
func (s *subscription) Next(ctx context.Context) (string, error) {
	for {
		select {
		case <-s.done:
			return "", io.EOF
		default:
		}
		if msg, ok := s.pop(); ok {
			return msg, nil
		}
		select {
		case <-s.notify:
		case <-s.done:
			return "", io.EOF
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// Close implements broker.Subscription.
func (s *subscription) Close() error {
	s.mu.Lock()
	stop := s.stop
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
	s.broker.remove(s)
	s.finish()
	return nil
}

func (s *subscription) finish() {
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.queue = nil
		s.mu.Unlock()
	})
}

var (
	_ broker.Broker       = (*Broker)(nil)
	_ broker.Poisonable   = (*Broker)(nil)
	_ broker.Subscription = (*subscription)(nil)
)
