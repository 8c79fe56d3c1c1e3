// Package broker defines the channel registry that backs GraphQL
// subscriptions: resolvers publish string payloads on named channels and
// other resolvers consume them as ordered streams.
//
// Delivery is ephemeral and best-effort. A message reaches exactly the
// subscriptions registered on its channel at publish time; publishing to a
// channel nobody listens on succeeds and the message is dropped.
package broker

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrPoisoned is returned by a registry whose internal state was left
	// inconsistent by a panic in another goroutine.
	ErrPoisoned = errors.New("broker: registry poisoned")
	// ErrClosed is returned when using a broker that has been shut down.
	ErrClosed = errors.New("broker: closed")
)

// Publisher is the publish half of a registry. A Broker is one; so is a
// client that forwards to a remote subscriptions server.
type Publisher interface {
	// Publish delivers message to every subscription currently registered
	// on channel. Having no subscribers is not an error.
	Publish(ctx context.Context, channel string, message string) error
}

// Broker is a process- or cluster-wide channel registry. Implementations
// must be safe for concurrent use.
type Broker interface {
	Publisher

	// Subscribe registers a new, independent subscription on channel that
	// yields messages published from now on, in publish order. The
	// subscription is closed automatically when ctx ends.
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// Subscription is a single consumption point on a channel. It is meant for
// a single consumer goroutine.
type Subscription interface {
	// ID uniquely identifies the subscription.
	ID() string

	// Channel is the channel the subscription was registered on.
	Channel() string

	// Next blocks until the next message is available or ctx is done.
	// It returns io.EOF once the subscription has been closed.
	Next(ctx context.Context) (string, error)

	// Close deregisters the subscription. It is idempotent.
	Close() error
}

// Stream adapts sub to a channel of messages, which is the shape GraphQL
// subscription resolvers return. The returned channel is closed, and sub
// with it, once ctx ends or the subscription terminates.
func Stream(ctx context.Context, sub Subscription) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		defer sub.Close()
		for {
			msg, err := sub.Next(ctx)
			if err != nil {
				return
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// IsEOF reports whether err marks the orderly end of a subscription.
func IsEOF(err error) bool {
	return errors.Is(err, io.EOF)
}

type contextKey struct {
	name string
}

var (
	brokerCtxKey    = &contextKey{"pubsub"}
	publisherCtxKey = &contextKey{"publisher"}
)

// WithBroker attaches b to ctx for resolver lookups.
func WithBroker(ctx context.Context, b Broker) context.Context {
	return context.WithValue(ctx, brokerCtxKey, b)
}

// FromContext returns the Broker attached with WithBroker.
func FromContext(ctx context.Context) (Broker, bool) {
	b, ok := ctx.Value(brokerCtxKey).(Broker)
	return b, ok && b != nil
}

// WithPublisher attaches p to ctx. Resolvers that publish prefer it over
// the Broker, which lets a queries server forward to a separate
// subscriptions server.
func WithPublisher(ctx context.Context, p Publisher) context.Context {
	return context.WithValue(ctx, publisherCtxKey, p)
}

// PublisherFromContext returns the Publisher attached with WithPublisher.
func PublisherFromContext(ctx context.Context) (Publisher, bool) {
	p, ok := ctx.Value(publisherCtxKey).(Publisher)
	return p, ok && p != nil
}

// Poisonable is implemented by brokers that can detect a poisoned registry.
type Poisonable interface {
	Poisoned() bool
}
