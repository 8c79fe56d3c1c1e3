package server

import (
	"context"
	"errors"

	"github.com/ggoodman/graphql-server-go/auth"
	"github.com/ggoodman/graphql-server-go/broker"
)

const (
	authStateElement = "auth_state"
	pubsubElement    = "pubsub"
)

// AuthState returns the credential state the interceptor attached to the
// request that ctx belongs to.
func AuthState(ctx context.Context) (auth.State, error) {
	st, ok := auth.FromContext(ctx)
	if !ok {
		return auth.State{}, &ContextMissingError{Element: authStateElement}
	}
	return st, nil
}

// Registry returns the channel registry shared by all requests.
func Registry(ctx context.Context) (broker.Broker, error) {
	b, ok := broker.FromContext(ctx)
	if !ok {
		return nil, &ContextMissingError{Element: pubsubElement}
	}
	if p, ok := b.(broker.Poisonable); ok && p.Poisoned() {
		return nil, &LockPoisonedError{Element: pubsubElement}
	}
	return b, nil
}

// Subscribe is the usual body of a subscription resolver: it registers on
// channel and returns the messages as a Go channel that closes when ctx
// (the subscription's lifetime) ends.
func Subscribe(ctx context.Context, channel string) (<-chan string, error) {
	b, err := Registry(ctx)
	if err != nil {
		return nil, err
	}
	sub, err := b.Subscribe(ctx, channel)
	if err != nil {
		return nil, poisonedAsLockError(err)
	}
	return broker.Stream(ctx, sub), nil
}

// Publish sends message on channel. A publisher attached with
// WithPublisher takes precedence over the request's registry.
func Publish(ctx context.Context, channel, message string) error {
	if p, ok := broker.PublisherFromContext(ctx); ok {
		return p.Publish(ctx, channel, message)
	}
	b, err := Registry(ctx)
	if err != nil {
		return err
	}
	return poisonedAsLockError(b.Publish(ctx, channel, message))
}

// poisonedAsLockError covers a registry poisoned after Registry checked it.
func poisonedAsLockError(err error) error {
	if errors.Is(err, broker.ErrPoisoned) {
		return &LockPoisonedError{Element: pubsubElement}
	}
	return err
}

// RequireClaims returns ErrUnauthorised unless the request is Authorised
// with every claim in required.
func RequireClaims(ctx context.Context, required auth.Claims) error {
	st, err := AuthState(ctx)
	if err != nil {
		return err
	}
	if !st.HasClaims(required) {
		return ErrUnauthorised
	}
	return nil
}
