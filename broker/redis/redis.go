// Package redis implements broker.Broker over Redis PUBLISH/SUBSCRIBE so
// that several server processes share one channel registry. Like the
// in-memory broker it is fire-and-forget: messages published while nobody
// is subscribed are lost.
package redis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/ggoodman/graphql-server-go/broker"
	"github.com/google/uuid"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

// Config contains configuration options for the Redis broker.
type Config struct {
	// Client is the Redis client to use. If nil, one is created for Addr.
	Client redis.UniversalClient
	// Addr like "localhost:6379". ENV: REDIS_ADDR
	Addr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix is prepended to every channel name. ENV: GQL_REDIS_PREFIX
	KeyPrefix string `env:"GQL_REDIS_PREFIX,default=gql:pubsub:"`
	// BufferSize bounds the per-subscription receive buffer kept by the
	// Redis client.
	BufferSize int
}

// Broker is a Redis-backed implementation of broker.Broker.
type Broker struct {
	client    redis.UniversalClient
	keyPrefix string
	bufSize   int
}

// New creates a new Redis-based broker instance. It pings the server so a
// misconfigured address fails at startup.
func New(ctx context.Context, cfg Config) (*Broker, error) {
	client := cfg.Client
	if client == nil {
		addr := cfg.Addr
		if addr == "" {
			addr = "localhost:6379"
		}
		client = redis.NewClient(&redis.Options{Addr: addr})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "gql:pubsub:"
	}
	size := cfg.BufferSize
	if size <= 0 {
		size = 1024
	}
	return &Broker{client: client, keyPrefix: prefix, bufSize: size}, nil
}

// NewFromEnv builds a Broker using envdecode to populate Config.
func NewFromEnv(ctx context.Context) (*Broker, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("redis broker config: %w", err)
	}
	return New(ctx, cfg)
}

// Close closes the Redis connection.
func (b *Broker) Close() error {
	return b.client.Close()
}

func (b *Broker) key(channel string) string {
	return b.keyPrefix + channel
}

// Publish implements broker.Broker.
func (b *Broker) Publish(ctx context.Context, channel string, message string) error {
	if err := b.client.Publish(ctx, b.key(channel), message).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", b.key(channel), err)
	}
	return nil
}

// Subscribe implements broker.Broker. It returns once Redis has confirmed
// the subscription, so a Publish that follows is guaranteed to be seen.
func (b *Broker) Subscribe(ctx context.Context, channel string) (broker.Subscription, error) {
	key := b.key(channel)
	ps := b.client.Subscribe(ctx, key)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", key, err)
	}

	sub := &subscription{
		id:      uuid.NewString(),
		channel: channel,
		ps:      ps,
		msgs:    ps.Channel(redis.WithChannelSize(b.bufSize)),
		done:    make(chan struct{}),
	}
	stop := context.AfterFunc(ctx, func() { _ = sub.Close() })
	sub.stopMu.Lock()
	sub.stop = stop
	sub.stopMu.Unlock()
	return sub, nil
}

type subscription struct {
	id      string
	channel string
	ps      *redis.PubSub
	msgs    <-chan *redis.Message

	stopMu sync.Mutex
	stop   func() bool

	once sync.Once
	done chan struct{}
}

func (s *subscription) ID() string      { return s.id }
func (s *subscription) Channel() string { return s.channel }

// Next implements broker.Subscription.
func (s *subscription) Next(ctx context.Context) (string, error) {
	select {
	case <-s.done:
		return "", io.EOF
	default:
	}
	select {
	case msg, ok := <-s.msgs:
		if !ok {
			return "", io.EOF
		}
		return msg.Payload, nil
	case <-s.done:
		return "", io.EOF
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close implements broker.Subscription.
func (s *subscription) Close() error {
	s.stopMu.Lock()
	stop := s.stop
	s.stopMu.Unlock()
	if stop != nil {
		stop()
	}
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}

var (
	_ broker.Broker       = (*Broker)(nil)
	_ broker.Subscription = (*subscription)(nil)
)
