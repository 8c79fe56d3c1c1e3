// Package publisher pushes messages into a remote subscriptions server
// through its publish mutation. The caller supplies a bearer token that
// carries the role the server requires (role=graphql_server by default).
package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ggoodman/graphql-server-go/broker"
)

// ErrPublishFailed is returned when the server refuses a publish, either at
// the HTTP layer (usually authentication) or with GraphQL errors.
var ErrPublishFailed = errors.New("publish failed")

const publishMutation = `mutation Publish($channel: String!, $data: String!) { publish(channel: $channel, data: $data) }`

// Option configures a Publisher.
type Option func(*Publisher)

// WithHTTPClient sets the client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Publisher) { p.client = c }
}

// WithLogger sets the logger. If not provided, logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(p *Publisher) { p.log = l }
}

// Publisher sends publish mutations to one endpoint. It is safe for
// concurrent use. Pass it to server.WithPublisher so resolvers of a
// queries server publish into a remote subscriptions server.
type Publisher struct {
	endpoint string
	token    string
	client   *http.Client
	log      *slog.Logger
}

// New returns a Publisher for the publish endpoint URL (for example
// http://localhost:9002/graphql/publish).
func New(endpoint, token string, opts ...Option) *Publisher {
	p := &Publisher{
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: 10 * time.Second},
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var _ broker.Publisher = (*Publisher)(nil)

type publishResponse struct {
	Data *struct {
		Publish bool `json:"publish"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Publish sends data on channel.
func (p *Publisher) Publish(ctx context.Context, channel, data string) error {
	body, err := json.Marshal(map[string]any{
		"query":         publishMutation,
		"operationName": "Publish",
		"variables":     map[string]string{"channel": channel, "data": data},
	})
	if err != nil {
		return fmt.Errorf("encode publish request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build publish request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	res, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("publish request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, res.Body)
		p.log.WarnContext(ctx, "publish.reject", slog.String("channel", channel), slog.Int("status", res.StatusCode))
		return fmt.Errorf("%w: status %d", ErrPublishFailed, res.StatusCode)
	}

	var out publishResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode publish response: %w", err)
	}
	if len(out.Errors) > 0 {
		p.log.WarnContext(ctx, "publish.error", slog.String("channel", channel), slog.String("err", out.Errors[0].Message))
		return fmt.Errorf("%w: %s", ErrPublishFailed, out.Errors[0].Message)
	}
	if out.Data == nil || !out.Data.Publish {
		return fmt.Errorf("%w: server did not acknowledge", ErrPublishFailed)
	}

	p.log.DebugContext(ctx, "publish.ok", slog.String("channel", channel))
	return nil
}
