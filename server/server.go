// Package server exposes a GraphQL schema over HTTP with bearer-token
// admission control and broker-backed subscriptions.
//
// Queries and mutations are POSTed as JSON. Subscriptions are streamed as
// server-sent events: each result is an "event: next" frame and the stream
// ends with "event: complete". A second endpoint serves the built-in
// publish mutation, which lets trusted services push messages into the
// broker.
//
// A queries server deployed apart from its subscriptions server is built
// with WithPublisher and no broker: resolvers calling Publish then forward
// to the remote publish endpoint.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/graphql-server-go/auth"
	"github.com/ggoodman/graphql-server-go/broker"
	"github.com/ggoodman/graphql-server-go/internal/logctx"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	graphql "github.com/graph-gophers/graphql-go"
)

var (
	jsonMediaType        = contenttype.NewMediaType("application/json")
	eventStreamMediaType = contenttype.NewMediaType("text/event-stream")
	responseMediaTypes   = []contenttype.MediaType{jsonMediaType, eventStreamMediaType}
)

const (
	defaultEndpoint        = "/graphql"
	defaultPublishEndpoint = "/graphql/publish"
	keepAliveInterval      = 15 * time.Second
	maxBodyBytes           = 1 << 20
)

// Option configures a Server.
type Option func(*config)

type config struct {
	endpoint        string
	publishEndpoint string
	policy          auth.BlockPolicy
	verifier        auth.Verifier
	logger          *slog.Logger
	publishClaims   auth.Claims
	keepAlive       time.Duration
	publisher       broker.Publisher
	playground      string
}

// WithEndpoint sets the path of the main GraphQL endpoint.
func WithEndpoint(path string) Option {
	return func(c *config) { c.endpoint = path }
}

// WithPublishEndpoint sets the path of the publish endpoint. An empty path
// disables it.
func WithPublishEndpoint(path string) Option {
	return func(c *config) { c.publishEndpoint = path }
}

// WithPolicy sets the admission policy of the main endpoint. The publish
// endpoint always uses auth.BlockUnauthenticated.
func WithPolicy(p auth.BlockPolicy) Option {
	return func(c *config) { c.policy = p }
}

// WithVerifier replaces HMAC verification against the secret source.
func WithVerifier(v auth.Verifier) Option {
	return func(c *config) { c.verifier = v }
}

// WithLogger sets the logger. If not provided, slog.Default() is used.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithPublishClaims sets the claims a caller of the publish mutation must
// hold. The default is role=graphql_server.
func WithPublishClaims(claims auth.Claims) Option {
	return func(c *config) { c.publishClaims = claims }
}

// WithPublisher routes Publish calls made by resolvers of the main
// endpoint to p instead of the server's broker. Typically p is a
// *publisher.Publisher pointing at a separate subscriptions server.
func WithPublisher(p broker.Publisher) Option {
	return func(c *config) { c.publisher = p }
}

// WithPlayground serves a GraphiQL page at path, behind the same policy as
// the main endpoint. It is disabled by default.
func WithPlayground(path string) Option {
	return func(c *config) { c.playground = path }
}

// WithKeepAlive sets the interval between SSE keepalive comments.
func WithKeepAlive(d time.Duration) Option {
	return func(c *config) { c.keepAlive = d }
}

// Server is an http.Handler serving a GraphQL schema.
type Server struct {
	router        chi.Router
	schema        *graphql.Schema
	publishSchema *graphql.Schema
	broker        broker.Broker
	publisher     broker.Publisher
	keepAlive     time.Duration
	log           *slog.Logger
}

// New assembles a Server for schema. Messages published and subscribed to
// by resolvers go through b. Bearer tokens are verified against the secret
// served by src unless WithVerifier is given. b may be nil only when
// WithPublisher is given; the server then has no subscriptions and no
// publish endpoint.
func New(schema *graphql.Schema, b broker.Broker, src auth.SecretSource, opts ...Option) (*Server, error) {
	if schema == nil {
		return nil, errors.New("server: schema is required")
	}

	cfg := &config{
		endpoint:        defaultEndpoint,
		publishEndpoint: defaultPublishEndpoint,
		policy:          auth.BlockUnauthenticated,
		publishClaims:   auth.Claims{"role": PublishRole},
		keepAlive:       keepAliveInterval,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if b == nil && cfg.publisher == nil {
		return nil, errors.New("server: broker or publisher is required")
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	log := logctx.Wrap(cfg.logger)

	s := &Server{
		schema:    schema,
		broker:    b,
		publisher: cfg.publisher,
		keepAlive: cfg.keepAlive,
		log:       log,
	}

	authOpts := []auth.InterceptorOption{auth.WithLogger(log)}
	if cfg.verifier != nil {
		authOpts = append(authOpts, auth.WithVerifier(cfg.verifier))
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(s.withRequestData)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", healthHandler)

	r.Group(func(r chi.Router) {
		r.Use(auth.NewInterceptor(cfg.policy, src, authOpts...).Wrap)
		r.Use(s.withBroker, s.withPublisher)
		r.Post(cfg.endpoint, s.handlePost(s.schema))
		r.Get(cfg.endpoint, s.handleGet(s.schema))
		if cfg.playground != "" {
			r.Get(cfg.playground, playgroundHandler(cfg.endpoint))
		}
	})

	// The publish endpoint always delivers locally; forwarding it would
	// loop between servers.
	if cfg.publishEndpoint != "" && b != nil {
		ps, err := newPublishSchema(cfg.publishClaims)
		if err != nil {
			return nil, err
		}
		s.publishSchema = ps
		r.Group(func(r chi.Router) {
			r.Use(auth.NewBlockUnauthenticated(src, authOpts...).Wrap)
			r.Use(s.withBroker)
			r.Post(cfg.publishEndpoint, s.handlePost(s.publishSchema))
		})
	}

	s.router = r
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) withRequestData(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(logctx.WithRequestData(r.Context(), &logctx.RequestData{
			RequestID:  uuid.NewString(),
			Method:     r.Method,
			UserAgent:  r.UserAgent(),
			RemoteAddr: r.RemoteAddr,
			Path:       r.URL.Path,
		})))
	})
}

func (s *Server) withBroker(next http.Handler) http.Handler {
	if s.broker == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(broker.WithBroker(r.Context(), s.broker)))
	})
}

func (s *Server) withPublisher(next http.Handler) http.Handler {
	if s.publisher == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(broker.WithPublisher(r.Context(), s.publisher)))
	})
}

// request is the GraphQL-over-HTTP request body.
type request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
}

func (s *Server) handlePost(schema *graphql.Schema) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		ctype, err := contenttype.GetMediaType(r)
		if err != nil || !ctype.Matches(jsonMediaType) {
			writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
			s.log.WarnContext(ctx, "content_type.unsupported")
			return
		}

		accept, _, err := contenttype.GetAcceptableMediaType(r, responseMediaTypes)
		if err != nil {
			writeJSONError(w, http.StatusNotAcceptable, "response must be application/json or text/event-stream")
			s.log.WarnContext(ctx, "accept.unsupported")
			return
		}

		var req request
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			s.log.WarnContext(ctx, "json.decode.fail", slog.String("err", err.Error()))
			return
		}
		if req.Query == "" {
			writeJSONError(w, http.StatusBadRequest, "query is required")
			return
		}

		if accept.Matches(eventStreamMediaType) {
			s.stream(w, r, schema, req)
			return
		}
		s.exec(w, r, schema, req)
	}
}

func (s *Server) handleGet(schema *graphql.Schema) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if _, _, err := contenttype.GetAcceptableMediaType(r, []contenttype.MediaType{eventStreamMediaType}); err != nil {
			writeJSONError(w, http.StatusNotAcceptable, "GET is only served as text/event-stream")
			s.log.WarnContext(ctx, "http.get.unsupported_media_type")
			return
		}

		q := r.URL.Query()
		req := request{Query: q.Get("query"), OperationName: q.Get("operationName")}
		if req.Query == "" {
			writeJSONError(w, http.StatusBadRequest, "query is required")
			return
		}
		if v := q.Get("variables"); v != "" {
			if err := json.Unmarshal([]byte(v), &req.Variables); err != nil {
				writeJSONError(w, http.StatusBadRequest, "variables must be a JSON object")
				return
			}
		}
		s.stream(w, r, schema, req)
	}
}

func (s *Server) exec(w http.ResponseWriter, r *http.Request, schema *graphql.Schema, req request) {
	ctx := r.Context()
	start := time.Now()

	resp := schema.Exec(ctx, req.Query, req.OperationName, req.Variables)

	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.ErrorContext(ctx, "graphql.response.write.fail", slog.String("err", err.Error()))
		return
	}
	s.log.InfoContext(ctx, "graphql.exec",
		slog.String("operation", req.OperationName),
		slog.Int("errors", len(resp.Errors)),
		slog.Duration("dur", time.Since(start)))
}

func (s *Server) stream(w http.ResponseWriter, r *http.Request, schema *graphql.Schema, req request) {
	ctx := r.Context()
	start := time.Now()

	f, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		s.log.ErrorContext(ctx, "sse.flusher.missing")
		return
	}

	results, err := schema.Subscribe(ctx, req.Query, req.OperationName, req.Variables)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		s.log.WarnContext(ctx, "graphql.subscribe.fail", slog.String("err", err.Error()))
		return
	}

	ctx = logctx.WithSubscriptionData(ctx, &logctx.SubscriptionData{SubscriptionID: uuid.NewString()})
	wf := &lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx}

	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	wf.Flush()

	s.log.InfoContext(ctx, "sse.stream.start")

	var ticker <-chan time.Time
	if s.keepAlive > 0 {
		t := time.NewTicker(s.keepAlive)
		defer t.Stop()
		ticker = t.C
	}

	for {
		select {
		case <-ctx.Done():
			s.log.InfoContext(ctx, "sse.stream.cancel", slog.Duration("dur", time.Since(start)))
			return
		case <-ticker:
			if err := writeSSEComment(wf, "keepalive"); err != nil {
				s.log.InfoContext(ctx, "sse.stream.gone", slog.String("err", err.Error()))
				return
			}
		case res, ok := <-results:
			if !ok {
				if err := writeSSEEvent(wf, "complete", nil); err != nil {
					s.log.InfoContext(ctx, "sse.stream.gone", slog.String("err", err.Error()))
				}
				s.log.InfoContext(ctx, "sse.stream.end", slog.Duration("dur", time.Since(start)))
				return
			}
			payload, err := json.Marshal(res)
			if err != nil {
				s.log.ErrorContext(ctx, "sse.encode.fail", slog.String("err", err.Error()))
				return
			}
			if err := writeSSEEvent(wf, "next", payload); err != nil {
				s.log.InfoContext(ctx, "sse.stream.gone", slog.String("err", err.Error()))
				return
			}
			s.log.DebugContext(ctx, "sse.message.deliver")
		}
	}
}

// writeJSONError emits a GraphQL-shaped error body for transport-level
// rejections that happen before execution starts.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"errors": []map[string]any{{"message": msg}}})
}
