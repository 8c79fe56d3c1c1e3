package auth

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/ggoodman/graphql-server-go/internal/logctx"
)

// Interceptor classifies each request before it reaches the wrapped handler
// and either forwards it, with its State attached to the request context,
// or answers it directly:
//
//	state \ policy   AllowAll   BlockUnauthenticated   AllowMissing
//	Authorised       forward    forward                forward
//	InvalidToken     forward    401                    401
//	NoToken          forward    401                    forward
//	error            500        500                    500
//
// Rejections carry an empty body and never invoke the wrapped handler.
// An Interceptor is immutable and safe for concurrent use.
type Interceptor struct {
	policy     BlockPolicy
	classifier *Classifier
	log        *slog.Logger
}

// InterceptorOption configures an Interceptor.
type InterceptorOption func(*interceptorConfig)

type interceptorConfig struct {
	logger   *slog.Logger
	verifier Verifier
}

// WithLogger sets the logger. If not provided, logs are discarded.
func WithLogger(l *slog.Logger) InterceptorOption {
	return func(c *interceptorConfig) { c.logger = l }
}

// WithVerifier replaces the secret-based verifier, e.g. with a JWKS verifier.
func WithVerifier(v Verifier) InterceptorOption {
	return func(c *interceptorConfig) { c.verifier = v }
}

// NewInterceptor builds an Interceptor enforcing policy. Tokens are
// verified against the secret served by src unless WithVerifier is given.
func NewInterceptor(policy BlockPolicy, src SecretSource, opts ...InterceptorOption) *Interceptor {
	cfg := &interceptorConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.verifier == nil {
		cfg.verifier = NewSecretVerifier(src)
	}
	return &Interceptor{
		policy:     policy,
		classifier: NewClassifier(cfg.verifier),
		log:        logctx.Wrap(cfg.logger),
	}
}

// NewAllowAll forwards every request, attaching its State.
func NewAllowAll(src SecretSource, opts ...InterceptorOption) *Interceptor {
	return NewInterceptor(AllowAll, src, opts...)
}

// NewBlockUnauthenticated forwards only requests with a verified token.
func NewBlockUnauthenticated(src SecretSource, opts ...InterceptorOption) *Interceptor {
	return NewInterceptor(BlockUnauthenticated, src, opts...)
}

// NewAllowMissing rejects invalid tokens but forwards requests without one.
func NewAllowMissing(src SecretSource, opts ...InterceptorOption) *Interceptor {
	return NewInterceptor(AllowMissing, src, opts...)
}

// Policy reports the policy fixed at construction.
func (i *Interceptor) Policy() BlockPolicy { return i.policy }

// Wrap returns next guarded by the interceptor. Its signature matches the
// func(http.Handler) http.Handler middleware convention.
func (i *Interceptor) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		// An outer interceptor already classified this request; apply our
		// policy to its state rather than computing a second one.
		state, attached := FromContext(ctx)
		if !attached {
			var err error
			state, err = i.classifier.Classify(ctx, r.Header)
			if err != nil {
				i.log.ErrorContext(ctx, "auth.classify.fail", slog.String("err", err.Error()))
				reject(w, http.StatusInternalServerError)
				return
			}
		}

		ctx = logctx.WithAuthData(ctx, &logctx.AuthData{Status: state.Status().String(), Policy: i.policy.String()})

		if !i.policy.Admits(state) {
			i.log.DebugContext(ctx, "auth.reject")
			reject(w, http.StatusUnauthorized)
			return
		}

		i.log.DebugContext(ctx, "auth.forward")
		if !attached {
			ctx = WithState(ctx, state)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func reject(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Length", "0")
	w.WriteHeader(status)
}
