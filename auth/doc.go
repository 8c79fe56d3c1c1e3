// Package auth decides, for every inbound request, what the request's
// bearer credentials are worth and whether the request may proceed.
//
// The pipeline is: ExtractBearerToken pulls the candidate token out of the
// Authorization header; a Verifier checks it (by default HMAC against a
// SecretSource); a Classifier combines both into a State, one of
// Authorised(claims), InvalidToken or NoToken; and an Interceptor applies a
// BlockPolicy to that State, either forwarding the request with the State
// attached to its context or rejecting it (401, or 500 when the State could
// not be computed at all).
//
// Example:
//
//	src := auth.EnvSecret("JWT_SECRET")
//	mw := auth.NewBlockUnauthenticated(src, auth.WithLogger(logger))
//	http.Handle("/graphql", mw.Wrap(graphqlHandler))
//
//	// In a resolver:
//	st, ok := auth.FromContext(ctx)
//	if !ok || !st.HasClaims(auth.Claims{"role": "admin"}) { ... }
//
// # Policies
//
// AllowAll forwards everything. BlockUnauthenticated forwards only verified
// tokens. AllowMissing forwards verified tokens and requests without a
// token, rejecting only tokens that fail verification.
//
// # Secrets
//
// StaticSecret, EnvSecret and FileSecret (reloaded on change) implement
// SecretSource. When a secret cannot be obtained the Interceptor fails
// closed with a 500. NewJWKSVerifier and NewDiscoveryVerifier verify
// asymmetric tokens instead and are installed with WithVerifier.
package auth
