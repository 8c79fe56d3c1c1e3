// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ggoodman/graphql-server-go/auth"
	"github.com/joeshaw/envdecode"
)

// Config for the gqlsubs binary. Defaults are provided via struct tags.
type Config struct {
	ListenAddr      string `env:"GQL_LISTEN_ADDR,default=127.0.0.1:9002"`
	Endpoint        string `env:"GQL_ENDPOINT,default=/graphql"`
	PublishEndpoint string `env:"GQL_PUBLISH_ENDPOINT,default=/graphql/publish"`
	// PlaygroundPath enables the GraphiQL page when set.
	PlaygroundPath string `env:"GQL_PLAYGROUND_PATH"`

	Policy auth.BlockPolicy `env:"GQL_AUTH_POLICY,default=block_unauthenticated"`

	// SecretEnv names the variable that holds the HMAC secret.
	SecretEnv  string `env:"GQL_JWT_SECRET_ENV,default=JWT_SECRET"`
	SecretFile string `env:"GQL_JWT_SECRET_FILE"`
	JWKSURL    string `env:"GQL_JWKS_URL"`
	OIDCIssuer string `env:"GQL_OIDC_ISSUER"`

	// RedisAddr selects the Redis broker when set.
	RedisAddr   string `env:"REDIS_ADDR"`
	RedisPrefix string `env:"GQL_REDIS_PREFIX,default=gql:pubsub:"`

	LogLevel  string `env:"GQL_LOG_LEVEL,default=info"`
	LogFormat string `env:"GQL_LOG_FORMAT,default=text"`

	// PublishToken is the bearer token the publish command sends.
	PublishToken string `env:"GQL_PUBLISH_TOKEN"`
}

// Load decodes Config from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects contradictory settings.
func (c *Config) Validate() error {
	if c.JWKSURL != "" && c.OIDCIssuer != "" {
		return errors.New("GQL_JWKS_URL and GQL_OIDC_ISSUER are mutually exclusive")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return l, nil
}

// Logger builds the process logger described by LogLevel and LogFormat.
func (c *Config) Logger() *slog.Logger {
	level, _ := c.Level()
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
