package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ggoodman/graphql-server-go/auth"
	"github.com/ggoodman/graphql-server-go/broker"
	"github.com/ggoodman/graphql-server-go/broker/memory"
	"github.com/ggoodman/graphql-server-go/broker/redis"
	"github.com/ggoodman/graphql-server-go/internal/config"
	"github.com/ggoodman/graphql-server-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the subscriptions server",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		if flags.Changed("addr") {
			cfg.ListenAddr, _ = flags.GetString("addr")
		}
		if flags.Changed("policy") {
			cfg.Policy = servePolicy
		}
		if flags.Changed("redis-addr") {
			cfg.RedisAddr, _ = flags.GetString("redis-addr")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

var servePolicy auth.BlockPolicy

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (env: GQL_LISTEN_ADDR)")
	serveCmd.Flags().Var(&servePolicy, "policy", "allow_all | block_unauthenticated | allow_missing (env: GQL_AUTH_POLICY)")
	serveCmd.Flags().String("redis-addr", "", "Use the Redis broker at this address (env: REDIS_ADDR)")
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := cfg.Logger()

	src, closeSrc, err := secretSource(cfg, log)
	if err != nil {
		return err
	}
	defer closeSrc()

	opts := []server.Option{
		server.WithLogger(log),
		server.WithPolicy(cfg.Policy),
		server.WithEndpoint(cfg.Endpoint),
		server.WithPublishEndpoint(cfg.PublishEndpoint),
		server.WithPlayground(cfg.PlaygroundPath),
	}
	switch {
	case cfg.JWKSURL != "":
		v, err := auth.NewJWKSVerifier(ctx, cfg.JWKSURL)
		if err != nil {
			return fmt.Errorf("jwks verifier: %w", err)
		}
		opts = append(opts, server.WithVerifier(v))
	case cfg.OIDCIssuer != "":
		v, err := auth.NewDiscoveryVerifier(ctx, cfg.OIDCIssuer)
		if err != nil {
			return fmt.Errorf("oidc verifier: %w", err)
		}
		opts = append(opts, server.WithVerifier(v))
	}

	b, closeBroker, err := newBroker(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBroker()

	schema, err := server.NewSubscriptionsSchema()
	if err != nil {
		return err
	}
	h, err := server.New(schema, b, src, opts...)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server.listen", slog.String("addr", cfg.ListenAddr), slog.String("policy", cfg.Policy.String()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info("server.shutdown")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func secretSource(cfg *config.Config, log *slog.Logger) (auth.SecretSource, func(), error) {
	if cfg.SecretFile == "" {
		return auth.EnvSecret(cfg.SecretEnv), func() {}, nil
	}
	fs, err := auth.NewFileSecret(cfg.SecretFile, auth.WithFileSecretLogger(log))
	if err != nil {
		return nil, nil, fmt.Errorf("secret file: %w", err)
	}
	return fs, func() { _ = fs.Close() }, nil
}

func newBroker(ctx context.Context, cfg *config.Config) (broker.Broker, func(), error) {
	if cfg.RedisAddr == "" {
		b := memory.New()
		return b, func() { _ = b.Close() }, nil
	}
	b, err := redis.New(ctx, redis.Config{Addr: cfg.RedisAddr, KeyPrefix: cfg.RedisPrefix})
	if err != nil {
		return nil, nil, err
	}
	return b, func() { _ = b.Close() }, nil
}
