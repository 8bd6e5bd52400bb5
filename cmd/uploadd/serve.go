package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/input-output-hk/catalyst-forge-libs/upload/coordinator"
	"github.com/input-output-hk/catalyst-forge-libs/upload/internal/bootstrap"
	"github.com/input-output-hk/catalyst-forge-libs/upload/internal/objectkey"
	"github.com/input-output-hk/catalyst-forge-libs/upload/internal/objectstore"
	"github.com/input-output-hk/catalyst-forge-libs/upload/server"
	"github.com/input-output-hk/catalyst-forge-libs/upload/sigv4"
)

const metricsNamespace = "upload"

func newServeCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the coordinator HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, root)
		},
	}
	cmd.Flags().String("addr", "", "listen address")
	_ = root.v.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	return cmd
}

func serve(ctx context.Context, root *rootOptions) error {
	cfg, err := root.load()
	if err != nil {
		return err
	}
	if err := cfg.ValidateServer(); err != nil {
		return err
	}
	logger, err := bootstrap.Logger(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}

	src, err := bootstrap.CredentialSource(ctx, cfg.Store)
	if err != nil {
		return err
	}
	creds, err := src.Resolve(ctx)
	if err != nil {
		return err
	}
	logger.Info("resolved store credentials", "credentials", creds.String())

	signer, err := sigv4.New(creds, sigv4.WithMaxExpiry(cfg.Upload.MaxPresignExpiry))
	if err != nil {
		return err
	}
	objects, err := objectstore.New(objectstore.Config{
		Endpoint:      cfg.Store.Endpoint,
		Bucket:        cfg.Store.Bucket,
		PublicBaseURL: cfg.Store.PublicBaseURL,
	}, signer, objectstore.WithLogger(logger))
	if err != nil {
		return err
	}

	sessions, err := bootstrap.OpenSessions(ctx, cfg.DB, logger)
	if err != nil {
		return err
	}
	defer sessions.Close()

	sessionCache, cachePing, closeCache := bootstrap.SessionCache(cfg.Redis)
	defer closeCache()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	observer, err := coordinator.NewPrometheusObserver(metricsNamespace, reg)
	if err != nil {
		return err
	}

	coord, err := coordinator.New(sessions.Store, objects,
		coordinator.WithMaxFileSize(cfg.Upload.MaxFileSize),
		coordinator.WithPartURLExpiry(cfg.Upload.PartURLExpiry),
		coordinator.WithKeyGenerator(objectkey.New(cfg.Upload.KeyPrefix)),
		coordinator.WithAllowedContentTypes(cfg.Upload.ContentTypes...),
		coordinator.WithCache(sessionCache, coordinator.DefaultCacheTTL),
		coordinator.WithObserver(observer),
		coordinator.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	auth, err := server.NewJWTAuthenticator([]byte(cfg.Auth.JWTKey))
	if err != nil {
		return err
	}

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithMetrics(reg),
		server.WithCORSOrigins(cfg.Server.CORSOrigins...),
		server.WithHealthCheck("sessions", sessions.Ping),
	}
	if cachePing != nil {
		opts = append(opts, server.WithHealthCheck("cache", cachePing))
	}
	srv, err := server.New(coord, auth, opts...)
	if err != nil {
		return err
	}

	logger.Info("starting uploadd",
		"addr", cfg.Server.Addr,
		"bucket", cfg.Store.Bucket,
		"db", cfg.DB.Driver,
		"cache", cachePing != nil,
	)
	return srv.ListenAndServe(ctx, cfg.Server.Addr, cfg.Server.ShutdownTimeout)
}
