// Package bootstrap builds the runtime dependencies shared by the binaries
// from a loaded configuration.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/redis/go-redis/v9"

	"github.com/input-output-hk/catalyst-forge-libs/upload/errors"
	"github.com/input-output-hk/catalyst-forge-libs/upload/internal/cache"
	"github.com/input-output-hk/catalyst-forge-libs/upload/internal/config"
	"github.com/input-output-hk/catalyst-forge-libs/upload/internal/credentials"
	"github.com/input-output-hk/catalyst-forge-libs/upload/internal/logging"
	"github.com/input-output-hk/catalyst-forge-libs/upload/sigv4"
	"github.com/input-output-hk/catalyst-forge-libs/upload/store"
)

// Logger builds the process logger and installs it as the slog default.
func Logger(cfg config.LogConfig, w io.Writer) (*slog.Logger, error) {
	logger, err := logging.New(cfg.Level, cfg.Format, w)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return logger, nil
}

// CredentialSource picks where store credentials come from: a Secrets
// Manager secret when store.secret_id is set, the static key pair when one
// is configured, otherwise the default AWS credential chain.
func CredentialSource(ctx context.Context, cfg config.StoreConfig) (credentials.Source, error) {
	if cfg.SecretID == "" && cfg.AccessKeyID == "" && cfg.SecretAccessKey == "" {
		return credentials.NewChain(cfg.Region, cfg.Service), nil
	}
	if cfg.SecretID == "" {
		return credentials.Static(sigv4.Credentials{
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			Region:          cfg.Region,
			Service:         cfg.Service,
		}), nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.NewError("credentials", errors.ErrConfiguration).
			WithMessage(fmt.Sprintf("load aws config: %v", err))
	}
	return credentials.NewSecretsManager(secretsmanager.NewFromConfig(awsCfg), cfg.SecretID, cfg.Region, cfg.Service), nil
}

// Sessions is an opened session store with its health check and closer.
type Sessions struct {
	Store store.SessionStore
	Ping  func(ctx context.Context) error
	Close func() error
}

// OpenSessions opens the session store selected by db.driver and migrates
// the schema for postgres.
func OpenSessions(ctx context.Context, cfg config.DBConfig, logger *slog.Logger) (*Sessions, error) {
	switch cfg.Driver {
	case "memory":
		logger.Warn("using in-memory session store; sessions are lost on restart")
		return &Sessions{
			Store: store.NewMemoryStore(),
			Ping:  func(context.Context) error { return nil },
			Close: func() error { return nil },
		}, nil
	case "postgres":
		db, err := store.NewDB(store.DBConfig{
			DSN:          cfg.DSN,
			MaxOpenConns: cfg.MaxOpenConns,
			MaxIdleConns: cfg.MaxIdleConns,
		})
		if err != nil {
			return nil, errors.NewError("openSessions", errors.ErrConfiguration).WithMessage(err.Error())
		}
		gs := store.NewGormStore(db, store.WithGormLogger(logger))
		if err := gs.Migrate(ctx); err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		return &Sessions{Store: gs, Ping: gs.Ping, Close: sqlDB.Close}, nil
	default:
		return nil, errors.NewError("openSessions", errors.ErrConfiguration).
			WithMessage(fmt.Sprintf("unknown db.driver %q", cfg.Driver))
	}
}

// SessionCache returns a redis cache when redis.addr is set, otherwise a
// cache that stores nothing. The returned ping is nil without redis.
func SessionCache(cfg config.RedisConfig) (cache.SessionCache, func(context.Context) error, func() error) {
	if cfg.Addr == "" {
		return cache.Null{}, nil, func() error { return nil }
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	c := cache.NewRedis(rdb, "")
	return c, c.Ping, rdb.Close
}

// S3Client builds an SDK client against the configured S3-compatible
// endpoint with path-style addressing.
func S3Client(ctx context.Context, cfg config.StoreConfig, creds sigv4.Credentials) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			awscreds.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, errors.NewError("s3Client", errors.ErrConfiguration).
			WithMessage(fmt.Sprintf("load aws config: %v", err))
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String(cfg.Endpoint)
	}), nil
}
