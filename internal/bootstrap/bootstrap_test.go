package bootstrap

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/input-output-hk/catalyst-forge-libs/upload/errors"
	"github.com/input-output-hk/catalyst-forge-libs/upload/internal/cache"
	"github.com/input-output-hk/catalyst-forge-libs/upload/internal/config"
	"github.com/input-output-hk/catalyst-forge-libs/upload/internal/credentials"
	"github.com/input-output-hk/catalyst-forge-libs/upload/internal/logging"
	"github.com/input-output-hk/catalyst-forge-libs/upload/sigv4"
	"github.com/input-output-hk/catalyst-forge-libs/upload/store"
)

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := Logger(config.LogConfig{Level: "info", Format: "json"}, &buf)
	require.NoError(t, err)
	logger.Info("hello")
	assert.Contains(t, buf.String(), `"msg":"hello"`)

	_, err = Logger(config.LogConfig{Level: "info", Format: "xml"}, &buf)
	assert.True(t, errors.IsConfiguration(err))
}

func TestCredentialSource_Static(t *testing.T) {
	src, err := CredentialSource(context.Background(), config.StoreConfig{
		AccessKeyID:     "AK",
		SecretAccessKey: "SK",
		Region:          "auto",
		Service:         "s3",
	})
	require.NoError(t, err)

	creds, err := src.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AK", creds.AccessKeyID)
	assert.Equal(t, "auto", creds.Region)
}

func TestOpenSessions(t *testing.T) {
	s, err := OpenSessions(context.Background(), config.DBConfig{Driver: "memory"}, logging.Discard())
	require.NoError(t, err)
	assert.IsType(t, &store.MemoryStore{}, s.Store)
	assert.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, s.Close())

	_, err = OpenSessions(context.Background(), config.DBConfig{Driver: "sqlite"}, logging.Discard())
	assert.True(t, errors.IsConfiguration(err))
}

func TestSessionCache_WithoutRedis(t *testing.T) {
	c, ping, closeFn := SessionCache(config.RedisConfig{})
	assert.IsType(t, cache.Null{}, c)
	assert.Nil(t, ping)
	assert.NoError(t, closeFn())
}

func TestCredentialSource_Chain(t *testing.T) {
	src, err := CredentialSource(context.Background(), config.StoreConfig{Region: "auto", Service: "s3"})
	require.NoError(t, err)
	assert.IsType(t, &credentials.Chain{}, src)
}

func TestS3Client(t *testing.T) {
	creds := sigv4.Credentials{AccessKeyID: "AK", SecretAccessKey: "SK", Region: "auto", Service: "s3"}
	c, err := S3Client(context.Background(), config.StoreConfig{Endpoint: "http://localhost:9000", Region: "auto"}, creds)
	require.NoError(t, err)
	assert.NotNil(t, c)
}
