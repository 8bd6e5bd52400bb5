package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/input-output-hk/catalyst-forge-libs/upload/errors"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "auto", cfg.Store.Region)
	assert.Equal(t, "s3", cfg.Store.Service)
	assert.Equal(t, int64(20<<30), cfg.Upload.MaxFileSize)
	assert.Equal(t, time.Hour, cfg.Upload.PartURLExpiry)
	assert.Equal(t, "videos", cfg.Upload.KeyPrefix)
	assert.Equal(t, []string{"video/"}, cfg.Upload.ContentTypes)
	assert.Equal(t, 24*time.Hour, cfg.Reclaim.Grace)
	assert.Equal(t, "memory", cfg.DB.Driver)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("UPLOAD_STORE_BUCKET", "media")
	t.Setenv("UPLOAD_UPLOAD_PART_URL_EXPIRY", "15m")
	t.Setenv("UPLOAD_RECLAIM_GRACE", "48h")
	t.Setenv("UPLOAD_DB_MAX_OPEN_CONNS", "20")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "media", cfg.Store.Bucket)
	assert.Equal(t, 15*time.Minute, cfg.Upload.PartURLExpiry)
	assert.Equal(t, 48*time.Hour, cfg.Reclaim.Grace)
	assert.Equal(t, 20, cfg.DB.MaxOpenConns)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "upload.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  endpoint: https://acct.r2.cloudflarestorage.com
  bucket: media
upload:
  key_prefix: clips
  content_types: ["video/", "audio/"]
`), 0o600))
	t.Setenv("UPLOAD_STORE_BUCKET", "override")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://acct.r2.cloudflarestorage.com", cfg.Store.Endpoint)
	assert.Equal(t, "override", cfg.Store.Bucket)
	assert.Equal(t, "clips", cfg.Upload.KeyPrefix)
	assert.Equal(t, []string{"video/", "audio/"}, cfg.Upload.ContentTypes)
}

func TestLoad_BadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "upload.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store: [unterminated"), 0o600))

	_, err := Load(path)
	assert.True(t, errors.IsConfiguration(err))
}

func TestValidateServer(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		cfg.Store.Endpoint = "https://example.com"
		cfg.Store.Bucket = "media"
		cfg.Store.PublicBaseURL = "https://cdn.example.com"
		cfg.Store.AccessKeyID = "AK"
		cfg.Store.SecretAccessKey = "SK"
		cfg.Auth.JWTKey = "k"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "secret id instead of keys", mutate: func(c *Config) {
			c.Store.AccessKeyID, c.Store.SecretAccessKey, c.Store.SecretID = "", "", "upload/store"
		}},
		{name: "no bucket", mutate: func(c *Config) { c.Store.Bucket = "" }, wantErr: "store.bucket"},
		{name: "no credentials", mutate: func(c *Config) { c.Store.SecretAccessKey = "" }, wantErr: "store.secret_id"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.DB.Driver = "postgres" }, wantErr: "db.dsn"},
		{name: "unknown driver", mutate: func(c *Config) { c.DB.Driver = "sqlite" }, wantErr: "unknown db.driver"},
		{name: "part url expiry at signer limit", mutate: func(c *Config) {
			c.Upload.PartURLExpiry, c.Upload.MaxPresignExpiry = 2*time.Hour, 2*time.Hour
		}},
		{name: "part url expiry beyond signer limit", mutate: func(c *Config) {
			c.Upload.PartURLExpiry, c.Upload.MaxPresignExpiry = 2*time.Hour, time.Hour
		}, wantErr: "exceeds upload.max_presign_expiry"},
		{name: "zero presign limit", mutate: func(c *Config) { c.Upload.MaxPresignExpiry = 0 }, wantErr: "must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.ValidateServer()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.IsConfiguration(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "upload.env")
	require.NoError(t, os.WriteFile(path, []byte("UPLOAD_STORE_BUCKET=from-dotenv\nUPLOAD_STORE_REGION=eu-west-1\n"), 0o600))

	t.Setenv("UPLOAD_STORE_REGION", "already-set")
	t.Setenv("UPLOAD_STORE_BUCKET", "")
	require.NoError(t, os.Unsetenv("UPLOAD_STORE_BUCKET"))
	t.Cleanup(func() { _ = os.Unsetenv("UPLOAD_STORE_BUCKET") })

	require.NoError(t, LoadEnvFile(path))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Store.Bucket)
	assert.Equal(t, "already-set", cfg.Store.Region)
}

func TestLoadEnvFile_Missing(t *testing.T) {
	t.Chdir(t.TempDir())
	assert.NoError(t, LoadEnvFile(""))

	err := LoadEnvFile(filepath.Join(t.TempDir(), "missing.env"))
	assert.True(t, errors.IsConfiguration(err))
}
