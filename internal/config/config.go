// Package config loads binary configuration from a file and UPLOAD_ environment variables.
package config

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/input-output-hk/catalyst-forge-libs/upload/errors"
)

// EnvPrefix prefixes every environment variable, e.g. UPLOAD_STORE_BUCKET.
const EnvPrefix = "UPLOAD"

// Config is the full binary configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Store   StoreConfig   `mapstructure:"store"`
	DB      DBConfig      `mapstructure:"db"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Upload  UploadConfig  `mapstructure:"upload"`
	Reclaim ReclaimConfig `mapstructure:"reclaim"`
	Client  ClientConfig  `mapstructure:"client"`
	Log     LogConfig     `mapstructure:"log"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig configures caller authentication.
type AuthConfig struct {
	JWTKey string `mapstructure:"jwt_key"`
}

// StoreConfig describes the object store and its credentials.
type StoreConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Service         string `mapstructure:"service"`
	Bucket          string `mapstructure:"bucket"`
	PublicBaseURL   string `mapstructure:"public_base_url"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SecretID        string `mapstructure:"secret_id"`
}

// DBConfig selects the session store.
type DBConfig struct {
	Driver       string `mapstructure:"driver"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// RedisConfig enables the session cache when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// UploadConfig holds coordinator limits.
type UploadConfig struct {
	MaxFileSize      int64         `mapstructure:"max_file_size"`
	PartURLExpiry    time.Duration `mapstructure:"part_url_expiry"`
	MaxPresignExpiry time.Duration `mapstructure:"max_presign_expiry"`
	KeyPrefix        string        `mapstructure:"key_prefix"`
	ContentTypes     []string      `mapstructure:"content_types"`
}

// ReclaimConfig holds orphan reclamation thresholds.
type ReclaimConfig struct {
	Grace time.Duration `mapstructure:"grace"`
	Stale time.Duration `mapstructure:"stale"`
	Rate  float64       `mapstructure:"rate"`
}

// ClientConfig configures uploadctl.
type ClientConfig struct {
	CoordinatorURL   string        `mapstructure:"coordinator_url"`
	Token            string        `mapstructure:"token"`
	PartSize         int64         `mapstructure:"part_size"`
	PartConcurrency  int           `mapstructure:"part_concurrency"`
	FileConcurrency  int           `mapstructure:"file_concurrency"`
	MaxRetries       int           `mapstructure:"max_retries"`
	AttemptTimeout   time.Duration `mapstructure:"attempt_timeout"`
	AbortOnPartError bool          `mapstructure:"abort_on_part_error"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var defaults = map[string]any{
	"server.addr":                ":8080",
	"server.cors_origins":        []string{},
	"server.shutdown_timeout":    15 * time.Second,
	"auth.jwt_key":               "",
	"store.endpoint":             "",
	"store.region":               "auto",
	"store.service":              "s3",
	"store.bucket":               "",
	"store.public_base_url":      "",
	"store.access_key_id":        "",
	"store.secret_access_key":    "",
	"store.secret_id":            "",
	"db.driver":                  "memory",
	"db.dsn":                     "",
	"db.max_open_conns":          10,
	"db.max_idle_conns":          5,
	"redis.addr":                 "",
	"redis.password":             "",
	"redis.db":                   0,
	"upload.max_file_size":       int64(20 << 30),
	"upload.part_url_expiry":     time.Hour,
	"upload.max_presign_expiry":  time.Hour,
	"upload.key_prefix":          "videos",
	"upload.content_types":       []string{"video/"},
	"reclaim.grace":              24 * time.Hour,
	"reclaim.stale":              24 * time.Hour,
	"reclaim.rate":               10.0,
	"client.coordinator_url":     "http://localhost:8080",
	"client.token":               "",
	"client.part_size":           int64(8 << 20),
	"client.part_concurrency":    4,
	"client.file_concurrency":    2,
	"client.max_retries":         5,
	"client.attempt_timeout":     5 * time.Minute,
	"client.abort_on_part_error": false,
	"log.level":                  "info",
	"log.format":                 "json",
}

// New returns a viper instance with defaults and environment binding applied.
// Every key has a default so environment variables are visible to Unmarshal.
func New() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// DefaultEnvFile is read by LoadEnvFile when no path is given.
const DefaultEnvFile = ".env"

// LoadEnvFile copies KEY=VALUE pairs from a dotenv file into the process
// environment without overriding variables already set. An empty path reads
// DefaultEnvFile if it exists; an explicit path must exist.
func LoadEnvFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = DefaultEnvFile
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && stderrors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return errors.NewError("config", errors.ErrConfiguration).
			WithMessage(fmt.Sprintf("read %s: %v", path, err))
	}
	return nil
}

// Load reads the optional config file at path (any format viper supports)
// and overlays environment variables.
func Load(path string) (*Config, error) {
	return LoadWith(New(), path)
}

// LoadWith is Load on a caller-supplied viper instance, so flags can be bound first.
func LoadWith(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !stderrors.As(err, &notFound) {
				return nil, errors.NewError("config", errors.ErrConfiguration).
					WithMessage(fmt.Sprintf("read %s: %v", path, err))
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.NewError("config", errors.ErrConfiguration).
			WithMessage(err.Error())
	}
	return &cfg, nil
}

// ValidateServer checks the settings uploadd cannot start without.
func (c *Config) ValidateServer() error {
	var missing []string
	if c.Store.Endpoint == "" {
		missing = append(missing, "store.endpoint")
	}
	if c.Store.Bucket == "" {
		missing = append(missing, "store.bucket")
	}
	if c.Store.PublicBaseURL == "" {
		missing = append(missing, "store.public_base_url")
	}
	if c.Store.SecretID == "" && (c.Store.AccessKeyID == "" || c.Store.SecretAccessKey == "") {
		missing = append(missing, "store.access_key_id/store.secret_access_key or store.secret_id")
	}
	if c.Auth.JWTKey == "" {
		missing = append(missing, "auth.jwt_key")
	}
	switch c.DB.Driver {
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			missing = append(missing, "db.dsn")
		}
	default:
		return errors.NewError("config", errors.ErrConfiguration).
			WithMessage(fmt.Sprintf("unknown db.driver %q", c.DB.Driver))
	}
	if len(missing) > 0 {
		return errors.NewError("config", errors.ErrConfiguration).
			WithMessage("missing " + strings.Join(missing, ", "))
	}
	if c.Upload.PartURLExpiry <= 0 || c.Upload.MaxPresignExpiry <= 0 {
		return errors.NewError("config", errors.ErrConfiguration).
			WithMessage("upload.part_url_expiry and upload.max_presign_expiry must be positive")
	}
	if c.Upload.PartURLExpiry > c.Upload.MaxPresignExpiry {
		return errors.NewError("config", errors.ErrConfiguration).
			WithMessage(fmt.Sprintf("upload.part_url_expiry %s exceeds upload.max_presign_expiry %s",
				c.Upload.PartURLExpiry, c.Upload.MaxPresignExpiry))
	}
	return nil
}

// ValidateReclaim checks the settings the reclaim command needs.
func (c *Config) ValidateReclaim() error {
	var missing []string
	if c.Store.Endpoint == "" {
		missing = append(missing, "store.endpoint")
	}
	if c.Store.Bucket == "" {
		missing = append(missing, "store.bucket")
	}
	if c.DB.Driver != "postgres" || c.DB.DSN == "" {
		missing = append(missing, "db.driver=postgres with db.dsn")
	}
	if c.Reclaim.Grace <= 0 || c.Reclaim.Stale <= 0 {
		return errors.NewError("config", errors.ErrConfiguration).
			WithMessage("reclaim.grace and reclaim.stale must be positive")
	}
	if len(missing) > 0 {
		return errors.NewError("config", errors.ErrConfiguration).
			WithMessage("missing " + strings.Join(missing, ", "))
	}
	return nil
}
