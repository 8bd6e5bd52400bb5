package coordinator

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/input-output-hk/catalyst-forge-libs/upload/internal/cache"
	"github.com/input-output-hk/catalyst-forge-libs/upload/internal/objectkey"
)

const (
	// DefaultMaxFileSize is the largest accepted upload, 20 GiB.
	DefaultMaxFileSize int64 = 20 << 30

	// DefaultPartURLExpiry is the lifetime of a presigned part URL.
	DefaultPartURLExpiry = time.Hour

	// DefaultCacheTTL bounds how long terminal session views stay cached.
	DefaultCacheTTL = 10 * time.Minute
)

// DefaultContentTypes are the media type prefixes accepted by Init.
var DefaultContentTypes = []string{"video/"}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMaxFileSize sets the upload size ceiling.
func WithMaxFileSize(n int64) Option {
	return func(c *Coordinator) {
		c.maxFileSize = n
	}
}

// WithPartURLExpiry sets the lifetime of issued part URLs. It must not exceed
// the signer's maximum expiry or GetPartURLs fails with ErrInvalidExpiry.
func WithPartURLExpiry(d time.Duration) Option {
	return func(c *Coordinator) {
		c.partURLExpiry = d
	}
}

// WithKeyGenerator sets the object key generator.
func WithKeyGenerator(g *objectkey.Generator) Option {
	return func(c *Coordinator) {
		c.keys = g
	}
}

// WithAllowedContentTypes sets the accepted media type prefixes. An empty
// list accepts any well-formed media type.
func WithAllowedContentTypes(prefixes ...string) Option {
	return func(c *Coordinator) {
		c.allowedTypes = prefixes
	}
}

// WithCache sets the session view cache.
func WithCache(sc cache.SessionCache, ttl time.Duration) Option {
	return func(c *Coordinator) {
		c.cache = sc
		c.cacheTTL = ttl
	}
}

// WithObserver sets the metrics observer.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) {
		c.observer = o
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// WithIDGenerator overrides session id generation.
func WithIDGenerator(newID func() string) Option {
	return func(c *Coordinator) {
		c.newID = newID
	}
}

func defaults(c *Coordinator) {
	c.maxFileSize = DefaultMaxFileSize
	c.partURLExpiry = DefaultPartURLExpiry
	c.keys = objectkey.New(objectkey.DefaultPrefix)
	c.allowedTypes = DefaultContentTypes
	c.cache = cache.Null{}
	c.cacheTTL = DefaultCacheTTL
	c.observer = NopObserver{}
	c.logger = slog.New(slog.DiscardHandler)
	c.now = time.Now
	c.newID = uuid.NewString
}
