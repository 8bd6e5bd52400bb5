package sigv4

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/input-output-hk/catalyst-forge-libs/upload/errors"
)

// Credentials hold the long-lived store credentials. They never leave the server.
type Credentials struct {
	// AccessKeyID is the public half of the key pair
	AccessKeyID string

	// SecretAccessKey is the private half of the key pair
	SecretAccessKey string

	// Region is the signing region ("auto" for Cloudflare R2)
	Region string

	// Service is the signing service identifier, normally "s3"
	Service string
}

// Validate returns ErrConfiguration naming every empty field.
func (c Credentials) Validate() error {
	var missing []string
	if c.AccessKeyID == "" {
		missing = append(missing, "access key id")
	}
	if c.SecretAccessKey == "" {
		missing = append(missing, "secret access key")
	}
	if c.Region == "" {
		missing = append(missing, "region")
	}
	if c.Service == "" {
		missing = append(missing, "service")
	}
	if len(missing) > 0 {
		return errors.NewError("sign", errors.ErrConfiguration).
			WithMessage("missing " + strings.Join(missing, ", "))
	}
	return nil
}

// String redacts the secret key.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{AccessKeyID: %s, SecretAccessKey: %s, Region: %s, Service: %s}",
		c.AccessKeyID, redact(c.SecretAccessKey), c.Region, c.Service)
}

// GoString redacts the secret key for %#v.
func (c Credentials) GoString() string {
	return c.String()
}

// LogValue redacts the secret key in structured logs.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("access_key_id", c.AccessKeyID),
		slog.String("secret_access_key", redact(c.SecretAccessKey)),
		slog.String("region", c.Region),
		slog.String("service", c.Service),
	)
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}
