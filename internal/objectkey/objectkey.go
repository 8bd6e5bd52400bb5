// Package objectkey generates storage keys for uploads.
//
// Keys are date partitioned and end in a KSUID so they are collision
// resistant, cannot be enumerated and spread writes across prefixes:
//
//	videos/2026/10/16/2HbR8xQ2wH7Rj5a3ZKc1cXk9YyV.mp4
package objectkey

import (
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/segmentio/ksuid"
)

// DefaultPrefix is the key prefix used when none is configured.
const DefaultPrefix = "videos"

var (
	extPattern = regexp.MustCompile(`^\.[a-z0-9]{1,8}$`)
	keyPattern = regexp.MustCompile(`^\d{4}/\d{2}/\d{2}/[0-9A-Za-z]{27}(\.[a-z0-9]{1,8})?$`)
)

// Generator builds object keys under a fixed prefix.
type Generator struct {
	prefix string
	newID  func() string
}

// New returns a Generator for prefix. An empty prefix uses DefaultPrefix.
func New(prefix string) *Generator {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Generator{
		prefix: prefix,
		newID:  func() string { return ksuid.New().String() },
	}
}

// Prefix returns the key prefix including a trailing slash.
func (g *Generator) Prefix() string {
	return g.prefix + "/"
}

// Key returns a new key for a file created at t. The extension comes from the
// file name when it is a plain short extension, otherwise from the content type.
func (g *Generator) Key(fileName, contentType string, t time.Time) string {
	return path.Join(g.prefix, t.UTC().Format("2006/01/02"), g.newID()+Extension(fileName, contentType))
}

// Owns reports whether key has the shape this generator produces.
func (g *Generator) Owns(key string) bool {
	rest, ok := strings.CutPrefix(key, g.Prefix())
	if !ok {
		return false
	}
	return keyPattern.MatchString(rest)
}

// Extension picks a lower-case extension for the key, or "" when none is safe.
func Extension(fileName, contentType string) string {
	ext := strings.ToLower(path.Ext(fileName))
	if extPattern.MatchString(ext) {
		return ext
	}
	if contentType == "" {
		return ""
	}
	if m := mimetype.Lookup(contentType); m != nil && extPattern.MatchString(m.Extension()) {
		return m.Extension()
	}
	return ""
}
