// Package cache provides a read-through cache for upload session views.
//
// Only terminal sessions are cached. Their status can never change again, so a
// cached view is never stale and no cross-instance invalidation is needed.
package cache

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/input-output-hk/catalyst-forge-libs/upload/uploadtypes"
)

// SessionCache stores session views by id.
type SessionCache interface {
	// Get returns the cached session and whether it was present.
	Get(ctx context.Context, id string) (*uploadtypes.Session, bool, error)

	// Set caches s for ttl.
	Set(ctx context.Context, s *uploadtypes.Session, ttl time.Duration) error

	// Delete evicts id.
	Delete(ctx context.Context, id string) error
}

// Null is a SessionCache that never stores anything.
type Null struct{}

// Get implements SessionCache.
func (Null) Get(context.Context, string) (*uploadtypes.Session, bool, error) {
	return nil, false, nil
}

// Set implements SessionCache.
func (Null) Set(context.Context, *uploadtypes.Session, time.Duration) error {
	return nil
}

// Delete implements SessionCache.
func (Null) Delete(context.Context, string) error {
	return nil
}

// cachedSession is the wire form; Session hides UploadID and OwnerID from JSON.
type cachedSession struct {
	uploadtypes.Session
	UploadID string `json:"uploadId"`
	OwnerID  string `json:"ownerId"`
}

// Redis caches sessions in redis as JSON.
type Redis struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedis returns a Redis cache using keys "<prefix><id>".
func NewRedis(rdb redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = "upload:session:"
	}
	return &Redis{rdb: rdb, prefix: prefix}
}

func (r *Redis) key(id string) string {
	return r.prefix + id
}

// Get implements SessionCache.
func (r *Redis) Get(ctx context.Context, id string) (*uploadtypes.Session, bool, error) {
	data, err := r.rdb.Get(ctx, r.key(id)).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var c cachedSession
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, false, err
	}
	s := c.Session
	s.UploadID = c.UploadID
	s.OwnerID = c.OwnerID
	return &s, true, nil
}

// Set implements SessionCache.
func (r *Redis) Set(ctx context.Context, s *uploadtypes.Session, ttl time.Duration) error {
	data, err := json.Marshal(cachedSession{Session: *s, UploadID: s.UploadID, OwnerID: s.OwnerID})
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, r.key(s.ID), data, ttl).Err()
}

// Delete implements SessionCache.
func (r *Redis) Delete(ctx context.Context, id string) error {
	return r.rdb.Del(ctx, r.key(id)).Err()
}

// Ping checks redis connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

var (
	_ SessionCache = Null{}
	_ SessionCache = (*Redis)(nil)
)
