// Package cache is a read-through Redis cache whose entries are grouped
// under tags; invalidating a tag drops every entry stored under it.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type Invalidator interface {
	Invalidate(ctx context.Context, tags ...string) error
}

type Store struct {
	rdb    *redis.Client
	ttl    time.Duration
	log    *zap.Logger
	flight singleflight.Group
}

// New returns a Store. A nil client gives a pass-through cache that
// always loads and never stores.
func New(rdb *redis.Client, ttl time.Duration, log *zap.Logger) *Store {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{rdb: rdb, ttl: ttl, log: log}
}

func dataKey(key string) string { return "cache:data:" + key }
func tagKey(tag string) string  { return "cache:tag:" + tag }

func (s *Store) enabled() bool { return s != nil && s.rdb != nil }

// Invalidate drops all entries stored under any of tags.
func (s *Store) Invalidate(ctx context.Context, tags ...string) error {
	if !s.enabled() {
		return nil
	}
	for _, tag := range tags {
		members, err := s.rdb.SMembers(ctx, tagKey(tag)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		pipe := s.rdb.TxPipeline()
		if len(members) > 0 {
			pipe.Del(ctx, members...)
		}
		pipe.Del(ctx, tagKey(tag))
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Forget is Invalidate for callers that have already committed the
// write: failures are logged and the stale entries expire with the TTL.
func (s *Store) Forget(ctx context.Context, tags ...string) {
	if err := s.Invalidate(ctx, tags...); err != nil {
		s.log.Warn("cache invalidation failed", zap.Strings("tags", tags), zap.Error(err))
	}
}

// Fetch returns the cached value for key, or calls load and stores its
// result under key, tagged with tags. Load errors are returned and never
// cached. Redis failures degrade to calling load. Concurrent misses on
// the same key share one load.
func Fetch[T any](ctx context.Context, s *Store, key string, tags []string, load func(ctx context.Context) (T, error)) (T, error) {
	if !s.enabled() {
		return load(ctx)
	}

	raw, err := s.rdb.Get(ctx, dataKey(key)).Bytes()
	switch {
	case err == nil:
		var v T
		if jerr := json.Unmarshal(raw, &v); jerr == nil {
			return v, nil
		}
		s.log.Warn("cache entry undecodable, reloading", zap.String("key", key))
	case !errors.Is(err, redis.Nil):
		s.log.Warn("cache read failed", zap.String("key", key), zap.Error(err))
	}

	res, err, _ := s.flight.Do(key, func() (any, error) {
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		s.store(ctx, key, tags, v)
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	v, _ := res.(T)
	return v, nil
}

func (s *Store) store(ctx context.Context, key string, tags []string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, dataKey(key), b, s.ttl)
	for _, tag := range tags {
		pipe.SAdd(ctx, tagKey(tag), dataKey(key))
		pipe.Expire(ctx, tagKey(tag), 2*s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}
