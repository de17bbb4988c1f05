package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LocalLimiter keeps buckets in process memory. It is used when Redis is
// not configured; limits are then per replica.
type LocalLimiter struct {
	mu      sync.Mutex
	bucket  Bucket
	buckets map[string]*rate.Limiter
	now     func() time.Time
}

func NewLocalLimiter(b Bucket) *LocalLimiter {
	return &LocalLimiter{
		bucket:  b.normalized(),
		buckets: make(map[string]*rate.Limiter),
		now:     time.Now,
	}
}

func (l *LocalLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	lim, ok := l.buckets[key]
	if !ok {
		every := l.bucket.Interval / time.Duration(l.bucket.Refill)
		lim = rate.NewLimiter(rate.Every(every), l.bucket.Capacity)
		l.buckets[key] = lim
	}
	l.mu.Unlock()
	return lim.AllowN(l.now(), 1), nil
}
