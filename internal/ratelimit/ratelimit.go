// Package ratelimit bounds how often a user may perform an action with a
// token bucket: Capacity tokens, refilled at Refill tokens per Interval.
package ratelimit

import (
	"context"
	"time"
)

type Limiter interface {
	// Allow takes one token from key's bucket and reports whether one was
	// available.
	Allow(ctx context.Context, key string) (bool, error)
}

type Bucket struct {
	Capacity int
	Refill   int
	Interval time.Duration
}

// InterviewBucket is the create-interview budget: 12 tokens, 4 back a day.
func InterviewBucket() Bucket {
	return Bucket{Capacity: 12, Refill: 4, Interval: 24 * time.Hour}
}

func (b Bucket) normalized() Bucket {
	d := InterviewBucket()
	if b.Capacity <= 0 {
		b.Capacity = d.Capacity
	}
	if b.Refill <= 0 {
		b.Refill = d.Refill
	}
	if b.Interval <= 0 {
		b.Interval = d.Interval
	}
	return b
}

// Allowance is a Limiter that always allows. Used when rate limiting is
// disabled.
type Allowance struct{}

func (Allowance) Allow(context.Context, string) (bool, error) { return true, nil }
