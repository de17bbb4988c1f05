// Package retry runs persistence operations under a bounded exponential
// backoff: up to MaxAttempts tries, waiting Base, 2*Base, 4*Base, … between
// them.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

const (
	DefaultMaxAttempts = 3
	DefaultBase        = 100 * time.Millisecond
)

// ErrExhausted matches (via errors.Is) the error returned once every
// attempt has failed. The last attempt's error stays reachable via Unwrap.
var ErrExhausted = errors.New("retry: attempts exhausted")

type Policy struct {
	MaxAttempts int
	Base        time.Duration

	// OnRetry, when set, is called after a failed attempt that will be
	// retried, with the wait before the next one.
	OnRetry func(attempt int, err error, wait time.Duration)
}

func Default() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, Base: DefaultBase}
}

func (p Policy) attempts() int {
	if p.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return p.MaxAttempts
}

func (p Policy) base() time.Duration {
	if p.Base <= 0 {
		return DefaultBase
	}
	return p.Base
}

// Backoff returns a fresh backoff sequence for one Do call.
func (p Policy) Backoff() goretry.Backoff {
	return goretry.WithMaxRetries(uint64(p.attempts()-1), goretry.NewExponential(p.base()))
}

type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry: %d attempts failed: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

func (e *ExhaustedError) Is(target error) bool { return target == ErrExhausted }

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying; Do returns it unchanged
// after the current attempt.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs op under p.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	var (
		attempt   int
		last      error
		permanent bool
	)

	b := p.Backoff()
	if p.OnRetry != nil {
		inner := b
		b = goretry.BackoffFunc(func() (time.Duration, bool) {
			wait, stop := inner.Next()
			if !stop {
				p.OnRetry(attempt, last, wait)
			}
			return wait, stop
		})
	}

	err := goretry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			permanent = true
			return perm.err
		}
		last = err
		return goretry.RetryableError(err)
	})
	switch {
	case err == nil:
		return nil
	case permanent:
		return err
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		return err
	default:
		return &ExhaustedError{Attempts: attempt, Err: last}
	}
}
