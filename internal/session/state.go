package session

import (
	"sync/atomic"
)

// ReadyState is the voice transport's connection state.
type ReadyState int32

const (
	Idle ReadyState = iota
	Connecting
	Open
	Closed
)

func (s ReadyState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Cell holds the latest value of something that changes often. One
// goroutine stores; any goroutine may load and sees the newest store.
type Cell[T any] struct {
	v atomic.Pointer[T]
}

func (c *Cell[T]) Store(v T) { c.v.Store(&v) }

func (c *Cell[T]) Load() T {
	if p := c.v.Load(); p != nil {
		return *p
	}
	var zero T
	return zero
}

// Latch is a one-shot flag. TrySet succeeds for exactly one caller until
// Reset is called explicitly.
type Latch struct {
	set atomic.Bool
}

func (l *Latch) TrySet() bool { return l.set.CompareAndSwap(false, true) }
func (l *Latch) Reset()       { l.set.Store(false) }
func (l *Latch) IsSet() bool  { return l.set.Load() }
