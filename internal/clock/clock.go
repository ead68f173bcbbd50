// Package clock provides the kernel's millisecond time source.
//
// All kernel timestamps are integer milliseconds since the Unix epoch. The
// interface exists so tests can drive claim expiry deterministically instead
// of sleeping through TTLs.
package clock

import (
	"sync"
	"time"
)

// Clock yields the current wall-clock time in milliseconds.
type Clock interface {
	NowMillis() int64
}

type systemClock struct{}

func (systemClock) NowMillis() int64 {
	return time.Now().UnixMilli()
}

// System returns the real wall-clock source.
func System() Clock {
	return systemClock{}
}

// Fake is a manually advanced clock for tests.
type Fake struct {
	mu  sync.Mutex
	now int64
}

// NewFake creates a fake clock starting at the given millisecond timestamp.
func NewFake(start int64) *Fake {
	return &Fake{now: start}
}

func (f *Fake) NowMillis() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now += d.Milliseconds()
}

// Set jumps the clock to an absolute millisecond timestamp.
func (f *Fake) Set(now int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}
