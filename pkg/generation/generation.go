// Package generation tags asynchronous requests so that responses for superseded
// requests can be recognised and dropped.
package generation

import (
	"context"
	"sync"
	"sync/atomic"
)

// Tracker hands out monotonically increasing generations. Starting a new
// generation cancels the context of the previous one.
type Tracker struct {
	current atomic.Uint64

	mu     sync.Mutex
	cancel context.CancelFunc
}

// Begin starts a new generation and returns it with a context derived from parent
// that is cancelled once the generation is superseded.
func (t *Tracker) Begin(parent context.Context) (uint64, context.Context) {
	ctx, cancel := context.WithCancel(parent)

	t.mu.Lock()
	if t.cancel != nil {
		t.cancel()
	}
	t.cancel = cancel
	gen := t.current.Add(1)
	t.mu.Unlock()

	return gen, ctx
}

// Invalidate supersedes the current generation without starting a request
func (t *Tracker) Invalidate() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	return t.current.Add(1)
}

// Current returns the latest generation
func (t *Tracker) Current() uint64 {
	return t.current.Load()
}

// IsCurrent reports whether gen is still the latest generation
func (t *Tracker) IsCurrent(gen uint64) bool {
	return t.current.Load() == gen
}

// Settle marks gen as finished if it is still current, returning false for stale generations.
// The generation stays current; only its context is released.
func (t *Tracker) Settle(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current.Load() != gen {
		return false
	}
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	return true
}
