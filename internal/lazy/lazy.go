// Package lazy holds process-wide values that are expensive to build, such as
// loaded models, behind a single-initialization lock with explicit reload and
// teardown.
package lazy

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Get after Close.
var ErrClosed = errors.New("lazy: loader closed")

// Loader builds a value on first use and keeps it until Reload or Close.
// A failed build is not cached; the next Get tries again.
type Loader[T any] struct {
	mu      sync.Mutex
	build   func(ctx context.Context) (T, error)
	release func(T) error
	value   T
	loaded  bool
	closed  bool
	builds  int
}

// New returns a Loader. release may be nil.
func New[T any](build func(ctx context.Context) (T, error), release func(T) error) *Loader[T] {
	return &Loader[T]{build: build, release: release}
}

// Get returns the value, building it if needed. Concurrent first callers wait
// for a single build.
func (l *Loader[T]) Get(ctx context.Context) (T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var zero T
	if l.closed {
		return zero, ErrClosed
	}
	if l.loaded {
		return l.value, nil
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	v, err := l.build(ctx)
	if err != nil {
		return zero, err
	}
	l.value, l.loaded = v, true
	l.builds++
	return v, nil
}

// Loaded reports whether a value is currently held.
func (l *Loader[T]) Loaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loaded
}

// Builds returns how many times the value has been built.
func (l *Loader[T]) Builds() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.builds
}

// Reload releases the current value; the next Get builds a fresh one.
func (l *Loader[T]) Reload() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.drop()
}

// Close releases the value and makes further Get calls fail.
func (l *Loader[T]) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return l.drop()
}

func (l *Loader[T]) drop() error {
	if !l.loaded {
		return nil
	}
	v := l.value
	var zero T
	l.value, l.loaded = zero, false
	if l.release != nil {
		return l.release(v)
	}
	return nil
}
