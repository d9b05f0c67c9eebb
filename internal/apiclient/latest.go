package apiclient

import (
	"context"
	"sync"
)

// Latest holds the result of the most recently issued request. Each request
// takes a token from Begin; Resolve stores a response only while its token is
// still the newest, so a slow response never overwrites a newer one.
type Latest[T any] struct {
	mu    sync.Mutex
	seq   uint64
	value T
	err   error
	ready bool
}

// Begin issues a new request token, superseding every earlier one.
func (l *Latest[T]) Begin() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	return l.seq
}

// Resolve stores the response for token. It reports false, and stores
// nothing, if a newer request has been issued since.
func (l *Latest[T]) Resolve(token uint64, v T, err error) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if token != l.seq {
		return false
	}
	l.value, l.err, l.ready = v, err, true
	return true
}

// Get returns the stored response. ok is false until a response is stored.
func (l *Latest[T]) Get() (v T, ok bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.value, l.ready, l.err
}

// Do runs fn as a new request and stores its response if it is still the
// newest when fn returns. The returned values are fn's own.
func (l *Latest[T]) Do(ctx context.Context, fn func(context.Context) (T, error)) (v T, applied bool, err error) {
	token := l.Begin()
	v, err = fn(ctx)
	return v, l.Resolve(token, v, err), err
}
