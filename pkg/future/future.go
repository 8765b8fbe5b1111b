// Package future provides a single-assignment asynchronous result.
//
// A Promise is the writable side, a Future the readable side. The first
// Complete or Fail wins; later calls are ignored. Callbacks registered after
// completion run immediately on the caller's goroutine.
package future

import (
	"context"
	"sync"
)

// Future represents an asynchronous computation producing a T.
type Future[T any] struct {
	done chan struct{}
	once sync.Once

	mu              sync.Mutex
	value           T
	err             error
	successHandlers []func(T)
	failureHandlers []func(error)
}

// Promise is the writable side of a Future.
type Promise[T any] struct {
	*Future[T]
}

// NewPromise creates a pending promise.
func NewPromise[T any]() Promise[T] {
	return Promise[T]{Future: &Future[T]{done: make(chan struct{})}}
}

// Succeeded returns an already completed future.
func Succeeded[T any](v T) *Future[T] {
	p := NewPromise[T]()
	p.Complete(v)
	return p.Future
}

// Failed returns an already failed future.
func Failed[T any](err error) *Future[T] {
	p := NewPromise[T]()
	p.Fail(err)
	return p.Future
}

// Complete resolves the promise with v. It reports whether this call won.
func (p Promise[T]) Complete(v T) bool {
	return p.resolve(v, nil)
}

// Fail resolves the promise with err. It reports whether this call won.
func (p Promise[T]) Fail(err error) bool {
	var zero T
	return p.resolve(zero, err)
}

func (f *Future[T]) resolve(v T, err error) bool {
	won := false
	f.once.Do(func() {
		won = true
		f.mu.Lock()
		f.value, f.err = v, err
		succ, fail := f.successHandlers, f.failureHandlers
		f.successHandlers, f.failureHandlers = nil, nil
		close(f.done)
		f.mu.Unlock()

		if err != nil {
			for _, h := range fail {
				h(err)
			}
			return
		}
		for _, h := range succ {
			h(v)
		}
	})
	return won
}

// Done is closed once the future is resolved.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// IsDone reports whether the future is resolved.
func (f *Future[T]) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Await blocks until the future resolves or ctx is done.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Wait blocks until the future resolves.
func (f *Future[T]) Wait() (T, error) {
	return f.Await(context.Background())
}

// OnSuccess registers a success handler
func (f *Future[T]) OnSuccess(handler func(T)) *Future[T] {
	f.mu.Lock()
	if !f.IsDone() {
		f.successHandlers = append(f.successHandlers, handler)
		f.mu.Unlock()
		return f
	}
	v, err := f.value, f.err
	f.mu.Unlock()
	if err == nil {
		handler(v)
	}
	return f
}

// OnFailure registers a failure handler
func (f *Future[T]) OnFailure(handler func(error)) *Future[T] {
	f.mu.Lock()
	if !f.IsDone() {
		f.failureHandlers = append(f.failureHandlers, handler)
		f.mu.Unlock()
		return f
	}
	err := f.err
	f.mu.Unlock()
	if err != nil {
		handler(err)
	}
	return f
}

// Map transforms the result of f once it succeeds.
func Map[T, U any](f *Future[T], fn func(T) U) *Future[U] {
	mapped := NewPromise[U]()
	f.OnSuccess(func(v T) { mapped.Complete(fn(v)) })
	f.OnFailure(func(err error) { mapped.Fail(err) })
	return mapped.Future
}

// Go runs fn on a new goroutine and returns a future for its result.
func Go[T any](fn func() (T, error)) *Future[T] {
	p := NewPromise[T]()
	go func() {
		v, err := fn()
		if err != nil {
			p.Fail(err)
			return
		}
		p.Complete(v)
	}()
	return p.Future
}
