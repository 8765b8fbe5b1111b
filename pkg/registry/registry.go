// Package registry implements a thread-safe keyed multi-map of subscribers.
//
// The registry knows nothing about messages. It keeps, per key, an ordered
// list of distinct subscribers and hands out snapshot copies so callers can
// iterate without holding any lock.
package registry

import (
	"context"
	"sync"

	"github.com/fluxorio/msgbus/pkg/future"
)

// Registry maps keys to ordered, duplicate-free subscriber lists.
//
// Readers (GetSubscribers, Count, Keys) share the lock; Subscribe,
// Unsubscribe and Clear are exclusive. Subscriber lists are treated as
// immutable once published to a reader: every mutation builds a new slice.
type Registry[K comparable, S comparable] struct {
	mu          sync.RWMutex
	subscribers map[K][]S
	total       int
}

// New creates an empty registry.
func New[K comparable, S comparable]() *Registry[K, S] {
	return &Registry[K, S]{
		subscribers: make(map[K][]S),
	}
}

// GetSubscribers returns a snapshot of key's subscribers in registration
// order. The result is owned by the caller; it is nil for unknown keys.
func (r *Registry[K, S]) GetSubscribers(key K) []S {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := r.subscribers[key]
	if len(subs) == 0 {
		return nil
	}
	result := make([]S, len(subs))
	copy(result, subs)
	return result
}

// GetSubscribersAsync resolves the same snapshot as GetSubscribers without
// blocking the caller on the registry lock. The future fails with ctx.Err()
// if ctx is done before the snapshot is taken.
func (r *Registry[K, S]) GetSubscribersAsync(ctx context.Context, key K) *future.Future[[]S] {
	p := future.NewPromise[[]S]()
	go func() {
		if err := ctx.Err(); err != nil {
			p.Fail(err)
			return
		}
		p.Complete(r.GetSubscribers(key))
	}()
	return p.Future
}

// Subscribe appends s to key's list unless it is already there.
// It reports whether s was added.
func (r *Registry[K, S]) Subscribe(key K, s S) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.subscribers[key]
	for _, existing := range subs {
		if existing == s {
			return false
		}
	}

	next := make([]S, len(subs), len(subs)+1)
	copy(next, subs)
	r.subscribers[key] = append(next, s)
	r.total++
	return true
}

// Unsubscribe removes s from key's list. Removing an absent subscriber is a
// no-op. It reports whether s was removed.
func (r *Registry[K, S]) Unsubscribe(key K, s S) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.subscribers[key]
	for i, existing := range subs {
		if existing != s {
			continue
		}
		if len(subs) == 1 {
			delete(r.subscribers, key)
		} else {
			next := make([]S, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			r.subscribers[key] = next
		}
		r.total--
		return true
	}
	return false
}

// Count returns the number of subscribers for key.
func (r *Registry[K, S]) Count(key K) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribers[key])
}

// Len returns the total number of (key, subscriber) pairs.
func (r *Registry[K, S]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}

// Keys returns the keys that currently have at least one subscriber.
func (r *Registry[K, S]) Keys() []K {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.subscribers) == 0 {
		return nil
	}
	keys := make([]K, 0, len(r.subscribers))
	for k := range r.subscribers {
		keys = append(keys, k)
	}
	return keys
}

// Clear removes every subscription.
func (r *Registry[K, S]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.subscribers = make(map[K][]S)
	r.total = 0
}
