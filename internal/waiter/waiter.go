// Package waiter parks long-poll requests until an event for their key is
// announced, or until they give up.
package waiter

import (
	"context"
	"sync"
)

// Pending is one parked request. Exactly one of Notify or Abandon takes
// effect for it.
type Pending[K comparable, V any] struct {
	key    K
	result chan V
}

// Key returns the key the request waits on.
func (p *Pending[K, V]) Key() K {
	return p.key
}

// Result delivers the notification value once, if the request was resolved.
func (p *Pending[K, V]) Result() <-chan V {
	return p.result
}

// Registry holds pending requests keyed by K. The zero value is not usable;
// create one with New.
type Registry[K comparable, V any] struct {
	name string

	mu      sync.Mutex
	pending map[K]map[*Pending[K, V]]struct{}
	count   int
}

// New creates an empty registry. The name labels it in logs and metrics.
func New[K comparable, V any](name string) *Registry[K, V] {
	return &Registry[K, V]{
		name:    name,
		pending: make(map[K]map[*Pending[K, V]]struct{}),
	}
}

// Name returns the registry name.
func (r *Registry[K, V]) Name() string {
	return r.name
}

// Park registers a new pending request under key.
func (r *Registry[K, V]) Park(key K) *Pending[K, V] {
	p := &Pending[K, V]{key: key, result: make(chan V, 1)}

	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.pending[key]
	if !ok {
		set = make(map[*Pending[K, V]]struct{})
		r.pending[key] = set
	}
	set[p] = struct{}{}
	r.count++
	return p
}

// Query parks a request under key and then consults check. If check
// reports the condition already holds, the request is resolved at once
// with its value. Parking first means an event that fires between the
// check and the park cannot be missed.
func (r *Registry[K, V]) Query(key K, check func() (V, bool)) *Pending[K, V] {
	p := r.Park(key)
	if check == nil {
		return p
	}
	if v, ok := check(); ok {
		r.resolve(p, v)
	}
	return p
}

// Notify resolves every request pending under key with v and removes them.
// It returns the number of requests resolved.
func (r *Registry[K, V]) Notify(key K, v V) int {
	r.mu.Lock()
	set := r.pending[key]
	delete(r.pending, key)
	r.count -= len(set)
	r.mu.Unlock()

	for p := range set {
		p.result <- v
	}
	return len(set)
}

// Abandon removes p without resolving it. It returns false if p was
// already resolved, in which case its result is available on Result.
func (r *Registry[K, V]) Abandon(p *Pending[K, V]) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(p)
}

func (r *Registry[K, V]) resolve(p *Pending[K, V], v V) bool {
	r.mu.Lock()
	removed := r.removeLocked(p)
	r.mu.Unlock()
	if removed {
		p.result <- v
	}
	return removed
}

func (r *Registry[K, V]) removeLocked(p *Pending[K, V]) bool {
	set, ok := r.pending[p.key]
	if !ok {
		return false
	}
	if _, ok := set[p]; !ok {
		return false
	}
	delete(set, p)
	if len(set) == 0 {
		delete(r.pending, p.key)
	}
	r.count--
	return true
}

// Wait blocks until p is resolved or ctx is done. On ctx expiry p is
// abandoned and ctx's error returned, unless a notification won the race,
// in which case its value is returned.
func (r *Registry[K, V]) Wait(ctx context.Context, p *Pending[K, V]) (V, error) {
	select {
	case v := <-p.result:
		return v, nil
	case <-ctx.Done():
	}
	if r.Abandon(p) {
		var zero V
		return zero, ctx.Err()
	}
	return <-p.result, nil
}

// Len returns the number of pending requests.
func (r *Registry[K, V]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// LenKey returns the number of requests pending under key.
func (r *Registry[K, V]) LenKey(key K) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending[key])
}
