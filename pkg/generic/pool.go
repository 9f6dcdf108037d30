// Package generic holds typed wrappers over untyped standard containers.
package generic

import "sync"

// Pool is a typed sync.Pool. Values are reset on Put, so Get always returns
// a clean value.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(T)
}

// NewPool creates a pool of values made by generate. reset may be nil.
func NewPool[T any](generate func() T, reset func(T)) *Pool[T] {
	return &Pool[T]{
		pool: sync.Pool{
			New: func() any {
				return generate()
			},
		},
		reset: reset,
	}
}

// Prefill puts n fresh values into the pool.
func (p *Pool[T]) Prefill(n int) *Pool[T] {
	for range n {
		p.pool.Put(p.pool.New())
	}
	return p
}

func (p *Pool[T]) Get() T {
	return p.pool.Get().(T)
}

func (p *Pool[T]) Put(value T) {
	if p.reset != nil {
		p.reset(value)
	}
	p.pool.Put(value)
}

// With lends a value to fn and takes it back afterwards.
func (p *Pool[T]) With(fn func(T) error) error {
	v := p.Get()
	defer p.Put(v)
	return fn(v)
}
