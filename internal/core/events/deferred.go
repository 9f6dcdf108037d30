package events

import (
	"context"
	"sync"
)

// Dispatch tracks one scheduled event.
type Dispatch struct {
	done chan struct{}
	err  error
}

func newDispatch() *Dispatch {
	return &Dispatch{done: make(chan struct{})}
}

func completedDispatch(err error) *Dispatch {
	d := newDispatch()
	d.complete(err)
	return d
}

func (d *Dispatch) complete(err error) {
	d.err = err
	close(d.done)
}

// Done is closed once every serial handler returned. Out-of-order handlers
// may still be running.
func (d *Dispatch) Done() <-chan struct{} { return d.done }

// Wait blocks until Done and returns the fatal dispatch error, if any.
// Handler errors are not dispatch errors.
func (d *Dispatch) Wait(ctx context.Context) error {
	select {
	case <-d.done:
		return d.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Deferred is a value completed once, typically by a later event.
type Deferred[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
}

func NewDeferred[T any]() *Deferred[T] {
	return &Deferred[T]{done: make(chan struct{})}
}

// Complete sets the value. Only the first call has an effect.
func (d *Deferred[T]) Complete(v T) bool {
	ok := false
	d.once.Do(func() {
		d.value = v
		close(d.done)
		ok = true
	})
	return ok
}

func (d *Deferred[T]) Done() <-chan struct{} { return d.done }

// Await blocks until Complete or ctx ends.
func (d *Deferred[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-d.done:
		return d.value, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
