// Package concurrent fans the elements of an iterator out to goroutines.
package concurrent

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/NarukamiTO/server-sub000/pkg/sequence"
)

// Each runs action for every element on its own goroutine and waits for
// all of them.
func Each[T any](i *sequence.Iterator[T], action func(T)) {
	var wg sync.WaitGroup
	for value := range i.Seq() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			action(value)
		}()
	}
	wg.Wait()
}

// Try runs action for every element and returns the first error. The
// context passed to action is cancelled once any action fails. A limit
// above zero caps how many actions run at once.
func Try[T any](ctx context.Context, i *sequence.Iterator[T], limit int, action func(context.Context, T) error) error {
	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for value := range i.Seq() {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return action(ctx, value)
		})
	}
	return g.Wait()
}
