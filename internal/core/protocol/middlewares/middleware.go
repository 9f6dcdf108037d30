// Package middlewares wraps channel receivers with cross-cutting behavior.
package middlewares

import (
	"reflect"

	"github.com/NarukamiTO/server-sub000/internal/core/events"
	"github.com/NarukamiTO/server-sub000/internal/core/protocol"
)

// Middleware wraps a receiver.
type Middleware func(next protocol.Receiver) protocol.Receiver

// Chain wraps r so that the first middleware sees each command first.
func Chain(r protocol.Receiver, mws ...Middleware) protocol.Receiver {
	for i := len(mws) - 1; i >= 0; i-- {
		r = mws[i](r)
	}
	return r
}

func commandName(e events.Event) string {
	t := reflect.TypeOf(e)
	if t == nil {
		return "nil"
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}
