package events

import (
	"sync/atomic"
	"time"
)

// Observer receives scheduler diagnostics. Calls may come from any goroutine.
type Observer interface {
	OnDispatched(e Event, invoked int, err error)
	OnWatchdog(system, handler string, e Event, elapsed time.Duration)
	OnHandlerError(system, handler string, e Event, err error)
}

type NopObserver struct{}

func (NopObserver) OnDispatched(Event, int, error)                  {}
func (NopObserver) OnWatchdog(string, string, Event, time.Duration) {}
func (NopObserver) OnHandlerError(string, string, Event, error)     {}

// Stats is a snapshot of scheduler counters.
type Stats struct {
	Scheduled      uint64
	ClientEvents   uint64
	Dispatched     uint64
	HandlerLookups uint64
	Invocations    uint64
	WatchdogFires  uint64
	HandlerErrors  uint64
	FatalErrors    uint64
}

type counters struct {
	scheduled      atomic.Uint64
	clientEvents   atomic.Uint64
	dispatched     atomic.Uint64
	handlerLookups atomic.Uint64
	invocations    atomic.Uint64
	watchdogFires  atomic.Uint64
	handlerErrors  atomic.Uint64
	fatalErrors    atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Scheduled:      c.scheduled.Load(),
		ClientEvents:   c.clientEvents.Load(),
		Dispatched:     c.dispatched.Load(),
		HandlerLookups: c.handlerLookups.Load(),
		Invocations:    c.invocations.Load(),
		WatchdogFires:  c.watchdogFires.Load(),
		HandlerErrors:  c.handlerErrors.Load(),
		FatalErrors:    c.fatalErrors.Load(),
	}
}
