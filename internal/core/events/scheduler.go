package events

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime/debug"
	"sync"
	"time"

	"github.com/NarukamiTO/server-sub000/internal/core/models"
	"github.com/NarukamiTO/server-sub000/internal/core/nodes"
	"github.com/NarukamiTO/server-sub000/internal/core/observability/log"
	"github.com/NarukamiTO/server-sub000/internal/core/protocol/codec"
	"github.com/NarukamiTO/server-sub000/pkg/sequence"
)

const DefaultWatchdogTimeout = 5 * time.Second

type Config struct {
	Name            string
	WatchdogTimeout time.Duration
	Logger          log.Log
	Observer        Observer
	Encoder         Encoder
	World           World
}

type queued struct {
	event    Event
	channel  Channel
	target   *models.GameObject
	dispatch *Dispatch
}

// Scheduler is the per-space actor. All server and internal events of a
// space are dispatched one at a time on its goroutine.
type Scheduler struct {
	name     string
	watchdog time.Duration
	logger   log.Log
	observer Observer
	encoder  Encoder
	world    World
	systems  []System

	queue *sequence.Queue[*queued]
	stats counters

	runMu    sync.Mutex
	cancel   context.CancelFunc
	stopped  chan struct{}
	detached sync.WaitGroup
}

func NewScheduler(cfg Config, systems ...System) *Scheduler {
	if cfg.WatchdogTimeout <= 0 {
		cfg.WatchdogTimeout = DefaultWatchdogTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Provide()
	}
	if cfg.Observer == nil {
		cfg.Observer = NopObserver{}
	}
	if cfg.World == nil {
		cfg.World = emptyWorld{}
	}
	return &Scheduler{
		name:     cfg.Name,
		watchdog: cfg.WatchdogTimeout,
		logger:   cfg.Logger.With(log.String("component", "scheduler"), log.String("scheduler", cfg.Name)),
		observer: cfg.Observer,
		encoder:  cfg.Encoder,
		world:    cfg.World,
		systems:  systems,
		queue:    sequence.NewQueue[*queued](),
	}
}

type emptyWorld struct{}

func (emptyWorld) Objects() []*models.GameObject { return nil }
func (emptyWorld) Channels() []Channel           { return nil }

func (s *Scheduler) Name() string { return s.name }

func (s *Scheduler) Stats() Stats { return s.stats.snapshot() }

// Pending is the number of queued events not yet dispatched.
func (s *Scheduler) Pending() int { return s.queue.Len() }

// Schedule is the single entry point for events.
//
// Client events are encoded into ch's outgoing batch right away and the
// returned dispatch is already complete. Other events are queued and
// dispatched in order on the actor.
func (s *Scheduler) Schedule(e Event, ch Channel, target *models.GameObject) *Dispatch {
	if e == nil {
		return completedDispatch(ErrNilEvent)
	}
	s.stats.scheduled.Add(1)

	if e.Direction() == DirectionClient {
		return completedDispatch(s.send(e, ch, target))
	}

	d := newDispatch()
	if err := s.queue.Enqueue(&queued{event: e, channel: ch, target: target, dispatch: d}); err != nil {
		d.complete(fmt.Errorf("%s: %w", typeName(e), ErrSchedulerStopped))
	}
	return d
}

func (s *Scheduler) send(e Event, ch Channel, target *models.GameObject) error {
	s.stats.clientEvents.Add(1)
	if ch == nil {
		return fmt.Errorf("%s: %w", typeName(e), ErrNoChannel)
	}
	if target == nil {
		return fmt.Errorf("%s: %w", typeName(e), ErrNoTarget)
	}
	if s.encoder == nil {
		return fmt.Errorf("%s: no encoder configured", typeName(e))
	}
	method, err := s.encoder.MethodID(reflect.TypeOf(e))
	if err != nil {
		return err
	}
	return ch.Append(Header{ObjectID: target.ID(), MethodID: method}, func(buf *codec.Buffer) error {
		return s.encoder.EncodeBody(buf, e)
	})
}

// Run consumes the queue until ctx ends or Stop is called. Events queued
// before Stop are still dispatched; events left over when ctx ends complete
// with ErrSchedulerStopped.
func (s *Scheduler) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.logger.Debug("Scheduler started", log.Int("systems", len(s.systems)))
	for {
		item, err := s.queue.Pop(ctx)
		if err != nil {
			s.drain()
			s.detached.Wait()
			s.logger.Debug("Scheduler stopped", log.Uint64("dispatched", s.stats.dispatched.Load()))
			if errors.Is(err, sequence.ErrQueueClosed) {
				return nil
			}
			return err
		}
		s.dispatch(ctx, item)
	}
}

// Start runs the scheduler on its own goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.stopped != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.stopped = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		_ = s.Run(ctx)
	}(s.stopped)
}

// Stop closes the queue, cancels running handlers and waits for the actor
// and detached handlers to return.
func (s *Scheduler) Stop() {
	s.queue.Close()
	s.runMu.Lock()
	cancel, stopped := s.cancel, s.stopped
	s.runMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-stopped
}

func (s *Scheduler) drain() {
	s.queue.Close()
	for {
		item, ok := s.queue.Dequeue()
		if !ok {
			return
		}
		item.dispatch.complete(fmt.Errorf("%s: %w", typeName(item.event), ErrSchedulerStopped))
	}
}

// dispatch runs every matching handler for one queued event.
func (s *Scheduler) dispatch(ctx context.Context, item *queued) {
	eventType := reflect.TypeOf(item.event)
	invoked := 0
	var fatal error

systems:
	for si := range s.systems {
		sys := &s.systems[si]
		for hi := range sys.Handlers {
			h := &sys.Handlers[hi]
			s.stats.handlerLookups.Add(1)
			if h.Event != eventType {
				continue
			}

			hc, ok, err := s.prepare(ctx, sys, h, item)
			if err != nil {
				fatal = err
				s.stats.fatalErrors.Add(1)
				s.logger.Error("Dispatch aborted", log.String("event", typeName(item.event)), log.Error(err))
				break systems
			}
			if !ok {
				continue
			}

			invoked++
			if h.OutOfOrder {
				s.detached.Add(1)
				go func() {
					defer s.detached.Done()
					s.invoke(sys, h, hc)
				}()
				continue
			}
			s.invokeGuarded(sys, h, hc)
		}
	}

	s.stats.dispatched.Add(1)
	item.dispatch.complete(fatal)
	s.observer.OnDispatched(item.event, invoked, fatal)
}

// prepare builds the primary node and joins. ok is false when the handler is
// skipped; err is set only for mandatory failures.
func (s *Scheduler) prepare(ctx context.Context, sys *System, h *Handler, item *queued) (*Context, bool, error) {
	hc := &Context{
		ctx:       ctx,
		scheduler: s,
		event:     item.event,
		channel:   item.channel,
		target:    item.target,
		logger:    s.logger.With(log.String("system", sys.Name), log.String("handler", h.Name)),
	}
	viewer := channelViewer(item.channel)

	if h.Node != nil {
		n, ok := h.Node.BuildFor(item.target, viewer)
		if !ok {
			if h.Mandatory {
				return nil, false, s.mandatoryErr(sys, h, h.Node, item, -1)
			}
			return nil, false, nil
		}
		hc.node = n
	}

	if len(h.Joins) > 0 {
		objects := s.world.Objects()
		hc.joins = make([]*nodes.Node, len(h.Joins))
		for i, j := range h.Joins {
			var viewers []models.Viewer
			if j.AllChannels {
				for _, ch := range s.world.Channels() {
					viewers = append(viewers, ch)
				}
				if len(viewers) == 0 {
					viewers = []models.Viewer{viewer}
				}
			} else {
				viewers = []models.Viewer{viewer}
			}

			n, ok := nodes.First(objects, j.Node, viewers...)
			if !ok {
				if j.Mandatory {
					return nil, false, s.mandatoryErr(sys, h, j.Node, item, i)
				}
				return nil, false, nil
			}
			hc.joins[i] = n
		}
	}
	return hc, true, nil
}

// channelViewer avoids storing a typed nil channel in the Viewer interface.
func channelViewer(ch Channel) models.Viewer {
	if ch == nil {
		return nil
	}
	return ch
}

func (s *Scheduler) mandatoryErr(sys *System, h *Handler, node *nodes.Schema, item *queued, join int) error {
	target := "<nil>"
	if item.target != nil {
		target = item.target.String()
	}
	return &MandatoryNodeError{
		System:  sys.Name,
		Handler: h.Name,
		Node:    node.Name(),
		Event:   typeName(item.event),
		Target:  target,
		Join:    join,
	}
}

// invokeGuarded runs a serial handler on the actor. The watchdog only
// reports; a stuck handler keeps the queue blocked.
func (s *Scheduler) invokeGuarded(sys *System, h *Handler, hc *Context) {
	started := time.Now()
	timer := time.AfterFunc(s.watchdog, func() {
		elapsed := time.Since(started)
		s.stats.watchdogFires.Add(1)
		hc.logger.Warn("Handler exceeded watchdog timeout, probable deadlock",
			log.String("event", typeName(hc.event)),
			log.Duration("elapsed", elapsed),
			log.Int("queued", s.queue.Len()))
		s.observer.OnWatchdog(sys.Name, h.Name, hc.event, elapsed)
	})
	defer timer.Stop()
	s.invoke(sys, h, hc)
}

func (s *Scheduler) invoke(sys *System, h *Handler, hc *Context) {
	s.stats.invocations.Add(1)
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = &HandlerPanicError{Value: r, Stack: debug.Stack()}
			}
		}()
		return h.fn(hc, hc.event)
	}()
	if err == nil {
		return
	}

	s.stats.handlerErrors.Add(1)
	fields := []log.Field{log.String("event", typeName(hc.event)), log.Error(err)}
	var pe *HandlerPanicError
	if errors.As(err, &pe) {
		fields = append(fields, log.ByteString("stack", pe.Stack))
	}
	hc.logger.Error("Handler failed", fields...)
	s.observer.OnHandlerError(sys.Name, h.Name, hc.event, err)
}
