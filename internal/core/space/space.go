// Package space implements isolated worlds. A space owns an object registry,
// the channels connected to it and the scheduler that dispatches their
// events.
package space

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/NarukamiTO/server-sub000/internal/core/events"
	"github.com/NarukamiTO/server-sub000/internal/core/models"
	"github.com/NarukamiTO/server-sub000/internal/core/observability/log"
	"github.com/NarukamiTO/server-sub000/internal/core/protocol"
)

type ID int64

// ObjectAddedEvent is raised once per connected channel when an object
// enters the space. The object is the dispatch target.
type ObjectAddedEvent struct{ events.Internal }

// ObjectRemovedEvent mirrors ObjectAddedEvent on removal.
type ObjectRemovedEvent struct{ events.Internal }

// ChannelAddedEvent is raised on the channel that joined.
type ChannelAddedEvent struct{ events.Internal }

// ChannelRemovedEvent is raised on the channel that left.
type ChannelRemovedEvent struct{ events.Internal }

// Config is shared by every space of a manager.
type Config struct {
	WatchdogTimeout time.Duration
	Logger          log.Log
	Observer        events.Observer
	Encoder         events.Encoder
}

type Space struct {
	id     ID
	name   string
	logger log.Log

	objects   *models.Registry
	scheduler *events.Scheduler

	mu       sync.RWMutex
	channels []events.Channel
}

var (
	_ events.World      = (*Space)(nil)
	_ protocol.Receiver = (*Space)(nil)
)

func New(id ID, name string, cfg Config, systems ...events.System) *Space {
	if cfg.Logger == nil {
		cfg.Logger = log.Provide()
	}
	s := &Space{
		id:      id,
		name:    name,
		logger:  cfg.Logger.With(log.Int64("space_id", int64(id)), log.String("space", name)),
		objects: models.NewRegistry(),
	}
	s.scheduler = events.NewScheduler(events.Config{
		Name:            fmt.Sprintf("%s#%d", name, id),
		WatchdogTimeout: cfg.WatchdogTimeout,
		Logger:          s.logger,
		Observer:        cfg.Observer,
		Encoder:         cfg.Encoder,
		World:           s,
	}, systems...)

	s.objects.OnAdded(func(obj *models.GameObject) {
		for _, ch := range s.Channels() {
			s.scheduler.Schedule(&ObjectAddedEvent{}, ch, obj)
		}
	})
	s.objects.OnRemoved(func(obj *models.GameObject) {
		for _, ch := range s.Channels() {
			s.scheduler.Schedule(&ObjectRemovedEvent{}, ch, obj)
		}
	})
	return s
}

func (s *Space) ID() ID                       { return s.id }
func (s *Space) Name() string                 { return s.name }
func (s *Space) Scheduler() *events.Scheduler { return s.scheduler }
func (s *Space) Registry() *models.Registry   { return s.objects }

// Objects is a snapshot of the registry in insertion order.
func (s *Space) Objects() []*models.GameObject { return s.objects.All() }

// Channels is a snapshot of the connected channels in join order.
func (s *Space) Channels() []events.Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]events.Channel, len(s.channels))
	copy(out, s.channels)
	return out
}

func (s *Space) Object(id models.ObjectID) (*models.GameObject, bool) {
	return s.objects.Get(id)
}

// AddObject inserts obj and notifies every connected channel. It is safe to
// call from any goroutine.
func (s *Space) AddObject(obj *models.GameObject) error {
	return s.objects.Add(obj)
}

func (s *Space) RemoveObject(id models.ObjectID) error {
	_, err := s.objects.Remove(id)
	return err
}

// AttachChannel connects ch and schedules ChannelAddedEvent on it.
func (s *Space) AttachChannel(ch events.Channel) *events.Dispatch {
	s.mu.Lock()
	s.channels = append(s.channels, ch)
	s.mu.Unlock()
	s.logger.Debug("Channel attached", log.String("viewer", ch.ViewerID()))
	return s.scheduler.Schedule(&ChannelAddedEvent{}, ch, nil)
}

// DetachChannel disconnects ch and schedules ChannelRemovedEvent on it.
// Detaching an unknown channel does nothing and returns nil.
func (s *Space) DetachChannel(ch events.Channel) *events.Dispatch {
	s.mu.Lock()
	found := false
	for i, c := range s.channels {
		if c.ViewerID() == ch.ViewerID() {
			s.channels = append(s.channels[:i:i], s.channels[i+1:]...)
			found = true
			break
		}
	}
	s.mu.Unlock()
	if !found {
		return nil
	}
	s.logger.Debug("Channel detached", log.String("viewer", ch.ViewerID()))
	return s.scheduler.Schedule(&ChannelRemovedEvent{}, ch, nil)
}

// Join upgrades ch into a space channel of s. The channel is detached when
// it closes.
func (s *Space) Join(ch *protocol.Channel) *events.Dispatch {
	ch.Upgrade(protocol.KindSpace, s)
	d := s.AttachChannel(ch)
	go func() {
		<-ch.Done()
		s.DetachChannel(ch)
	}()
	return d
}

// Receive schedules a command read from one of the space's channels.
// Commands addressed to objects that are not in the space are dropped.
func (s *Space) Receive(_ context.Context, ch *protocol.Channel, h events.Header, e events.Event) error {
	obj, ok := s.objects.Get(h.ObjectID)
	if !ok {
		s.logger.Warn("Command for unknown object dropped",
			log.Int64("object_id", int64(h.ObjectID)),
			log.String("event", fmt.Sprintf("%T", e)),
			log.String("viewer", ch.ViewerID()))
		return nil
	}
	s.scheduler.Schedule(e, ch, obj)
	return nil
}

// Schedule is the space's entry point for server logic.
func (s *Space) Schedule(e events.Event, ch events.Channel, target *models.GameObject) *events.Dispatch {
	return s.scheduler.Schedule(e, ch, target)
}

func (s *Space) Start(ctx context.Context) {
	s.scheduler.Start(ctx)
	s.logger.Info("Space started")
}

func (s *Space) Stop() {
	s.scheduler.Stop()
	s.logger.Info("Space stopped", log.Uint64("dispatched", s.scheduler.Stats().Dispatched))
}
