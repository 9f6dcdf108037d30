package game

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/NarukamiTO/server-sub000/internal/core/events"
	"github.com/NarukamiTO/server-sub000/internal/core/observability/log"
	"github.com/NarukamiTO/server-sub000/internal/core/resources"
	"github.com/NarukamiTO/server-sub000/internal/core/space"
)

const DefaultLoadTimeout = 30 * time.Second

// Loader makes every channel that joins a battle load the battle resources
// before its tank is spawned.
type Loader struct {
	resources []resources.Ref
	timeout   time.Duration

	mu      sync.Mutex
	next    int32
	pending map[int32]*events.Deferred[struct{}]
}

func NewLoader(refs []resources.Ref, timeout time.Duration) *Loader {
	if timeout <= 0 {
		timeout = DefaultLoadTimeout
	}
	return &Loader{
		resources: refs,
		timeout:   timeout,
		pending:   make(map[int32]*events.Deferred[struct{}]),
	}
}

// Pending is the number of loads waiting for the client.
func (l *Loader) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

func (l *Loader) expect() (int32, *events.Deferred[struct{}]) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.next++
	d := events.NewDeferred[struct{}]()
	l.pending[l.next] = d
	return l.next, d
}

func (l *Loader) complete(id int32) bool {
	l.mu.Lock()
	d, ok := l.pending[id]
	l.mu.Unlock()
	return ok && d.Complete(struct{}{})
}

func (l *Loader) forget(id int32) {
	l.mu.Lock()
	delete(l.pending, id)
	l.mu.Unlock()
}

// LoaderSystem drives the join sequence of a battle channel. The join
// handler waits for the client and therefore runs out of order.
func LoaderSystem(l *Loader) events.System {
	return events.System{
		Name: "LoaderSystem",
		Handlers: []events.Handler{
			events.On(nil, l.onChannelAdded, events.OutOfOrder(), events.JoinAll(BattleNode, true)),
			events.On(BattleNode, l.onResourcesLoaded),
		},
	}
}

func (l *Loader) onChannelAdded(c *events.Context, _ *space.ChannelAddedEvent) error {
	battle := c.Join(0)
	id, loaded := l.expect()
	if err := c.Reply(&LoadResourcesEvent{Callback: id, Resources: l.resources}, battle.Object()); err != nil {
		l.forget(id)
		return err
	}

	ctx, cancel := context.WithTimeout(c.Context(), l.timeout)
	defer cancel()
	started := time.Now()
	_, err := loaded.Await(ctx)
	l.forget(id)
	if err != nil {
		return fmt.Errorf("await resources of callback %d: %w", id, err)
	}
	c.Logger().Debug("Resources loaded",
		log.String("viewer", c.Channel().ViewerID()),
		log.Duration("elapsed", time.Since(started)))

	if err := c.Reply(&BattleInfoEvent{Battle: BattleModels.In(battle)}, battle.Object()); err != nil {
		return err
	}
	for _, obj := range c.World().Objects() {
		if node, ok := TankViewNode.BuildFor(obj, c.Channel()); ok {
			if err := announceTank(c, node); err != nil {
				return err
			}
		}
	}
	return c.Schedule(&SpawnTankEvent{}, c.Channel(), battle.Object()).Wait(c.Context())
}

func (l *Loader) onResourcesLoaded(_ *events.Context, e *ResourcesLoadedEvent) error {
	if !l.complete(e.Callback) {
		return fmt.Errorf("callback %d: %w", e.Callback, ErrUnknownCallback)
	}
	return nil
}
