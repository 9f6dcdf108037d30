package events

import (
	"context"
	"fmt"

	"github.com/NarukamiTO/server-sub000/internal/core/models"
	"github.com/NarukamiTO/server-sub000/internal/core/nodes"
	"github.com/NarukamiTO/server-sub000/internal/core/observability/log"
)

// Context is what a handler gets besides the event: the resolved nodes, the
// requesting channel and a way to schedule follow-up events.
type Context struct {
	ctx       context.Context
	scheduler *Scheduler
	event     Event
	channel   Channel
	target    *models.GameObject
	node      *nodes.Node
	joins     []*nodes.Node
	logger    log.Log
}

// Context is cancelled when the scheduler stops.
func (c *Context) Context() context.Context { return c.ctx }

func (c *Context) Event() Event { return c.event }

// Channel is the channel the event arrived on, or nil for internal events
// raised without one.
func (c *Context) Channel() Channel { return c.channel }

func (c *Context) Target() *models.GameObject { return c.target }

// Node is the primary node, nil for handlers registered without one.
func (c *Context) Node() *nodes.Node { return c.node }

// Join returns the i-th join node in registration order.
func (c *Context) Join(i int) *nodes.Node {
	if i < 0 || i >= len(c.joins) {
		return nil
	}
	return c.joins[i]
}

func (c *Context) World() World { return c.scheduler.world }

func (c *Context) Logger() log.Log { return c.logger }

// Schedule forwards to the scheduler that runs this handler.
func (c *Context) Schedule(e Event, ch Channel, target *models.GameObject) *Dispatch {
	return c.scheduler.Schedule(e, ch, target)
}

// Reply sends a client event on the requesting channel.
func (c *Context) Reply(e Event, target *models.GameObject) error {
	if e == nil || e.Direction() != DirectionClient {
		return fmt.Errorf("reply with %s: %w", typeName(e), ErrNotClientEvent)
	}
	if c.channel == nil {
		return ErrNoChannel
	}
	return c.scheduler.send(e, c.channel, target)
}
