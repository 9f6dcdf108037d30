package events

import (
	"fmt"
	"reflect"

	"github.com/NarukamiTO/server-sub000/internal/core/nodes"
)

// System is an ordered table of handlers. Systems hold no state of their own;
// anything they need is captured by the handler closures.
type System struct {
	Name     string
	Handlers []Handler
}

// Join is an extra node searched across the whole world.
type Join struct {
	Node      *nodes.Schema
	Mandatory bool
	// AllChannels builds the node for every connected channel as viewer
	// instead of only the requesting one.
	AllChannels bool
}

// Handler is one registration of a system.
type Handler struct {
	Name       string
	Event      reflect.Type
	Node       *nodes.Schema
	Mandatory  bool
	OutOfOrder bool
	Joins      []Join

	fn func(c *Context, e Event) error
}

type HandlerOption func(*Handler)

// Mandatory turns a primary node mismatch into a fatal dispatch error.
func Mandatory() HandlerOption {
	return func(h *Handler) { h.Mandatory = true }
}

// OutOfOrder runs the handler detached from the queue. Required for handlers
// that wait on something only a later event can deliver.
func OutOfOrder() HandlerOption {
	return func(h *Handler) { h.OutOfOrder = true }
}

// JoinAll adds a node that is matched against every object of the world for
// the requesting channel. The first match wins.
func JoinAll(node *nodes.Schema, mandatory bool) HandlerOption {
	return func(h *Handler) {
		h.Joins = append(h.Joins, Join{Node: node, Mandatory: mandatory})
	}
}

// JoinAllChannels is JoinAll with every connected channel tried as viewer.
func JoinAllChannels(node *nodes.Schema, mandatory bool) HandlerOption {
	return func(h *Handler) {
		h.Joins = append(h.Joins, Join{Node: node, Mandatory: mandatory, AllChannels: true})
	}
}

// Named overrides the handler name used in logs.
func Named(name string) HandlerOption {
	return func(h *Handler) { h.Name = name }
}

// On registers fn for events of exactly type E. node is built against the
// target object; a nil node accepts any target.
func On[E Event](node *nodes.Schema, fn func(c *Context, e E) error, opts ...HandlerOption) Handler {
	t := reflect.TypeFor[E]()
	h := Handler{
		Name:  "On" + t.String(),
		Event: t,
		Node:  node,
		fn: func(c *Context, e Event) error {
			return fn(c, e.(E))
		},
	}
	for _, opt := range opts {
		opt(&h)
	}
	return h
}

func (h *Handler) String() string {
	if h.Node == nil {
		return fmt.Sprintf("%s(%v)", h.Name, h.Event)
	}
	return fmt.Sprintf("%s(%v, %s)", h.Name, h.Event, h.Node.Name())
}
