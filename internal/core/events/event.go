// Package events routes events to system handlers.
//
// Client-bound events are encoded straight into the channel's outgoing batch.
// Server-bound and internal events are queued on the scheduler's single actor
// goroutine and dispatched in FIFO order to every handler whose node builds
// against the target object.
package events

import (
	"reflect"

	"github.com/NarukamiTO/server-sub000/internal/core/models"
	"github.com/NarukamiTO/server-sub000/internal/core/protocol/codec"
)

type Direction uint8

const (
	DirectionClient Direction = iota + 1
	DirectionServer
	DirectionInternal
)

func (d Direction) String() string {
	switch d {
	case DirectionClient:
		return "client"
	case DirectionServer:
		return "server"
	case DirectionInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Event is implemented by embedding exactly one of ToClient, ToServer or
// Internal.
type Event interface {
	Direction() Direction
}

// ToClient marks events sent to the client.
type ToClient struct{}

func (ToClient) Direction() Direction { return DirectionClient }

// ToServer marks events received from the client.
type ToServer struct{}

func (ToServer) Direction() Direction { return DirectionServer }

// Internal marks events raised by server code.
type Internal struct{}

func (Internal) Direction() Direction { return DirectionInternal }

// Header addresses a command on the wire.
type Header struct {
	ObjectID models.ObjectID
	MethodID int64
}

// Channel is the scheduler's view of a connection.
type Channel interface {
	models.Viewer
	// Append adds one command to the outgoing batch. body writes the
	// command arguments after the header.
	Append(h Header, body func(buf *codec.Buffer) error) error
}

// Encoder maps client events to method ids and argument encodings.
type Encoder interface {
	MethodID(t reflect.Type) (int64, error)
	EncodeBody(buf *codec.Buffer, e Event) error
}

// World is the set of objects and channels join-all handlers search.
type World interface {
	Objects() []*models.GameObject
	Channels() []Channel
}

func typeName(e Event) string {
	if e == nil {
		return "<nil>"
	}
	return reflect.TypeOf(e).String()
}
