package events

import (
	"errors"
	"fmt"
)

var (
	ErrSchedulerStopped = errors.New("scheduler is stopped")
	ErrNoChannel        = errors.New("client event without channel")
	ErrNotClientEvent   = errors.New("not a client event")
	ErrNoTarget         = errors.New("event without target object")
	ErrNilEvent         = errors.New("nil event")
)

// MandatoryNodeError means a handler flagged Mandatory could not build one of
// its nodes. It points at a data modeling bug and aborts the whole dispatch.
type MandatoryNodeError struct {
	System  string
	Handler string
	Node    string
	Event   string
	Target  string
	// Join is the index of the failing join, -1 for the primary node.
	Join int
}

func (e *MandatoryNodeError) Error() string {
	where := "primary node"
	if e.Join >= 0 {
		where = fmt.Sprintf("join %d", e.Join)
	}
	return fmt.Sprintf("mandatory %s %s of %s.%s not satisfied by %s for %s",
		where, e.Node, e.System, e.Handler, e.Target, e.Event)
}

// HandlerPanicError wraps a value recovered from a handler.
type HandlerPanicError struct {
	Value any
	Stack []byte
}

func (e *HandlerPanicError) Error() string {
	return fmt.Sprintf("handler panic: %v", e.Value)
}
