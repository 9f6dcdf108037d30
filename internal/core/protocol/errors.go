package protocol

import (
	"errors"
	"fmt"
	"reflect"
)

var (
	// Channel errors

	ErrChannelClosed = errors.New("channel is closed")
	ErrWrongKind     = errors.New("command does not belong to this channel kind")

	// Command errors

	ErrUnknownCommand      = errors.New("unknown command")
	ErrCommandRegistered   = errors.New("command already registered")
	ErrInvalidCommandType  = errors.New("command type must be a pointer to a struct")
	ErrControlCodeOverflow = errors.New("control command code does not fit in one byte")
)

// DecodeError terminates the channel it was raised on.
type DecodeError struct {
	Kind StreamKind
	Code int64
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s command %d: %v", e.Kind, e.Code, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func commandTypeErr(t reflect.Type) error {
	return fmt.Errorf("%v: %w", t, ErrInvalidCommandType)
}
