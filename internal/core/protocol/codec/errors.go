package codec

import (
	"errors"
	"fmt"
	"reflect"
)

var (
	ErrCodecNotFound    = errors.New("codec not found")
	ErrShortBuffer      = errors.New("short buffer")
	ErrInvalidEnum      = errors.New("invalid enum ordinal")
	ErrResourcesUnbound = errors.New("no resource lookup bound")
	ErrTypeMismatch     = errors.New("value does not match codec type")
)

// UnsupportedTypeError reports a type no registration or factory can encode.
type UnsupportedTypeError struct {
	Type   reflect.Type
	Reason string
}

func (e *UnsupportedTypeError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("codec: unsupported type %v", e.Type)
	}
	return fmt.Sprintf("codec: unsupported type %v: %s", e.Type, e.Reason)
}

func (e *UnsupportedTypeError) Unwrap() error { return ErrCodecNotFound }
