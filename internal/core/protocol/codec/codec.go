// Package codec resolves Go types to their wire codecs.
//
// Resolution tries explicit registrations first (primitives and hand-written
// codecs), then a chain of factories that derive codecs from the type's
// structure. Struct fields are encoded in declaration order; reordering fields
// of a wire type breaks the protocol.
package codec

import (
	"fmt"
	"reflect"
)

// Codec encodes and decodes values of one Go type.
type Codec interface {
	Encode(buf *Buffer, v any) error
	Decode(buf *Buffer) (any, error)
}

type funcCodec[T any] struct {
	enc func(*Buffer, T) error
	dec func(*Buffer) (T, error)
}

// Func builds a codec from a pair of typed functions.
func Func[T any](enc func(*Buffer, T) error, dec func(*Buffer) (T, error)) Codec {
	return funcCodec[T]{enc: enc, dec: dec}
}

func (c funcCodec[T]) Encode(buf *Buffer, v any) error {
	t, ok := v.(T)
	if !ok {
		return fmt.Errorf("%T as %v: %w", v, reflect.TypeFor[T](), ErrTypeMismatch)
	}
	return c.enc(buf, t)
}

func (c funcCodec[T]) Decode(buf *Buffer) (any, error) {
	return c.dec(buf)
}

// Typed is a codec bound to its static type.
type Typed[T any] struct {
	c Codec
}

// For resolves the codec of T.
func For[T any](r *Registry) (Typed[T], error) {
	c, err := r.Resolve(reflect.TypeFor[T]())
	if err != nil {
		return Typed[T]{}, err
	}
	return Typed[T]{c: c}, nil
}

// MustFor is For for types known to be encodable.
func MustFor[T any](r *Registry) Typed[T] {
	t, err := For[T](r)
	if err != nil {
		panic(err)
	}
	return t
}

func (t Typed[T]) Encode(buf *Buffer, v T) error {
	return t.c.Encode(buf, v)
}

func (t Typed[T]) Decode(buf *Buffer) (T, error) {
	var zero T
	raw, err := t.c.Decode(buf)
	if err != nil {
		return zero, err
	}
	if raw == nil {
		return zero, nil
	}
	v, ok := raw.(T)
	if !ok {
		return zero, fmt.Errorf("decoded %T as %v: %w", raw, reflect.TypeFor[T](), ErrTypeMismatch)
	}
	return v, nil
}
