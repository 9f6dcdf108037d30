package codec

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/NarukamiTO/server-sub000/internal/core/resources"
)

// Factory derives a codec for t. It returns nil, nil when t is not its shape.
type Factory func(r *Registry, t reflect.Type) (Codec, error)

// Registry resolves and memoizes codecs per type. Distinct instantiations of
// a generic type are distinct types and get distinct codecs.
type Registry struct {
	mu        sync.RWMutex
	explicit  map[reflect.Type]Codec
	resolved  map[reflect.Type]Codec
	factories []Factory
	resources resources.Lookup

	analyses atomic.Int64
}

type Option func(*Registry)

// WithResources binds the lookup used to encode resources.Ref values.
func WithResources(l resources.Lookup) Option {
	return func(r *Registry) { r.resources = l }
}

// WithFactory adds a factory that runs before the built-in ones.
func WithFactory(f Factory) Option {
	return func(r *Registry) { r.factories = append([]Factory{f}, r.factories...) }
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		explicit: make(map[reflect.Type]Codec),
		resolved: make(map[reflect.Type]Codec),
		factories: []Factory{
			optionalFactory,
			enumFactory,
			resourceFactory,
			listFactory,
			mapFactory,
			structFactory,
			kindFactory,
		},
	}
	registerPrimitives(r)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register binds c to t ahead of any factory. Registering after t was
// resolved replaces the memoized codec for t only, not for types built on it.
func (r *Registry) Register(t reflect.Type, c Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.explicit[t] = c
	delete(r.resolved, t)
}

// Register binds a codec to T.
func Register[T any](r *Registry, c Codec) {
	r.Register(reflect.TypeFor[T](), c)
}

// Analyses counts structural resolutions, i.e. cache misses.
func (r *Registry) Analyses() int64 { return r.analyses.Load() }

// Resolve returns the codec of t.
func (r *Registry) Resolve(t reflect.Type) (Codec, error) {
	r.mu.RLock()
	c, ok := r.explicit[t]
	if !ok {
		c, ok = r.resolved[t]
	}
	r.mu.RUnlock()
	if ok {
		return c, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolveLocked(t)
}

func (r *Registry) resolveLocked(t reflect.Type) (Codec, error) {
	if c, ok := r.explicit[t]; ok {
		return c, nil
	}
	if c, ok := r.resolved[t]; ok {
		return c, nil
	}

	// Recursive types see the placeholder while their codec is built.
	p := &pending{t: t}
	r.resolved[t] = p
	r.analyses.Add(1)

	for _, f := range r.factories {
		c, err := f(r, t)
		if err != nil {
			delete(r.resolved, t)
			return nil, err
		}
		if c != nil {
			p.c = c
			r.resolved[t] = c
			return c, nil
		}
	}
	delete(r.resolved, t)
	return nil, &UnsupportedTypeError{Type: t}
}

// Encode writes v with the codec of its dynamic type.
func (r *Registry) Encode(buf *Buffer, v any) error {
	if v == nil {
		return &UnsupportedTypeError{Reason: "nil interface"}
	}
	c, err := r.Resolve(reflect.TypeOf(v))
	if err != nil {
		return err
	}
	return c.Encode(buf, v)
}

// Decode reads a value of type t.
func (r *Registry) Decode(buf *Buffer, t reflect.Type) (any, error) {
	c, err := r.Resolve(t)
	if err != nil {
		return nil, err
	}
	return c.Decode(buf)
}

type pending struct {
	t reflect.Type
	c Codec
}

func (p *pending) Encode(buf *Buffer, v any) error {
	if p.c == nil {
		return fmt.Errorf("%v: %w", p.t, ErrCodecNotFound)
	}
	return p.c.Encode(buf, v)
}

func (p *pending) Decode(buf *Buffer) (any, error) {
	if p.c == nil {
		return nil, fmt.Errorf("%v: %w", p.t, ErrCodecNotFound)
	}
	return p.c.Decode(buf)
}

func registerPrimitives(r *Registry) {
	Register[bool](r, Func(
		func(b *Buffer, v bool) error { b.WriteBool(v); return nil },
		(*Buffer).ReadBool))
	Register[int8](r, Func(
		func(b *Buffer, v int8) error { b.WriteInt8(v); return nil },
		(*Buffer).ReadInt8))
	Register[uint8](r, Func(
		func(b *Buffer, v uint8) error { b.WriteInt8(int8(v)); return nil },
		func(b *Buffer) (uint8, error) { v, err := b.ReadInt8(); return uint8(v), err }))
	Register[int16](r, Func(
		func(b *Buffer, v int16) error { b.WriteInt16(v); return nil },
		(*Buffer).ReadInt16))
	Register[int32](r, Func(
		func(b *Buffer, v int32) error { b.WriteInt32(v); return nil },
		(*Buffer).ReadInt32))
	// int travels as a 32 bit integer.
	Register[int](r, Func(
		func(b *Buffer, v int) error { b.WriteInt32(int32(v)); return nil },
		func(b *Buffer) (int, error) { v, err := b.ReadInt32(); return int(v), err }))
	Register[int64](r, Func(
		func(b *Buffer, v int64) error { b.WriteInt64(v); return nil },
		(*Buffer).ReadInt64))
	Register[float32](r, Func(
		func(b *Buffer, v float32) error { b.WriteFloat32(v); return nil },
		(*Buffer).ReadFloat32))
	Register[float64](r, Func(
		func(b *Buffer, v float64) error { b.WriteFloat64(v); return nil },
		(*Buffer).ReadFloat64))
	Register[string](r, Func((*Buffer).WriteString, (*Buffer).ReadString))
	Register[[]byte](r, Func((*Buffer).WriteBytes, (*Buffer).ReadBytes))
	Register[mgl32.Vec3](r, Func(
		func(b *Buffer, v mgl32.Vec3) error {
			b.WriteFloat32(v.X())
			b.WriteFloat32(v.Y())
			b.WriteFloat32(v.Z())
			return nil
		},
		func(b *Buffer) (mgl32.Vec3, error) {
			var v mgl32.Vec3
			for i := range v {
				f, err := b.ReadFloat32()
				if err != nil {
					return v, err
				}
				v[i] = f
			}
			return v, nil
		}))
}
