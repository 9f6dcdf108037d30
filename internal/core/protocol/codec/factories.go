package codec

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/NarukamiTO/server-sub000/internal/core/resources"
)

// Enum is implemented by integer types encoded as their ordinal. EnumCount is
// called on the zero value and bounds the valid ordinals.
type Enum interface {
	EnumCount() int
}

var (
	enumType = reflect.TypeFor[Enum]()
	refType  = reflect.TypeFor[resources.Ref]()
)

// optionalFactory encodes pointers as a presence bit in the optional map
// followed by the pointee when set.
func optionalFactory(r *Registry, t reflect.Type) (Codec, error) {
	if t.Kind() != reflect.Pointer {
		return nil, nil
	}
	elem, err := r.resolveLocked(t.Elem())
	if err != nil {
		return nil, err
	}
	return &optionalCodec{t: t, elem: elem}, nil
}

type optionalCodec struct {
	t    reflect.Type
	elem Codec
}

func (c *optionalCodec) Encode(buf *Buffer, v any) error {
	rv := reflect.ValueOf(v)
	if v == nil || rv.IsNil() {
		buf.WriteOptional(false)
		return nil
	}
	buf.WriteOptional(true)
	return c.elem.Encode(buf, rv.Elem().Interface())
}

func (c *optionalCodec) Decode(buf *Buffer) (any, error) {
	present, err := buf.ReadOptional()
	if err != nil {
		return nil, err
	}
	if !present {
		return reflect.Zero(c.t).Interface(), nil
	}
	v, err := c.elem.Decode(buf)
	if err != nil {
		return nil, err
	}
	p := reflect.New(c.t.Elem())
	p.Elem().Set(reflect.ValueOf(v))
	return p.Interface(), nil
}

func enumFactory(_ *Registry, t reflect.Type) (Codec, error) {
	if !t.Implements(enumType) {
		return nil, nil
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
	default:
		return nil, &UnsupportedTypeError{Type: t, Reason: "enum must have an integer kind"}
	}
	count := reflect.Zero(t).Interface().(Enum).EnumCount()
	if count <= 0 || count > 256 {
		return nil, &UnsupportedTypeError{Type: t, Reason: fmt.Sprintf("enum count %d", count)}
	}
	return &enumCodec{t: t, count: count}, nil
}

// enumCodec writes the ordinal as one byte.
type enumCodec struct {
	t     reflect.Type
	count int
}

func (c *enumCodec) Encode(buf *Buffer, v any) error {
	rv := reflect.ValueOf(v)
	var ord int64
	if rv.CanInt() {
		ord = rv.Int()
	} else {
		ord = int64(rv.Uint())
	}
	if ord < 0 || ord >= int64(c.count) {
		return fmt.Errorf("%v(%d): %w", c.t, ord, ErrInvalidEnum)
	}
	buf.WriteInt8(int8(ord))
	return nil
}

func (c *enumCodec) Decode(buf *Buffer) (any, error) {
	b, err := buf.ReadInt8()
	if err != nil {
		return nil, err
	}
	ord := int(uint8(b))
	if ord >= c.count {
		return nil, fmt.Errorf("%v(%d): %w", c.t, ord, ErrInvalidEnum)
	}
	v := reflect.New(c.t).Elem()
	if v.CanInt() {
		v.SetInt(int64(ord))
	} else {
		v.SetUint(uint64(ord))
	}
	return v.Interface(), nil
}

// resourceFactory encodes resources.Ref as the resource id.
func resourceFactory(r *Registry, t reflect.Type) (Codec, error) {
	if t != refType {
		return nil, nil
	}
	if r.resources == nil {
		return nil, fmt.Errorf("%v: %w", t, ErrResourcesUnbound)
	}
	lookup := r.resources
	return Func(
		func(b *Buffer, ref resources.Ref) error {
			info, err := lookup.Resolve(ref)
			if err != nil {
				return err
			}
			b.WriteInt64(info.ID)
			return nil
		},
		func(b *Buffer) (resources.Ref, error) {
			id, err := b.ReadInt64()
			if err != nil {
				return resources.Ref{}, err
			}
			return lookup.ByID(id)
		}), nil
}

// listFactory encodes slices as a VarInt count followed by the elements.
func listFactory(r *Registry, t reflect.Type) (Codec, error) {
	if t.Kind() != reflect.Slice {
		return nil, nil
	}
	elem, err := r.resolveLocked(t.Elem())
	if err != nil {
		return nil, err
	}
	return &listCodec{t: t, elem: elem}, nil
}

type listCodec struct {
	t    reflect.Type
	elem Codec
}

func (c *listCodec) Encode(buf *Buffer, v any) error {
	rv := reflect.ValueOf(v)
	if err := buf.WriteVarInt(rv.Len()); err != nil {
		return err
	}
	for i := 0; i < rv.Len(); i++ {
		if err := c.elem.Encode(buf, rv.Index(i).Interface()); err != nil {
			return fmt.Errorf("[%d]: %w", i, err)
		}
	}
	return nil
}

func (c *listCodec) Decode(buf *Buffer) (any, error) {
	n, err := buf.ReadVarInt()
	if err != nil {
		return nil, err
	}
	out := reflect.MakeSlice(c.t, n, n)
	for i := 0; i < n; i++ {
		v, err := c.elem.Decode(buf)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		out.Index(i).Set(reflect.ValueOf(v))
	}
	return out.Interface(), nil
}

// mapFactory encodes maps as a VarInt count followed by key/value pairs in
// ascending key order, so equal maps encode to equal bytes.
func mapFactory(r *Registry, t reflect.Type) (Codec, error) {
	if t.Kind() != reflect.Map {
		return nil, nil
	}
	switch t.Key().Kind() {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
	default:
		return nil, &UnsupportedTypeError{Type: t, Reason: "map key is not ordered"}
	}
	key, err := r.resolveLocked(t.Key())
	if err != nil {
		return nil, err
	}
	value, err := r.resolveLocked(t.Elem())
	if err != nil {
		return nil, err
	}
	return &mapCodec{t: t, key: key, value: value}, nil
}

type mapCodec struct {
	t     reflect.Type
	key   Codec
	value Codec
}

func (c *mapCodec) Encode(buf *Buffer, v any) error {
	rv := reflect.ValueOf(v)
	keys := rv.MapKeys()
	sort.Slice(keys, func(i, j int) bool { return lessKey(keys[i], keys[j]) })
	if err := buf.WriteVarInt(len(keys)); err != nil {
		return err
	}
	for _, k := range keys {
		if err := c.key.Encode(buf, k.Interface()); err != nil {
			return err
		}
		if err := c.value.Encode(buf, rv.MapIndex(k).Interface()); err != nil {
			return fmt.Errorf("[%v]: %w", k, err)
		}
	}
	return nil
}

func (c *mapCodec) Decode(buf *Buffer) (any, error) {
	n, err := buf.ReadVarInt()
	if err != nil {
		return nil, err
	}
	out := reflect.MakeMapWithSize(c.t, n)
	for i := 0; i < n; i++ {
		k, err := c.key.Decode(buf)
		if err != nil {
			return nil, err
		}
		v, err := c.value.Decode(buf)
		if err != nil {
			return nil, err
		}
		out.SetMapIndex(reflect.ValueOf(k), reflect.ValueOf(v))
	}
	return out.Interface(), nil
}

func lessKey(a, b reflect.Value) bool {
	switch a.Kind() {
	case reflect.String:
		return a.String() < b.String()
	case reflect.Bool:
		return !a.Bool() && b.Bool()
	case reflect.Float32, reflect.Float64:
		return a.Float() < b.Float()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return a.Uint() < b.Uint()
	default:
		return a.Int() < b.Int()
	}
}

// structFactory encodes exported fields in declaration order. Fields tagged
// `protocol:"-"` and field-less embedded markers are skipped.
func structFactory(r *Registry, t reflect.Type) (Codec, error) {
	if t.Kind() != reflect.Struct {
		return nil, nil
	}
	c := &structCodec{t: t}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() || f.Tag.Get("protocol") == "-" {
			continue
		}
		if f.Anonymous && f.Type.Kind() == reflect.Struct && f.Type.NumField() == 0 {
			continue
		}
		fc, err := r.resolveLocked(f.Type)
		if err != nil {
			return nil, fmt.Errorf("%v.%s: %w", t, f.Name, err)
		}
		c.fields = append(c.fields, structField{index: i, name: f.Name, codec: fc})
	}
	return c, nil
}

type structField struct {
	index int
	name  string
	codec Codec
}

type structCodec struct {
	t      reflect.Type
	fields []structField
}

// FieldNames lists the encoded fields in wire order.
func (c *structCodec) FieldNames() []string {
	names := make([]string, len(c.fields))
	for i, f := range c.fields {
		names[i] = f.name
	}
	return names
}

func (c *structCodec) String() string {
	return fmt.Sprintf("struct %v{%s}", c.t, strings.Join(c.FieldNames(), ", "))
}

func (c *structCodec) Encode(buf *Buffer, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Type() != c.t {
		return fmt.Errorf("%T as %v: %w", v, c.t, ErrTypeMismatch)
	}
	for _, f := range c.fields {
		if err := f.codec.Encode(buf, rv.Field(f.index).Interface()); err != nil {
			return fmt.Errorf("%v.%s: %w", c.t, f.name, err)
		}
	}
	return nil
}

func (c *structCodec) Decode(buf *Buffer) (any, error) {
	out := reflect.New(c.t).Elem()
	for _, f := range c.fields {
		v, err := f.codec.Decode(buf)
		if err != nil {
			return nil, fmt.Errorf("%v.%s: %w", c.t, f.name, err)
		}
		if v != nil {
			out.Field(f.index).Set(reflect.ValueOf(v))
		}
	}
	return out.Interface(), nil
}

var kindTypes = map[reflect.Kind]reflect.Type{
	reflect.Bool:    reflect.TypeFor[bool](),
	reflect.Int:     reflect.TypeFor[int](),
	reflect.Int8:    reflect.TypeFor[int8](),
	reflect.Int16:   reflect.TypeFor[int16](),
	reflect.Int32:   reflect.TypeFor[int32](),
	reflect.Int64:   reflect.TypeFor[int64](),
	reflect.Uint8:   reflect.TypeFor[uint8](),
	reflect.Float32: reflect.TypeFor[float32](),
	reflect.Float64: reflect.TypeFor[float64](),
	reflect.String:  reflect.TypeFor[string](),
}

// kindFactory covers named types over primitives, e.g. type Score int32.
func kindFactory(r *Registry, t reflect.Type) (Codec, error) {
	base, ok := kindTypes[t.Kind()]
	if !ok || base == t {
		return nil, nil
	}
	c, err := r.resolveLocked(base)
	if err != nil {
		return nil, err
	}
	return &convertCodec{t: t, base: base, c: c}, nil
}

type convertCodec struct {
	t, base reflect.Type
	c       Codec
}

func (c *convertCodec) Encode(buf *Buffer, v any) error {
	return c.c.Encode(buf, reflect.ValueOf(v).Convert(c.base).Interface())
}

func (c *convertCodec) Decode(buf *Buffer) (any, error) {
	v, err := c.c.Decode(buf)
	if err != nil {
		return nil, err
	}
	return reflect.ValueOf(v).Convert(c.t).Interface(), nil
}
