// Package nodes resolves declared node schemas against game objects.
//
// A schema is a fixed list of (field name, type) pairs declared once at init.
// Building a node resolves every field against a source; a missing field is
// "no match", never an error. Since objects only ever gain data, a node that
// built once keeps building.
package nodes

import (
	"fmt"

	"github.com/NarukamiTO/server-sub000/internal/core/models"
)

// Descriptor is implemented by models.ComponentType and models.ModelType.
type Descriptor interface {
	ID() models.TypeID
	Name() string
	Kind() models.Kind
}

// Field is one declared slot of a schema.
type Field struct {
	Name string
	Type models.TypeID
	Kind models.Kind
}

// Schema is an immutable node declaration.
type Schema struct {
	name   string
	fields []Field
}

type Builder struct {
	name   string
	fields []Field
	names  map[string]struct{}
	types  map[models.TypeID]struct{}
}

// NewSchema starts a schema declaration.
func NewSchema(name string) *Builder {
	return &Builder{
		name:  name,
		names: make(map[string]struct{}),
		types: make(map[models.TypeID]struct{}),
	}
}

// With declares a field named after the type.
func (b *Builder) With(d Descriptor) *Builder {
	return b.Field(d.Name(), d)
}

// Field declares a named field. Declaring the same name or type twice panics:
// schemas are built from package initializers and a duplicate is a typo.
func (b *Builder) Field(name string, d Descriptor) *Builder {
	if _, dup := b.names[name]; dup {
		panic(fmt.Sprintf("node %s: duplicate field %q", b.name, name))
	}
	if _, dup := b.types[d.ID()]; dup {
		panic(fmt.Sprintf("node %s: type %s declared twice", b.name, d.Name()))
	}
	b.names[name] = struct{}{}
	b.types[d.ID()] = struct{}{}
	b.fields = append(b.fields, Field{Name: name, Type: d.ID(), Kind: d.Kind()})
	return b
}

func (b *Builder) Build() *Schema {
	fields := make([]Field, len(b.fields))
	copy(fields, b.fields)
	return &Schema{name: b.name, fields: fields}
}

func (s *Schema) Name() string { return s.name }

// Fields returns the declared fields in declaration order.
func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

func (s *Schema) String() string { return s.name }

// Build resolves every field against src. It reports false if any field is
// missing.
func (s *Schema) Build(src Source) (*Node, bool) {
	n := &Node{
		schema: s,
		object: src.Object(),
		values: make(map[models.TypeID]any, len(s.fields)),
	}
	for _, f := range s.fields {
		v, ok := src.Lookup(f)
		if !ok {
			return nil, false
		}
		n.values[f.Type] = v
	}
	return n, true
}

// Matches is Build without keeping the result.
func (s *Schema) Matches(src Source) bool {
	_, ok := s.Build(src)
	return ok
}

// BuildFor is a shorthand for building against an object for a viewer.
func (s *Schema) BuildFor(obj *models.GameObject, viewer models.Viewer) (*Node, bool) {
	if obj == nil {
		return nil, false
	}
	return s.Build(ObjectSource{Obj: obj, Viewer: viewer})
}
