package models

import "fmt"

// Provider produces a model value for a viewer. Models are stored as providers
// because their value may depend on who is looking.
type Provider interface {
	Provide(v Viewer) any
}

type staticProvider struct {
	value any
}

func (p staticProvider) Provide(Viewer) any { return p.value }

// ProviderFunc adapts a closure to Provider.
type ProviderFunc func(v Viewer) any

func (f ProviderFunc) Provide(v Viewer) any { return f(v) }

// ModelType is the typed handle of a model. ModelID is the id the client knows
// the model by.
type ModelType[T any] struct {
	id      TypeID
	name    string
	modelID int64
}

func NewModelType[T any](name string, modelID int64) *ModelType[T] {
	return &ModelType[T]{id: registerType(name, KindModel), name: name, modelID: modelID}
}

func (mt *ModelType[T]) ID() TypeID     { return mt.id }
func (mt *ModelType[T]) Name() string   { return mt.name }
func (mt *ModelType[T]) Kind() Kind     { return KindModel }
func (mt *ModelType[T]) ModelID() int64 { return mt.modelID }
func (mt *ModelType[T]) String() string { return mt.name }

// Static attaches a fixed value.
func (mt *ModelType[T]) Static(v T) Entry {
	return Entry{Type: mt.id, Kind: KindModel, Value: staticProvider{value: v}}
}

// Dynamic attaches a value computed per viewer on every lookup.
func (mt *ModelType[T]) Dynamic(fn func(v Viewer) T) Entry {
	return Entry{Type: mt.id, Kind: KindModel, Value: ProviderFunc(func(v Viewer) any { return fn(v) })}
}

// Of resolves the model on obj for viewer v.
func (mt *ModelType[T]) Of(obj *GameObject, v Viewer) (T, bool) {
	var zero T
	if obj == nil {
		return zero, false
	}
	raw, ok := obj.Model(mt.id, v)
	if !ok {
		return zero, false
	}
	value, ok := raw.(T)
	return value, ok
}

func (mt *ModelType[T]) Lookup(r Resolved) (T, bool) {
	var zero T
	raw, ok := r.Resolved(mt.id)
	if !ok {
		return zero, false
	}
	v, ok := raw.(T)
	return v, ok
}

// In returns the model value resolved into r and panics if it is absent.
func (mt *ModelType[T]) In(r Resolved) T {
	v, ok := mt.Lookup(r)
	if !ok {
		panic(fmt.Sprintf("model %s is not part of the node", mt.name))
	}
	return v
}
