package models

import "fmt"

// ComponentType is the typed handle of a component type. Create one per type
// with NewComponentType from a package-level var.
type ComponentType[T any] struct {
	id   TypeID
	name string
}

func NewComponentType[T any](name string) *ComponentType[T] {
	return &ComponentType[T]{id: registerType(name, KindComponent), name: name}
}

func (ct *ComponentType[T]) ID() TypeID     { return ct.id }
func (ct *ComponentType[T]) Name() string   { return ct.name }
func (ct *ComponentType[T]) Kind() Kind     { return KindComponent }
func (ct *ComponentType[T]) String() string { return ct.name }

// New wraps a value for NewGameObject or GameObject.Add.
func (ct *ComponentType[T]) New(v T) Entry {
	return Entry{Type: ct.id, Kind: KindComponent, Value: v}
}

// Of returns the component stored on obj.
func (ct *ComponentType[T]) Of(obj *GameObject) (T, bool) {
	var zero T
	if obj == nil {
		return zero, false
	}
	raw, ok := obj.Component(ct.id)
	if !ok {
		return zero, false
	}
	v, ok := raw.(T)
	return v, ok
}

// Lookup returns the component resolved into r.
func (ct *ComponentType[T]) Lookup(r Resolved) (T, bool) {
	var zero T
	raw, ok := r.Resolved(ct.id)
	if !ok {
		return zero, false
	}
	v, ok := raw.(T)
	return v, ok
}

// In returns the component resolved into r. It panics if r does not carry the
// type, which means the node schema does not declare it.
func (ct *ComponentType[T]) In(r Resolved) T {
	v, ok := ct.Lookup(r)
	if !ok {
		panic(fmt.Sprintf("component %s is not part of the node", ct.name))
	}
	return v
}
