package nodes

import "github.com/NarukamiTO/server-sub000/internal/core/models"

// Source supplies field values for node building.
type Source interface {
	// Object is the object the node is built for, nil for detached sources.
	Object() *models.GameObject
	Lookup(f Field) (any, bool)
}

// ObjectSource resolves fields against an object as seen by Viewer.
type ObjectSource struct {
	Obj    *models.GameObject
	Viewer models.Viewer
}

func (s ObjectSource) Object() *models.GameObject { return s.Obj }

func (s ObjectSource) Lookup(f Field) (any, bool) {
	if s.Obj == nil {
		return nil, false
	}
	return s.Obj.Resolve(f.Type, f.Kind, s.Viewer)
}

// Bag is an explicit set of component values and model providers that is not
// attached to any object.
type Bag struct {
	viewer models.Viewer
	values map[models.TypeID]models.Entry
}

func NewBag(entries ...models.Entry) *Bag {
	b := &Bag{values: make(map[models.TypeID]models.Entry, len(entries))}
	for _, e := range entries {
		b.values[e.Type] = e
	}
	return b
}

// ForViewer returns a copy of the bag that resolves model providers for v.
func (b *Bag) ForViewer(v models.Viewer) *Bag {
	return &Bag{viewer: v, values: b.values}
}

func (b *Bag) Object() *models.GameObject { return nil }

func (b *Bag) Lookup(f Field) (any, bool) {
	e, ok := b.values[f.Type]
	if !ok || e.Kind != f.Kind {
		return nil, false
	}
	if p, isProvider := e.Value.(models.Provider); isProvider && e.Kind == models.KindModel {
		return p.Provide(b.viewer), true
	}
	return e.Value, true
}
