package models

import (
	"fmt"
	"sort"
	"sync"
)

// Class is the template tag of an object, e.g. "tank" or "battle".
type Class struct {
	ID   int64
	Name string
}

// GameObject is a uniquely identified container of components and model
// providers. Components are added once and never removed.
type GameObject struct {
	id    ObjectID
	class Class

	mu         sync.RWMutex
	components map[TypeID]any
	models     map[TypeID]Provider
}

// NewGameObject creates an object carrying the given entries. Duplicate types
// among entries are an error.
func NewGameObject(id ObjectID, class Class, entries ...Entry) (*GameObject, error) {
	obj := &GameObject{
		id:         id,
		class:      class,
		components: make(map[TypeID]any),
		models:     make(map[TypeID]Provider),
	}
	if err := obj.Add(entries...); err != nil {
		return nil, err
	}
	return obj, nil
}

// MustGameObject is NewGameObject for statically known entries.
func MustGameObject(id ObjectID, class Class, entries ...Entry) *GameObject {
	obj, err := NewGameObject(id, class, entries...)
	if err != nil {
		panic(err)
	}
	return obj
}

func (o *GameObject) ID() ObjectID { return o.id }
func (o *GameObject) Class() Class { return o.class }

// Add attaches entries. Either all entries are attached or none is.
func (o *GameObject) Add(entries ...Entry) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	seen := make(map[TypeID]struct{}, len(entries))
	for _, e := range entries {
		if _, dup := seen[e.Type]; dup {
			return o.duplicateErr(e)
		}
		seen[e.Type] = struct{}{}
		switch e.Kind {
		case KindComponent:
			if _, exists := o.components[e.Type]; exists {
				return o.duplicateErr(e)
			}
		case KindModel:
			if _, exists := o.models[e.Type]; exists {
				return o.duplicateErr(e)
			}
			if _, ok := e.Value.(Provider); !ok {
				return fmt.Errorf("model %s: value is not a provider", TypeName(e.Type))
			}
		default:
			return fmt.Errorf("entry %s: unknown kind %d", TypeName(e.Type), e.Kind)
		}
	}

	for _, e := range entries {
		if e.Kind == KindComponent {
			o.components[e.Type] = e.Value
		} else {
			o.models[e.Type] = e.Value.(Provider)
		}
	}
	return nil
}

func (o *GameObject) duplicateErr(e Entry) error {
	if e.Kind == KindModel {
		return fmt.Errorf("object %d: %s: %w", o.id, TypeName(e.Type), ErrDuplicateModel)
	}
	return fmt.Errorf("object %d: %s: %w", o.id, TypeName(e.Type), ErrDuplicateComponent)
}

// AddComponent attaches a single component value.
func (o *GameObject) AddComponent(id TypeID, value any) error {
	return o.Add(Entry{Type: id, Kind: KindComponent, Value: value})
}

// AddModel attaches a single model provider.
func (o *GameObject) AddModel(id TypeID, p Provider) error {
	return o.Add(Entry{Type: id, Kind: KindModel, Value: p})
}

func (o *GameObject) Component(id TypeID) (any, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	c, ok := o.components[id]
	return c, ok
}

func (o *GameObject) HasComponent(id TypeID) bool {
	_, ok := o.Component(id)
	return ok
}

// Model resolves a model value for viewer v. The provider runs outside the
// object lock so it may inspect other objects.
func (o *GameObject) Model(id TypeID, v Viewer) (any, bool) {
	o.mu.RLock()
	p, ok := o.models[id]
	o.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return p.Provide(v), true
}

func (o *GameObject) HasModel(id TypeID) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.models[id]
	return ok
}

// Resolve looks up either kind of data by type id.
func (o *GameObject) Resolve(id TypeID, kind Kind, v Viewer) (any, bool) {
	if kind == KindModel {
		return o.Model(id, v)
	}
	return o.Component(id)
}

// ComponentTypes lists component type ids in ascending order.
func (o *GameObject) ComponentTypes() []TypeID {
	o.mu.RLock()
	ids := make([]TypeID, 0, len(o.components))
	for id := range o.components {
		ids = append(ids, id)
	}
	o.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ModelTypes lists model type ids in ascending order.
func (o *GameObject) ModelTypes() []TypeID {
	o.mu.RLock()
	ids := make([]TypeID, 0, len(o.models))
	for id := range o.models {
		ids = append(ids, id)
	}
	o.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// GroupKey returns the key of the group component of the given type.
func (o *GameObject) GroupKey(group TypeID) (GroupKey, bool) {
	c, ok := o.Component(group)
	if !ok {
		return 0, false
	}
	g, ok := c.(GroupComponent)
	if !ok {
		return 0, false
	}
	return g.GroupKey(), true
}

func (o *GameObject) String() string {
	return fmt.Sprintf("%s#%d", o.class.Name, o.id)
}
