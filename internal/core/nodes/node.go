package nodes

import (
	"sync"

	"github.com/NarukamiTO/server-sub000/internal/core/models"
)

// Node is a schema resolved against one source. It only lives for the
// dispatch that built it.
type Node struct {
	schema *Schema
	object *models.GameObject
	values map[models.TypeID]any
}

var _ models.Resolved = (*Node)(nil)

func (n *Node) Schema() *Schema            { return n.schema }
func (n *Node) Object() *models.GameObject { return n.object }

// ID returns the object id, or 0 for nodes built from a Bag.
func (n *Node) ID() models.ObjectID {
	if n.object == nil {
		return 0
	}
	return n.object.ID()
}

func (n *Node) Resolved(id models.TypeID) (any, bool) {
	v, ok := n.values[id]
	return v, ok
}

// Value returns a field by its declared name.
func (n *Node) Value(name string) (any, bool) {
	for _, f := range n.schema.fields {
		if f.Name == name {
			return n.Resolved(f.Type)
		}
	}
	return nil, false
}

var singles sync.Map // models.TypeID -> *Schema

// Single returns the one-field schema for a component type. The schema is
// created once per concrete type.
func Single[T any](ct *models.ComponentType[T]) *Schema {
	return single(ct)
}

// SingleModel is Single for model types.
func SingleModel[T any](mt *models.ModelType[T]) *Schema {
	return single(mt)
}

func single(d Descriptor) *Schema {
	if s, ok := singles.Load(d.ID()); ok {
		return s.(*Schema)
	}
	s, _ := singles.LoadOrStore(d.ID(), NewSchema("Single<"+d.Name()+">").With(d).Build())
	return s.(*Schema)
}
