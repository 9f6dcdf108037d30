package models

import (
	"fmt"
	"sync"
)

// Registry holds the objects of one space. It is mutated from the space's
// event queue during dispatch and from network goroutines on accept, so all
// methods lock.
type Registry struct {
	mu      sync.RWMutex
	objects map[ObjectID]*GameObject
	order   []*GameObject

	hooksMu   sync.RWMutex
	onAdded   []func(*GameObject)
	onRemoved []func(*GameObject)
}

func NewRegistry() *Registry {
	return &Registry{objects: make(map[ObjectID]*GameObject)}
}

// OnAdded registers a hook run after every successful Add.
func (r *Registry) OnAdded(fn func(*GameObject)) {
	r.hooksMu.Lock()
	r.onAdded = append(r.onAdded, fn)
	r.hooksMu.Unlock()
}

// OnRemoved registers a hook run after every successful Remove.
func (r *Registry) OnRemoved(fn func(*GameObject)) {
	r.hooksMu.Lock()
	r.onRemoved = append(r.onRemoved, fn)
	r.hooksMu.Unlock()
}

func (r *Registry) Add(obj *GameObject) error {
	r.mu.Lock()
	if _, exists := r.objects[obj.ID()]; exists {
		r.mu.Unlock()
		return fmt.Errorf("object %d: %w", obj.ID(), ErrDuplicateObject)
	}
	r.objects[obj.ID()] = obj
	r.order = append(r.order, obj)
	r.mu.Unlock()

	r.hooksMu.RLock()
	hooks := r.onAdded
	r.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(obj)
	}
	return nil
}

func (r *Registry) Remove(id ObjectID) (*GameObject, error) {
	r.mu.Lock()
	obj, ok := r.objects[id]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("object %d: %w", id, ErrObjectNotFound)
	}
	delete(r.objects, id)
	for i, o := range r.order {
		if o == obj {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	r.hooksMu.RLock()
	hooks := r.onRemoved
	r.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(obj)
	}
	return obj, nil
}

func (r *Registry) Get(id ObjectID) (*GameObject, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	obj, ok := r.objects[id]
	return obj, ok
}

// All returns a snapshot in insertion order.
func (r *Registry) All() []*GameObject {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*GameObject, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.objects)
}
