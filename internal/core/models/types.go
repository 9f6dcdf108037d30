package models

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ObjectID identifies a game object. Positive ids are persistent (database
// backed), negative ids are transient and only live as long as their space.
type ObjectID int64

// IsTransient reports whether the id was allocated by NextTransientID.
func (id ObjectID) IsTransient() bool { return id < 0 }

var transientCounter atomic.Int64

// NextTransientID allocates a fresh negative object id.
func NextTransientID() ObjectID {
	return ObjectID(-transientCounter.Add(1))
}

// TypeID identifies a registered component or model type. Ids are handed out
// at init time and are stable for the life of the process only.
type TypeID uint32

// Kind tells apart the two sorts of data an object carries.
type Kind uint8

const (
	KindComponent Kind = iota + 1
	KindModel
)

func (k Kind) String() string {
	switch k {
	case KindComponent:
		return "component"
	case KindModel:
		return "model"
	default:
		return "unknown"
	}
}

// GroupKey relates objects to each other, e.g. a tank and its owning user.
type GroupKey int64

// GroupComponent is a component that carries a relational key. Two group
// components are equal if and only if their keys are equal.
type GroupComponent interface {
	GroupKey() GroupKey
}

// SameGroup compares group components by key only.
func SameGroup(a, b GroupComponent) bool {
	return a.GroupKey() == b.GroupKey()
}

// Viewer is the channel on whose behalf model values are produced. It is nil
// for internal dispatch that is not tied to a connection.
type Viewer interface {
	ViewerID() string
	// Principal is the user object bound to the viewer's session, or nil
	// before login.
	Principal() *GameObject
}

var (
	ErrDuplicateComponent = errors.New("component type already present")
	ErrDuplicateModel     = errors.New("model type already present")
	ErrDuplicateObject    = errors.New("object id already registered")
	ErrObjectNotFound     = errors.New("object not found")
)

var typeCounter atomic.Uint32

type typeInfo struct {
	id   TypeID
	name string
	kind Kind
}

var (
	typeNamesMu sync.RWMutex
	typeNames   = make(map[TypeID]typeInfo)
)

func registerType(name string, kind Kind) TypeID {
	id := TypeID(typeCounter.Add(1))
	typeNamesMu.Lock()
	typeNames[id] = typeInfo{id: id, name: name, kind: kind}
	typeNamesMu.Unlock()
	return id
}

// TypeName returns the registered name of a type id for diagnostics.
func TypeName(id TypeID) string {
	typeNamesMu.RLock()
	info, ok := typeNames[id]
	typeNamesMu.RUnlock()
	if ok {
		return info.name
	}
	return fmt.Sprintf("type#%d", id)
}

// TypeKind returns the kind a type id was registered with.
func TypeKind(id TypeID) Kind {
	typeNamesMu.RLock()
	defer typeNamesMu.RUnlock()
	return typeNames[id].kind
}

// Entry is one piece of data to attach to an object: a component value or a
// model provider.
type Entry struct {
	Type  TypeID
	Kind  Kind
	Value any
}

// Resolved is implemented by anything holding resolved values keyed by type,
// most notably nodes.
type Resolved interface {
	Resolved(id TypeID) (any, bool)
}
