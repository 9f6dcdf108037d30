package nodes

import (
	"errors"
	"fmt"

	"github.com/NarukamiTO/server-sub000/internal/core/models"
)

var (
	ErrNoGroupKey          = errors.New("source node has no group key")
	ErrGroupMemberNotFound = errors.New("no group member matches")
	ErrAmbiguousGroupMatch = errors.New("more than one group member matches")
)

// FindGroupMember returns the single object among objects that shares the
// source node's group key and satisfies target. Group relations are 1:1, so
// both zero and several matches are errors.
func FindGroupMember(objects []*models.GameObject, source *Node, group models.TypeID, target *Schema, viewer models.Viewer) (*Node, error) {
	key, ok := sourceKey(source, group)
	if !ok {
		return nil, fmt.Errorf("%s in %s: %w", models.TypeName(group), source.schema.name, ErrNoGroupKey)
	}

	var found *Node
	matches := 0
	for _, obj := range objects {
		k, ok := obj.GroupKey(group)
		if !ok || k != key {
			continue
		}
		n, ok := target.BuildFor(obj, viewer)
		if !ok {
			continue
		}
		matches++
		if matches > 1 {
			return nil, fmt.Errorf("%s key %d, target %s: %w (%s and %s)",
				models.TypeName(group), key, target.name, ErrAmbiguousGroupMatch, found.object, obj)
		}
		found = n
	}
	if found == nil {
		return nil, fmt.Errorf("%s key %d, target %s: %w", models.TypeName(group), key, target.name, ErrGroupMemberNotFound)
	}
	return found, nil
}

func sourceKey(source *Node, group models.TypeID) (models.GroupKey, bool) {
	if v, ok := source.Resolved(group); ok {
		if g, ok := v.(models.GroupComponent); ok {
			return g.GroupKey(), true
		}
	}
	if source.object != nil {
		return source.object.GroupKey(group)
	}
	return 0, false
}

// First builds target against each object for each viewer in turn and
// returns the first match. Unlike FindGroupMember it does not look for
// ambiguity. A nil viewer list means a single nil viewer.
func First(objects []*models.GameObject, target *Schema, viewers ...models.Viewer) (*Node, bool) {
	if len(viewers) == 0 {
		viewers = []models.Viewer{nil}
	}
	for _, obj := range objects {
		for _, v := range viewers {
			if n, ok := target.BuildFor(obj, v); ok {
				return n, true
			}
		}
	}
	return nil, false
}
