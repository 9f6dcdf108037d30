package models

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testName struct{ Value string }

type testGroup struct{ Key GroupKey }

func (g testGroup) GroupKey() GroupKey { return g.Key }

type testViewer struct{ id string }

func (v testViewer) ViewerID() string       { return v.id }
func (v testViewer) Principal() *GameObject { return nil }

var (
	nameType  = NewComponentType[testName]("Name")
	groupType = NewComponentType[testGroup]("Group")
	seenModel = NewModelType[string]("Seen", 100)
)

func TestGameObject_Components(t *testing.T) {
	obj, err := NewGameObject(1, Class{ID: 1, Name: "tank"}, nameType.New(testName{"t-1"}))
	require.NoError(t, err)

	name, ok := nameType.Of(obj)
	require.True(t, ok)
	assert.Equal(t, "t-1", name.Value)

	_, ok = groupType.Of(obj)
	assert.False(t, ok)

	err = obj.Add(nameType.New(testName{"again"}))
	require.ErrorIs(t, err, ErrDuplicateComponent)

	name, _ = nameType.Of(obj)
	assert.Equal(t, "t-1", name.Value, "failed add must not overwrite")
}

func TestGameObject_AddIsAllOrNothing(t *testing.T) {
	obj := MustGameObject(2, Class{Name: "user"}, nameType.New(testName{"u"}))

	err := obj.Add(groupType.New(testGroup{Key: 5}), nameType.New(testName{"dup"}))
	require.ErrorIs(t, err, ErrDuplicateComponent)
	assert.False(t, obj.HasComponent(groupType.ID()))
}

func TestGameObject_ModelsArePerViewer(t *testing.T) {
	obj := MustGameObject(3, Class{Name: "tank"},
		seenModel.Dynamic(func(v Viewer) string {
			if v == nil {
				return "nobody"
			}
			return v.ViewerID()
		}),
	)

	got, ok := seenModel.Of(obj, testViewer{id: "alice"})
	require.True(t, ok)
	assert.Equal(t, "alice", got)

	got, _ = seenModel.Of(obj, testViewer{id: "bob"})
	assert.Equal(t, "bob", got)

	got, _ = seenModel.Of(obj, nil)
	assert.Equal(t, "nobody", got)

	err := obj.Add(seenModel.Static("fixed"))
	assert.ErrorIs(t, err, ErrDuplicateModel)
}

func TestGameObject_GroupKey(t *testing.T) {
	a := MustGameObject(4, Class{Name: "tank"}, groupType.New(testGroup{Key: 9}))
	b := MustGameObject(5, Class{Name: "user"}, groupType.New(testGroup{Key: 9}))

	ka, ok := a.GroupKey(groupType.ID())
	require.True(t, ok)
	kb, _ := b.GroupKey(groupType.ID())
	assert.Equal(t, ka, kb)
	assert.True(t, SameGroup(testGroup{Key: 1}, testGroup{Key: 1}))
	assert.False(t, SameGroup(testGroup{Key: 1}, testGroup{Key: 2}))

	_, ok = a.GroupKey(nameType.ID())
	assert.False(t, ok)
}

func TestNextTransientID(t *testing.T) {
	a := NextTransientID()
	b := NextTransientID()
	assert.True(t, a.IsTransient())
	assert.True(t, b.IsTransient())
	assert.NotEqual(t, a, b)
	assert.False(t, ObjectID(10).IsTransient())
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	var added []ObjectID
	r.OnAdded(func(o *GameObject) { added = append(added, o.ID()) })

	for i := 1; i <= 3; i++ {
		require.NoError(t, r.Add(MustGameObject(ObjectID(i), Class{Name: "x"})))
	}
	require.ErrorIs(t, r.Add(MustGameObject(2, Class{Name: "x"})), ErrDuplicateObject)
	assert.Equal(t, []ObjectID{1, 2, 3}, added)

	removed, err := r.Remove(2)
	require.NoError(t, err)
	assert.Equal(t, ObjectID(2), removed.ID())

	_, err = r.Remove(2)
	require.ErrorIs(t, err, ErrObjectNotFound)

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, ObjectID(1), all[0].ID())
	assert.Equal(t, ObjectID(3), all[1].ID())
}

func TestRegistry_ConcurrentAdd(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(id ObjectID) {
			defer wg.Done()
			_ = r.Add(MustGameObject(id, Class{Name: "x"}))
		}(NextTransientID())
	}
	wg.Wait()
	assert.Equal(t, 64, r.Len())
}
