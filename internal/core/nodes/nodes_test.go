package nodes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NarukamiTO/server-sub000/internal/core/models"
)

type health struct{ HP int }

type owner struct{ Key models.GroupKey }

func (o owner) GroupKey() models.GroupKey { return o.Key }

type marker struct{}

type viewer string

func (v viewer) ViewerID() string              { return string(v) }
func (v viewer) Principal() *models.GameObject { return nil }

var (
	healthType = models.NewComponentType[health]("Health")
	ownerType  = models.NewComponentType[owner]("Owner")
	tankMarker = models.NewComponentType[marker]("TankMarker")
	userMarker = models.NewComponentType[marker]("UserMarker")
	labelModel = models.NewModelType[string]("Label", 7)

	tankNode = NewSchema("TankNode").With(healthType).With(ownerType).With(tankMarker).Build()
	userNode = NewSchema("UserNode").With(ownerType).With(userMarker).Build()
)

func TestSchema_BuildMissingFieldIsNoMatch(t *testing.T) {
	obj := models.MustGameObject(1, models.Class{Name: "tank"}, healthType.New(health{HP: 10}))

	n, ok := tankNode.BuildFor(obj, nil)
	assert.False(t, ok)
	assert.Nil(t, n)

	require.NoError(t, obj.Add(ownerType.New(owner{Key: 1}), tankMarker.New(marker{})))
	n, ok = tankNode.BuildFor(obj, nil)
	require.True(t, ok)
	assert.Equal(t, 10, healthType.In(n).HP)
	assert.Equal(t, models.ObjectID(1), n.ID())
	assert.Same(t, obj, n.Object())
}

func TestSchema_Monotonic(t *testing.T) {
	obj := models.MustGameObject(2, models.Class{Name: "tank"},
		healthType.New(health{}), ownerType.New(owner{Key: 3}), tankMarker.New(marker{}))
	_, ok := tankNode.BuildFor(obj, nil)
	require.True(t, ok)

	require.NoError(t, obj.Add(labelModel.Static("extra")))
	_, ok = tankNode.BuildFor(obj, nil)
	assert.True(t, ok, "adding data must not break an existing match")
}

func TestSchema_FieldOrderAndNames(t *testing.T) {
	s := NewSchema("Named").Field("hp", healthType).With(labelModel).Build()
	fields := s.Fields()
	require.Len(t, fields, 2)
	assert.Equal(t, "hp", fields[0].Name)
	assert.Equal(t, models.KindComponent, fields[0].Kind)
	assert.Equal(t, "Label", fields[1].Name)
	assert.Equal(t, models.KindModel, fields[1].Kind)

	obj := models.MustGameObject(3, models.Class{}, healthType.New(health{HP: 4}), labelModel.Static("L"))
	n, ok := s.BuildFor(obj, nil)
	require.True(t, ok)
	v, ok := n.Value("hp")
	require.True(t, ok)
	assert.Equal(t, health{HP: 4}, v)
	_, ok = n.Value("missing")
	assert.False(t, ok)
}

func TestSchema_DuplicateFieldPanics(t *testing.T) {
	assert.Panics(t, func() {
		NewSchema("Bad").With(healthType).Field("other", healthType)
	})
	assert.Panics(t, func() {
		NewSchema("Bad").Field("x", healthType).Field("x", ownerType)
	})
}

func TestSchema_ModelsResolvePerViewer(t *testing.T) {
	s := SingleModel(labelModel)
	obj := models.MustGameObject(4, models.Class{}, labelModel.Dynamic(func(v models.Viewer) string {
		if v == nil {
			return ""
		}
		return "for " + v.ViewerID()
	}))

	a, ok := s.BuildFor(obj, viewer("a"))
	require.True(t, ok)
	b, ok := s.BuildFor(obj, viewer("b"))
	require.True(t, ok)
	assert.Equal(t, "for a", labelModel.In(a))
	assert.Equal(t, "for b", labelModel.In(b))
}

func TestSingle_IsCached(t *testing.T) {
	assert.Same(t, Single(healthType), Single(healthType))
	assert.NotSame(t, Single(healthType), Single(ownerType))
	assert.Equal(t, "Single<Health>", Single(healthType).Name())
}

func TestBag(t *testing.T) {
	bag := NewBag(healthType.New(health{HP: 1}), labelModel.Dynamic(func(v models.Viewer) string {
		if v == nil {
			return "none"
		}
		return v.ViewerID()
	}))

	n, ok := Single(healthType).Build(bag)
	require.True(t, ok)
	assert.Nil(t, n.Object())
	assert.Equal(t, models.ObjectID(0), n.ID())

	n, ok = SingleModel(labelModel).Build(bag.ForViewer(viewer("v")))
	require.True(t, ok)
	assert.Equal(t, "v", labelModel.In(n))

	_, ok = tankNode.Build(bag)
	assert.False(t, ok)
}

func TestFindGroupMember(t *testing.T) {
	user := models.MustGameObject(10, models.Class{Name: "user"}, ownerType.New(owner{Key: 10}), userMarker.New(marker{}))
	tank := models.MustGameObject(11, models.Class{Name: "tank"},
		healthType.New(health{HP: 100}), ownerType.New(owner{Key: 10}), tankMarker.New(marker{}))
	otherTank := models.MustGameObject(12, models.Class{Name: "tank"},
		healthType.New(health{HP: 50}), ownerType.New(owner{Key: 99}), tankMarker.New(marker{}))
	objects := []*models.GameObject{user, tank, otherTank}

	source, ok := userNode.BuildFor(user, nil)
	require.True(t, ok)

	found, err := FindGroupMember(objects, source, ownerType.ID(), tankNode, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ObjectID(11), found.ID())

	_, err = FindGroupMember([]*models.GameObject{user, otherTank}, source, ownerType.ID(), tankNode, nil)
	assert.ErrorIs(t, err, ErrGroupMemberNotFound)

	dupe := models.MustGameObject(13, models.Class{Name: "tank"},
		healthType.New(health{}), ownerType.New(owner{Key: 10}), tankMarker.New(marker{}))
	_, err = FindGroupMember(append(objects, dupe), source, ownerType.ID(), tankNode, nil)
	assert.ErrorIs(t, err, ErrAmbiguousGroupMatch)
}

func TestFindGroupMember_SourceWithoutKey(t *testing.T) {
	obj := models.MustGameObject(20, models.Class{}, healthType.New(health{}))
	source, ok := Single(healthType).BuildFor(obj, nil)
	require.True(t, ok)

	_, err := FindGroupMember([]*models.GameObject{obj}, source, ownerType.ID(), tankNode, nil)
	assert.ErrorIs(t, err, ErrNoGroupKey)
}

func TestFirst(t *testing.T) {
	a := models.MustGameObject(30, models.Class{}, healthType.New(health{HP: 1}))
	b := models.MustGameObject(31, models.Class{}, healthType.New(health{HP: 2}))

	n, ok := First([]*models.GameObject{a, b}, Single(healthType))
	require.True(t, ok)
	assert.Equal(t, models.ObjectID(30), n.ID())

	_, ok = First([]*models.GameObject{a, b}, Single(ownerType), viewer("x"))
	assert.False(t, ok)
}
