// Package game is the battle content served by the runtime: users, tanks
// and the battle they meet in.
package game

import (
	"fmt"
	"sync"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/NarukamiTO/server-sub000/internal/core/models"
	"github.com/NarukamiTO/server-sub000/internal/core/nodes"
	"github.com/NarukamiTO/server-sub000/internal/core/protocol/bitpack"
	"github.com/NarukamiTO/server-sub000/internal/core/resources"
)

// Object classes.
const (
	ClassUser   int64 = 1
	ClassBattle int64 = 2
	ClassTank   int64 = 3
)

// DefaultTankHealth is the health a tank spawns with.
const DefaultTankHealth int32 = 10000

// UserComponent names the account behind a user object.
type UserComponent struct {
	Username string
}

// UserGroup ties a user to the objects it owns.
type UserGroup struct {
	Key models.GroupKey
}

func (g UserGroup) GroupKey() models.GroupKey { return g.Key }

// TankComponent marks a tank and carries its motion.
type TankComponent struct {
	Motion *Motion
}

// BattleComponent marks the root object of a battle space.
type BattleComponent struct{}

var (
	Users      = models.NewComponentType[UserComponent]("User")
	UserGroups = models.NewComponentType[UserGroup]("UserGroup")
	Tanks      = models.NewComponentType[TankComponent]("Tank")
	Battles    = models.NewComponentType[BattleComponent]("Battle")
)

// TankModel is what a client knows about a tank. Local is true only for the
// viewer that owns it.
type TankModel struct {
	Local  bool
	Health int32
}

// BattleModel describes a battle. Map is nil for battles without a map
// resource.
type BattleModel struct {
	Name      string
	Map       *resources.Ref
	MaxPeople int32
}

type MovementModel struct {
	Position    mgl32.Vec3
	Orientation mgl32.Vec3
}

var (
	TankModels     = models.NewModelType[TankModel]("TankModel", 0x1001)
	BattleModels   = models.NewModelType[BattleModel]("BattleModel", 0x1002)
	MovementModels = models.NewModelType[MovementModel]("MovementModel", 0x1003)
)

var (
	UserNode     = nodes.NewSchema("UserNode").Field("user", Users).Field("group", UserGroups).Build()
	TankNode     = nodes.NewSchema("TankNode").Field("tank", Tanks).Field("group", UserGroups).Build()
	BattleNode   = nodes.NewSchema("BattleNode").Field("battle", Battles).Field("model", BattleModels).Build()
	TankViewNode = nodes.NewSchema("TankViewNode").Field("tank", TankModels).Field("movement", MovementModels).Field("group", UserGroups).Build()
)

// Motion is the last movement accepted for a tank.
type Motion struct {
	mu      sync.RWMutex
	command bitpack.MoveCommand
	updates uint64
}

func (m *Motion) Set(cmd bitpack.MoveCommand) {
	m.mu.Lock()
	m.command = cmd
	m.updates++
	m.mu.Unlock()
}

func (m *Motion) Get() bitpack.MoveCommand {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.command
}

func (m *Motion) Updates() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.updates
}

// NewUser builds the object of a logged in user. Its group key is its id.
func NewUser(id models.ObjectID, username string) *models.GameObject {
	return models.MustGameObject(id, models.Class{ID: ClassUser, Name: "user"},
		Users.New(UserComponent{Username: username}),
		UserGroups.New(UserGroup{Key: models.GroupKey(id)}),
	)
}

// NewBattle builds the root object of a battle space.
func NewBattle(id models.ObjectID, model BattleModel) *models.GameObject {
	return models.MustGameObject(id, models.Class{ID: ClassBattle, Name: "battle"},
		Battles.New(BattleComponent{}),
		BattleModels.Static(model),
	)
}

// NewTank builds a tank owned by user. The tank model is resolved per viewer.
func NewTank(id models.ObjectID, user *models.GameObject, health int32) (*models.GameObject, error) {
	group, ok := UserGroups.Of(user)
	if !ok {
		return nil, fmt.Errorf("%s: %w", user, ErrNotAUser)
	}
	motion := &Motion{}
	return models.NewGameObject(id, models.Class{ID: ClassTank, Name: "tank"},
		Tanks.New(TankComponent{Motion: motion}),
		UserGroups.New(group),
		TankModels.Dynamic(func(v models.Viewer) TankModel {
			return TankModel{Local: ownedBy(v, group), Health: health}
		}),
		MovementModels.Dynamic(func(models.Viewer) MovementModel {
			cmd := motion.Get()
			return MovementModel{Position: cmd.Position, Orientation: cmd.Orientation}
		}),
	)
}

func ownedBy(v models.Viewer, group UserGroup) bool {
	if v == nil || v.Principal() == nil {
		return false
	}
	g, ok := UserGroups.Of(v.Principal())
	return ok && models.SameGroup(g, group)
}
