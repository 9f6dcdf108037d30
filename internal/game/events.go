package game

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/NarukamiTO/server-sub000/internal/core/events"
	"github.com/NarukamiTO/server-sub000/internal/core/protocol"
	"github.com/NarukamiTO/server-sub000/internal/core/protocol/bitpack"
	"github.com/NarukamiTO/server-sub000/internal/core/resources"
)

var (
	ErrNotAUser        = errors.New("object is not a user")
	ErrNotOwner        = errors.New("channel does not own the tank")
	ErrNoPrincipal     = errors.New("channel has no principal")
	ErrBattleFull      = errors.New("battle is full")
	ErrUnknownCallback = errors.New("unknown load callback")
	ErrReadOnlyWorld   = errors.New("world does not accept objects")
)

// Server-bound commands.

// MoveCommandEvent is sent by the owner of a tank to the tank.
type MoveCommandEvent struct {
	events.ToServer
	Command bitpack.MoveCommand
}

// ResourcesLoadedEvent confirms a LoadResourcesEvent. It is sent to the
// battle object.
type ResourcesLoadedEvent struct {
	events.ToServer
	Callback int32
}

// Client-bound commands.

type MovedEvent struct {
	events.ToClient
	Command bitpack.MoveCommand
}

type LoadResourcesEvent struct {
	events.ToClient
	Callback  int32
	Resources []resources.Ref
}

type BattleInfoEvent struct {
	events.ToClient
	Battle BattleModel
}

type TankSpawnedEvent struct {
	events.ToClient
	Owner    string
	Tank     TankModel
	Movement MovementModel
}

type TankRemovedEvent struct{ events.ToClient }

// SpawnTankEvent asks the battle to create a tank for the channel's
// principal.
type SpawnTankEvent struct{ events.Internal }

// Space method ids.
const (
	MethodMoveCommand     int64 = 0x1001_0001
	MethodResourcesLoaded int64 = 0x1002_0001
	MethodMoved           int64 = 0x1001_0101
	MethodLoadResources   int64 = 0x1002_0101
	MethodBattleInfo      int64 = 0x1002_0102
	MethodTankSpawned     int64 = 0x1001_0102
	MethodTankRemoved     int64 = 0x1001_0103
)

var spaceCommands = []struct {
	method int64
	event  events.Event
}{
	{MethodMoveCommand, (*MoveCommandEvent)(nil)},
	{MethodResourcesLoaded, (*ResourcesLoadedEvent)(nil)},
	{MethodMoved, (*MovedEvent)(nil)},
	{MethodLoadResources, (*LoadResourcesEvent)(nil)},
	{MethodBattleInfo, (*BattleInfoEvent)(nil)},
	{MethodTankSpawned, (*TankSpawnedEvent)(nil)},
	{MethodTankRemoved, (*TankRemovedEvent)(nil)},
}

// RegisterCommands adds the battle commands to c. The codec registry of c
// must be bound to a resource lookup.
func RegisterCommands(c *protocol.Commands) error {
	bitpack.Register(c.Codecs())
	for _, cmd := range spaceCommands {
		if err := c.Add(protocol.KindSpace, cmd.method, reflect.TypeOf(cmd.event)); err != nil {
			return fmt.Errorf("register game commands: %w", err)
		}
	}
	return nil
}
