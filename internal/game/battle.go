package game

import (
	"context"
	"errors"
	"fmt"

	"github.com/NarukamiTO/server-sub000/internal/core/events"
	"github.com/NarukamiTO/server-sub000/internal/core/models"
	"github.com/NarukamiTO/server-sub000/internal/core/nodes"
	"github.com/NarukamiTO/server-sub000/internal/core/observability/log"
	"github.com/NarukamiTO/server-sub000/internal/core/space"
	"github.com/NarukamiTO/server-sub000/pkg/concurrent"
	"github.com/NarukamiTO/server-sub000/pkg/sequence"
)

// Store is the part of a world battle logic mutates. *space.Space
// implements it.
type Store interface {
	events.World
	AddObject(obj *models.GameObject) error
	RemoveObject(id models.ObjectID) error
}

var _ Store = (*space.Space)(nil)

// BattleSystem spawns tanks, relays their movement and tells every viewer
// about tanks entering and leaving. Clients pick the target of a command, so
// handlers of client commands skip a mismatching target instead of failing.
func BattleSystem() events.System {
	return events.System{
		Name: "BattleSystem",
		Handlers: []events.Handler{
			events.On(TankNode, onMove),
			events.On(nil, onSpawnTank, events.JoinAll(BattleNode, true)),
			events.On(TankViewNode, onTankAdded),
			events.On(TankNode, onTankRemoved),
			events.On(nil, onChannelRemoved),
		},
	}
}

func onMove(c *events.Context, e *MoveCommandEvent) error {
	tank := c.Node()
	ch := c.Channel()
	if ch == nil {
		return events.ErrNoChannel
	}
	owner, err := nodes.FindGroupMember(c.World().Objects(), tank, UserGroups.ID(), UserNode, ch)
	if err != nil {
		return fmt.Errorf("owner of %s: %w", tank.Object(), err)
	}
	if p := ch.Principal(); p == nil || p.ID() != owner.ID() {
		return fmt.Errorf("%s moved by %s: %w", tank.Object(), ch.ViewerID(), ErrNotOwner)
	}

	Tanks.In(tank).Motion.Set(e.Command)
	others := sequence.From(c.World().Channels()).
		Filter(func(other events.Channel) bool { return other.ViewerID() != ch.ViewerID() })
	return concurrent.Try(c.Context(), others, 0, func(ctx context.Context, other events.Channel) error {
		if err := c.Schedule(&MovedEvent{Command: e.Command}, other, tank.Object()).Wait(ctx); err != nil {
			c.Logger().Debug("Move not relayed", log.String("viewer", other.ViewerID()), log.Error(err))
		}
		return nil
	})
}

func onSpawnTank(c *events.Context, _ *SpawnTankEvent) error {
	ch := c.Channel()
	if ch == nil {
		return events.ErrNoChannel
	}
	user := ch.Principal()
	if user == nil {
		return fmt.Errorf("spawn for %s: %w", ch.ViewerID(), ErrNoPrincipal)
	}
	store, ok := c.World().(Store)
	if !ok {
		return ErrReadOnlyWorld
	}
	userNode, ok := UserNode.BuildFor(user, ch)
	if !ok {
		return fmt.Errorf("%s: %w", user, ErrNotAUser)
	}

	objects := store.Objects()
	existing, err := nodes.FindGroupMember(objects, userNode, UserGroups.ID(), TankNode, ch)
	switch {
	case err == nil:
		c.Logger().Debug("Tank already spawned", log.Stringer("tank", existing.Object()))
		return nil
	case !errors.Is(err, nodes.ErrGroupMemberNotFound):
		return fmt.Errorf("tank of %s: %w", user, err)
	}
	battle := BattleModels.In(c.Join(0))
	if battle.MaxPeople > 0 && countTanks(objects) >= int(battle.MaxPeople) {
		return fmt.Errorf("%s: %w", battle.Name, ErrBattleFull)
	}

	if err := store.AddObject(user); err != nil && !errors.Is(err, models.ErrDuplicateObject) {
		return err
	}
	tank, err := NewTank(models.NextTransientID(), user, DefaultTankHealth)
	if err != nil {
		return err
	}
	if err := store.AddObject(tank); err != nil {
		return err
	}
	c.Logger().Info("Tank spawned",
		log.Stringer("tank", tank),
		log.String("username", Users.In(userNode).Username))
	return nil
}

func countTanks(objects []*models.GameObject) int {
	n := 0
	for _, obj := range objects {
		if obj.HasComponent(Tanks.ID()) {
			n++
		}
	}
	return n
}

func onTankAdded(c *events.Context, _ *space.ObjectAddedEvent) error {
	return announceTank(c, c.Node())
}

// announceTank sends node, built for the requesting channel, to it.
func announceTank(c *events.Context, node *nodes.Node) error {
	owner := ""
	if user, err := nodes.FindGroupMember(c.World().Objects(), node, UserGroups.ID(), UserNode, c.Channel()); err == nil {
		owner = Users.In(user).Username
	}
	return c.Reply(&TankSpawnedEvent{
		Owner:    owner,
		Tank:     TankModels.In(node),
		Movement: MovementModels.In(node),
	}, node.Object())
}

func onTankRemoved(c *events.Context, _ *space.ObjectRemovedEvent) error {
	return c.Reply(&TankRemovedEvent{}, c.Target())
}

// onChannelRemoved removes the tank of a principal that left the battle.
func onChannelRemoved(c *events.Context, _ *space.ChannelRemovedEvent) error {
	ch := c.Channel()
	if ch == nil || ch.Principal() == nil {
		return nil
	}
	store, ok := c.World().(Store)
	if !ok {
		return ErrReadOnlyWorld
	}
	userNode, ok := UserNode.BuildFor(ch.Principal(), nil)
	if !ok {
		return nil
	}
	tank, err := nodes.FindGroupMember(store.Objects(), userNode, UserGroups.ID(), TankNode, nil)
	if errors.Is(err, nodes.ErrGroupMemberNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := store.RemoveObject(tank.ID()); err != nil {
		return err
	}
	if err := store.RemoveObject(ch.Principal().ID()); err != nil && !errors.Is(err, models.ErrObjectNotFound) {
		return err
	}
	return nil
}
