package server

import (
	"fmt"

	"github.com/google/wire"

	"github.com/NarukamiTO/server-sub000/internal/core/models"
	"github.com/NarukamiTO/server-sub000/internal/core/observability/log"
	"github.com/NarukamiTO/server-sub000/internal/core/protocol"
	"github.com/NarukamiTO/server-sub000/internal/core/protocol/codec"
	"github.com/NarukamiTO/server-sub000/internal/core/resources"
	"github.com/NarukamiTO/server-sub000/internal/core/space"
	"github.com/NarukamiTO/server-sub000/internal/game"
)

// BattleObjectID is the id of the battle object in every battle space.
const BattleObjectID models.ObjectID = 1

// ProviderSet builds a Server from a Config.
var ProviderSet = wire.NewSet(
	ProvideLogger,
	ProvideResources,
	ProvideCommands,
	ProvideLoader,
	ProvideSpaces,
	NewServer,
	wire.Bind(new(resources.Lookup), new(*resources.Static)),
)

func ProvideLogger(cfg Config) (log.Log, error) {
	logger, err := log.Build(log.Options{Level: log.ParseLevel(cfg.LogLevel), Format: cfg.LogFormat})
	if err != nil {
		return nil, err
	}
	return logger, nil
}

// ProvideResources loads the resource file. Without one the registry is
// empty.
func ProvideResources(cfg Config) (*resources.Static, error) {
	if cfg.ResourceFile == "" {
		return resources.NewStatic(), nil
	}
	return resources.LoadFile(cfg.ResourceFile)
}

// ProvideCommands registers the control and battle commands.
func ProvideCommands(lookup resources.Lookup) (*protocol.Commands, error) {
	c := protocol.NewCommands(codec.NewRegistry(codec.WithResources(lookup)))
	if err := RegisterControlCommands(c); err != nil {
		return nil, err
	}
	if err := game.RegisterCommands(c); err != nil {
		return nil, err
	}
	return c, nil
}

// ProvideLoader makes joining clients load every known resource.
func ProvideLoader(cfg Config, lookup *resources.Static) *game.Loader {
	return game.NewLoader(lookup.Refs(), cfg.LoadTimeout)
}

// ProvideSpaces creates the configured battle spaces.
func ProvideSpaces(cfg Config, logger log.Log, commands *protocol.Commands, lookup resources.Lookup, loader *game.Loader) (*space.Manager, error) {
	m := space.NewManager(cfg.SpaceSettings(logger, commands), game.BattleSystem(), game.LoaderSystem(loader))
	for _, sc := range cfg.Spaces {
		model := game.BattleModel{Name: sc.Name, MaxPeople: sc.MaxPeople}
		if sc.Map != "" {
			ref, err := resources.ParseRef(sc.Map)
			if err != nil {
				return nil, err
			}
			if _, err := lookup.Resolve(ref); err != nil {
				return nil, fmt.Errorf("space %d map: %w", sc.ID, err)
			}
			model.Map = &ref
		}
		sp, err := m.Create(space.ID(sc.ID), sc.Name)
		if err != nil {
			return nil, err
		}
		if err := sp.AddObject(game.NewBattle(BattleObjectID, model)); err != nil {
			return nil, err
		}
	}
	return m, nil
}
