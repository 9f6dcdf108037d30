//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"github.com/google/wire"

	"github.com/NarukamiTO/server-sub000/internal/server"
)

// InitializeServer wires a server and its spaces from cfg.
func InitializeServer(cfg server.Config) (*server.Server, error) {
	wire.Build(server.ProviderSet)
	return nil, nil
}
