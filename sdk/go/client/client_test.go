package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NarukamiTO/server-sub000/internal/core/events"
	"github.com/NarukamiTO/server-sub000/internal/core/observability/log"
	"github.com/NarukamiTO/server-sub000/internal/game"
	"github.com/NarukamiTO/server-sub000/internal/injector"
	"github.com/NarukamiTO/server-sub000/internal/server"
)

func startServer(t *testing.T) *server.Server {
	t.Helper()
	cfg := server.DefaultServerConfig()
	cfg.QUIC.Addr = "127.0.0.1:0"
	cfg.WebSocket.Addr = "127.0.0.1:0"
	cfg.LogLevel = "error"
	srv, err := injector.InitializeServer(cfg)
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	})
	return srv
}

func newClient(t *testing.T, srv *server.Server, transport Transport) *Client {
	t.Helper()
	cfg := DefaultClientConfig()
	cfg.Transport = transport
	cfg.LogLevel = log.LevelError
	if transport == TransportQUIC {
		cfg.ServerAddr = srv.QUICAddr().String()
	} else {
		cfg.ServerAddr = srv.WebSocketAddr().String()
	}
	c := NewClient(cfg, srv.Commands())
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// next returns the next event carrying a command of type E.
func next[E events.Event](t *testing.T, c *Client) (Event, E) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-c.Events():
			require.True(t, ok, "events closed")
			if e, ok := ev.Command.(E); ok {
				return ev, e
			}
		case <-timeout:
			var zero E
			t.Fatalf("no %T received", zero)
			return Event{}, zero
		}
	}
}

func TestClient_JoinBattle(t *testing.T) {
	for _, transport := range []Transport{TransportQUIC, TransportWebSocket} {
		t.Run(transport.String(), func(t *testing.T) {
			srv := startServer(t)
			c := newClient(t, srv, transport)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			require.NoError(t, c.Connect(ctx))
			assert.Len(t, c.Hash(), server.HashSize)
			require.NoError(t, c.Login(ctx, "tanker"))

			ev, load := next[*game.LoadResourcesEvent](t, c)
			assert.Equal(t, int64(1), ev.Space)
			assert.Equal(t, server.BattleObjectID, ev.Header.ObjectID)
			require.NoError(t, c.Send(ev.Space, server.BattleObjectID, &game.ResourcesLoadedEvent{Callback: load.Callback}))

			_, spawned := next[*game.TankSpawnedEvent](t, c)
			assert.Equal(t, "tanker", spawned.Owner)
			assert.True(t, spawned.Tank.Local)
			assert.Equal(t, []int64{1}, c.Spaces())

			require.NoError(t, c.Close())
			assert.Eventually(t, func() bool { return srv.Sessions().Len() == 0 }, 5*time.Second, 10*time.Millisecond)
			assert.ErrorIs(t, c.Close(), ErrClientClosed)
		})
	}
}

func TestClient_LoginRejected(t *testing.T) {
	srv := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first := newClient(t, srv, TransportWebSocket)
	require.NoError(t, first.Connect(ctx))
	require.NoError(t, first.Login(ctx, "tanker"))

	second := newClient(t, srv, TransportWebSocket)
	require.NoError(t, second.Connect(ctx))
	assert.ErrorIs(t, second.Login(ctx, "tanker"), ErrLoginFailed)
}

func TestClient_NotConnected(t *testing.T) {
	c := NewClient(DefaultClientConfig(), nil)
	assert.ErrorIs(t, c.Login(context.Background(), "tanker"), ErrNotConnected)
	assert.ErrorIs(t, c.Send(1, 1, &game.ResourcesLoadedEvent{}), ErrSpaceNotOpen)
	assert.Nil(t, c.Hash())
	require.NoError(t, c.Close())

	_, ok := <-c.Events()
	assert.False(t, ok)
	assert.ErrorIs(t, c.Connect(context.Background()), ErrClientClosed)
}
