// Package client connects to the game server over QUIC or WebSocket, runs
// the session handshake and opens the space streams the server asks for.
package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NarukamiTO/server-sub000/internal/core/events"
	"github.com/NarukamiTO/server-sub000/internal/core/models"
	"github.com/NarukamiTO/server-sub000/internal/core/observability/log"
	"github.com/NarukamiTO/server-sub000/internal/core/protocol"
	"github.com/NarukamiTO/server-sub000/internal/core/protocol/quic"
	"github.com/NarukamiTO/server-sub000/internal/core/protocol/websocket"
	"github.com/NarukamiTO/server-sub000/internal/server"
)

// Transport selects how streams reach the server.
type Transport int

const (
	// TransportQUIC carries every stream on one QUIC connection.
	TransportQUIC Transport = iota
	// TransportWebSocket opens one WebSocket per stream.
	TransportWebSocket
)

func (t Transport) String() string {
	switch t {
	case TransportQUIC:
		return "quic"
	case TransportWebSocket:
		return "websocket"
	default:
		return "unknown"
	}
}

// ControlSpace is the space id of events read from the control stream.
const ControlSpace int64 = 0

// Client represents a game client connection
type Client struct {
	// Connection management
	quic     *quic.Conn
	control  *protocol.Channel
	commands *protocol.Commands

	// Session state
	hash  *events.Deferred[[]byte]
	login atomic.Pointer[events.Deferred[error]]

	mu     sync.Mutex
	spaces map[int64]*protocol.Channel

	events chan Event

	// Lifecycle
	connected atomic.Bool
	closed    atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc

	// Configuration and logging
	config Config
	logger log.Log

	// Background workers
	workerGroup sync.WaitGroup
}

// Config holds configuration for the client
type Config struct {
	// Connection settings. ServerAddr is host:port, or a ws:// url for
	// WebSocket.
	ServerAddr     string
	Transport      Transport
	ConnectTimeout time.Duration
	// TLSConfig is nil to accept any QUIC certificate.
	TLSConfig *tls.Config

	// Stream settings
	Channel         protocol.ChannelConfig
	EventBufferSize int

	// Logging
	LogLevel log.Level
}

// DefaultClientConfig returns default client configuration
func DefaultClientConfig() Config {
	return Config{
		ServerAddr:      "127.0.0.1:5191",
		Transport:       TransportQUIC,
		ConnectTimeout:  10 * time.Second,
		Channel:         protocol.DefaultChannelConfig(),
		EventBufferSize: 256,
		LogLevel:        log.LevelInfo,
	}
}

// Event is a command received from the server.
type Event struct {
	// Space is the space the command was read from, ControlSpace for the
	// control stream.
	Space   int64
	Header  events.Header
	Command events.Event
}

// NewClient creates a client speaking the given command set. The set must
// contain the control commands.
func NewClient(config Config, commands *protocol.Commands) *Client {
	if config.EventBufferSize <= 0 {
		config.EventBufferSize = DefaultClientConfig().EventBufferSize
	}
	logger := log.New(config.LogLevel).With(
		log.String("component", "client"),
		log.String("transport", config.Transport.String()))

	return &Client{
		commands: commands,
		hash:     events.NewDeferred[[]byte](),
		spaces:   make(map[int64]*protocol.Channel),
		events:   make(chan Event, config.EventBufferSize),
		config:   config,
		logger:   logger,
	}
}

// Events returns the commands received from the server. It is closed by
// Close.
func (c *Client) Events() <-chan Event { return c.events }

// Connect opens the control stream and waits for the session hash.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	if !c.connected.CompareAndSwap(false, true) {
		return ErrAlreadyConnected
	}
	if c.config.ServerAddr == "" {
		c.connected.Store(false)
		return fmt.Errorf("%w: empty server address", ErrInvalidConfig)
	}
	c.logger.Info("Connecting to server", log.String("addr", c.config.ServerAddr))

	connectCtx, cancel := context.WithTimeout(ctx, c.config.ConnectTimeout)
	defer cancel()

	c.ctx, c.cancel = context.WithCancel(context.Background())
	if c.config.Transport == TransportQUIC {
		qc := quic.DefaultConfig()
		qc.TLSConfig = c.config.TLSConfig
		conn, err := quic.Dial(connectCtx, c.config.ServerAddr, qc, c.logger)
		if err != nil {
			c.connected.Store(false)
			return err
		}
		c.quic = conn
	}

	stream, err := c.openStream(connectCtx)
	if err != nil {
		if c.quic != nil {
			_ = c.quic.Close()
		}
		c.connected.Store(false)
		return err
	}
	c.control = protocol.NewChannel(stream, protocol.KindControl, c.commands, c.config.Channel, c.logger)
	c.serve(c.control, ControlSpace, protocol.ReceiverFunc(c.receiveControl))

	if err := c.control.Send(0, &server.HashRequestEvent{}); err != nil {
		return err
	}
	if _, err := c.hash.Await(connectCtx); err != nil {
		return fmt.Errorf("session hash: %w", err)
	}

	c.logger.Info("Connected to server", log.String("remote_addr", stream.RemoteAddr().String()))
	return nil
}

func (c *Client) openStream(ctx context.Context) (protocol.Stream, error) {
	if c.config.Transport == TransportQUIC {
		return c.quic.OpenStream(ctx)
	}
	url := c.config.ServerAddr
	if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
		url = "ws://" + url + websocket.Path
	}
	return websocket.Dial(ctx, url)
}

// serve runs ch until it closes. Space channels are forgotten when they end.
func (c *Client) serve(ch *protocol.Channel, space int64, r protocol.Receiver) {
	c.workerGroup.Add(1)
	go func() {
		defer c.workerGroup.Done()
		err := ch.Serve(c.ctx, r)
		if space != ControlSpace {
			c.mu.Lock()
			if c.spaces[space] == ch {
				delete(c.spaces, space)
			}
			c.mu.Unlock()
		}
		if err != nil {
			c.logger.Debug("Stream ended", log.Int64("space_id", space), log.Error(err))
		}
	}()
}

func (c *Client) receiveControl(_ context.Context, _ *protocol.Channel, h events.Header, e events.Event) error {
	switch ev := e.(type) {
	case *server.HashResponseEvent:
		c.hash.Complete(ev.Hash)
	case *server.LoginFailedEvent:
		if d := c.login.Load(); d != nil {
			d.Complete(fmt.Errorf("%w: %s", ErrLoginFailed, ev.Reason))
		}
	case *server.OpenSpaceEvent:
		c.workerGroup.Add(1)
		go func() {
			defer c.workerGroup.Done()
			err := c.openSpace(ev.SpaceID)
			if err != nil {
				c.logger.Warn("Failed to open space", log.Int64("space_id", ev.SpaceID), log.Error(err))
			}
			if d := c.login.Load(); d != nil {
				d.Complete(err)
			}
		}()
	}
	return c.emit(Event{Space: ControlSpace, Header: h, Command: e})
}

// openSpace opens a stream bound to the session and upgrades it before
// anything is read from it.
func (c *Client) openSpace(id int64) error {
	hash, err := c.hash.Await(c.ctx)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.ctx, c.config.ConnectTimeout)
	defer cancel()
	stream, err := c.openStream(ctx)
	if err != nil {
		return err
	}

	ch := protocol.NewChannel(stream, protocol.KindControl, c.commands, c.config.Channel, c.logger)
	if err := ch.Send(0, &server.InitSpaceEvent{Hash: hash, SpaceID: id}); err != nil {
		_ = ch.Close()
		return err
	}
	r := protocol.ReceiverFunc(func(_ context.Context, _ *protocol.Channel, h events.Header, e events.Event) error {
		return c.emit(Event{Space: id, Header: h, Command: e})
	})
	ch.Upgrade(protocol.KindSpace, r)

	c.mu.Lock()
	c.spaces[id] = ch
	c.mu.Unlock()
	c.serve(ch, id, r)

	c.logger.Debug("Space stream opened", log.Int64("space_id", id))
	return nil
}

func (c *Client) emit(e Event) error {
	select {
	case c.events <- e:
		return nil
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
}

// Login claims username and waits until the server opens the first space
// or rejects the name.
func (c *Client) Login(ctx context.Context, username string) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	d := events.NewDeferred[error]()
	c.login.Store(d)
	if err := c.control.Send(0, &server.LoginEvent{Username: username}); err != nil {
		return err
	}
	result, err := d.Await(ctx)
	if err != nil {
		return err
	}
	return result
}

// Hash returns the session hash, nil before Connect succeeds.
func (c *Client) Hash() []byte {
	select {
	case <-c.hash.Done():
		hash, _ := c.hash.Await(context.Background())
		return hash
	default:
		return nil
	}
}

// Send sends e to object in an open space.
func (c *Client) Send(space int64, object models.ObjectID, e events.Event) error {
	c.mu.Lock()
	ch, ok := c.spaces[space]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("space %d: %w", space, ErrSpaceNotOpen)
	}
	return ch.Send(object, e)
}

// Spaces returns the ids of the open spaces.
func (c *Client) Spaces() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int64, 0, len(c.spaces))
	for id := range c.spaces {
		out = append(out, id)
	}
	return out
}

// Close closes every stream and the connection, then closes Events.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return ErrClientClosed
	}
	c.logger.Info("Closing client")
	if !c.connected.Load() {
		close(c.events)
		return nil
	}

	c.cancel()
	c.mu.Lock()
	for _, ch := range c.spaces {
		_ = ch.Close()
	}
	c.mu.Unlock()
	if c.control != nil {
		_ = c.control.Close()
	}
	var err error
	if c.quic != nil {
		err = c.quic.Close()
	}

	c.workerGroup.Wait()
	close(c.events)
	return err
}
