package server

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/NarukamiTO/server-sub000/internal/core/events"
	"github.com/NarukamiTO/server-sub000/internal/core/observability/log"
	"github.com/NarukamiTO/server-sub000/internal/core/protocol"
	"github.com/NarukamiTO/server-sub000/internal/core/space"
	"github.com/NarukamiTO/server-sub000/internal/game"
)

// Control command codes.
const (
	CodeHashRequest  int64 = 1
	CodeHashResponse int64 = 2
	CodeInitSpace    int64 = 3
	CodeLogin        int64 = 4
	CodeLoginFailed  int64 = 5
	CodeOpenSpace    int64 = 32
)

const maxUsernameLength = 32

// HashRequestEvent opens a session. It must be the first command of a
// client.
type HashRequestEvent struct {
	events.ToServer
	Parameters map[string]string
}

type HashResponseEvent struct {
	events.ToClient
	Hash              []byte
	ProtectionEnabled bool
}

// InitSpaceEvent is the first command of a space stream. It binds the
// stream to the session with the given hash.
type InitSpaceEvent struct {
	events.ToServer
	Hash    []byte
	SpaceID int64
}

type LoginEvent struct {
	events.ToServer
	Username string
}

type LoginFailedEvent struct {
	events.ToClient
	Reason string
}

// OpenSpaceEvent asks the client to open a stream for a space.
type OpenSpaceEvent struct {
	events.ToClient
	SpaceID int64
}

// openSpaceRequest makes the session open a space channel.
type openSpaceRequest struct {
	events.Internal
	Space space.ID
}

var controlCommands = []struct {
	code  int64
	event events.Event
}{
	{CodeHashRequest, (*HashRequestEvent)(nil)},
	{CodeHashResponse, (*HashResponseEvent)(nil)},
	{CodeInitSpace, (*InitSpaceEvent)(nil)},
	{CodeLogin, (*LoginEvent)(nil)},
	{CodeLoginFailed, (*LoginFailedEvent)(nil)},
	{CodeOpenSpace, (*OpenSpaceEvent)(nil)},
}

// RegisterControlCommands adds the handshake commands to c.
func RegisterControlCommands(c *protocol.Commands) error {
	for _, cmd := range controlCommands {
		if err := c.Add(protocol.KindControl, cmd.code, reflect.TypeOf(cmd.event)); err != nil {
			return fmt.Errorf("register control commands: %w", err)
		}
	}
	return nil
}

// controlSystem runs on the control space. Every handler targets the
// session object of the requesting client.
func (s *Server) controlSystem() events.System {
	return events.System{
		Name: "ControlSystem",
		Handlers: []events.Handler{
			events.On(sessionNode, s.onHashRequest, events.Mandatory()),
			events.On(sessionNode, s.onLogin, events.Mandatory()),
			events.On(sessionNode, s.onOpenSpace, events.Mandatory(), events.OutOfOrder()),
			events.On(sessionNode, s.onInitSpace, events.Mandatory()),
		},
	}
}

func (s *Server) onHashRequest(c *events.Context, _ *HashRequestEvent) error {
	sess := sessionComponents.In(c.Node())
	hash := sess.Hash()
	return c.Reply(&HashResponseEvent{Hash: hash[:], ProtectionEnabled: false}, c.Target())
}

func (s *Server) onLogin(c *events.Context, e *LoginEvent) error {
	sess := sessionComponents.In(c.Node())
	username := strings.TrimSpace(e.Username)
	if username == "" || utf8.RuneCountInString(username) > maxUsernameLength {
		_ = c.Reply(&LoginFailedEvent{Reason: "invalid username"}, c.Target())
		return fmt.Errorf("%q: %w", e.Username, ErrInvalidUsername)
	}
	if err := s.sessions.claim(sess, username); err != nil {
		_ = c.Reply(&LoginFailedEvent{Reason: err.Error()}, c.Target())
		return err
	}

	user := game.NewUser(s.nextUserID(), username)
	sess.setUser(user)
	sess.Control().SetPrincipal(user)
	c.Logger().Info("User logged in",
		log.String("session_id", sess.ID().String()),
		log.String("username", username))

	if s.cfg.LobbySpace == 0 {
		return nil
	}
	c.Schedule(&openSpaceRequest{Space: space.ID(s.cfg.LobbySpace)}, c.Channel(), c.Target())
	return nil
}

// onOpenSpace waits for the client to open the requested stream. It runs
// out of order because the InitSpace it waits for is dispatched by the same
// scheduler.
func (s *Server) onOpenSpace(c *events.Context, e *openSpaceRequest) error {
	sess := sessionComponents.In(c.Node())
	if _, err := s.spaces.Lookup(e.Space); err != nil {
		return err
	}
	opened := sess.expect(e.Space)
	if err := c.Reply(&OpenSpaceEvent{SpaceID: int64(e.Space)}, c.Target()); err != nil {
		sess.take(e.Space)
		return err
	}

	ctx, cancel := context.WithTimeout(c.Context(), s.cfg.OpenSpaceTimeout)
	defer cancel()
	ch, err := opened.Await(ctx)
	if err != nil {
		sess.take(e.Space)
		return fmt.Errorf("open space %d: %w", e.Space, err)
	}
	c.Logger().Info("Space channel opened",
		log.String("session_id", sess.ID().String()),
		log.Int64("space_id", int64(e.Space)),
		log.String("channel_id", ch.ID().String()))
	return nil
}

func (s *Server) onInitSpace(c *events.Context, e *InitSpaceEvent) error {
	sess := sessionComponents.In(c.Node())
	id := space.ID(e.SpaceID)
	opened, ok := sess.take(id)
	if !ok {
		return fmt.Errorf("space %d: %w", id, ErrSpaceNotRequested)
	}
	sp, err := s.spaces.Lookup(id)
	if err != nil {
		return err
	}
	ch, ok := c.Channel().(*protocol.Channel)
	if !ok {
		return ErrNotAStream
	}

	ch.SetPrincipal(sess.User())
	sess.addChannel(ch)
	sp.Join(ch)
	opened.Complete(ch)
	return nil
}
