// Package server accepts client streams, runs the session handshake and
// hands space streams over to their spaces.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/NarukamiTO/server-sub000/internal/core/events"
	"github.com/NarukamiTO/server-sub000/internal/core/models"
	"github.com/NarukamiTO/server-sub000/internal/core/observability/log"
	"github.com/NarukamiTO/server-sub000/internal/core/protocol"
	"github.com/NarukamiTO/server-sub000/internal/core/protocol/middlewares"
	"github.com/NarukamiTO/server-sub000/internal/core/protocol/quic"
	"github.com/NarukamiTO/server-sub000/internal/core/protocol/websocket"
	"github.com/NarukamiTO/server-sub000/internal/core/space"
	"github.com/NarukamiTO/server-sub000/pkg/concurrent"
	"github.com/NarukamiTO/server-sub000/pkg/sequence"
)

// ControlSpaceID is reserved for the space holding session objects.
const ControlSpaceID int64 = 0

const firstUserID models.ObjectID = 1 << 20

// Server represents a tank arena game server
type Server struct {
	cfg      Config
	logger   log.Log
	commands *protocol.Commands
	spaces   *space.Manager
	control  *space.Space
	sessions *Sessions
	metrics  *middlewares.Metrics
	receiver protocol.Receiver
	userIDs  atomic.Int64

	// Server state
	running atomic.Bool
	closed  atomic.Bool

	quic    *quic.Listener
	ws      *websocket.Server
	ctx     context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group
	streams sync.WaitGroup
}

var _ protocol.Receiver = (*Server)(nil)

// NewServer creates a server. The battle spaces must already be registered
// with spaces.
func NewServer(cfg Config, logger log.Log, commands *protocol.Commands, spaces *space.Manager) *Server {
	if logger == nil {
		logger = log.Provide()
	}
	s := &Server{
		cfg:      cfg,
		logger:   logger.With(log.String("component", "server")),
		commands: commands,
		spaces:   spaces,
		sessions: NewSessions(cfg.MaxClients),
		metrics:  middlewares.NewMetrics(),
	}
	s.receiver = middlewares.Chain(s, middlewares.Logging(s.logger), s.metrics.Middleware())
	s.userIDs.Store(int64(firstUserID))
	s.control = space.New(space.ID(ControlSpaceID), "control", cfg.SpaceSettings(logger, commands), s.controlSystem())

	s.logger.Info("Server created",
		log.String("quic_addr", cfg.QUIC.Addr),
		log.String("websocket_addr", cfg.WebSocket.Addr),
		log.Int("max_clients", cfg.MaxClients))
	return s
}

func (s *Server) Commands() *protocol.Commands  { return s.commands }
func (s *Server) Sessions() *Sessions           { return s.sessions }
func (s *Server) Spaces() *space.Manager        { return s.spaces }
func (s *Server) ControlSpace() *space.Space    { return s.control }
func (s *Server) Metrics() *middlewares.Metrics { return s.metrics }

func (s *Server) nextUserID() models.ObjectID {
	return models.ObjectID(s.userIDs.Add(1))
}

// QUICAddr is the bound QUIC address, nil when QUIC is disabled.
func (s *Server) QUICAddr() net.Addr {
	if s.quic == nil {
		return nil
	}
	return s.quic.Addr()
}

// WebSocketAddr is the bound WebSocket address, nil when disabled.
func (s *Server) WebSocketAddr() net.Addr {
	if s.ws == nil {
		return nil
	}
	return s.ws.Addr()
}

// Start binds the listeners and starts the spaces. It returns once the
// server accepts clients; Wait blocks until it stops.
func (s *Server) Start(ctx context.Context) error {
	if s.closed.Load() {
		return ErrServerClosed
	}
	if !s.running.CompareAndSwap(false, true) {
		return ErrServerAlreadyRunning
	}
	s.logger.Info("Starting server")

	if err := s.listen(); err != nil {
		s.running.Store(false)
		s.closeListeners()
		s.logger.Error("Failed to create listener", log.Error(err))
		return fmt.Errorf("%w: %w", ErrListenerFailed, err)
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	ctx = s.ctx
	s.control.Start(ctx)
	s.spaces.Start(ctx)

	s.group, ctx = errgroup.WithContext(ctx)
	if s.quic != nil {
		s.group.Go(func() error { return s.acceptQUIC(ctx) })
	}
	if s.ws != nil {
		s.group.Go(s.ws.Serve)
	}
	s.group.Go(func() error {
		<-ctx.Done()
		s.closeListeners()
		return nil
	})

	s.logger.Info("Server started successfully")
	return nil
}

func (s *Server) listen() error {
	if s.cfg.QUIC.Addr != "" {
		qc, err := s.cfg.quicConfig()
		if err != nil {
			return err
		}
		if s.quic, err = quic.Listen(s.cfg.QUIC.Addr, qc, s.logger); err != nil {
			return err
		}
	}
	if s.cfg.WebSocket.Addr != "" {
		ws, err := websocket.Listen(s.cfg.WebSocket.Addr, s.cfg.websocketConfig(), s.acceptWebSocket, s.logger)
		if err != nil {
			return err
		}
		s.ws = ws
	}
	return nil
}

func (s *Server) closeListeners() {
	if s.quic != nil {
		_ = s.quic.Close()
	}
	if s.ws != nil {
		_ = s.ws.Shutdown(context.Background())
	}
}

// Wait blocks until the listeners stop and returns the first listener error.
func (s *Server) Wait() error {
	if s.group == nil {
		return ErrServerNotRunning
	}
	return s.group.Wait()
}

// Stop closes the listeners and every session, then stops the spaces.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return ErrServerNotRunning
	}
	s.closed.Store(true)
	s.logger.Info("Stopping server")

	s.cancel()
	err := s.group.Wait()
	concurrent.Each(sequence.From(s.sessions.All()), (*Session).close)

	done := make(chan struct{})
	go func() {
		s.streams.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("Streams still open at shutdown", log.Error(ctx.Err()))
	}

	s.spaces.Stop()
	s.control.Stop()
	for name, stats := range s.metrics.Snapshot() {
		s.logger.Debug("Control command stats",
			log.String("command", name),
			log.Int64("count", stats.Count),
			log.Int64("errors", stats.Errors),
			log.Duration("average_time", stats.AverageTime))
	}
	s.logger.Info("Server stopped")
	return err
}

func (s *Server) acceptQUIC(ctx context.Context) error {
	s.logger.Debug("Connection acceptor started")
	defer s.logger.Debug("Connection acceptor stopped")

	for {
		conn, err := s.quic.Accept(ctx)
		if err != nil {
			if errors.Is(err, quic.ErrListenerClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.streams.Add(1)
		go func() {
			defer s.streams.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

// serveConn serves every stream the peer opens until the connection ends.
func (s *Server) serveConn(ctx context.Context, conn *quic.Conn) {
	defer conn.Close()
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			s.logger.Debug("Connection closed",
				log.String("remote_addr", conn.RemoteAddr().String()),
				log.Error(err))
			return
		}
		s.streams.Add(1)
		go func() {
			defer s.streams.Done()
			s.ServeStream(ctx, stream)
		}()
	}
}

// acceptWebSocket serves a socket on its request goroutine. The stream also
// ends when the server stops.
func (s *Server) acceptWebSocket(ctx context.Context, stream protocol.Stream) {
	s.streams.Add(1)
	defer s.streams.Done()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()
	s.ServeStream(ctx, stream)
}

// ServeStream serves one stream until it closes. Every stream starts as a
// control channel.
func (s *Server) ServeStream(ctx context.Context, stream protocol.Stream) {
	ch := protocol.NewChannel(stream, protocol.KindControl, s.commands, s.cfg.channelConfig(), s.logger)
	err := ch.Serve(ctx, s.receiver)
	if sess, ok := s.sessions.ByChannel(ch); ok {
		s.endSession(sess)
	}
	if err != nil {
		ch.Logger().Debug("Stream ended", log.Error(err))
	}
}

func (s *Server) endSession(sess *Session) {
	s.sessions.Remove(sess)
	sess.close()
	if err := s.control.RemoveObject(sess.Object().ID()); err != nil {
		s.logger.Warn("Session object already gone", log.Error(err))
	}
	s.logger.Info("Session closed",
		log.String("session_id", sess.ID().String()),
		log.Int("total_sessions", s.sessions.Len()))
}

// Receive routes control commands. The handshake commands create or find
// the session; everything else requires one.
func (s *Server) Receive(ctx context.Context, ch *protocol.Channel, _ events.Header, e events.Event) error {
	switch ev := e.(type) {
	case *HashRequestEvent:
		sess, err := s.sessions.Create(ch)
		if err != nil {
			return err
		}
		if err := s.control.AddObject(sess.Object()); err != nil {
			s.sessions.Remove(sess)
			return err
		}
		s.logger.Info("Session opened",
			log.String("session_id", sess.ID().String()),
			log.String("remote_addr", ch.RemoteAddr().String()),
			log.Int("total_sessions", s.sessions.Len()))
		s.control.Schedule(ev, ch, sess.Object())
		return nil

	case *InitSpaceEvent:
		sess, ok := s.sessions.ByHash(ev.Hash)
		if !ok {
			return ErrUnknownSession
		}
		// The upgrade must be done before the next command is read.
		if err := s.control.Schedule(ev, ch, sess.Object()).Wait(ctx); err != nil {
			return err
		}
		if ch.Kind() != protocol.KindSpace {
			return fmt.Errorf("space %d: %w", ev.SpaceID, ErrSpaceNotRequested)
		}
		return nil
	}

	sess, ok := s.sessions.ByChannel(ch)
	if !ok {
		return fmt.Errorf("%T: %w", e, ErrNoSession)
	}
	s.control.Schedule(e, ch, sess.Object())
	return nil
}
