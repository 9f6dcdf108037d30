package quic

import (
	"context"
	"errors"
	"net"
	"sync/atomic"

	"github.com/quic-go/quic-go"

	"github.com/NarukamiTO/server-sub000/internal/core/observability/log"
	"github.com/NarukamiTO/server-sub000/internal/core/protocol"
)

// ErrListenerClosed is returned by Accept after Close.
var ErrListenerClosed = errors.New("quic listener is closed")

// Listener accepts QUIC connections.
type Listener struct {
	listener *quic.Listener
	udp      net.PacketConn
	closed   atomic.Bool
	logger   log.Log
}

func newListener(listener *quic.Listener, udp net.PacketConn, logger log.Log) *Listener {
	l := &Listener{
		listener: listener,
		udp:      udp,
		logger:   logger.With(log.String("listener_addr", listener.Addr().String())),
	}
	l.logger.Info("QUIC listener created")
	return l
}

// Accept waits for the next connection.
func (l *Listener) Accept(ctx context.Context) (*Conn, error) {
	if l.closed.Load() {
		return nil, ErrListenerClosed
	}
	conn, err := l.listener.Accept(ctx)
	if err != nil {
		if l.closed.Load() || errors.Is(err, quic.ErrServerClosed) {
			return nil, ErrListenerClosed
		}
		return nil, err
	}
	l.logger.Debug("QUIC connection accepted", log.String("remote_addr", conn.RemoteAddr().String()))
	return newConn(conn, l.logger), nil
}

func (l *Listener) Addr() net.Addr { return l.listener.Addr() }

func (l *Listener) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	l.logger.Info("Closing QUIC listener")
	err := l.listener.Close()
	if cerr := l.udp.Close(); err == nil && !errors.Is(cerr, net.ErrClosed) {
		err = cerr
	}
	return err
}

// Conn is one QUIC connection.
type Conn struct {
	conn   *quic.Conn
	logger log.Log
}

func newConn(conn *quic.Conn, logger log.Log) *Conn {
	return &Conn{conn: conn, logger: logger.With(log.String("remote_addr", conn.RemoteAddr().String()))}
}

func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Context ends when the connection is closed.
func (c *Conn) Context() context.Context { return c.conn.Context() }

// AcceptStream waits for the peer to open a stream. The peer must write to
// a new stream before it is reported here.
func (c *Conn) AcceptStream(ctx context.Context) (protocol.Stream, error) {
	s, err := c.conn.AcceptStream(ctx)
	if err != nil {
		return nil, err
	}
	return &Stream{stream: s, remote: c.conn.RemoteAddr()}, nil
}

func (c *Conn) OpenStream(ctx context.Context) (protocol.Stream, error) {
	s, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	return &Stream{stream: s, remote: c.conn.RemoteAddr()}, nil
}

func (c *Conn) Close() error {
	return c.conn.CloseWithError(0, "closed")
}

// Stream adapts a bidirectional QUIC stream.
type Stream struct {
	stream *quic.Stream
	remote net.Addr
	closed atomic.Bool
}

var _ protocol.Stream = (*Stream)(nil)

func (s *Stream) Read(p []byte) (int, error)  { return s.stream.Read(p) }
func (s *Stream) Write(p []byte) (int, error) { return s.stream.Write(p) }
func (s *Stream) RemoteAddr() net.Addr        { return s.remote }

// Close closes both directions. Close on a QUIC stream only ends the write
// side, so the read side is cancelled to unblock a pending Read.
func (s *Stream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.stream.CancelRead(0)
	return s.stream.Close()
}
