// Package websocket carries a single channel over a WebSocket. Binary
// messages are concatenated into one byte stream, so message boundaries do
// not have to match frame boundaries.
package websocket

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/NarukamiTO/server-sub000/internal/core/protocol"
)

// ErrTextMessage is returned by Read when the peer sends a text message.
var ErrTextMessage = errors.New("websocket: unexpected text message")

// Stream adapts a WebSocket connection to protocol.Stream.
type Stream struct {
	conn *websocket.Conn

	// reader is the message being read, nil between messages.
	reader io.Reader

	writeMu sync.Mutex
	closed  atomic.Bool
}

var _ protocol.Stream = (*Stream)(nil)

func NewStream(conn *websocket.Conn) *Stream {
	return &Stream{conn: conn}
}

func (s *Stream) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// Read is not safe for concurrent use.
func (s *Stream) Read(p []byte) (int, error) {
	for {
		if s.reader == nil {
			typ, r, err := s.conn.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			if typ != websocket.BinaryMessage {
				return 0, ErrTextMessage
			}
			s.reader = r
		}

		n, err := s.reader.Read(p)
		if errors.Is(err, io.EOF) {
			s.reader = nil
			if n == 0 {
				continue
			}
			err = nil
		}
		return n, err
	}
}

// Write sends p as one binary message.
func (s *Stream) Write(p []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close sends a close frame and closes the connection.
func (s *Stream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.writeMu.Lock()
	_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()
	return s.conn.Close()
}
