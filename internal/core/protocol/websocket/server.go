package websocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/NarukamiTO/server-sub000/internal/core/observability/log"
	"github.com/NarukamiTO/server-sub000/internal/core/protocol"
)

// Path is the endpoint that upgrades to a channel stream.
const Path = "/ws"

// AcceptFunc takes ownership of an upgraded stream. It runs on the request
// goroutine and should block until the stream is done.
type AcceptFunc func(ctx context.Context, s protocol.Stream)

// Config holds WebSocket server settings.
type Config struct {
	ReadBufferSize    int
	WriteBufferSize   int
	EnableCompression bool
	ReadHeaderTimeout time.Duration
	// CheckOrigin is nil to accept every origin.
	CheckOrigin func(r *http.Request) bool
}

func DefaultConfig() Config {
	return Config{
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Handler upgrades requests on Path and hands the streams to accept.
type Handler struct {
	upgrader websocket.Upgrader
	accept   AcceptFunc
	logger   log.Log
	active   atomic.Int64
}

func NewHandler(cfg Config, accept AcceptFunc, logger log.Log) *Handler {
	if logger == nil {
		logger = log.Provide()
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Handler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:    cfg.ReadBufferSize,
			WriteBufferSize:   cfg.WriteBufferSize,
			EnableCompression: cfg.EnableCompression,
			CheckOrigin:       checkOrigin,
		},
		accept: accept,
		logger: logger.With(log.String("transport", "websocket")),
	}
}

// Active is the number of streams currently being served.
func (h *Handler) Active() int64 { return h.active.Load() }

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", log.String("remote_addr", r.RemoteAddr), log.Error(err))
		return
	}
	h.logger.Debug("Client connected", log.String("remote_addr", conn.RemoteAddr().String()))

	h.active.Add(1)
	defer h.active.Add(-1)

	s := NewStream(conn)
	defer s.Close()
	h.accept(r.Context(), s)
}

// Server serves Handler on Path plus a health endpoint.
type Server struct {
	handler  *Handler
	server   *http.Server
	listener net.Listener
	logger   log.Log
}

// Listen binds addr. Serving starts with Serve.
func Listen(addr string, cfg Config, accept AcceptFunc, logger log.Log) (*Server, error) {
	if logger == nil {
		logger = log.Provide()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen tcp %s: %w", addr, err)
	}

	h := NewHandler(cfg, accept, logger)
	mux := http.NewServeMux()
	mux.Handle(Path, h)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, `{"status":"healthy","connections":%d}`, h.Active())
	})

	s := &Server{
		handler: h,
		server: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		},
		listener: ln,
		logger:   h.logger.With(log.String("addr", ln.Addr().String())),
	}
	s.logger.Info("WebSocket listener created")
	return s, nil
}

func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Serve blocks until Shutdown. A shut down server returns nil.
func (s *Server) Serve() error {
	if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting and waits for handlers up to ctx. Hijacked
// WebSocket connections are not tracked by http.Server; their streams close
// when their channels stop.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Stopping WebSocket listener")
	return s.server.Shutdown(ctx)
}

// Dial opens a client stream to a ws:// or wss:// url.
func Dial(ctx context.Context, url string) (*Stream, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return NewStream(conn), nil
}
