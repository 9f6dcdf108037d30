package quic

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/NarukamiTO/server-sub000/internal/core/observability/log"
)

// Config holds QUIC settings.
type Config struct {
	MaxIncomingStreams         int64
	MaxStreamReceiveWindow     uint64
	MaxConnectionReceiveWindow uint64
	MaxIdleTimeout             time.Duration
	KeepAlivePeriod            time.Duration
	HandshakeIdleTimeout       time.Duration

	TLSConfig *tls.Config
}

// DefaultConfig returns the server defaults. TLSConfig is left nil and
// filled with a self-signed certificate by Listen.
func DefaultConfig() Config {
	return Config{
		MaxIncomingStreams:         16,
		MaxStreamReceiveWindow:     1024 * 1024,      // 1MB
		MaxConnectionReceiveWindow: 15 * 1024 * 1024, // 15MB
		MaxIdleTimeout:             30 * time.Second,
		KeepAlivePeriod:            15 * time.Second,
		HandshakeIdleTimeout:       10 * time.Second,
	}
}

func (c Config) quicConfig() *quic.Config {
	return &quic.Config{
		MaxIncomingStreams:         c.MaxIncomingStreams,
		MaxIncomingUniStreams:      -1,
		MaxStreamReceiveWindow:     c.MaxStreamReceiveWindow,
		MaxConnectionReceiveWindow: c.MaxConnectionReceiveWindow,
		MaxIdleTimeout:             c.MaxIdleTimeout,
		KeepAlivePeriod:            c.KeepAlivePeriod,
		HandshakeIdleTimeout:       c.HandshakeIdleTimeout,
	}
}

// Listen binds a UDP socket on addr and starts accepting QUIC connections.
func Listen(addr string, cfg Config, logger log.Log) (*Listener, error) {
	if logger == nil {
		logger = log.Provide()
	}
	logger = logger.With(log.String("transport", "quic"))

	tlsConfig := cfg.TLSConfig
	if tlsConfig == nil {
		var err error
		if tlsConfig, err = GenerateSelfSignedTLS(); err != nil {
			return nil, fmt.Errorf("generate certificate: %w", err)
		}
		logger.Warn("No certificate configured, using a self-signed one")
	}

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen udp %s: %w", addr, err)
	}

	listener, err := quic.Listen(udpConn, tlsConfig, cfg.quicConfig())
	if err != nil {
		_ = udpConn.Close()
		return nil, fmt.Errorf("listen quic: %w", err)
	}
	return newListener(listener, udpConn, logger), nil
}

// Dial connects to a QUIC server. A nil TLSConfig verifies nothing, which
// suits self-signed development servers.
func Dial(ctx context.Context, addr string, cfg Config, logger log.Log) (*Conn, error) {
	if logger == nil {
		logger = log.Provide()
	}
	tlsConfig := cfg.TLSConfig
	if tlsConfig == nil {
		tlsConfig = ClientTLS(true)
	} else {
		tlsConfig = tlsConfig.Clone()
	}
	if tlsConfig.ServerName == "" {
		if host, _, err := net.SplitHostPort(addr); err == nil {
			tlsConfig.ServerName = host
		} else {
			tlsConfig.ServerName = addr
		}
	}

	conn, err := quic.DialAddr(ctx, addr, tlsConfig, cfg.quicConfig())
	if err != nil {
		return nil, fmt.Errorf("dial quic %s: %w", addr, err)
	}
	logger.Debug("QUIC connection established",
		log.String("local_addr", conn.LocalAddr().String()),
		log.String("remote_addr", conn.RemoteAddr().String()))
	return newConn(conn, logger), nil
}
