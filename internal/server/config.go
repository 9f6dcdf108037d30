package server

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/NarukamiTO/server-sub000/internal/core/events"
	"github.com/NarukamiTO/server-sub000/internal/core/observability/log"
	"github.com/NarukamiTO/server-sub000/internal/core/protocol"
	"github.com/NarukamiTO/server-sub000/internal/core/protocol/frame"
	"github.com/NarukamiTO/server-sub000/internal/core/protocol/quic"
	"github.com/NarukamiTO/server-sub000/internal/core/protocol/websocket"
	"github.com/NarukamiTO/server-sub000/internal/core/resources"
	"github.com/NarukamiTO/server-sub000/internal/core/space"
	"github.com/NarukamiTO/server-sub000/internal/game"
)

// Config holds server configuration
type Config struct {
	// Listeners; an empty address disables the listener
	QUIC      QUICConfig      `yaml:"quic"`
	WebSocket WebSocketConfig `yaml:"websocket"`

	// Client settings
	MaxClients       int           `yaml:"max_clients"`
	OpenSpaceTimeout time.Duration `yaml:"open_space_timeout"`
	LoadTimeout      time.Duration `yaml:"load_timeout"`

	// Protocol settings
	MaxPacketSize        int     `yaml:"max_packet_size"`
	CompressionThreshold int     `yaml:"compression_threshold"`
	CommandRate          float64 `yaml:"command_rate"`
	CommandBurst         int     `yaml:"command_burst"`

	// Scheduler settings
	WatchdogTimeout time.Duration `yaml:"watchdog_timeout"`

	// Content
	ResourceFile string        `yaml:"resource_file"`
	Spaces       []SpaceConfig `yaml:"spaces"`
	// LobbySpace is opened for every user after login.
	LobbySpace int64 `yaml:"lobby_space"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

type QUICConfig struct {
	Addr               string        `yaml:"addr"`
	CertFile           string        `yaml:"cert_file"`
	KeyFile            string        `yaml:"key_file"`
	MaxIncomingStreams int64         `yaml:"max_incoming_streams"`
	MaxIdleTimeout     time.Duration `yaml:"max_idle_timeout"`
	KeepAlivePeriod    time.Duration `yaml:"keep_alive_period"`
}

type WebSocketConfig struct {
	Addr              string `yaml:"addr"`
	EnableCompression bool   `yaml:"enable_compression"`
}

// SpaceConfig describes one battle space.
type SpaceConfig struct {
	ID        int64  `yaml:"id"`
	Name      string `yaml:"name"`
	Map       string `yaml:"map"`
	MaxPeople int32  `yaml:"max_people"`
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() Config {
	quicDefaults := quic.DefaultConfig()
	return Config{
		QUIC: QUICConfig{
			Addr:               "127.0.0.1:5191",
			MaxIncomingStreams: quicDefaults.MaxIncomingStreams,
			MaxIdleTimeout:     quicDefaults.MaxIdleTimeout,
			KeepAlivePeriod:    quicDefaults.KeepAlivePeriod,
		},
		WebSocket: WebSocketConfig{
			Addr: "127.0.0.1:5190",
		},
		MaxClients:           10_000,
		OpenSpaceTimeout:     30 * time.Second,
		LoadTimeout:          game.DefaultLoadTimeout,
		MaxPacketSize:        frame.DefaultMaxPacketSize,
		CompressionThreshold: frame.DefaultCompressionThreshold,
		CommandRate:          200,
		CommandBurst:         400,
		WatchdogTimeout:      events.DefaultWatchdogTimeout,
		Spaces: []SpaceConfig{
			{ID: 1, Name: "Sandbox", MaxPeople: 16},
		},
		LobbySpace: 1,
		LogLevel:   log.LevelInfo.String(),
		LogFormat:  "json",
	}
}

// LoadConfig reads a YAML document over the defaults.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultServerConfig()
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfigFile is LoadConfig for a path. An empty path yields the
// defaults.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		cfg := DefaultServerConfig()
		return cfg, cfg.Validate()
	}
	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()
	return LoadConfig(f)
}

func (c Config) Validate() error {
	if c.QUIC.Addr == "" && c.WebSocket.Addr == "" {
		return fmt.Errorf("%w: no listener configured", ErrInvalidConfig)
	}
	if c.MaxClients <= 0 {
		return fmt.Errorf("%w: max_clients must be positive", ErrInvalidConfig)
	}
	if c.MaxPacketSize <= 0 || c.CompressionThreshold < 0 {
		return fmt.Errorf("%w: packet limits must be positive", ErrInvalidConfig)
	}
	seen := make(map[int64]bool, len(c.Spaces))
	for _, s := range c.Spaces {
		if s.ID == ControlSpaceID {
			return fmt.Errorf("%w: space id %d is reserved", ErrInvalidConfig, s.ID)
		}
		if seen[s.ID] {
			return fmt.Errorf("%w: duplicate space id %d", ErrInvalidConfig, s.ID)
		}
		seen[s.ID] = true
		if s.Map != "" {
			if _, err := resources.ParseRef(s.Map); err != nil {
				return fmt.Errorf("%w: space %d: %v", ErrInvalidConfig, s.ID, err)
			}
		}
	}
	if _, ok := log.LookupLevel(c.LogLevel); c.LogLevel != "" && !ok {
		return fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, c.LogLevel)
	}
	if c.LobbySpace != 0 && !seen[c.LobbySpace] {
		return fmt.Errorf("%w: lobby space %d is not configured", ErrInvalidConfig, c.LobbySpace)
	}
	return nil
}

func (c Config) channelConfig() protocol.ChannelConfig {
	return protocol.ChannelConfig{
		Frame: frame.Config{
			CompressionThreshold: c.CompressionThreshold,
			MaxPacketSize:        c.MaxPacketSize,
		},
		CommandRate:  c.CommandRate,
		CommandBurst: c.CommandBurst,
	}
}

func (c Config) quicConfig() (quic.Config, error) {
	qc := quic.DefaultConfig()
	if c.QUIC.MaxIncomingStreams > 0 {
		qc.MaxIncomingStreams = c.QUIC.MaxIncomingStreams
	}
	if c.QUIC.MaxIdleTimeout > 0 {
		qc.MaxIdleTimeout = c.QUIC.MaxIdleTimeout
	}
	if c.QUIC.KeepAlivePeriod > 0 {
		qc.KeepAlivePeriod = c.QUIC.KeepAlivePeriod
	}
	if c.QUIC.CertFile != "" || c.QUIC.KeyFile != "" {
		tlsConfig, err := quic.LoadTLS(c.QUIC.CertFile, c.QUIC.KeyFile)
		if err != nil {
			return qc, err
		}
		qc.TLSConfig = tlsConfig
	}
	return qc, nil
}

func (c Config) websocketConfig() websocket.Config {
	wc := websocket.DefaultConfig()
	wc.EnableCompression = c.WebSocket.EnableCompression
	return wc
}

// SpaceSettings returns the settings shared by every space.
func (c Config) SpaceSettings(logger log.Log, encoder events.Encoder) space.Config {
	return space.Config{
		WatchdogTimeout: c.WatchdogTimeout,
		Logger:          logger,
		Encoder:         encoder,
	}
}
