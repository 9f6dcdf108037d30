package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/NarukamiTO/server-sub000/internal/core/events"
	"github.com/NarukamiTO/server-sub000/internal/core/models"
	"github.com/NarukamiTO/server-sub000/internal/core/observability/log"
	"github.com/NarukamiTO/server-sub000/internal/core/protocol/codec"
	"github.com/NarukamiTO/server-sub000/internal/core/protocol/frame"
	"github.com/NarukamiTO/server-sub000/pkg/generic"
	"github.com/NarukamiTO/server-sub000/pkg/sequence"
)

// Receiver consumes the commands decoded by a channel's read loop. An error
// closes the channel.
type Receiver interface {
	Receive(ctx context.Context, ch *Channel, h events.Header, e events.Event) error
}

// ReceiverFunc adapts a function to Receiver.
type ReceiverFunc func(ctx context.Context, ch *Channel, h events.Header, e events.Event) error

func (f ReceiverFunc) Receive(ctx context.Context, ch *Channel, h events.Header, e events.Event) error {
	return f(ctx, ch, h, e)
}

// ChannelConfig tunes framing and inbound throttling.
type ChannelConfig struct {
	Frame frame.Config
	// CommandRate is the sustained number of inbound commands per second.
	// Zero disables throttling.
	CommandRate  float64
	CommandBurst int
}

func DefaultChannelConfig() ChannelConfig {
	return ChannelConfig{
		Frame:        frame.DefaultConfig(),
		CommandRate:  200,
		CommandBurst: 400,
	}
}

func (c ChannelConfig) limiter() *rate.Limiter {
	if c.CommandRate <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := c.CommandBurst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(c.CommandRate), burst)
}

var buffers = generic.NewPool(codec.NewBuffer, (*codec.Buffer).Reset)

// Channel is a framed command stream. Outgoing commands are encoded into
// frames right away and queued for the write loop, so game logic never
// waits on the network.
type Channel struct {
	id       uuid.UUID
	stream   Stream
	commands *Commands
	cfg      ChannelConfig
	limiter  *rate.Limiter
	logger   log.Log

	kind      atomic.Uint32
	receiver  atomic.Pointer[Receiver]
	principal atomic.Pointer[models.GameObject]

	// mu orders encoding so frames reach the queue in Append order.
	mu       sync.Mutex
	outgoing *sequence.Queue[[]byte]

	sent     atomic.Uint64
	received atomic.Uint64

	closeOnce sync.Once
	done      chan struct{}
}

var _ events.Channel = (*Channel)(nil)

func NewChannel(stream Stream, kind StreamKind, commands *Commands, cfg ChannelConfig, logger log.Log) *Channel {
	if logger == nil {
		logger = log.Provide()
	}
	id := uuid.New()
	ch := &Channel{
		id:       id,
		stream:   stream,
		commands: commands,
		cfg:      cfg,
		limiter:  cfg.limiter(),
		outgoing: sequence.NewQueue[[]byte](),
		done:     make(chan struct{}),
	}
	ch.kind.Store(uint32(kind))
	fields := []log.Field{log.String("channel_id", id.String())}
	if stream != nil && stream.RemoteAddr() != nil {
		fields = append(fields, log.String("remote_addr", stream.RemoteAddr().String()))
	}
	ch.logger = logger.With(fields...)
	return ch
}

func (c *Channel) ID() uuid.UUID { return c.id }

func (c *Channel) ViewerID() string { return c.id.String() }

func (c *Channel) Principal() *models.GameObject { return c.principal.Load() }

// SetPrincipal binds the logged in user object.
func (c *Channel) SetPrincipal(obj *models.GameObject) { c.principal.Store(obj) }

func (c *Channel) Kind() StreamKind { return StreamKind(c.kind.Load()) }

func (c *Channel) RemoteAddr() net.Addr {
	if c.stream == nil {
		return nil
	}
	return c.stream.RemoteAddr()
}

func (c *Channel) Logger() log.Log { return c.logger }

// Upgrade switches the channel to kind and hands subsequent commands to r.
// It is safe to call from a receiver: the read loop does not decode the
// next command until the receiver returns.
func (c *Channel) Upgrade(kind StreamKind, r Receiver) {
	c.kind.Store(uint32(kind))
	c.receiver.Store(&r)
	c.logger.Debug("Channel upgraded", log.Stringer("kind", kind))
}

func (c *Channel) String() string {
	return fmt.Sprintf("%s channel %s", c.Kind(), c.id)
}

// Done is closed once the channel is closed.
func (c *Channel) Done() <-chan struct{} { return c.done }

func (c *Channel) IsClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Stats returns the number of frames sent and commands received.
func (c *Channel) Stats() (sent, received uint64) {
	return c.sent.Load(), c.received.Load()
}

// Append encodes one command and queues it as a frame.
func (c *Channel) Append(h events.Header, body func(buf *codec.Buffer) error) error {
	if c.IsClosed() {
		return ErrChannelClosed
	}

	buf := buffers.Get()
	defer buffers.Put(buf)

	if err := writeHeader(buf, c.Kind(), h); err != nil {
		return err
	}
	if err := body(buf); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	packet, err := c.cfg.Frame.Encode(buf.Optional, buf.Bytes())
	if err != nil {
		return err
	}
	if err := c.outgoing.Enqueue(packet); err != nil {
		return ErrChannelClosed
	}
	return nil
}

// Send encodes e as a command addressed to object. It is the sending side
// used by peers that do not run a scheduler, such as clients and tests.
func (c *Channel) Send(object models.ObjectID, e events.Event) error {
	if e == nil {
		return events.ErrNilEvent
	}
	cmd, ok := c.commands.Lookup(reflect.TypeOf(e))
	if !ok {
		return fmt.Errorf("%T: %w", e, ErrUnknownCommand)
	}
	if cmd.Kind != c.Kind() {
		return fmt.Errorf("%s on %s channel: %w", cmd, c.Kind(), ErrWrongKind)
	}
	return c.Append(events.Header{ObjectID: object, MethodID: cmd.Code}, func(buf *codec.Buffer) error {
		return c.commands.EncodeBody(buf, e)
	})
}

func writeHeader(buf *codec.Buffer, kind StreamKind, h events.Header) error {
	switch kind {
	case KindControl:
		if h.MethodID < 0 || h.MethodID > 0xFF {
			return fmt.Errorf("code %d: %w", h.MethodID, ErrControlCodeOverflow)
		}
		buf.WriteInt8(int8(uint8(h.MethodID)))
	case KindSpace:
		buf.WriteInt64(int64(h.ObjectID))
		buf.WriteInt64(h.MethodID)
	}
	return nil
}

func readHeader(buf *codec.Buffer, kind StreamKind) (events.Header, error) {
	if kind == KindControl {
		code, err := buf.ReadInt8()
		if err != nil {
			return events.Header{}, err
		}
		return events.Header{MethodID: int64(uint8(code))}, nil
	}
	object, err := buf.ReadInt64()
	if err != nil {
		return events.Header{}, err
	}
	method, err := buf.ReadInt64()
	if err != nil {
		return events.Header{}, err
	}
	return events.Header{ObjectID: models.ObjectID(object), MethodID: method}, nil
}

// Serve runs the read and write loops until the peer disconnects, a frame
// fails to decode, r fails or ctx ends. The stream is closed on return.
// A clean disconnect returns nil.
func (c *Channel) Serve(ctx context.Context, r Receiver) error {
	if c.receiver.Load() == nil {
		c.receiver.Store(&r)
	}
	c.logger.Debug("Channel serving", log.Stringer("kind", c.Kind()))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer c.outgoing.Close()
		return c.readLoop(ctx)
	})
	g.Go(func() error {
		defer c.Close()
		return c.writeLoop(ctx)
	})
	g.Go(func() error {
		select {
		case <-ctx.Done():
			c.Close()
		case <-c.done:
		}
		return nil
	})

	err := g.Wait()
	sent, received := c.Stats()
	if err != nil {
		c.logger.Warn("Channel closed with error", log.Error(err),
			log.Uint64("frames_sent", sent), log.Uint64("commands_received", received))
		return err
	}
	c.logger.Debug("Channel closed", log.Uint64("frames_sent", sent), log.Uint64("commands_received", received))
	return nil
}

func (c *Channel) readLoop(ctx context.Context) error {
	dec := frame.NewDecoder(c.cfg.Frame)
	for {
		packet, err := dec.ReadPacket(c.stream)
		if err != nil {
			if c.IsClosed() || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read frame: %w", err)
		}

		buf := codec.NewReader(packet.Payload, packet.Optional)
		for buf.Remaining() > 0 {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil
			}
			kind := c.Kind()
			h, err := readHeader(buf, kind)
			if err != nil {
				return &DecodeError{Kind: kind, Code: -1, Err: err}
			}
			e, err := c.commands.Decode(kind, h.MethodID, buf)
			if err != nil {
				return err
			}
			c.received.Add(1)
			r := *c.receiver.Load()
			if err := r.Receive(ctx, c, h, e); err != nil {
				return fmt.Errorf("receive %T: %w", e, err)
			}
		}
	}
}

func (c *Channel) writeLoop(ctx context.Context) error {
	for {
		packet, err := c.outgoing.Pop(ctx)
		if err != nil {
			if errors.Is(err, sequence.ErrQueueClosed) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if _, err := c.stream.Write(packet); err != nil {
			if c.IsClosed() {
				return nil
			}
			return fmt.Errorf("write frame: %w", err)
		}
		c.sent.Add(1)
	}
}

// Close stops the channel and closes the stream. Frames still queued are
// dropped.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.outgoing.Close()
		if c.stream != nil {
			err = c.stream.Close()
		}
	})
	return err
}
