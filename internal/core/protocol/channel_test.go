package protocol

import (
	"context"
	"net"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NarukamiTO/server-sub000/internal/core/events"
	"github.com/NarukamiTO/server-sub000/internal/core/models"
	"github.com/NarukamiTO/server-sub000/internal/core/observability/log"
	"github.com/NarukamiTO/server-sub000/internal/core/protocol/codec"
	"github.com/NarukamiTO/server-sub000/internal/core/protocol/frame"
)

type helloEvent struct {
	events.ToServer
	Name string
	Tags []string
}

type welcomeEvent struct {
	events.ToClient
	Motd  string
	Extra *int32
}

type enterEvent struct {
	events.ToServer
	Space int64
}

type fireEvent struct {
	events.ToServer
	Power int32
}

const (
	codeHello   = 1
	codeWelcome = 2
	codeEnter   = 3
	methodFire  = 900
)

func newCommands(t *testing.T) *Commands {
	t.Helper()
	c := NewCommands(codec.NewRegistry())
	require.NoError(t, Register[*helloEvent](c, KindControl, codeHello))
	require.NoError(t, Register[*welcomeEvent](c, KindControl, codeWelcome))
	require.NoError(t, Register[*enterEvent](c, KindControl, codeEnter))
	require.NoError(t, Register[*fireEvent](c, KindSpace, methodFire))
	return c
}

type received struct {
	header events.Header
	event  events.Event
	kind   StreamKind
}

func collect(out chan<- received) Receiver {
	return ReceiverFunc(func(_ context.Context, ch *Channel, h events.Header, e events.Event) error {
		out <- received{header: h, event: e, kind: ch.Kind()}
		return nil
	})
}

func serve(t *testing.T, ch *Channel, r Receiver) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- ch.Serve(context.Background(), r) }()
	t.Cleanup(func() { _ = ch.Close() })
	return done
}

func pair(t *testing.T, commands *Commands, cfg ChannelConfig) (server, client *Channel) {
	t.Helper()
	a, b := net.Pipe()
	server = NewChannel(a, KindControl, commands, cfg, log.NewNop())
	client = NewChannel(b, KindControl, commands, cfg, log.NewNop())
	return server, client
}

func next(t *testing.T, in <-chan received) received {
	t.Helper()
	select {
	case r := <-in:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no command received")
		return received{}
	}
}

func TestCommands_Registration(t *testing.T) {
	c := newCommands(t)

	assert.ErrorIs(t, c.Add(KindControl, 9, reflect.TypeFor[helloEvent]()), ErrInvalidCommandType)
	assert.ErrorIs(t, Register[*helloEvent](c, KindControl, 10), ErrCommandRegistered)
	assert.ErrorIs(t, Register[*fireEvent](c, KindControl, codeHello), ErrCommandRegistered)

	type wideEvent struct{ events.ToServer }
	assert.ErrorIs(t, Register[*wideEvent](c, KindControl, 256), ErrControlCodeOverflow)
	require.NoError(t, Register[*wideEvent](c, KindSpace, 256))

	type badEvent struct {
		events.ToServer
		C chan int
	}
	assert.ErrorIs(t, Register[*badEvent](c, KindSpace, 1), codec.ErrCodecNotFound)

	id, err := c.MethodID(reflect.TypeFor[*fireEvent]())
	require.NoError(t, err)
	assert.Equal(t, int64(methodFire), id)

	all := c.All()
	require.Len(t, all, 5)
	assert.Equal(t, KindControl, all[0].Kind)
	assert.Equal(t, int64(codeHello), all[0].Code)
	assert.Equal(t, KindSpace, all[4].Kind)
}

func TestCommands_DecodeRoundTrip(t *testing.T) {
	c := newCommands(t)
	buf := codec.NewBuffer()
	extra := int32(7)
	require.NoError(t, c.EncodeBody(buf, &welcomeEvent{Motd: "hi", Extra: &extra}))

	e, err := c.Decode(KindControl, codeWelcome, codec.NewReader(buf.Bytes(), buf.Optional))
	require.NoError(t, err)
	got, ok := e.(*welcomeEvent)
	require.True(t, ok)
	assert.Equal(t, "hi", got.Motd)
	require.NotNil(t, got.Extra)
	assert.Equal(t, int32(7), *got.Extra)

	_, err = c.Decode(KindSpace, codeWelcome, codec.NewReader(nil, nil))
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestChannel_ControlHeaderLayout(t *testing.T) {
	commands := newCommands(t)
	a, b := net.Pipe()
	ch := NewChannel(a, KindControl, commands, DefaultChannelConfig(), log.NewNop())
	serve(t, ch, collect(make(chan received, 1)))
	t.Cleanup(func() { _ = b.Close() })

	require.NoError(t, ch.Send(0, &helloEvent{Name: "a"}))

	packet, err := frame.NewDecoder(frame.DefaultConfig()).ReadPacket(b)
	require.NoError(t, err)
	assert.Equal(t, []byte{codeHello, 0x01, 'a', 0x00}, packet.Payload)
}

func TestChannel_SpaceHeaderLayout(t *testing.T) {
	commands := newCommands(t)
	a, b := net.Pipe()
	ch := NewChannel(a, KindSpace, commands, DefaultChannelConfig(), log.NewNop())
	serve(t, ch, collect(make(chan received, 1)))
	t.Cleanup(func() { _ = b.Close() })

	require.NoError(t, ch.Send(-3, &fireEvent{Power: 1}))

	packet, err := frame.NewDecoder(frame.DefaultConfig()).ReadPacket(b)
	require.NoError(t, err)
	want := []byte{
		0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFD,
		0, 0, 0, 0, 0, 0, 0x03, 0x84,
		0, 0, 0, 1,
	}
	assert.Equal(t, want, packet.Payload)
}

func TestChannel_ExchangeAndReply(t *testing.T) {
	commands := newCommands(t)
	server, client := pair(t, commands, DefaultChannelConfig())

	toServer := make(chan received, 4)
	toClient := make(chan received, 4)
	serve(t, server, collect(toServer))
	serve(t, client, collect(toClient))

	require.NoError(t, client.Send(0, &helloEvent{Name: "tanker", Tags: []string{"a", "b"}}))
	r := next(t, toServer)
	assert.Equal(t, events.Header{MethodID: codeHello}, r.header)
	assert.Equal(t, &helloEvent{Name: "tanker", Tags: []string{"a", "b"}}, r.event)

	// The scheduler's client event path: method id plus body through Append.
	method, err := commands.MethodID(reflect.TypeFor[*welcomeEvent]())
	require.NoError(t, err)
	require.NoError(t, server.Append(events.Header{MethodID: method}, func(buf *codec.Buffer) error {
		return commands.EncodeBody(buf, &welcomeEvent{Motd: "welcome"})
	}))
	r = next(t, toClient)
	assert.Equal(t, &welcomeEvent{Motd: "welcome"}, r.event)

	assert.ErrorIs(t, client.Send(0, &fireEvent{}), ErrWrongKind)
}

func TestChannel_UpgradeFromReceiver(t *testing.T) {
	commands := newCommands(t)
	server, client := pair(t, commands, DefaultChannelConfig())

	spaceIn := make(chan received, 4)
	spaceReceiver := collect(spaceIn)
	controlIn := make(chan received, 4)
	serve(t, server, ReceiverFunc(func(ctx context.Context, ch *Channel, h events.Header, e events.Event) error {
		if _, ok := e.(*enterEvent); ok {
			ch.Upgrade(KindSpace, spaceReceiver)
			return nil
		}
		controlIn <- received{header: h, event: e}
		return nil
	}))
	serve(t, client, collect(make(chan received, 1)))

	require.NoError(t, client.Send(0, &enterEvent{Space: 5}))
	client.Upgrade(KindSpace, collect(make(chan received, 1)))
	require.NoError(t, client.Send(42, &fireEvent{Power: 3}))

	r := next(t, spaceIn)
	assert.Equal(t, KindSpace, r.kind)
	assert.Equal(t, events.Header{ObjectID: 42, MethodID: methodFire}, r.header)
	assert.Equal(t, &fireEvent{Power: 3}, r.event)
	assert.Empty(t, controlIn)
	assert.Equal(t, KindSpace, server.Kind())
}

func TestChannel_UnknownCommandClosesChannel(t *testing.T) {
	commands := newCommands(t)
	a, b := net.Pipe()
	ch := NewChannel(a, KindControl, commands, DefaultChannelConfig(), log.NewNop())
	done := serve(t, ch, collect(make(chan received, 1)))

	packet, err := frame.DefaultConfig().Encode(nil, []byte{0x77})
	require.NoError(t, err)
	_, err = b.Write(packet)
	require.NoError(t, err)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrUnknownCommand)
	case <-time.After(2 * time.Second):
		t.Fatal("channel was not closed")
	}
	assert.True(t, ch.IsClosed())
	assert.ErrorIs(t, ch.Append(events.Header{}, func(*codec.Buffer) error { return nil }), ErrChannelClosed)
}

func TestChannel_PeerDisconnectIsClean(t *testing.T) {
	commands := newCommands(t)
	a, b := net.Pipe()
	ch := NewChannel(a, KindControl, commands, DefaultChannelConfig(), log.NewNop())
	done := serve(t, ch, collect(make(chan received, 1)))

	require.NoError(t, b.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("channel did not stop")
	}
}

func TestChannel_RateLimit(t *testing.T) {
	commands := newCommands(t)
	cfg := DefaultChannelConfig()
	cfg.CommandRate = 20
	cfg.CommandBurst = 1
	server, client := pair(t, commands, cfg)

	in := make(chan received, 8)
	serve(t, server, collect(in))
	serve(t, client, collect(make(chan received, 1)))

	start := time.Now()
	for i := 0; i < 4; i++ {
		require.NoError(t, client.Send(0, &helloEvent{Name: "x"}))
	}
	for i := 0; i < 4; i++ {
		next(t, in)
	}
	// One token up front, then one every 50ms.
	assert.GreaterOrEqual(t, time.Since(start), 120*time.Millisecond)
}

func TestChannel_Principal(t *testing.T) {
	ch := NewChannel(nil, KindControl, newCommands(t), DefaultChannelConfig(), log.NewNop())
	assert.Nil(t, ch.Principal())
	user := models.MustGameObject(1, models.Class{Name: "user"})
	ch.SetPrincipal(user)
	assert.Same(t, user, ch.Principal())
	assert.Equal(t, ch.ID().String(), ch.ViewerID())
}
