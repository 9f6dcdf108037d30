package events

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NarukamiTO/server-sub000/internal/core/models"
	"github.com/NarukamiTO/server-sub000/internal/core/nodes"
	"github.com/NarukamiTO/server-sub000/internal/core/observability/log"
	"github.com/NarukamiTO/server-sub000/internal/core/protocol/codec"
)

type pingEvent struct {
	ToClient
	Value int32
}

type hitEvent struct {
	ToServer
	Damage int32
}

type loadEvent struct{ ToServer }

type loadedEvent struct{ ToServer }

type tickEvent struct {
	Internal
	N int
}

type health struct{ HP int }

type tankTag struct{}

var (
	healthType = models.NewComponentType[health]("Health")
	tankType   = models.NewComponentType[tankTag]("Tank")
)

type fakeChannel struct {
	id string

	mu      sync.Mutex
	headers []Header
	bodies  [][]byte
}

func (c *fakeChannel) ViewerID() string              { return c.id }
func (c *fakeChannel) Principal() *models.GameObject { return nil }

func (c *fakeChannel) Append(h Header, body func(*codec.Buffer) error) error {
	buf := codec.NewBuffer()
	if err := body(buf); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.headers = append(c.headers, h)
	c.bodies = append(c.bodies, buf.Bytes())
	return nil
}

type fakeEncoder struct {
	registry *codec.Registry
	methods  map[reflect.Type]int64
}

func (e fakeEncoder) MethodID(t reflect.Type) (int64, error) {
	id, ok := e.methods[t]
	if !ok {
		return 0, errors.New("unknown method")
	}
	return id, nil
}

func (e fakeEncoder) EncodeBody(buf *codec.Buffer, ev Event) error {
	return e.registry.Encode(buf, reflect.ValueOf(ev).Elem().Interface())
}

type fakeWorld struct {
	objects  []*models.GameObject
	channels []Channel
}

func (w *fakeWorld) Objects() []*models.GameObject { return w.objects }
func (w *fakeWorld) Channels() []Channel           { return w.channels }

type recordingObserver struct {
	NopObserver
	watchdog chan string
}

func (o *recordingObserver) OnWatchdog(_, handler string, _ Event, _ time.Duration) {
	select {
	case o.watchdog <- handler:
	default:
	}
}

func newScheduler(t *testing.T, cfg Config, systems ...System) *Scheduler {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}
	s := NewScheduler(cfg, systems...)
	s.Start(context.Background())
	t.Cleanup(s.Stop)
	return s
}

func wait(t *testing.T, d *Dispatch) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := d.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "dispatch did not finish")
	return err
}

func TestSchedule_ClientEventBypassesHandlers(t *testing.T) {
	called := false
	enc := fakeEncoder{
		registry: codec.NewRegistry(),
		methods:  map[reflect.Type]int64{reflect.TypeFor[*pingEvent](): 42},
	}
	s := newScheduler(t, Config{Encoder: enc}, System{
		Name: "Ping",
		Handlers: []Handler{
			On(nil, func(*Context, *pingEvent) error { called = true; return nil }),
		},
	})

	ch := &fakeChannel{id: "c1"}
	tank := models.MustGameObject(7, models.Class{Name: "tank"})
	require.NoError(t, wait(t, s.Schedule(&pingEvent{Value: 9}, ch, tank)))

	require.Len(t, ch.headers, 1)
	assert.Equal(t, Header{ObjectID: 7, MethodID: 42}, ch.headers[0])
	assert.Equal(t, []byte{0, 0, 0, 9}, ch.bodies[0])
	assert.Zero(t, s.Stats().HandlerLookups)
	assert.False(t, called)

	assert.ErrorIs(t, s.Schedule(&pingEvent{}, nil, tank).err, ErrNoChannel)
	assert.ErrorIs(t, s.Schedule(&pingEvent{}, ch, nil).err, ErrNoTarget)
}

func TestDispatch_MandatoryNodeIsFatal(t *testing.T) {
	laterCalled := false
	s := newScheduler(t, Config{}, System{
		Name: "Damage",
		Handlers: []Handler{
			On(nodes.Single(healthType), func(*Context, *hitEvent) error { return nil }, Mandatory()),
		},
	}, System{
		Name: "Audit",
		Handlers: []Handler{
			On(nil, func(*Context, *hitEvent) error { laterCalled = true; return nil }),
		},
	})

	target := models.MustGameObject(1, models.Class{Name: "tank"})
	err := wait(t, s.Schedule(&hitEvent{Damage: 1}, nil, target))

	var mne *MandatoryNodeError
	require.ErrorAs(t, err, &mne)
	assert.Equal(t, "Damage", mne.System)
	assert.Equal(t, -1, mne.Join)
	assert.False(t, laterCalled, "a fatal dispatch error aborts the remaining handlers")
}

func TestDispatch_OptionalNodeSkipsSilently(t *testing.T) {
	s := newScheduler(t, Config{}, System{
		Name: "Damage",
		Handlers: []Handler{
			On(nodes.Single(healthType), func(*Context, *hitEvent) error { return nil }),
		},
	})

	target := models.MustGameObject(1, models.Class{Name: "tank"})
	require.NoError(t, wait(t, s.Schedule(&hitEvent{}, nil, target)))
	assert.Zero(t, s.Stats().Invocations)
}

func TestDispatch_ExactTypeAndNode(t *testing.T) {
	var got []int
	s := newScheduler(t, Config{}, System{
		Name: "Damage",
		Handlers: []Handler{
			On(nodes.Single(healthType), func(c *Context, e *hitEvent) error {
				got = append(got, healthType.In(c.Node()).HP-int(e.Damage))
				return nil
			}),
			On(nil, func(*Context, *loadEvent) error {
				got = append(got, -1)
				return nil
			}),
		},
	})

	target := models.MustGameObject(1, models.Class{}, healthType.New(health{HP: 100}))
	require.NoError(t, wait(t, s.Schedule(&hitEvent{Damage: 30}, nil, target)))
	assert.Equal(t, []int{70}, got)
}

func TestDispatch_JoinAll(t *testing.T) {
	a := models.MustGameObject(1, models.Class{}, healthType.New(health{}))
	b := models.MustGameObject(2, models.Class{}, tankType.New(tankTag{}))
	c := models.MustGameObject(3, models.Class{}, healthType.New(health{}))
	world := &fakeWorld{objects: []*models.GameObject{a, b, c}}

	var joined []models.ObjectID
	handler := func(c *Context, _ *tickEvent) error {
		joined = append(joined, c.Join(0).ID())
		return nil
	}

	s := newScheduler(t, Config{World: world}, System{
		Name:     "Join",
		Handlers: []Handler{On(nil, handler, JoinAll(nodes.Single(tankType), false))},
	})
	require.NoError(t, wait(t, s.Schedule(&tickEvent{}, nil, nil)))
	assert.Equal(t, []models.ObjectID{2}, joined)

	// Several candidates: the first in world order wins, no ambiguity error.
	joined = nil
	s2 := newScheduler(t, Config{World: world}, System{
		Name:     "Join",
		Handlers: []Handler{On(nil, handler, JoinAll(nodes.Single(healthType), false))},
	})
	require.NoError(t, wait(t, s2.Schedule(&tickEvent{}, nil, nil)))
	assert.Equal(t, []models.ObjectID{1}, joined)

	// No candidate: optional skips, mandatory is fatal.
	empty := &fakeWorld{objects: []*models.GameObject{a, c}}
	joined = nil
	s3 := newScheduler(t, Config{World: empty}, System{
		Name:     "Join",
		Handlers: []Handler{On(nil, handler, JoinAll(nodes.Single(tankType), false))},
	})
	require.NoError(t, wait(t, s3.Schedule(&tickEvent{}, nil, nil)))
	assert.Empty(t, joined)

	s4 := newScheduler(t, Config{World: empty}, System{
		Name:     "Join",
		Handlers: []Handler{On(nil, handler, JoinAllChannels(nodes.Single(tankType), true))},
	})
	var mne *MandatoryNodeError
	require.ErrorAs(t, wait(t, s4.Schedule(&tickEvent{}, nil, nil)), &mne)
	assert.Equal(t, 0, mne.Join)
}

func TestDispatch_FIFO(t *testing.T) {
	var order []int
	s := newScheduler(t, Config{}, System{
		Name: "Tick",
		Handlers: []Handler{
			On(nil, func(_ *Context, e *tickEvent) error { order = append(order, e.N); return nil }),
		},
	})

	var last *Dispatch
	for i := 0; i < 100; i++ {
		last = s.Schedule(&tickEvent{N: i}, nil, nil)
	}
	require.NoError(t, wait(t, last))
	require.Len(t, order, 100)
	for i, n := range order {
		require.Equal(t, i, n)
	}
}

func TestDispatch_HandlerFailuresAreIsolated(t *testing.T) {
	reached := false
	s := newScheduler(t, Config{}, System{
		Name: "Faulty",
		Handlers: []Handler{
			On(nil, func(*Context, *tickEvent) error { panic("boom") }),
			On(nil, func(*Context, *tickEvent) error { return errors.New("failed") }),
			On(nil, func(*Context, *tickEvent) error { reached = true; return nil }),
		},
	})

	require.NoError(t, wait(t, s.Schedule(&tickEvent{}, nil, nil)))
	assert.True(t, reached)
	st := s.Stats()
	assert.Equal(t, uint64(3), st.Invocations)
	assert.Equal(t, uint64(2), st.HandlerErrors)
}

func loaderSystem(deferred *Deferred[string], done chan<- string, opts ...HandlerOption) System {
	return System{
		Name: "Loader",
		Handlers: []Handler{
			On(nil, func(c *Context, _ *loadEvent) error {
				v, err := deferred.Await(c.Context())
				if err != nil {
					return err
				}
				done <- v
				return nil
			}, opts...),
			On(nil, func(*Context, *loadedEvent) error {
				deferred.Complete("loaded")
				return nil
			}),
		},
	}
}

func TestDispatch_OutOfOrderAwaitsLaterEvent(t *testing.T) {
	deferred := NewDeferred[string]()
	done := make(chan string, 1)
	s := newScheduler(t, Config{WatchdogTimeout: time.Second}, loaderSystem(deferred, done, OutOfOrder()))

	require.NoError(t, wait(t, s.Schedule(&loadEvent{}, nil, nil)))
	require.NoError(t, wait(t, s.Schedule(&loadedEvent{}, nil, nil)))

	select {
	case v := <-done:
		assert.Equal(t, "loaded", v)
	case <-time.After(2 * time.Second):
		t.Fatal("out-of-order handler never resumed")
	}
	assert.Zero(t, s.Stats().WatchdogFires)
}

func TestDispatch_SerialAwaitStallsUntilWatchdog(t *testing.T) {
	deferred := NewDeferred[string]()
	done := make(chan string, 1)
	obs := &recordingObserver{watchdog: make(chan string, 1)}
	s := newScheduler(t, Config{WatchdogTimeout: 30 * time.Millisecond, Observer: obs}, loaderSystem(deferred, done))

	s.Schedule(&loadEvent{}, nil, nil)
	loaded := s.Schedule(&loadedEvent{}, nil, nil)

	select {
	case <-obs.watchdog:
	case <-time.After(2 * time.Second):
		t.Fatal("watchdog did not fire")
	}
	assert.Equal(t, uint64(1), s.Stats().WatchdogFires)

	select {
	case <-loaded.Done():
		t.Fatal("the completing event must stay queued behind the stuck handler")
	case <-done:
		t.Fatal("handler must not resume")
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, 1, s.Pending())
}

func TestDeferred(t *testing.T) {
	d := NewDeferred[int]()
	assert.True(t, d.Complete(1))
	assert.False(t, d.Complete(2))
	v, err := d.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewDeferred[int]().Await(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSchedule_AfterStop(t *testing.T) {
	s := NewScheduler(Config{Logger: log.NewNop()})
	s.Start(context.Background())
	s.Stop()
	err := wait(t, s.Schedule(&tickEvent{}, nil, nil))
	assert.ErrorIs(t, err, ErrSchedulerStopped)
}
