package protocol

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/NarukamiTO/server-sub000/internal/core/events"
	"github.com/NarukamiTO/server-sub000/internal/core/protocol/codec"
)

// Command binds an event type to its wire address.
type Command struct {
	Kind StreamKind
	// Code is the 1 byte command code of control commands or the method id
	// of space commands.
	Code int64
	Type reflect.Type
}

func (c Command) String() string {
	return fmt.Sprintf("%s#%d(%v)", c.Kind, c.Code, c.Type)
}

// Commands maps event types to wire addresses and back. It implements
// events.Encoder, so one table serves every scheduler of a server.
type Commands struct {
	mu     sync.RWMutex
	codecs *codec.Registry
	byType map[reflect.Type]Command
	byCode [2]map[int64]Command
}

var _ events.Encoder = (*Commands)(nil)

func NewCommands(codecs *codec.Registry) *Commands {
	return &Commands{
		codecs: codecs,
		byType: make(map[reflect.Type]Command),
		byCode: [2]map[int64]Command{make(map[int64]Command), make(map[int64]Command)},
	}
}

// Codecs returns the codec registry used for command bodies.
func (c *Commands) Codecs() *codec.Registry { return c.codecs }

// Add registers t, which must be a pointer to an event struct. The body
// codec is resolved eagerly so that a missing codec fails at startup.
func (c *Commands) Add(kind StreamKind, code int64, t reflect.Type) error {
	if t.Kind() != reflect.Pointer || t.Elem().Kind() != reflect.Struct || !t.Implements(eventType) {
		return commandTypeErr(t)
	}
	if kind == KindControl && (code < 0 || code > 0xFF) {
		return fmt.Errorf("%v code %d: %w", t, code, ErrControlCodeOverflow)
	}
	if _, err := c.codecs.Resolve(t.Elem()); err != nil {
		return fmt.Errorf("command %v: %w", t, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.byType[t]; ok {
		return fmt.Errorf("%v already bound to %s: %w", t, prev, ErrCommandRegistered)
	}
	if prev, ok := c.byCode[kind][code]; ok {
		return fmt.Errorf("%s#%d already bound to %v: %w", kind, code, prev.Type, ErrCommandRegistered)
	}
	cmd := Command{Kind: kind, Code: code, Type: t}
	c.byType[t] = cmd
	c.byCode[kind][code] = cmd
	return nil
}

var eventType = reflect.TypeFor[events.Event]()

// Register is the typed form of Commands.Add.
func Register[E events.Event](c *Commands, kind StreamKind, code int64) error {
	return c.Add(kind, code, reflect.TypeFor[E]())
}

// MustRegister panics on error and is meant for init-time tables.
func MustRegister[E events.Event](c *Commands, kind StreamKind, code int64) {
	if err := Register[E](c, kind, code); err != nil {
		panic(err)
	}
}

func (c *Commands) Lookup(t reflect.Type) (Command, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cmd, ok := c.byType[t]
	return cmd, ok
}

func (c *Commands) ByCode(kind StreamKind, code int64) (Command, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cmd, ok := c.byCode[kind][code]
	return cmd, ok
}

// All returns the registered commands ordered by kind and code.
func (c *Commands) All() []Command {
	c.mu.RLock()
	out := make([]Command, 0, len(c.byType))
	for _, cmd := range c.byType {
		out = append(out, cmd)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Code < out[j].Code
	})
	return out
}

func (c *Commands) MethodID(t reflect.Type) (int64, error) {
	cmd, ok := c.Lookup(t)
	if !ok {
		return 0, fmt.Errorf("%v: %w", t, ErrUnknownCommand)
	}
	return cmd.Code, nil
}

// EncodeBody writes the fields of the event struct e points to.
func (c *Commands) EncodeBody(buf *codec.Buffer, e events.Event) error {
	v := reflect.ValueOf(e)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return commandTypeErr(v.Type())
	}
	return c.codecs.Encode(buf, v.Elem().Interface())
}

// Decode reads the body of command code and returns a fresh event pointer.
func (c *Commands) Decode(kind StreamKind, code int64, buf *codec.Buffer) (events.Event, error) {
	cmd, ok := c.ByCode(kind, code)
	if !ok {
		return nil, &DecodeError{Kind: kind, Code: code, Err: ErrUnknownCommand}
	}
	body, err := c.codecs.Decode(buf, cmd.Type.Elem())
	if err != nil {
		return nil, &DecodeError{Kind: kind, Code: code, Err: err}
	}
	ptr := reflect.New(cmd.Type.Elem())
	ptr.Elem().Set(reflect.ValueOf(body))
	return ptr.Interface().(events.Event), nil
}
