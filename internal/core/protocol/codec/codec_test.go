package codec

import (
	"reflect"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NarukamiTO/server-sub000/internal/core/protocol/frame"
	"github.com/NarukamiTO/server-sub000/internal/core/resources"
)

type team int32

const (
	teamNone team = iota
	teamRed
	teamBlue
)

func (team) EnumCount() int { return 3 }

type score int32

type spawn struct {
	Position mgl32.Vec3
	Team     team
	Name     *string
	Scores   []score
	Tags     map[string]int32
	Cached   int `protocol:"-"`
	hidden   int
}

type ordered struct {
	A int8
	B int16
	C int8
}

type node struct {
	Value int32
	Next  *node
}

type pair[T any] struct {
	Left, Right T
}

func roundTrip[T any](t *testing.T, r *Registry, v T) T {
	t.Helper()
	c, err := For[T](r)
	require.NoError(t, err)

	buf := NewBuffer()
	require.NoError(t, c.Encode(buf, v))

	wire, err := buf.Optional.AppendTo(nil)
	require.NoError(t, err)
	m, _, err := frame.ReadOptionalMap(wire)
	require.NoError(t, err)

	got, err := c.Decode(NewReader(buf.Bytes(), m))
	require.NoError(t, err)
	return got
}

func TestPrimitives(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, true, roundTrip(t, r, true))
	assert.Equal(t, int8(-5), roundTrip(t, r, int8(-5)))
	assert.Equal(t, int16(-300), roundTrip(t, r, int16(-300)))
	assert.Equal(t, int32(1<<30), roundTrip(t, r, int32(1<<30)))
	assert.Equal(t, int64(-1<<40), roundTrip(t, r, int64(-1<<40)))
	assert.Equal(t, 77, roundTrip(t, r, 77))
	assert.Equal(t, float32(1.5), roundTrip(t, r, float32(1.5)))
	assert.Equal(t, 2.25, roundTrip(t, r, 2.25))
	assert.Equal(t, "привет", roundTrip(t, r, "привет"))
	assert.Equal(t, []byte{1, 2, 3}, roundTrip(t, r, []byte{1, 2, 3}))
	assert.Equal(t, mgl32.Vec3{1, -2, 3}, roundTrip(t, r, mgl32.Vec3{1, -2, 3}))
}

func TestWireLayout(t *testing.T) {
	r := NewRegistry()
	buf := NewBuffer()
	require.NoError(t, r.Encode(buf, int32(0x01020304)))
	require.NoError(t, r.Encode(buf, "ab"))
	assert.Equal(t, []byte{1, 2, 3, 4, 2, 'a', 'b'}, buf.Bytes())
}

func TestStruct_DeclarationOrder(t *testing.T) {
	r := NewRegistry()
	buf := NewBuffer()
	require.NoError(t, r.Encode(buf, ordered{A: 1, B: 0x0203, C: 4}))
	assert.Equal(t, []byte{1, 2, 3, 4}, buf.Bytes())

	c, err := r.Resolve(reflect.TypeFor[spawn]())
	require.NoError(t, err)
	sc, ok := c.(*structCodec)
	require.True(t, ok)
	assert.Equal(t, []string{"Position", "Team", "Name", "Scores", "Tags"}, sc.FieldNames())
}

func TestStruct_RoundTrip(t *testing.T) {
	r := NewRegistry()
	name := "alpha"
	in := spawn{
		Position: mgl32.Vec3{1, 2, 3},
		Team:     teamBlue,
		Name:     &name,
		Scores:   []score{5, 10},
		Tags:     map[string]int32{"b": 2, "a": 1},
		Cached:   99,
	}
	out := roundTrip(t, r, in)
	assert.Equal(t, in.Position, out.Position)
	assert.Equal(t, teamBlue, out.Team)
	require.NotNil(t, out.Name)
	assert.Equal(t, "alpha", *out.Name)
	assert.Equal(t, in.Scores, out.Scores)
	assert.Equal(t, in.Tags, out.Tags)
	assert.Zero(t, out.Cached)
}

func TestOptional_AbsentUsesMapBit(t *testing.T) {
	r := NewRegistry()
	buf := NewBuffer()
	require.NoError(t, r.Encode(buf, spawn{}))
	assert.Equal(t, 1, buf.Optional.Len())
	assert.False(t, buf.Optional.Get(0))

	out := roundTrip(t, r, spawn{Team: teamRed})
	assert.Nil(t, out.Name)
	assert.Empty(t, out.Scores)
}

func TestMap_SortedKeys(t *testing.T) {
	r := NewRegistry()
	a, b := NewBuffer(), NewBuffer()
	m := map[int32]bool{3: true, 1: false, 2: true}
	require.NoError(t, r.Encode(a, m))
	require.NoError(t, r.Encode(b, map[int32]bool{2: true, 3: true, 1: false}))
	assert.Equal(t, a.Bytes(), b.Bytes())
	assert.Equal(t, byte(3), a.Bytes()[0])
	assert.Equal(t, []byte{0, 0, 0, 1}, a.Bytes()[1:5])
}

func TestEnum_Invalid(t *testing.T) {
	r := NewRegistry()
	err := r.Encode(NewBuffer(), team(7))
	assert.ErrorIs(t, err, ErrInvalidEnum)

	c := MustFor[team](r)
	_, err = c.Decode(NewReader([]byte{5}, nil))
	assert.ErrorIs(t, err, ErrInvalidEnum)
}

func TestRecursiveType(t *testing.T) {
	r := NewRegistry()
	in := node{Value: 1, Next: &node{Value: 2}}
	out := roundTrip(t, r, in)
	require.NotNil(t, out.Next)
	assert.Equal(t, int32(2), out.Next.Value)
	assert.Nil(t, out.Next.Next)
}

func TestGenericInstantiationsAreDistinct(t *testing.T) {
	r := NewRegistry()
	a, err := r.Resolve(reflect.TypeFor[pair[int8]]())
	require.NoError(t, err)
	b, err := r.Resolve(reflect.TypeFor[pair[string]]())
	require.NoError(t, err)
	assert.NotSame(t, a, b)

	assert.Equal(t, pair[string]{"l", "r"}, roundTrip(t, r, pair[string]{"l", "r"}))
}

func TestMemoized(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve(reflect.TypeFor[spawn]())
	require.NoError(t, err)
	n := r.Analyses()

	_, err = r.Resolve(reflect.TypeFor[spawn]())
	require.NoError(t, err)
	_, err = r.Resolve(reflect.TypeFor[[]score]())
	require.NoError(t, err)
	assert.Equal(t, n, r.Analyses())
}

func TestUnsupported(t *testing.T) {
	r := NewRegistry()
	for _, typ := range []reflect.Type{
		reflect.TypeFor[chan int](),
		reflect.TypeFor[uint32](),
		reflect.TypeFor[struct{ F func() }](),
		reflect.TypeFor[map[[2]int]int](),
	} {
		_, err := r.Resolve(typ)
		assert.ErrorIs(t, err, ErrCodecNotFound, "%v", typ)
	}

	_, err := r.Resolve(reflect.TypeFor[struct{ F chan int }]())
	var ute *UnsupportedTypeError
	require.ErrorAs(t, err, &ute)
	assert.Equal(t, reflect.TypeFor[chan int](), ute.Type)
}

func TestExplicitRegistrationWins(t *testing.T) {
	r := NewRegistry()
	Register[ordered](r, Func(
		func(b *Buffer, v ordered) error { b.WriteInt8(v.A + v.C); return nil },
		func(b *Buffer) (ordered, error) { v, err := b.ReadInt8(); return ordered{A: v}, err }))

	buf := NewBuffer()
	require.NoError(t, r.Encode(buf, ordered{A: 1, C: 2}))
	assert.Equal(t, []byte{3}, buf.Bytes())
}

func TestResourceRef(t *testing.T) {
	_, err := NewRegistry().Resolve(reflect.TypeFor[resources.Ref]())
	require.ErrorIs(t, err, ErrResourcesUnbound)

	lookup := resources.NewStatic()
	ref := resources.Ref{Namespace: "map", Name: "sandbox"}
	info, err := lookup.Add(ref, resources.Info{ID: 0x0102, Version: 1})
	require.NoError(t, err)

	r := NewRegistry(WithResources(lookup))
	buf := NewBuffer()
	require.NoError(t, r.Encode(buf, ref))
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 1, 2}, buf.Bytes())
	assert.Equal(t, ref, roundTrip(t, r, ref))
	assert.Equal(t, int64(0x0102), info.ID)

	err = r.Encode(NewBuffer(), resources.Ref{Namespace: "map", Name: "missing"})
	assert.ErrorIs(t, err, resources.ErrResourceNotFound)
}

func TestShortBuffer(t *testing.T) {
	r := NewRegistry()
	_, err := r.Decode(NewReader([]byte{1, 2}, nil), reflect.TypeFor[int32]())
	assert.ErrorIs(t, err, ErrShortBuffer)
}
