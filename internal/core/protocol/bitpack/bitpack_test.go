package bitpack

import (
	"math"
	"reflect"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NarukamiTO/server-sub000/internal/core/protocol/codec"
)

func TestWriterReader(t *testing.T) {
	buf := make([]byte, 2)
	w := NewWriter(buf)
	require.NoError(t, w.WriteBits(0b101, 3))
	require.NoError(t, w.WriteBits(0x1FF, 9))
	assert.Equal(t, []byte{0b1011_1111, 0b1111_0000}, buf)
	assert.ErrorIs(t, w.WriteBits(0, 5), ErrOverflow)

	r := NewReader(buf)
	v, err := r.ReadBits(3)
	require.NoError(t, err)
	assert.Equal(t, uint32(0b101), v)
	v, err = r.ReadBits(9)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x1FF), v)
	_, err = r.ReadBits(5)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestQuantize_WithinOneStep(t *testing.T) {
	const bits, factor = 13, 0.25
	lo, hi := Range(bits, factor)
	for v := lo; v <= hi; v += 3.7 {
		got := Dequantize(Quantize(v, bits, factor), bits, factor)
		assert.InDelta(t, v, got, factor, "value %v", v)
	}
}

func TestQuantize_Clamps(t *testing.T) {
	const bits, factor = 10, 1.0
	lo, hi := Range(bits, factor)
	assert.Equal(t, -512.0, lo)
	assert.Equal(t, 511.0, hi)

	assert.Equal(t, uint32(0), Quantize(-1e9, bits, factor))
	assert.Equal(t, uint32(1023), Quantize(1e9, bits, factor))
	assert.Equal(t, hi, Dequantize(Quantize(600, bits, factor), bits, factor))
	assert.Equal(t, lo, Dequantize(Quantize(-600, bits, factor), bits, factor))
	assert.Equal(t, uint32(512), Quantize(0, bits, factor))
	assert.Equal(t, uint32(0), Quantize(math.NaN(), bits, factor))
}

func TestMoveCommand_RoundTrip(t *testing.T) {
	in := MoveCommand{
		Control:         0x2A,
		TurretControl:   true,
		Position:        mgl32.Vec3{1200, -3400, 57},
		Orientation:     mgl32.Vec3{0.1, -1.5, 3.0},
		LinearVelocity:  mgl32.Vec3{250, -12, 0},
		AngularVelocity: mgl32.Vec3{0.5, -0.25, 1},
	}
	p, err := in.Pack()
	require.NoError(t, err)
	require.Len(t, p, MoveCommandSize)

	out, err := UnpackMoveCommand(p)
	require.NoError(t, err)
	assert.Equal(t, in.Control, out.Control)
	assert.True(t, out.TurretControl)
	for i := 0; i < 3; i++ {
		assert.InDelta(t, in.Position[i], out.Position[i], PositionFactor)
		assert.InDelta(t, in.Orientation[i], out.Orientation[i], OrientationFactor)
		assert.InDelta(t, in.LinearVelocity[i], out.LinearVelocity[i], LinearFactor)
		assert.InDelta(t, in.AngularVelocity[i], out.AngularVelocity[i], AngularFactor)
	}
}

func TestMoveCommand_ClampsPosition(t *testing.T) {
	p, err := MoveCommand{Position: mgl32.Vec3{1e7, -1e7, 0}}.Pack()
	require.NoError(t, err)
	out, err := UnpackMoveCommand(p)
	require.NoError(t, err)
	_, hi := Range(PositionBits, PositionFactor)
	assert.Equal(t, float32(hi), out.Position[0])
	assert.Equal(t, float32(-65536), out.Position[1])
}

func TestMoveCommand_Codec(t *testing.T) {
	r := codec.NewRegistry()
	Register(r)

	buf := codec.NewBuffer()
	require.NoError(t, r.Encode(buf, MoveCommand{Control: 1}))
	assert.Equal(t, MoveCommandSize, buf.Len())

	v, err := r.Decode(codec.NewReader(buf.Bytes(), nil), reflect.TypeFor[MoveCommand]())
	require.NoError(t, err)
	assert.Equal(t, uint8(1), v.(MoveCommand).Control)

	_, err = r.Decode(codec.NewReader(buf.Bytes()[:10], nil), reflect.TypeFor[MoveCommand]())
	assert.ErrorIs(t, err, codec.ErrShortBuffer)
}
