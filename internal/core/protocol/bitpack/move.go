package bitpack

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/NarukamiTO/server-sub000/internal/core/protocol/codec"
)

// MoveCommandSize is the wire size of a packed MoveCommand.
const MoveCommandSize = 21

// Field widths and steps of a packed MoveCommand.
const (
	ControlBits     = 8
	PositionBits    = 17
	OrientationBits = 13
	LinearBits      = 13
	AngularBits     = 10

	PositionFactor    = 1.0
	OrientationFactor = math.Pi / 4096
	LinearFactor      = 1.0
	AngularFactor     = 0.005
)

// MoveCommand is a tank movement sample as sent by the client.
type MoveCommand struct {
	Control         uint8
	TurretControl   bool
	Position        mgl32.Vec3
	Orientation     mgl32.Vec3
	LinearVelocity  mgl32.Vec3
	AngularVelocity mgl32.Vec3
}

func writeVec(w *Writer, v mgl32.Vec3, bits int, factor float64) error {
	for _, c := range v {
		if err := w.WriteBits(Quantize(float64(c), bits, factor), bits); err != nil {
			return err
		}
	}
	return nil
}

func readVec(r *Reader, bits int, factor float64) (mgl32.Vec3, error) {
	var v mgl32.Vec3
	for i := range v {
		s, err := r.ReadBits(bits)
		if err != nil {
			return v, err
		}
		v[i] = float32(Dequantize(s, bits, factor))
	}
	return v, nil
}

// Pack quantizes m into a MoveCommandSize buffer.
func (m MoveCommand) Pack() ([]byte, error) {
	buf := make([]byte, MoveCommandSize)
	w := NewWriter(buf)
	if err := w.WriteBits(uint32(m.Control), ControlBits); err != nil {
		return nil, err
	}
	if err := w.WriteBool(m.TurretControl); err != nil {
		return nil, err
	}
	if err := writeVec(w, m.Position, PositionBits, PositionFactor); err != nil {
		return nil, err
	}
	if err := writeVec(w, m.Orientation, OrientationBits, OrientationFactor); err != nil {
		return nil, err
	}
	if err := writeVec(w, m.LinearVelocity, LinearBits, LinearFactor); err != nil {
		return nil, err
	}
	if err := writeVec(w, m.AngularVelocity, AngularBits, AngularFactor); err != nil {
		return nil, err
	}
	return buf, nil
}

// UnpackMoveCommand reverses Pack.
func UnpackMoveCommand(buf []byte) (MoveCommand, error) {
	var m MoveCommand
	r := NewReader(buf)
	control, err := r.ReadBits(ControlBits)
	if err != nil {
		return m, err
	}
	m.Control = uint8(control)
	if m.TurretControl, err = r.ReadBool(); err != nil {
		return m, err
	}
	if m.Position, err = readVec(r, PositionBits, PositionFactor); err != nil {
		return m, err
	}
	if m.Orientation, err = readVec(r, OrientationBits, OrientationFactor); err != nil {
		return m, err
	}
	if m.LinearVelocity, err = readVec(r, LinearBits, LinearFactor); err != nil {
		return m, err
	}
	if m.AngularVelocity, err = readVec(r, AngularBits, AngularFactor); err != nil {
		return m, err
	}
	return m, nil
}

// Register installs the packed MoveCommand codec.
func Register(r *codec.Registry) {
	codec.Register[MoveCommand](r, codec.Func(
		func(b *codec.Buffer, m MoveCommand) error {
			p, err := m.Pack()
			if err != nil {
				return err
			}
			b.WriteRaw(p)
			return nil
		},
		func(b *codec.Buffer) (MoveCommand, error) {
			p, err := b.ReadRaw(MoveCommandSize)
			if err != nil {
				return MoveCommand{}, err
			}
			return UnpackMoveCommand(p)
		}))
}
