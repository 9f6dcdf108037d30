package codec

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/NarukamiTO/server-sub000/internal/core/protocol/frame"
)

// Buffer is the encoding target and decoding source of codecs: payload bytes
// plus the optional map shared by every command of one packet. All integers
// are big-endian.
type Buffer struct {
	data     []byte
	off      int
	Optional *frame.OptionalMap
}

// NewBuffer returns an empty buffer for encoding.
func NewBuffer() *Buffer {
	return &Buffer{Optional: frame.NewOptionalMap()}
}

// NewReader returns a buffer positioned at the start of a decoded packet.
func NewReader(payload []byte, m *frame.OptionalMap) *Buffer {
	if m == nil {
		m = frame.NewOptionalMap()
	}
	return &Buffer{data: payload, Optional: m}
}

// Bytes returns the encoded payload.
func (b *Buffer) Bytes() []byte { return b.data }

// Len is the number of bytes written.
func (b *Buffer) Len() int { return len(b.data) }

// Remaining is the number of unread bytes.
func (b *Buffer) Remaining() int { return len(b.data) - b.off }

func (b *Buffer) Reset() {
	b.data = b.data[:0]
	b.off = 0
	b.Optional.Reset()
}

func (b *Buffer) take(n int) ([]byte, error) {
	if n < 0 || b.Remaining() < n {
		return nil, fmt.Errorf("need %d bytes, have %d: %w", n, b.Remaining(), ErrShortBuffer)
	}
	p := b.data[b.off : b.off+n]
	b.off += n
	return p, nil
}

func (b *Buffer) WriteRaw(p []byte) { b.data = append(b.data, p...) }

func (b *Buffer) ReadRaw(n int) ([]byte, error) {
	p, err := b.take(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, p)
	return out, nil
}

// WriteOptional records whether the following nullable value is present.
func (b *Buffer) WriteOptional(present bool) { b.Optional.Add(present) }

func (b *Buffer) ReadOptional() (bool, error) { return b.Optional.Next() }

func (b *Buffer) WriteBool(v bool) {
	if v {
		b.data = append(b.data, 1)
	} else {
		b.data = append(b.data, 0)
	}
}

func (b *Buffer) ReadBool() (bool, error) {
	p, err := b.take(1)
	if err != nil {
		return false, err
	}
	return p[0] != 0, nil
}

func (b *Buffer) WriteInt8(v int8) { b.data = append(b.data, byte(v)) }

func (b *Buffer) ReadInt8() (int8, error) {
	p, err := b.take(1)
	if err != nil {
		return 0, err
	}
	return int8(p[0]), nil
}

func (b *Buffer) WriteInt16(v int16) { b.data = binary.BigEndian.AppendUint16(b.data, uint16(v)) }

func (b *Buffer) ReadInt16() (int16, error) {
	p, err := b.take(2)
	if err != nil {
		return 0, err
	}
	return int16(binary.BigEndian.Uint16(p)), nil
}

func (b *Buffer) WriteInt32(v int32) { b.data = binary.BigEndian.AppendUint32(b.data, uint32(v)) }

func (b *Buffer) ReadInt32() (int32, error) {
	p, err := b.take(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(p)), nil
}

func (b *Buffer) WriteInt64(v int64) { b.data = binary.BigEndian.AppendUint64(b.data, uint64(v)) }

func (b *Buffer) ReadInt64() (int64, error) {
	p, err := b.take(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(p)), nil
}

func (b *Buffer) WriteFloat32(v float32) { b.WriteInt32(int32(math.Float32bits(v))) }

func (b *Buffer) ReadFloat32() (float32, error) {
	v, err := b.ReadInt32()
	return math.Float32frombits(uint32(v)), err
}

func (b *Buffer) WriteFloat64(v float64) { b.WriteInt64(int64(math.Float64bits(v))) }

func (b *Buffer) ReadFloat64() (float64, error) {
	v, err := b.ReadInt64()
	return math.Float64frombits(uint64(v)), err
}

func (b *Buffer) WriteVarInt(v int) error {
	var err error
	b.data, err = frame.AppendVarInt(b.data, v)
	return err
}

func (b *Buffer) ReadVarInt() (int, error) {
	v, n, err := frame.ReadVarInt(b.data[b.off:])
	if err != nil {
		return 0, fmt.Errorf("varint: %w", ErrShortBuffer)
	}
	b.off += n
	return v, nil
}

// WriteBytes writes a VarInt length followed by p.
func (b *Buffer) WriteBytes(p []byte) error {
	if err := b.WriteVarInt(len(p)); err != nil {
		return err
	}
	b.WriteRaw(p)
	return nil
}

func (b *Buffer) ReadBytes() ([]byte, error) {
	n, err := b.ReadVarInt()
	if err != nil {
		return nil, err
	}
	return b.ReadRaw(n)
}

func (b *Buffer) WriteString(s string) error {
	if err := b.WriteVarInt(len(s)); err != nil {
		return err
	}
	b.data = append(b.data, s...)
	return nil
}

func (b *Buffer) ReadString() (string, error) {
	n, err := b.ReadVarInt()
	if err != nil {
		return "", err
	}
	p, err := b.take(n)
	if err != nil {
		return "", err
	}
	return string(p), nil
}
