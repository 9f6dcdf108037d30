// Package bitpack packs fixed-width quantized values into byte buffers,
// most significant bit first.
package bitpack

import (
	"errors"
	"fmt"
	"math"
)

var ErrOverflow = errors.New("bit cursor past end of buffer")

// Writer appends bit fields to a fixed buffer.
type Writer struct {
	buf []byte
	pos int
}

// NewWriter writes into buf, which is cleared first.
func NewWriter(buf []byte) *Writer {
	clear(buf)
	return &Writer{buf: buf}
}

// WriteBits writes the low n bits of v, n <= 32.
func (w *Writer) WriteBits(v uint32, n int) error {
	if n < 0 || n > 32 {
		return fmt.Errorf("width %d: %w", n, ErrOverflow)
	}
	if w.pos+n > len(w.buf)*8 {
		return fmt.Errorf("write %d bits at %d of %d: %w", n, w.pos, len(w.buf)*8, ErrOverflow)
	}
	for i := n - 1; i >= 0; i-- {
		if v&(1<<i) != 0 {
			w.buf[w.pos/8] |= 0x80 >> (w.pos % 8)
		}
		w.pos++
	}
	return nil
}

func (w *Writer) WriteBool(b bool) error {
	if b {
		return w.WriteBits(1, 1)
	}
	return w.WriteBits(0, 1)
}

// Bits is the number of bits written.
func (w *Writer) Bits() int { return w.pos }

// Reader reads bit fields written by Writer.
type Reader struct {
	buf []byte
	pos int
}

func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

func (r *Reader) ReadBits(n int) (uint32, error) {
	if n < 0 || n > 32 {
		return 0, fmt.Errorf("width %d: %w", n, ErrOverflow)
	}
	if r.pos+n > len(r.buf)*8 {
		return 0, fmt.Errorf("read %d bits at %d of %d: %w", n, r.pos, len(r.buf)*8, ErrOverflow)
	}
	var v uint32
	for i := 0; i < n; i++ {
		v <<= 1
		if r.buf[r.pos/8]&(0x80>>(r.pos%8)) != 0 {
			v |= 1
		}
		r.pos++
	}
	return v, nil
}

func (r *Reader) ReadBool() (bool, error) {
	v, err := r.ReadBits(1)
	return v == 1, err
}

// Quantize maps value onto a bits wide unsigned field with step factor.
// Zero sits at the middle of the range; values outside it clamp to the
// nearest representable end.
func Quantize(value float64, bits int, factor float64) uint32 {
	mask := float64(uint32(1) << (bits - 1))
	stored := math.Round(value/factor) + mask
	switch {
	case math.IsNaN(stored), stored < 0:
		return 0
	case stored > 2*mask-1:
		return uint32(2*mask - 1)
	default:
		return uint32(stored)
	}
}

// Dequantize reverses Quantize up to one step.
func Dequantize(stored uint32, bits int, factor float64) float64 {
	mask := float64(uint32(1) << (bits - 1))
	return (float64(stored) - mask) * factor
}

// Range returns the smallest and largest values a field can represent.
func Range(bits int, factor float64) (float64, float64) {
	return Dequantize(0, bits, factor), Dequantize(uint32(1)<<bits-1, bits, factor)
}
