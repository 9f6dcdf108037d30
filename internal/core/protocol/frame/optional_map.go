package frame

import "fmt"

// Optional map wire limits, in bits.
const (
	inlineMaxBits     = 29
	shortMapMaxBits   = 504
	optionalMapLimit  = 0x2000000
	longMapLengthMask = 0x3FFFFF
	longMapMaxBits    = longMapLengthMask * 8
)

// OptionalMap records, one bit per nullable field, whether the field is present
// in the payload. Bits are stored MSB-first within each byte.
//
// Writers call Add in field order; readers call Next in the same order.
type OptionalMap struct {
	bits []byte
	size int
	read int
}

func NewOptionalMap() *OptionalMap {
	return &OptionalMap{}
}

// Len is the number of bits written, or available for reading after decode.
func (m *OptionalMap) Len() int { return m.size }

// Add appends a presence bit.
func (m *OptionalMap) Add(present bool) {
	if m.size%8 == 0 {
		m.bits = append(m.bits, 0)
	}
	if present {
		m.bits[m.size/8] |= 0x80 >> (m.size % 8)
	}
	m.size++
}

// Get returns bit i. Out of range bits read as absent.
func (m *OptionalMap) Get(i int) bool {
	if i < 0 || i >= m.size {
		return false
	}
	return m.bits[i/8]&(0x80>>(i%8)) != 0
}

// Next returns the next unread bit.
func (m *OptionalMap) Next() (bool, error) {
	if m.read >= m.size {
		return false, ErrOptionalMapExhausted
	}
	b := m.Get(m.read)
	m.read++
	return b, nil
}

// Reset clears the map for reuse.
func (m *OptionalMap) Reset() {
	m.bits = m.bits[:0]
	m.size = 0
	m.read = 0
}

func (m *OptionalMap) String() string {
	out := make([]byte, m.size)
	for i := range out {
		out[i] = '0'
		if m.Get(i) {
			out[i] = '1'
		}
	}
	return fmt.Sprintf("OptionalMap[%s]", out)
}

// AppendTo appends the wire form of the map to dst.
//
// Up to 29 bits are packed behind a 3-bit header into 1 to 4 bytes
// (header 000 to 011). Up to 504 bits use a one byte length 10LLLLLL, larger
// maps a three byte length 11LLLLLL LLLLLLLL LLLLLLLL, both counting bytes.
// The 22-bit byte count caps a map at 0x1FFFFF8 bits.
func (m *OptionalMap) AppendTo(dst []byte) ([]byte, error) {
	n := m.size
	switch {
	case n <= 5:
		return m.appendInline(dst, 0), nil
	case n <= 13:
		return m.appendInline(dst, 1), nil
	case n <= 21:
		return m.appendInline(dst, 2), nil
	case n <= inlineMaxBits:
		return m.appendInline(dst, 3), nil
	case n <= shortMapMaxBits:
		nb := (n + 7) / 8
		dst = append(dst, 0x80|byte(nb))
		return append(dst, m.bits[:nb]...), nil
	case n <= longMapMaxBits:
		nb := (n + 7) / 8
		h := 0xC00000 | nb
		dst = append(dst, byte(h>>16), byte(h>>8), byte(h))
		return append(dst, m.bits[:nb]...), nil
	default:
		return dst, fmt.Errorf("%d bits: %w", n, ErrOptionalMapTooLarge)
	}
}

// appendInline writes typ in the top three bits followed by the map bits,
// using typ+1 bytes.
func (m *OptionalMap) appendInline(dst []byte, typ int) []byte {
	width := typ + 1
	top := width*8 - 1
	w := uint32(typ) << (top - 2)
	for i := 0; i < m.size; i++ {
		if m.Get(i) {
			w |= 1 << (top - 3 - i)
		}
	}
	for shift := top - 7; shift >= 0; shift -= 8 {
		dst = append(dst, byte(w>>shift))
	}
	return dst
}

// ReadOptionalMap decodes a map from the start of b and returns it with the
// number of bytes consumed. The decoded length is the capacity of the wire
// form, so trailing padding bits read as absent.
func ReadOptionalMap(b []byte) (*OptionalMap, int, error) {
	if len(b) == 0 {
		return nil, 0, ErrNeedMore
	}
	first := b[0]

	if first&0x80 == 0 {
		width := int(first>>5&0x03) + 1
		if len(b) < width {
			return nil, 0, ErrNeedMore
		}
		var w uint32
		for i := 0; i < width; i++ {
			w = w<<8 | uint32(b[i])
		}
		top := width*8 - 1
		m := &OptionalMap{}
		for i := 0; i < width*8-3; i++ {
			m.Add(w&(1<<(top-3-i)) != 0)
		}
		return m, width, nil
	}

	var nb, hdr int
	if first&0x40 == 0 {
		nb, hdr = int(first&0x3F), 1
	} else {
		if len(b) < 3 {
			return nil, 0, ErrNeedMore
		}
		nb, hdr = (int(first)<<16|int(b[1])<<8|int(b[2]))&longMapLengthMask, 3
	}
	if len(b) < hdr+nb {
		return nil, 0, ErrNeedMore
	}
	bits := make([]byte, nb)
	copy(bits, b[hdr:hdr+nb])
	return &OptionalMap{bits: bits, size: nb * 8}, hdr + nb, nil
}
