package frame

import "fmt"

// VarInt tiers. The two high bits of the first byte select the width:
// 0x = 1 byte (7 bits), 10 = 2 bytes (14 bits), 11 = 3 bytes (22 bits).
const (
	varIntMax1 = 0x80
	varIntMax2 = 0x4000
	varIntMax3 = 0x400000
)

// VarIntLen returns the encoded width of v, or 0 if v cannot be encoded.
func VarIntLen(v int) int {
	switch {
	case v < 0:
		return 0
	case v < varIntMax1:
		return 1
	case v < varIntMax2:
		return 2
	case v < varIntMax3:
		return 3
	default:
		return 0
	}
}

// AppendVarInt appends the encoding of v to dst.
func AppendVarInt(dst []byte, v int) ([]byte, error) {
	switch VarIntLen(v) {
	case 1:
		return append(dst, byte(v)), nil
	case 2:
		u := 0x8000 | v
		return append(dst, byte(u>>8), byte(u)), nil
	case 3:
		u := 0xC00000 | v
		return append(dst, byte(u>>16), byte(u>>8), byte(u)), nil
	default:
		return dst, fmt.Errorf("%d: %w", v, ErrVarIntOutOfRange)
	}
}

// ReadVarInt decodes a VarInt from the start of b and returns the value and the
// number of bytes consumed. A truncated value yields ErrNeedMore.
func ReadVarInt(b []byte) (int, int, error) {
	if len(b) == 0 {
		return 0, 0, ErrNeedMore
	}
	first := b[0]
	switch {
	case first&0x80 == 0:
		return int(first), 1, nil
	case first&0x40 == 0:
		if len(b) < 2 {
			return 0, 0, ErrNeedMore
		}
		return int(first&0x3F)<<8 | int(b[1]), 2, nil
	default:
		if len(b) < 3 {
			return 0, 0, ErrNeedMore
		}
		return int(first&0x3F)<<16 | int(b[1])<<8 | int(b[2]), 3, nil
	}
}
