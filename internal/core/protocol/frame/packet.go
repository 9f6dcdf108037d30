// Package frame implements packet framing: the length prefix, the optional
// map and the VarInt used for counts inside payloads.
package frame

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

const (
	// DefaultCompressionThreshold is the body size from which packets are
	// compressed.
	DefaultCompressionThreshold = 2000
	// DefaultMaxPacketSize bounds both the wire length and the inflated body.
	DefaultMaxPacketSize = 1 << 22

	shortLengthLimit = 0x4000
	longLengthMask   = 0x7FFFFFFF
	flagLong         = 0x80
	flagCompressed   = 0x40
)

// Packet is one decoded frame.
type Packet struct {
	Optional *OptionalMap
	Payload  []byte
	// Compressed reports whether the body was deflated on the wire.
	Compressed bool
}

// Config holds the framing limits shared by encoder and decoder.
type Config struct {
	CompressionThreshold int
	MaxPacketSize        int
}

func DefaultConfig() Config {
	return Config{
		CompressionThreshold: DefaultCompressionThreshold,
		MaxPacketSize:        DefaultMaxPacketSize,
	}
}

func (c Config) withDefaults() Config {
	if c.CompressionThreshold <= 0 {
		c.CompressionThreshold = DefaultCompressionThreshold
	}
	if c.MaxPacketSize <= 0 {
		c.MaxPacketSize = DefaultMaxPacketSize
	}
	return c
}

// Encode frames payload behind optional map m. A nil map encodes as empty.
//
// Bodies of at least CompressionThreshold bytes are deflated. The short prefix
// carries a 14 bit length and the compression flag; lengths that do not fit
// use the 4 byte prefix, whose body is always compressed.
func (c Config) Encode(m *OptionalMap, payload []byte) ([]byte, error) {
	c = c.withDefaults()
	if m == nil {
		m = NewOptionalMap()
	}
	body, err := m.AppendTo(make([]byte, 0, len(payload)+8))
	if err != nil {
		return nil, err
	}
	body = append(body, payload...)
	if len(body) > c.MaxPacketSize {
		return nil, fmt.Errorf("body of %d bytes: %w", len(body), ErrPacketTooLarge)
	}

	compressed := false
	if len(body) >= c.CompressionThreshold || len(body) >= shortLengthLimit {
		if body, err = deflate(body); err != nil {
			return nil, err
		}
		compressed = true
	}

	n := len(body)
	var out []byte
	if n < shortLengthLimit {
		out = make([]byte, 2, n+2)
		out[0] = byte(n >> 8)
		out[1] = byte(n)
		if compressed {
			out[0] |= flagCompressed
		}
	} else {
		if !compressed {
			if body, err = deflate(body); err != nil {
				return nil, err
			}
			n = len(body)
		}
		out = make([]byte, 4, n+4)
		u := uint32(n) | 0x80000000
		out[0], out[1], out[2], out[3] = byte(u>>24), byte(u>>16), byte(u>>8), byte(u)
	}
	return append(out, body...), nil
}

func deflate(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(body); err != nil {
		return nil, fmt.Errorf("deflate: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("deflate: %w", err)
	}
	return buf.Bytes(), nil
}

func inflate(body []byte, limit int) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("inflate: %w: %v", ErrMalformedPacket, err)
	}
	defer zr.Close()
	out, err := io.ReadAll(io.LimitReader(zr, int64(limit)+1))
	if err != nil {
		return nil, fmt.Errorf("inflate: %w: %v", ErrMalformedPacket, err)
	}
	if len(out) > limit {
		return nil, fmt.Errorf("inflated body: %w", ErrPacketTooLarge)
	}
	return out, nil
}

// Decoder splits a byte stream into packets.
type Decoder struct {
	cfg Config
	buf []byte
}

func NewDecoder(cfg Config) *Decoder {
	return &Decoder{cfg: cfg.withDefaults()}
}

// Feed appends received bytes.
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Buffered returns the number of bytes not yet consumed.
func (d *Decoder) Buffered() int { return len(d.buf) }

// Next returns the next complete packet. ErrNeedMore means the buffer holds
// only part of one; any other error leaves the stream unusable.
func (d *Decoder) Next() (*Packet, error) {
	if len(d.buf) < 2 {
		return nil, ErrNeedMore
	}

	var hdr, n int
	compressed := false
	if d.buf[0]&flagLong == 0 {
		hdr = 2
		n = int(d.buf[0]&0x3F)<<8 | int(d.buf[1])
		compressed = d.buf[0]&flagCompressed != 0
	} else {
		if len(d.buf) < 4 {
			return nil, ErrNeedMore
		}
		hdr = 4
		n = int((uint32(d.buf[0])<<24 | uint32(d.buf[1])<<16 | uint32(d.buf[2])<<8 | uint32(d.buf[3])) & longLengthMask)
		compressed = true
	}
	if n > d.cfg.MaxPacketSize {
		return nil, fmt.Errorf("declared length %d: %w", n, ErrPacketTooLarge)
	}
	if len(d.buf) < hdr+n {
		return nil, ErrNeedMore
	}

	body := d.buf[hdr : hdr+n]
	d.buf = d.buf[hdr+n:]
	if len(d.buf) == 0 {
		d.buf = nil
	}

	if compressed {
		var err error
		if body, err = inflate(body, d.cfg.MaxPacketSize); err != nil {
			return nil, err
		}
	}

	m, used, err := ReadOptionalMap(body)
	if err != nil {
		// The body is complete, so a short map is corruption.
		return nil, fmt.Errorf("optional map: %w", ErrMalformedPacket)
	}
	payload := make([]byte, len(body)-used)
	copy(payload, body[used:])
	return &Packet{Optional: m, Payload: payload, Compressed: compressed}, nil
}

// ReadPacket reads from r until a whole packet is buffered.
func (d *Decoder) ReadPacket(r io.Reader) (*Packet, error) {
	var chunk [4096]byte
	for {
		p, err := d.Next()
		if err != ErrNeedMore {
			return p, err
		}
		n, err := r.Read(chunk[:])
		if n > 0 {
			d.Feed(chunk[:n])
		}
		if err != nil {
			if err == io.EOF && n > 0 {
				continue
			}
			if err == io.EOF && d.Buffered() > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}
}
