package protocol

import (
	"io"
	"net"
)

// StreamKind tells which header layout the commands of a stream use.
type StreamKind uint8

const (
	// KindControl streams carry session commands with a 1 byte code header.
	KindControl StreamKind = iota
	// KindSpace streams carry object commands with an object id and a
	// method id header.
	KindSpace
)

func (k StreamKind) String() string {
	switch k {
	case KindControl:
		return "control"
	case KindSpace:
		return "space"
	default:
		return "unknown"
	}
}

// Stream is one ordered byte stream of a transport connection.
type Stream interface {
	io.ReadWriteCloser
	RemoteAddr() net.Addr
}
