package proto

import (
	"fmt"
	"sync/atomic"
)

// Wire frame layout:
//
//	START · L · ~L · SEQ · SOURCE · TYPE · payload[L] · CHECKSUM
//
// CHECKSUM is the sum of SEQ through the last payload byte, mod 256.
const (
	Start          byte = 0x40
	HeaderLength        = 5 // L, ~L, SEQ, SOURCE, TYPE
	FrameOverhead       = 1 + HeaderLength + 1
	MaxFrameLength      = FrameOverhead + 255
)

// Checksum sums b modulo 256.
func Checksum(b []byte) byte {
	var sum byte
	for _, c := range b {
		sum += c
	}
	return sum
}

// AppendFrame appends the wire frame for msg with the given sequence number.
// The payload length is taken from msg.Header.Length as is.
func AppendFrame(dst []byte, msg *Message, seq uint8) []byte {
	l := msg.Header.Length
	dst = append(dst, Start, l, ^l, seq, uint8(msg.Header.Source), uint8(msg.Header.Type))
	body := len(dst) - 3 // SEQ onwards
	dst = append(dst, msg.Bytes()...)
	return append(dst, Checksum(dst[body:]))
}

// Encoder turns messages into frames, stamping each with the next value of a
// wrapping sequence counter. It is safe for concurrent use.
type Encoder struct {
	registry *Registry
	seq      atomic.Uint32
}

func NewEncoder(registry *Registry) *Encoder {
	return &Encoder{registry: registry}
}

// SetSequence sets the number stamped on the next frame.
func (e *Encoder) SetSequence(seq uint8) {
	e.seq.Store(uint32(seq))
}

func (e *Encoder) next() uint8 {
	return uint8(e.seq.Add(1) - 1)
}

// Encode allocates and fills a complete frame for msg. The length field is
// always the registry length for the message type.
func (e *Encoder) Encode(msg *Message) ([]byte, error) {
	length := e.registry.FormatLength(msg.Header.Type)
	if length < 0 {
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, uint8(msg.Header.Type))
	}
	m := *msg
	m.Header.Length = uint8(length)
	buf := make([]byte, 0, FrameOverhead+length)
	return AppendFrame(buf, &m, e.next()), nil
}
