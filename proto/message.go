package proto

import (
	"errors"
	"fmt"
)

// MaxPayloadLength bounds every payload shape; the registry refuses formats
// that do not fit.
const MaxPayloadLength = 64

var (
	ErrUnknownType   = errors.New("unknown message type")
	ErrPayloadFormat = errors.New("payload does not match message format")
)

type Header struct {
	Type   Type
	Source Source
	Length uint8 // always derived from the registry entry for Type
}

// Message is a fixed-size value: copying it copies the payload, so queues and
// subscribers never share payload memory.
type Message struct {
	Header  Header
	Payload [MaxPayloadLength]byte
}

// Bytes returns the meaningful part of the payload.
func (m *Message) Bytes() []byte {
	n := int(m.Header.Length)
	if n > MaxPayloadLength {
		n = MaxPayloadLength
	}
	return m.Payload[:n]
}

// Encode writes p into the payload. The payload length must already have been
// set from the registry (see Registry.Construct).
func (m *Message) Encode(p Payload) error {
	if p.Format().Length() != int(m.Header.Length) {
		return fmt.Errorf("%w: %s is %d bytes, header says %d", ErrPayloadFormat, p.Format(), p.Format().Length(), m.Header.Length)
	}
	p.MarshalTo(m.Payload[:m.Header.Length])
	return nil
}

// Decode reads the payload into p.
func (m *Message) Decode(p PayloadReader) error {
	if p.Format().Length() != int(m.Header.Length) {
		return fmt.Errorf("%w: %s is %d bytes, header says %d", ErrPayloadFormat, p.Format(), p.Format().Length(), m.Header.Length)
	}
	p.UnmarshalFrom(m.Payload[:m.Header.Length])
	return nil
}

func (m Message) String() string {
	return fmt.Sprintf("%s from %s (%d bytes)", m.Header.Type, m.Header.Source, m.Header.Length)
}
