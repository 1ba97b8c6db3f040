package server

import (
	"context"

	"github.com/google/uuid"
	"github.com/mbocsi/robobus/proto"
)

// Subscriber receives messages routed to a topic it is bound to. Process runs
// on the routing goroutine: it must only copy msg (usually onto its own queue)
// and must not keep or modify it.
type Subscriber interface {
	Name() string
	Process(msg *proto.Message)
}

// Transport bridges the bus to an external link. Messages arriving on the
// link are handed to the OnMessage callback; messages routed to it go out.
type Transport interface {
	Subscriber
	Start(ctx context.Context) error
	OnMessage(func(*proto.Message))
	Shutdown() error
	Meta() TransportMetadata
	SetName(name string)
	SetDescription(description string)
}

type TransportMetadata struct {
	ID          string // Stable identifier, e.g., "serial-/dev/ttyO2"
	Name        string // Human-friendly name, e.g., "Microcontroller link"
	Protocol    string // Protocol name, e.g., "serial"
	Address     string // Device path or bind address
	Description string // Optional, short purpose/use case
	Session     string // Changes every time the link is opened

	Connected bool // Whether the transport is currently running
}

type subscriberFunc struct {
	name string
	fn   func(*proto.Message)
}

// SubscriberFunc adapts a function to the Subscriber interface. fn runs on
// the routing goroutine and must not block.
func SubscriberFunc(name string, fn func(*proto.Message)) Subscriber {
	return &subscriberFunc{name: name, fn: fn}
}

func (s *subscriberFunc) Name() string { return s.name }

func (s *subscriberFunc) Process(msg *proto.Message) { s.fn(msg) }

func generateSessionId(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
