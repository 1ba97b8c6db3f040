package server

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/mbocsi/robobus/proto"
)

// ErrOwnSysLog rejects a SYSLOG stamped with this process's source. Those
// are produced only by SysLog, from LOCAL_LOG entries it has rendered.
var ErrOwnSysLog = errors.New("SYSLOG from this process must be published as LOCAL_LOG")

// Broker fans messages out to the subscribers statically bound to their
// topic. Route is synchronous and may be called from any goroutine; Publish
// hands the message to the ingress queue drained by Run.
type Broker struct {
	registry *proto.Registry
	routes   *RouteTable
	ingress  *Queue
	source   proto.Source

	routed     atomic.Uint64
	deliveries atomic.Uint64
	unrouted   atomic.Uint64
	rejected   atomic.Uint64
	perType    [proto.TypeCount]atomic.Uint64
}

// BrokerStats counts routed traffic.
type BrokerStats struct {
	Routed     uint64            `json:"routed"`
	Deliveries uint64            `json:"deliveries"`
	Unrouted   uint64            `json:"unrouted"`
	Rejected   uint64            `json:"rejected"`
	PerType    map[string]uint64 `json:"per_type"`
	Ingress    QueueStats        `json:"ingress"`
}

func NewBroker(registry *proto.Registry, routes *RouteTable, pool *Pool, source proto.Source) *Broker {
	return &Broker{
		registry: registry,
		routes:   routes,
		ingress:  NewQueue("broker-ingress", pool),
		source:   source,
	}
}

func (b *Broker) Source() proto.Source {
	return b.source
}

func (b *Broker) Registry() *proto.Registry {
	return b.registry
}

// Construct returns an empty message of type t from this process.
func (b *Broker) Construct(t proto.Type) (proto.Message, error) {
	return b.registry.Construct(t, b.source)
}

// Route delivers msg to every subscriber of its topic, in binding order.
// Subscribers copy what they keep, so msg may be reused once Route returns.
func (b *Broker) Route(msg *proto.Message) {
	m := *msg
	if err := b.registry.Adjust(&m); err != nil {
		b.rejected.Add(1)
		slog.Warn("Refusing to route message", "type", uint8(msg.Header.Type), "source", msg.Header.Source, "error", err)
		return
	}
	b.routed.Add(1)
	b.perType[m.Header.Type].Add(1)

	topic := b.registry.Topic(m.Header.Type)
	subs := b.routes.Subscribers(topic)
	if len(subs) == 0 {
		b.unrouted.Add(1)
		slog.Debug("Message has no subscribers", "type", m.Header.Type, "topic", topic)
		return
	}
	for _, sub := range subs {
		sub.Process(&m)
	}
	b.deliveries.Add(uint64(len(subs)))
	slog.Debug("Message routed",
		"type", m.Header.Type,
		"topic", topic,
		"source", m.Header.Source,
		"subscribers", len(subs),
	)
}

// Publish queues msg for routing by Run and returns without waiting for
// fan-out.
func (b *Broker) Publish(msg *proto.Message) error {
	if !b.registry.Valid(msg.Header.Type) {
		b.rejected.Add(1)
		return fmt.Errorf("%w: %d", proto.ErrUnknownType, uint8(msg.Header.Type))
	}
	if msg.Header.Type == proto.TypeSysLog && msg.Header.Source == b.source {
		b.rejected.Add(1)
		return ErrOwnSysLog
	}
	return b.ingress.Enqueue(msg)
}

// Run drains the ingress queue until Close.
func (b *Broker) Run() {
	for {
		d, ok := b.ingress.Dequeue()
		if !ok {
			return
		}
		b.Route(d.Message())
		d.Done()
	}
}

func (b *Broker) Close() {
	b.ingress.Close()
}

// Notify raises event e for every observer of the notification topic.
func (b *Broker) Notify(e proto.Event) error {
	return b.notification(e, true)
}

// Cancel clears event e.
func (b *Broker) Cancel(e proto.Event) error {
	return b.notification(e, false)
}

func (b *Broker) notification(e proto.Event, raised bool) error {
	if !e.Valid() {
		return fmt.Errorf("invalid event %d", e)
	}
	msg, err := b.registry.New(proto.TypeNotification, b.source, proto.Int{Value: proto.NotificationValue(e, raised)})
	if err != nil {
		return err
	}
	b.Route(&msg)
	return nil
}

func (b *Broker) Stats() BrokerStats {
	perType := make(map[string]uint64)
	for t := range b.perType {
		if n := b.perType[t].Load(); n > 0 {
			perType[proto.Type(t).String()] = n
		}
	}
	return BrokerStats{
		Routed:     b.routed.Load(),
		Deliveries: b.deliveries.Load(),
		Unrouted:   b.unrouted.Load(),
		Rejected:   b.rejected.Load(),
		PerType:    perType,
		Ingress:    b.ingress.Stats(),
	}
}
