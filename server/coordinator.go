package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbocsi/robobus/proto"
	"golang.org/x/sync/errgroup"
)

// SerialTopics are the topics carried over the microcontroller link.
var SerialTopics = []proto.Topic{
	proto.TopicLog,
	proto.TopicAnnouncements,
	proto.TopicConfig,
	proto.TopicStats,
	proto.TopicMotAction,
	proto.TopicSysReport,
}

// Coordinator is the bus context: it owns the registry, pool, route table and
// broker of the process along with the built-in subscribers, and runs them.
type Coordinator struct {
	Registry      *proto.Registry
	Pool          *Pool
	Routes        *RouteTable
	Broker        *Broker
	Notifications *Notifications
	Blackboard    *Blackboard
	SysLog        *SysLog
	Responder     *Responder
	Ticker        *Ticker
	Transports    []Transport

	bindings  []Binding
	consumers []*Consumer
	started   bool
}

func NewCoordinator(opts Options) *Coordinator {
	registry := proto.NewRegistry()
	pool := NewPool(opts.PoolPrealloc, opts.PoolLimit)
	routes := NewRouteTable()
	broker := NewBroker(registry, routes, pool, opts.Source)

	c := &Coordinator{
		Registry:      registry,
		Pool:          pool,
		Routes:        routes,
		Broker:        broker,
		Notifications: NewNotifications(registry),
		Blackboard:    NewBlackboard(),
		SysLog:        NewSysLog(opts.SysLog, registry, pool, opts.Source),
		Responder:     NewResponder(opts.Responder, registry, pool, opts.Source),
	}
	c.Ticker = NewTicker(registry, opts.Source, c.Notifications)

	c.SysLog.OnMessage(broker.Route)
	c.Responder.OnMessage(broker.Route)
	c.Ticker.OnMessage(broker.Route)
	c.consumers = append(c.consumers, c.SysLog.Consumer, c.Responder.Consumer)

	for _, sub := range []Subscriber{c.Notifications, c.Blackboard, c.SysLog, c.Responder} {
		if err := routes.Store(sub); err != nil {
			// names are fixed above
			panic(err)
		}
	}
	c.bindings = append(c.bindings,
		Binding{proto.TopicLog, []string{"syslog"}},
		Binding{proto.TopicLocalLog, []string{"syslog"}},
		Binding{proto.TopicAnnouncements, []string{"blackboard", "responder"}},
		Binding{proto.TopicNavReport, []string{"blackboard"}},
		Binding{proto.TopicSysReport, []string{"blackboard"}},
		Binding{proto.TopicRawNav, []string{"blackboard"}},
		Binding{proto.TopicNavAction, []string{"blackboard"}},
		Binding{proto.TopicRawOdometry, []string{"blackboard"}},
		Binding{proto.TopicRawProximity, []string{"blackboard"}},
		Binding{proto.TopicAction, []string{"blackboard"}},
		Binding{proto.TopicTick, []string{"blackboard"}},
		Binding{proto.TopicNotification, []string{"notifications", "blackboard"}},
	)

	for _, ext := range opts.Subscribers {
		if err := c.RegisterSubscriber(ext.Subscriber, ext.Topics...); err != nil {
			slog.Error("Could not register subscriber", "name", ext.Subscriber.Name(), "error", err)
		}
	}
	return c
}

// RegisterSubscriber adds sub to the route table under topics. Only allowed
// before Start.
func (c *Coordinator) RegisterSubscriber(sub Subscriber, topics ...proto.Topic) error {
	if c.started {
		return fmt.Errorf("cannot register %s after start", sub.Name())
	}
	if err := c.Routes.Store(sub); err != nil {
		return err
	}
	for _, topic := range topics {
		c.bindings = append(c.bindings, Binding{Topic: topic, Subscribers: []string{sub.Name()}})
	}
	if consumer, ok := sub.(*Consumer); ok {
		c.consumers = append(c.consumers, consumer)
	}
	slog.Debug("Registered subscriber", "name", sub.Name(), "topics", len(topics))
	return nil
}

// RegisterTransport routes the transport's inbound messages into the broker
// and binds it to topics for outbound traffic.
func (c *Coordinator) RegisterTransport(t Transport, topics ...proto.Topic) error {
	if err := c.RegisterSubscriber(t, topics...); err != nil {
		return err
	}
	t.OnMessage(c.Broker.Route)
	c.Transports = append(c.Transports, t)
	slog.Info("Registered transport", "name", t.Name(), "protocol", t.Meta().Protocol)
	return nil
}

// WatchPeer raises EventPeerSilent when lastSeen falls more than timeout
// behind the once-a-second tick.
func (c *Coordinator) WatchPeer(lastSeen func() time.Time, timeout time.Duration) {
	w := NewPeerWatchdog(c.Broker, lastSeen, timeout)
	c.Ticker.OnTick(w.Check)
}

// Freeze builds the route table. Start calls it; it is exported for callers
// that route without starting the goroutines.
func (c *Coordinator) Freeze() error {
	if c.started {
		return nil
	}
	if err := c.Routes.Apply(c.bindings); err != nil {
		return err
	}
	c.Routes.Freeze()
	c.started = true
	return nil
}

// Start runs the broker, the consumers, the ticker and every transport until
// ctx is done, then shuts them down. A failing transport is logged and the
// rest of the bus keeps running.
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.Freeze(); err != nil {
		return fmt.Errorf("failed to build route table: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c.Broker.Run()
		return nil
	})
	for _, consumer := range c.consumers {
		g.Go(func() error {
			consumer.Run()
			return nil
		})
	}
	g.Go(func() error { return c.Ticker.Run(gctx) })
	for _, t := range c.Transports {
		g.Go(func() error {
			if err := t.Start(gctx); err != nil {
				slog.Error("Transport stopped", "name", t.Name(), "error", err)
			}
			return nil
		})
	}
	slog.Info("Bus started", "source", c.Broker.Source(), "transports", len(c.Transports), "consumers", len(c.consumers))

	<-gctx.Done()
	slog.Info("Shutting down transports and bus")

	for _, t := range c.Transports {
		if err := t.Shutdown(); err != nil {
			slog.Error("There was an error when shutting down transport", "name", t.Name(), "error", err.Error())
		}
	}
	c.Broker.Close()
	for _, consumer := range c.consumers {
		consumer.Close()
	}
	return g.Wait()
}

// BusStats is the process-wide view of the bus.
type BusStats struct {
	Pool      PoolStats    `json:"pool"`
	Broker    BrokerStats  `json:"broker"`
	Consumers []QueueStats `json:"consumers"`
}

func (c *Coordinator) Stats() BusStats {
	consumers := make([]QueueStats, 0, len(c.consumers))
	for _, consumer := range c.consumers {
		consumers = append(consumers, consumer.Stats())
	}
	return BusStats{
		Pool:      c.Pool.Stats(),
		Broker:    c.Broker.Stats(),
		Consumers: consumers,
	}
}
