package server

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/mbocsi/robobus/proto"
)

// Binding attaches named subscribers to a topic.
type Binding struct {
	Topic       proto.Topic
	Subscribers []string
}

// RouteTable holds the named subscribers of the process and the static
// topic -> subscribers table built from them. Everything is registered and
// bound before routing starts; after Freeze the table is read without locks.
type RouteTable struct {
	mu     sync.RWMutex
	store  map[string]Subscriber
	routes [proto.TopicCount][]Subscriber
	frozen atomic.Bool
}

func NewRouteTable() *RouteTable {
	return &RouteTable{store: make(map[string]Subscriber)}
}

func (r *RouteTable) Store(sub Subscriber) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen.Load() {
		return fmt.Errorf("route table is frozen, cannot register %s", sub.Name())
	}
	if _, dup := r.store[sub.Name()]; dup {
		return fmt.Errorf("subscriber %s already registered", sub.Name())
	}
	r.store[sub.Name()] = sub
	return nil
}

func (r *RouteTable) Get(name string) (Subscriber, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	val, ok := r.store[name]
	return val, ok
}

func (r *RouteTable) List() []Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := make([]Subscriber, 0, len(r.store))
	for _, sub := range r.store {
		subs = append(subs, sub)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].Name() < subs[j].Name() })
	return subs
}

// Bind appends subscribers to a topic's list in order. A subscriber already
// bound to the topic is not added twice, so it sees each message once.
func (r *RouteTable) Bind(topic proto.Topic, names ...string) error {
	if !topic.Valid() {
		return fmt.Errorf("cannot bind to invalid topic %d", topic)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen.Load() {
		return fmt.Errorf("route table is frozen, cannot bind %s", topic)
	}

next:
	for _, name := range names {
		sub, ok := r.store[name]
		if !ok {
			return fmt.Errorf("unknown subscriber %s for topic %s", name, topic)
		}
		for _, existing := range r.routes[topic] {
			if existing == sub {
				continue next
			}
		}
		r.routes[topic] = append(r.routes[topic], sub)
	}
	return nil
}

func (r *RouteTable) Apply(bindings []Binding) error {
	for _, b := range bindings {
		if err := r.Bind(b.Topic, b.Subscribers...); err != nil {
			return err
		}
	}
	return nil
}

func (r *RouteTable) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen.Store(true)
}

// Subscribers returns the subscribers bound to topic. The slice must not be
// modified.
func (r *RouteTable) Subscribers(topic proto.Topic) []Subscriber {
	if !topic.Valid() {
		return nil
	}
	if r.frozen.Load() {
		return r.routes[topic]
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.routes[topic]
}

// TopicRoute is the diagnostics view of one row of the table.
type TopicRoute struct {
	Topic       string   `json:"topic"`
	Subscribers []string `json:"subscribers"`
}

func (r *RouteTable) Routes() []TopicRoute {
	out := make([]TopicRoute, 0, proto.TopicCount)
	for _, topic := range proto.Topics() {
		subs := r.Subscribers(topic)
		names := make([]string, 0, len(subs))
		for _, s := range subs {
			names = append(names, s.Name())
		}
		out = append(out, TopicRoute{Topic: topic.String(), Subscribers: names})
	}
	return out
}
