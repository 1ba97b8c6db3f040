package server

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mbocsi/robobus/proto"
)

// MockSubscriber records every message routed to it
type MockSubscriber struct {
	name     string
	messages []proto.Message
	mu       sync.Mutex
}

func NewMockSubscriber(name string) *MockSubscriber {
	return &MockSubscriber{name: name}
}

func (ms *MockSubscriber) Name() string {
	return ms.name
}

func (ms *MockSubscriber) Process(msg *proto.Message) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.messages = append(ms.messages, *msg)
}

func (ms *MockSubscriber) GetMessages() []proto.Message {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	result := make([]proto.Message, len(ms.messages))
	copy(result, ms.messages)
	return result
}

func newTestBroker(t *testing.T, bind func(r *RouteTable)) *Broker {
	t.Helper()
	registry := proto.NewRegistry()
	routes := NewRouteTable()
	bind(routes)
	routes.Freeze()
	return NewBroker(registry, routes, NewPool(4, 0), proto.SourceBrain)
}

func TestBroker_RouteFanOut(t *testing.T) {
	nav := NewMockSubscriber("nav")
	logger := NewMockSubscriber("logger")
	both := NewMockSubscriber("both")

	broker := newTestBroker(t, func(r *RouteTable) {
		r.Store(nav)
		r.Store(logger)
		r.Store(both)
		r.Bind(proto.TopicNavReport, "nav", "both")
		r.Bind(proto.TopicLog, "logger", "both")
	})

	msg, _ := broker.Registry().New(proto.TypePose, proto.SourceMCU, proto.Pose{Heading: 90})
	broker.Route(&msg)

	if got := len(nav.GetMessages()); got != 1 {
		t.Errorf("Expected nav to get 1 copy, got %d", got)
	}
	if got := len(both.GetMessages()); got != 1 {
		t.Errorf("Expected both to get 1 copy, got %d", got)
	}
	if got := len(logger.GetMessages()); got != 0 {
		t.Errorf("Expected logger to get nothing, got %d", got)
	}

	received := nav.GetMessages()[0]
	var pose proto.Pose
	received.Decode(&pose)
	if pose.Heading != 90 || received.Header.Source != proto.SourceMCU {
		t.Errorf("Expected POSE heading 90 from MCU, got %+v from %s", pose, received.Header.Source)
	}

	stats := broker.Stats()
	if stats.Routed != 1 || stats.Deliveries != 2 {
		t.Errorf("Expected 1 routed and 2 deliveries, got %+v", stats)
	}
}

func TestBroker_RouteFixesLength(t *testing.T) {
	sub := NewMockSubscriber("sub")
	broker := newTestBroker(t, func(r *RouteTable) {
		r.Store(sub)
		r.Bind(proto.TopicSysReport, "sub")
	})

	msg := proto.Message{Header: proto.Header{Type: proto.TypeStatus, Source: proto.SourceBrain, Length: 40}}
	broker.Route(&msg)

	got := sub.GetMessages()
	if len(got) != 1 || got[0].Header.Length != 1 {
		t.Errorf("Expected STATUS with registry length 1, got %v", got)
	}
}

func TestBroker_RouteRejectsUnknownType(t *testing.T) {
	sub := NewMockSubscriber("sub")
	broker := newTestBroker(t, func(r *RouteTable) {
		r.Store(sub)
		r.Bind(proto.TopicSysReport, "sub")
	})

	msg := proto.Message{Header: proto.Header{Type: 200}}
	broker.Route(&msg)

	if broker.Stats().Rejected != 1 {
		t.Errorf("Expected 1 rejected, got %d", broker.Stats().Rejected)
	}
	if err := broker.Publish(&msg); !errors.Is(err, proto.ErrUnknownType) {
		t.Errorf("Expected ErrUnknownType, got %v", err)
	}
}

func TestBroker_PublishRejectsOwnSysLog(t *testing.T) {
	broker := newTestBroker(t, func(r *RouteTable) {})

	own, _ := broker.Registry().New(proto.TypeSysLog, proto.SourceBrain, proto.Log{Severity: proto.SeverityError, File: "NAV", Text: "stuck"})
	if err := broker.Publish(&own); !errors.Is(err, ErrOwnSysLog) {
		t.Errorf("Expected ErrOwnSysLog, got %v", err)
	}
	peer, _ := broker.Registry().New(proto.TypeSysLog, proto.SourceMCU, proto.Log{Severity: proto.SeverityError, File: "PIC", Text: "stall"})
	if err := broker.Publish(&peer); err != nil {
		t.Errorf("Expected a peer SYSLOG to be accepted, got %v", err)
	}
	local, _ := broker.Registry().New(proto.TypeLocalLog, proto.SourceBrain, proto.Log{Severity: proto.SeverityError, File: "NAV", Text: "stuck"})
	if err := broker.Publish(&local); err != nil {
		t.Errorf("Expected LOCAL_LOG to be accepted, got %v", err)
	}
	if got := broker.Stats().Rejected; got != 1 {
		t.Errorf("Expected 1 rejected, got %d", got)
	}
}

func TestBroker_RouteNoSubscribers(t *testing.T) {
	broker := newTestBroker(t, func(r *RouteTable) {})

	msg, _ := broker.Construct(proto.TypeAction)
	broker.Route(&msg)

	if broker.Stats().Unrouted != 1 {
		t.Errorf("Expected 1 unrouted, got %d", broker.Stats().Unrouted)
	}
}

func TestBroker_PublishThroughIngress(t *testing.T) {
	sub := NewMockSubscriber("sub")
	broker := newTestBroker(t, func(r *RouteTable) {
		r.Store(sub)
		r.Bind(proto.TopicAction, "sub")
	})

	done := make(chan struct{})
	go func() {
		broker.Run()
		close(done)
	}()

	for i := 0; i < 10; i++ {
		msg, _ := broker.Registry().New(proto.TypeAction, proto.SourceBrain, proto.Byte{Value: uint8(i)})
		if err := broker.Publish(&msg); err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
	}
	broker.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Expected Run to return after Close")
	}

	got := sub.GetMessages()
	if len(got) != 10 {
		t.Fatalf("Expected 10 messages, got %d", len(got))
	}
	for i, m := range got {
		if m.Payload[0] != uint8(i) {
			t.Errorf("Expected message %d in order, got %d", i, m.Payload[0])
		}
	}
}

func TestBroker_Construct(t *testing.T) {
	broker := newTestBroker(t, func(r *RouteTable) {})

	msg, err := broker.Construct(proto.TypeProximity)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if msg.Header.Source != proto.SourceBrain || msg.Header.Length != 4 {
		t.Errorf("Expected header from this process with length 4, got %+v", msg.Header)
	}
}

func TestBroker_NotifyCancel(t *testing.T) {
	notifications := NewNotifications(proto.NewRegistry())
	broker := newTestBroker(t, func(r *RouteTable) {
		r.Store(notifications)
		r.Bind(proto.TopicNotification, "notifications")
	})

	if err := broker.Notify(proto.EventObstacleNear); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	broker.Notify(proto.EventBatteryLow)
	if !notifications.IsActive(proto.EventObstacleNear) || !notifications.IsActive(proto.EventBatteryLow) {
		t.Errorf("Expected both events active, got %v", notifications.Active().Events())
	}

	broker.Cancel(proto.EventObstacleNear)
	if notifications.IsActive(proto.EventObstacleNear) {
		t.Error("Expected obstacle_near to be cleared")
	}
	if !notifications.IsActive(proto.EventBatteryLow) {
		t.Error("Expected battery_low to stay active")
	}

	if err := broker.Notify(proto.EventNone); err == nil {
		t.Error("Expected EventNone to be refused")
	}
}

func TestBroker_ConcurrentRoute(t *testing.T) {
	sub := NewMockSubscriber("sub")
	broker := newTestBroker(t, func(r *RouteTable) {
		r.Store(sub)
		r.Bind(proto.TopicRawOdometry, "sub")
	})

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				msg, _ := broker.Construct(proto.TypeOdometry)
				broker.Route(&msg)
			}
		}()
	}
	wg.Wait()

	if got := len(sub.GetMessages()); got != 1000 {
		t.Errorf("Expected 1000 messages, got %d", got)
	}
	if broker.Stats().PerType["ODOMETRY"] != 1000 {
		t.Errorf("Expected per-type count 1000, got %v", broker.Stats().PerType)
	}
}
