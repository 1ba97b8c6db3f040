package server

import (
	"context"
	"testing"
	"time"

	"github.com/mbocsi/robobus/proto"
)

func testOptions() Options {
	return Options{
		Source:       proto.SourceBrain,
		PoolPrealloc: 16,
		SysLog:       SysLogConfig{MinSeverity: proto.SeverityInfo, ForwardSeverity: proto.SeverityError},
		Responder:    ResponderConfig{Subsystem: "OVM", Name: "test"},
	}
}

func runCoordinator(t *testing.T, c *Coordinator) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()
	waitFor(t, "routes frozen", func() bool { return c.Routes.frozen.Load() })

	return func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Expected clean shutdown, got %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("Expected Start to return after cancel")
		}
	}
}

func TestNewCoordinator_BuiltinRoutes(t *testing.T) {
	c := NewCoordinator(testOptions())
	if err := c.Freeze(); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	names := func(topic proto.Topic) []string {
		var out []string
		for _, s := range c.Routes.Subscribers(topic) {
			out = append(out, s.Name())
		}
		return out
	}

	if got := names(proto.TopicNotification); len(got) != 2 || got[0] != "notifications" {
		t.Errorf("Expected notifications then blackboard, got %v", got)
	}
	if got := names(proto.TopicLog); len(got) != 1 || got[0] != "syslog" {
		t.Errorf("Expected syslog on LOG, got %v", got)
	}
	if got := names(proto.TopicAnnouncements); len(got) != 2 || got[1] != "responder" {
		t.Errorf("Expected blackboard and responder on ANNOUNCEMENTS, got %v", got)
	}
	if err := c.RegisterSubscriber(NewMockSubscriber("late"), proto.TopicAction); err == nil {
		t.Error("Expected registration after freeze to fail")
	}
}

func TestCoordinator_ExternalSubscriber(t *testing.T) {
	nav := NewMockSubscriber("nav")
	opts := testOptions()
	opts.Subscribers = []ExternalSubscriber{{Subscriber: nav, Topics: []proto.Topic{proto.TopicRawOdometry}}}
	c := NewCoordinator(opts)
	stop := runCoordinator(t, c)
	defer stop()

	odo, _ := c.Registry.New(proto.TypeOdometry, proto.SourceMCU, proto.Odometry{X: 3})
	if err := c.Broker.Publish(&odo); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	status, _ := c.Registry.New(proto.TypeStatus, proto.SourceMCU, proto.Byte{Value: 1})
	c.Broker.Route(&status)

	waitFor(t, "odometry delivery", func() bool { return len(nav.GetMessages()) == 1 })
	if _, ok := c.Blackboard.Latest(proto.TypeOdometry); !ok {
		t.Error("Expected the blackboard to hold the odometry")
	}
	if _, ok := c.Blackboard.Latest(proto.TypeStatus); !ok {
		t.Error("Expected the blackboard to hold the status")
	}
	if len(nav.GetMessages()) != 1 {
		t.Error("Expected nav not to see STATUS")
	}
}

func TestCoordinator_SerialPingRoundTrip(t *testing.T) {
	c := NewCoordinator(testOptions())
	port := newMockSerialPort()
	serial := NewSerialTransport(testSerialConfig(), port, c.Registry, c.Pool)
	if err := c.RegisterTransport(serial, SerialTopics...); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	stop := runCoordinator(t, c)
	defer stop()

	ping, _ := c.Registry.Construct(proto.TypePing, proto.SourceMCU)
	frame, _ := proto.NewEncoder(c.Registry).Encode(&ping)
	port.Inject(frame)

	waitFor(t, "ping response on the link", func() bool { return len(port.Frames()) == 1 })

	d := proto.NewDecoder(c.Registry)
	for _, b := range port.Frames()[0] {
		d.Feed(b)
	}
	d.Abort()
	resp, ok := d.Next()
	if !ok || resp.Header.Type != proto.TypePingResponse || resp.Header.Source != proto.SourceBrain {
		t.Fatalf("Expected PING_RESPONSE from this process, got %v", resp)
	}
	var pr proto.PingResponse
	resp.Decode(&pr)
	if !pr.Startup || pr.Subsystem != "OVM" {
		t.Errorf("Unexpected response %+v", pr)
	}
	if serial.Stats().ForeignDrops == 0 {
		t.Error("Expected the peer's own PING not to be sent back")
	}
}

func TestCoordinator_NotifyReachesTick(t *testing.T) {
	c := NewCoordinator(testOptions())
	if err := c.Freeze(); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	c.Broker.Notify(proto.EventPathBlocked)
	c.Ticker.Tick(time.Now())

	snap, ok := c.Blackboard.Latest(proto.TypeTick)
	if !ok {
		t.Fatal("Expected a tick on the blackboard")
	}
	var tick proto.Tick
	snap.Message.Decode(&tick)
	if !tick.Active.Has(proto.EventPathBlocked) {
		t.Errorf("Expected path_blocked in the tick mask, got %v", tick.Active.Events())
	}
}

func TestCoordinator_Stats(t *testing.T) {
	c := NewCoordinator(testOptions())
	stats := c.Stats()

	if stats.Pool.Total != 16 {
		t.Errorf("Expected 16 preallocated entries, got %d", stats.Pool.Total)
	}
	if len(stats.Consumers) != 2 {
		t.Errorf("Expected syslog and responder queues, got %d", len(stats.Consumers))
	}
}
