package server

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/mbocsi/robobus/proto"
)

// mockSerialPort feeds queued bytes to the transport and records writes
type mockSerialPort struct {
	in      chan byte
	closed  chan struct{}
	once    sync.Once
	idle    time.Duration
	shortBy int

	mu     sync.Mutex
	frames [][]byte
}

func newMockSerialPort() *mockSerialPort {
	return &mockSerialPort{
		in:     make(chan byte, 4096),
		closed: make(chan struct{}),
		idle:   10 * time.Millisecond,
	}
}

func (p *mockSerialPort) Read(b []byte) (int, error) {
	select {
	case <-p.closed:
		return 0, os.ErrClosed
	case c := <-p.in:
		b[0] = c
		return 1, nil
	case <-time.After(p.idle):
		return 0, ErrLineIdle
	}
}

func (p *mockSerialPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(b) - p.shortBy
	p.frames = append(p.frames, append([]byte(nil), b[:n]...))
	return n, nil
}

func (p *mockSerialPort) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func (p *mockSerialPort) Inject(b []byte) {
	for _, c := range b {
		p.in <- c
	}
}

func (p *mockSerialPort) Frames() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.frames...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func testSerialConfig() SerialConfig {
	return SerialConfig{
		Device:   "/dev/ttyTEST",
		BaudRate: 57600,
		Source:   proto.SourceBrain,
		Quota:    [proto.SeverityCount]int{1, 1, 1, 10, 10},
	}
}

type received struct {
	mu   sync.Mutex
	msgs []proto.Message
}

func (r *received) handle(msg *proto.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, *msg)
}

func (r *received) get() []proto.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]proto.Message(nil), r.msgs...)
}

func startSerial(t *testing.T, transport *SerialTransport) (*received, func()) {
	t.Helper()
	rx := &received{}
	transport.OnMessage(rx.handle)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- transport.Start(ctx) }()
	waitFor(t, "serial link up", func() bool { return transport.Meta().Connected })

	return rx, func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("Expected Start to return after cancel")
		}
	}
}

func TestNewSerialTransport(t *testing.T) {
	port := newMockSerialPort()
	transport := NewSerialTransport(testSerialConfig(), port, proto.NewRegistry(), NewPool(4, 0))

	if transport == nil {
		t.Fatal("NewSerialTransport returned nil")
	}
	if transport.Name() != "serial" {
		t.Errorf("Expected name 'serial', got '%s'", transport.Name())
	}
	if transport.limiter != nil {
		t.Error("Expected no limiter without throttle")
	}

	cfg := testSerialConfig()
	cfg.Throttle = true
	throttled := NewSerialTransport(cfg, port, proto.NewRegistry(), NewPool(4, 0))
	if throttled.limiter == nil || throttled.limiter.Limit() != 5760 {
		t.Errorf("Expected limiter at 5760 bytes/s, got %v", throttled.limiter)
	}
}

func TestSerialTransportMetadata(t *testing.T) {
	transport := NewSerialTransport(testSerialConfig(), newMockSerialPort(), proto.NewRegistry(), NewPool(4, 0))
	transport.SetName("mcu")
	transport.SetDescription("Motor controller link")

	meta := transport.Meta()
	if meta.ID != "serial-/dev/ttyTEST" {
		t.Errorf("Expected ID 'serial-/dev/ttyTEST', got '%s'", meta.ID)
	}
	if meta.Address != "/dev/ttyTEST@57600" {
		t.Errorf("Expected address '/dev/ttyTEST@57600', got '%s'", meta.Address)
	}
	if meta.Name != "mcu" || meta.Description != "Motor controller link" || meta.Protocol != "serial" {
		t.Errorf("Unexpected metadata %+v", meta)
	}
	if meta.Connected {
		t.Error("Expected transport not to be connected before Start")
	}
}

func TestSerialTransport_StartWithoutCallback(t *testing.T) {
	transport := NewSerialTransport(testSerialConfig(), newMockSerialPort(), proto.NewRegistry(), NewPool(4, 0))

	if err := transport.Start(context.Background()); err == nil {
		t.Error("Expected error when OnMessage is not set")
	}
}

func TestSerialTransport_Receive(t *testing.T) {
	registry := proto.NewRegistry()
	port := newMockSerialPort()
	transport := NewSerialTransport(testSerialConfig(), port, registry, NewPool(4, 0))
	rx, stop := startSerial(t, transport)
	defer stop()

	enc := proto.NewEncoder(registry)
	status, _ := registry.New(proto.TypeStatus, proto.SourceMCU, proto.Byte{Value: 7})
	echo, _ := registry.New(proto.TypeStatus, proto.SourceBrain, proto.Byte{Value: 8})
	f1, _ := enc.Encode(&status)
	f2, _ := enc.Encode(&echo)
	port.Inject(append([]byte{0x13, 0x37}, f1...))
	port.Inject(f2)

	waitFor(t, "peer message", func() bool { return len(rx.get()) == 1 })
	waitFor(t, "echo drop", func() bool { return transport.Stats().EchoDrops == 1 })

	msg := rx.get()[0]
	if msg.Header.Type != proto.TypeStatus || msg.Payload[0] != 7 {
		t.Errorf("Expected STATUS 7, got %s", msg)
	}
	if transport.LastReceived().IsZero() {
		t.Error("Expected last received time to be set")
	}
}

func TestSerialTransport_IdleAbortsFrame(t *testing.T) {
	registry := proto.NewRegistry()
	port := newMockSerialPort()
	transport := NewSerialTransport(testSerialConfig(), port, registry, NewPool(4, 0))
	rx, stop := startSerial(t, transport)
	defer stop()

	port.Inject([]byte{0x40, 0x06, 0xF9, 0x01})
	waitFor(t, "idle abort", func() bool { return transport.Stats().Decoder.Resyncs >= 1 })

	msg, _ := registry.New(proto.TypeAction, proto.SourceMCU, proto.Byte{Value: 3})
	frame, _ := proto.NewEncoder(registry).Encode(&msg)
	port.Inject(frame)
	waitFor(t, "message after abort", func() bool { return len(rx.get()) == 1 })
}

func TestSerialTransport_Transmit(t *testing.T) {
	registry := proto.NewRegistry()
	port := newMockSerialPort()
	transport := NewSerialTransport(testSerialConfig(), port, registry, NewPool(4, 0))
	_, stop := startSerial(t, transport)
	defer stop()

	own, _ := registry.New(proto.TypeMotorAction, proto.SourceBrain, proto.Move{X: 100})
	foreign, _ := registry.New(proto.TypeMotorAction, proto.SourceApp, proto.Move{X: 100})
	transport.Process(&foreign)
	transport.Process(&own)

	waitFor(t, "frame written", func() bool { return len(port.Frames()) == 1 })

	frame := port.Frames()[0]
	if frame[0] != proto.Start || frame[1] != 5 || frame[4] != byte(proto.SourceBrain) || frame[5] != byte(proto.TypeMotorAction) {
		t.Errorf("Unexpected frame % X", frame)
	}
	if frame[len(frame)-1] != proto.Checksum(frame[3:len(frame)-1]) {
		t.Errorf("Expected valid checksum in % X", frame)
	}
	stats := transport.Stats()
	if stats.ForeignDrops != 1 || stats.Transmitted != 1 || stats.TxBytes != uint64(len(frame)) {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestSerialTransport_LogQuota(t *testing.T) {
	registry := proto.NewRegistry()
	port := newMockSerialPort()
	cfg := testSerialConfig()
	cfg.Quota[proto.SeverityWarning] = 3
	transport := NewSerialTransport(cfg, port, registry, NewPool(4, 0))

	// one window: nothing is transmitted until the link starts
	for i := 0; i < 3+5; i++ {
		msg, _ := registry.New(proto.TypeSysLog, proto.SourceBrain, proto.Log{Severity: proto.SeverityWarning, Text: "low battery"})
		transport.Process(&msg)
	}
	ping, _ := registry.Construct(proto.TypePing, proto.SourceBrain)
	transport.Process(&ping)

	_, stop := startSerial(t, transport)
	defer stop()

	waitFor(t, "queued frames", func() bool { return len(port.Frames()) == 4 })
	time.Sleep(20 * time.Millisecond)

	stats := transport.Stats()
	if stats.Transmitted != 4 {
		t.Errorf("Expected 3 logs and 1 ping transmitted, got %d", stats.Transmitted)
	}
	if stats.QuotaDrops != 5 {
		t.Errorf("Expected 5 quota drops, got %d", stats.QuotaDrops)
	}

	// slots come back once transmission completes
	waitFor(t, "quota released", func() bool {
		return transport.Stats().Quota[proto.SeverityWarning].Outstanding == 0
	})
	msg, _ := registry.New(proto.TypeSysLog, proto.SourceBrain, proto.Log{Severity: proto.SeverityWarning, Text: "again"})
	transport.Process(&msg)
	waitFor(t, "frame after recovery", func() bool { return len(port.Frames()) == 5 })
}

func TestSerialTransport_ShortWrite(t *testing.T) {
	registry := proto.NewRegistry()
	port := newMockSerialPort()
	port.shortBy = 2
	transport := NewSerialTransport(testSerialConfig(), port, registry, NewPool(4, 0))
	_, stop := startSerial(t, transport)
	defer stop()

	msg, _ := registry.New(proto.TypeSysLog, proto.SourceBrain, proto.Log{Severity: proto.SeverityError})
	transport.Process(&msg)

	waitFor(t, "short write", func() bool { return transport.Stats().ShortWrites == 1 })
	if transport.Stats().Transmitted != 0 {
		t.Error("Expected short write not to count as transmitted")
	}
	waitFor(t, "quota released", func() bool {
		return transport.Stats().Quota[proto.SeverityError].Outstanding == 0
	})
}

func TestSerialTransport_Shutdown(t *testing.T) {
	port := newMockSerialPort()
	transport := NewSerialTransport(testSerialConfig(), port, proto.NewRegistry(), NewPool(4, 0))
	transport.OnMessage(func(*proto.Message) {})

	done := make(chan error, 1)
	go func() { done <- transport.Start(context.Background()) }()
	waitFor(t, "serial link up", func() bool { return transport.Meta().Connected })

	if err := transport.Shutdown(); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected Start to return after Shutdown")
	}
	if transport.Meta().Connected {
		t.Error("Expected transport to be disconnected")
	}
}
