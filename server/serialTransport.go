package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbocsi/robobus/proto"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var (
	// ErrLineIdle is returned by a SerialPort read when no byte arrived
	// within the port's idle interval.
	ErrLineIdle = errors.New("serial line idle")

	ErrLinkClosed = errors.New("serial link closed")
)

// SerialPort is the hardware layer under the serial transport.
type SerialPort interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// SerialConfig contains the serial link configuration
type SerialConfig struct {
	Device   string // e.g., "/dev/ttyO2"
	BaudRate int    // e.g., 57600
	Source   proto.Source
	Quota    [proto.SeverityCount]int // outstanding log messages allowed per severity
	Throttle bool                     // pace writes to the line rate
}

// SerialStats counts serial link traffic.
type SerialStats struct {
	Session      string             `json:"session"`
	Connected    bool               `json:"connected"`
	Received     uint64             `json:"received"`
	Transmitted  uint64             `json:"transmitted"`
	TxBytes      uint64             `json:"tx_bytes"`
	ShortWrites  uint64             `json:"short_writes"`
	WriteErrors  uint64             `json:"write_errors"`
	ReadErrors   uint64             `json:"read_errors"`
	EchoDrops    uint64             `json:"echo_drops"`
	ForeignDrops uint64             `json:"foreign_drops"`
	QuotaDrops   uint64             `json:"quota_drops"`
	LastReceived time.Time          `json:"last_received"`
	Decoder      proto.DecoderStats `json:"decoder"`
	Egress       QueueStats         `json:"egress"`
	Quota        []SeverityQuota    `json:"quota"`
}

// SerialTransport bridges the bus to the microcontroller over a UART. The
// receive loop decodes frames into the bus; the transmit loop drains the
// egress queue onto the line.
type SerialTransport struct {
	config   SerialConfig
	port     SerialPort
	registry *proto.Registry
	encoder  *proto.Encoder
	decoder  *proto.Decoder
	egress   *Queue
	quota    *LogQuota
	limiter  *rate.Limiter

	onMessage func(*proto.Message)

	name        string
	description string

	mu      sync.Mutex
	session string
	cancel  context.CancelFunc

	connected    atomic.Bool
	lastRx       atomic.Int64
	received     atomic.Uint64
	transmitted  atomic.Uint64
	txBytes      atomic.Uint64
	shortWrites  atomic.Uint64
	writeErrors  atomic.Uint64
	readErrors   atomic.Uint64
	echoDrops    atomic.Uint64
	foreignDrops atomic.Uint64
	quotaDrops   atomic.Uint64
}

const readErrorPause = 100 * time.Millisecond

func NewSerialTransport(config SerialConfig, port SerialPort, registry *proto.Registry, pool *Pool) *SerialTransport {
	t := &SerialTransport{
		config:   config,
		port:     port,
		registry: registry,
		encoder:  proto.NewEncoder(registry),
		decoder:  proto.NewDecoder(registry),
		egress:   NewQueue("serial-egress", pool),
		quota:    NewLogQuota(config.Quota),
		name:     "serial",
	}
	if config.Throttle && config.BaudRate > 0 {
		// 8N1: ten bits on the line per byte
		t.limiter = rate.NewLimiter(rate.Limit(config.BaudRate/10), proto.MaxFrameLength)
	}
	return t
}

func (t *SerialTransport) Name() string {
	return t.name
}

// Process queues a message for the link. Only our own traffic goes out, and
// log messages need a free quota slot for their severity.
func (t *SerialTransport) Process(msg *proto.Message) {
	if msg.Header.Source != t.config.Source {
		t.foreignDrops.Add(1)
		return
	}
	sev, isLog := t.logSeverity(msg)
	if isLog && !t.quota.Admit(sev) {
		t.quotaDrops.Add(1)
		slog.Debug("Log message over link quota, not sent", "severity", sev)
		return
	}
	if err := t.egress.Enqueue(msg); err != nil {
		if isLog {
			t.quota.Release(sev)
		}
		slog.Warn("Message not queued for serial link", "type", msg.Header.Type, "error", err)
	}
}

func (t *SerialTransport) logSeverity(msg *proto.Message) (proto.Severity, bool) {
	if t.registry.Topic(msg.Header.Type) != proto.TopicLog {
		return 0, false
	}
	return proto.Severity(msg.Payload[0]), true
}

func (t *SerialTransport) Start(ctx context.Context) error {
	slog.Info("Starting serial transport", "device", t.config.Device, "baud", t.config.BaudRate)

	if t.onMessage == nil {
		return fmt.Errorf("OnMessage function is not defined")
	}
	if t.port == nil {
		return fmt.Errorf("serial port is not open")
	}

	ctx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.session = generateSessionId("serial")
	t.cancel = cancel
	session := t.session
	t.mu.Unlock()
	defer cancel()

	t.connected.Store(true)
	defer t.connected.Store(false)
	slog.Info("Serial link up", "device", t.config.Device, "session", session)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return t.receiveLoop(gctx) })
	g.Go(func() error { return t.transmitLoop(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		t.egress.Close()
		return nil
	})
	return g.Wait()
}

func (t *SerialTransport) receiveLoop(ctx context.Context) error {
	buf := make([]byte, 1)
	for {
		n, err := t.port.Read(buf)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			switch {
			case errors.Is(err, ErrLineIdle):
				if t.decoder.InFrame() {
					t.decoder.Abort()
					t.deliver()
				}
				continue
			case errors.Is(err, io.EOF), errors.Is(err, os.ErrClosed):
				slog.Warn("Serial device closed", "device", t.config.Device)
				return ErrLinkClosed
			}
			t.readErrors.Add(1)
			slog.Error("Serial read failed", "device", t.config.Device, "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(readErrorPause):
			}
			continue
		}
		if n == 0 {
			continue
		}
		if t.decoder.Feed(buf[0]) == proto.Ready {
			t.deliver()
		}
	}
}

func (t *SerialTransport) deliver() {
	for {
		msg, ok := t.decoder.Next()
		if !ok {
			return
		}
		// our own frames looped back on the line
		if msg.Header.Source == t.config.Source {
			t.echoDrops.Add(1)
			continue
		}
		t.lastRx.Store(time.Now().UnixNano())
		t.received.Add(1)
		slog.Debug("Serial message received", "type", msg.Header.Type, "source", msg.Header.Source)
		t.onMessage(&msg)
	}
}

func (t *SerialTransport) transmitLoop(ctx context.Context) error {
	for {
		d, ok := t.egress.Dequeue()
		if !ok {
			return nil
		}
		t.transmit(ctx, d.Message())
		d.Done()
	}
}

func (t *SerialTransport) transmit(ctx context.Context, msg *proto.Message) {
	if sev, ok := t.logSeverity(msg); ok {
		defer t.quota.Release(sev)
	}

	frame, err := t.encoder.Encode(msg)
	if err != nil {
		slog.Error("Could not encode frame", "type", msg.Header.Type, "error", err)
		return
	}
	if t.limiter != nil {
		if err := t.limiter.WaitN(ctx, len(frame)); err != nil {
			slog.Debug("Frame not sent", "type", msg.Header.Type, "error", err)
			return
		}
	}

	n, err := t.port.Write(frame)
	switch {
	case err != nil:
		t.writeErrors.Add(1)
		slog.Error("Serial write failed", "type", msg.Header.Type, "error", err)
	case n < len(frame):
		t.shortWrites.Add(1)
		slog.Error("Short write on serial link", "type", msg.Header.Type, "written", n, "frame", len(frame))
	default:
		t.transmitted.Add(1)
		t.txBytes.Add(uint64(n))
	}
}

func (t *SerialTransport) Shutdown() error {
	slog.Info("Shutting down serial transport", "device", t.config.Device)
	t.mu.Lock()
	if t.cancel != nil {
		t.cancel()
	}
	t.mu.Unlock()
	t.egress.Close()

	if t.port != nil {
		return t.port.Close()
	}
	return nil
}

func (t *SerialTransport) OnMessage(fn func(*proto.Message)) {
	t.onMessage = fn
}

// LastReceived is when the last frame from the peer arrived, zero if none.
func (t *SerialTransport) LastReceived() time.Time {
	ns := t.lastRx.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (t *SerialTransport) Stats() SerialStats {
	t.mu.Lock()
	session := t.session
	t.mu.Unlock()
	return SerialStats{
		Session:      session,
		Connected:    t.connected.Load(),
		Received:     t.received.Load(),
		Transmitted:  t.transmitted.Load(),
		TxBytes:      t.txBytes.Load(),
		ShortWrites:  t.shortWrites.Load(),
		WriteErrors:  t.writeErrors.Load(),
		ReadErrors:   t.readErrors.Load(),
		EchoDrops:    t.echoDrops.Load(),
		ForeignDrops: t.foreignDrops.Load(),
		QuotaDrops:   t.quotaDrops.Load(),
		LastReceived: t.LastReceived(),
		Decoder:      t.decoder.Stats(),
		Egress:       t.egress.Stats(),
		Quota:        t.quota.Snapshot(),
	}
}

func (t *SerialTransport) Meta() TransportMetadata {
	t.mu.Lock()
	session := t.session
	t.mu.Unlock()
	return TransportMetadata{
		ID:          "serial-" + t.config.Device,
		Name:        t.name,
		Description: t.description,
		Protocol:    "serial",
		Address:     fmt.Sprintf("%s@%d", t.config.Device, t.config.BaudRate),
		Session:     session,
		Connected:   t.connected.Load(),
	}
}

func (t *SerialTransport) SetName(name string) {
	t.name = name
}

func (t *SerialTransport) SetDescription(description string) {
	t.description = description
}
