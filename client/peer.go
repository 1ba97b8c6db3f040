package client

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
	"github.com/mbocsi/robobus/server"
	"golang.org/x/sync/errgroup"
)

const (
	readChunk      = 256
	lineIdle       = 50 * time.Millisecond
	odometryStep   = 10 // cm per report
	batteryFull    = 1260
	batteryLowMark = 1100
)

type PeerConfig struct {
	Name      string
	Subsystem string
	Source    proto.Source

	// Zero disables the periodic report.
	OdometryInterval time.Duration
	BatteryInterval  time.Duration

	Options  []proto.Name3Int
	Settings []proto.Name3Float
}

type PeerStats struct {
	Received    uint64             `json:"received"`
	Sent        uint64             `json:"sent"`
	Unhandled   uint64             `json:"unhandled"`
	WriteErrors uint64             `json:"write_errors"`
	Decoder     proto.DecoderStats `json:"decoder"`
}

// Peer is a stand-in for the microcontroller: it speaks the wire protocol
// over any byte stream, answers PING and CONFIG, executes MOT_ACTION by
// reporting odometry and reports a draining battery.
type Peer struct {
	config   PeerConfig
	registry *proto.Registry
	rw       io.ReadWriter
	encoder  *proto.Encoder
	decoder  *proto.Decoder

	wmu sync.Mutex

	handlerMu sync.RWMutex
	handlers  map[proto.Type]func(*proto.Message) error

	stateMu    sync.Mutex
	options    []proto.Name3Int
	settings   []proto.Name3Float
	remainingX int
	remainingY int
	centivolts uint16
	batteryLow bool
	replied    bool

	received, sent, unhandled, writeErrors atomic.Uint64
}

func NewPeer(config PeerConfig, rw io.ReadWriter) *Peer {
	if config.Source == proto.SourceUnknown {
		config.Source = proto.SourceMCU
	}
	registry := proto.NewRegistry()
	p := &Peer{
		config:     config,
		registry:   registry,
		rw:         rw,
		encoder:    proto.NewEncoder(registry),
		decoder:    proto.NewDecoder(registry),
		handlers:   make(map[proto.Type]func(*proto.Message) error),
		options:    append([]proto.Name3Int(nil), config.Options...),
		settings:   append([]proto.Name3Float(nil), config.Settings...),
		centivolts: batteryFull,
	}
	p.handlers[proto.TypePing] = p.handlePing
	p.handlers[proto.TypeConfig] = p.handleConfig
	p.handlers[proto.TypeSetOption] = p.handleSetOption
	p.handlers[proto.TypeNewSetting] = p.handleNewSetting
	p.handlers[proto.TypeMotorAction] = p.handleMotorAction
	return p
}

// Handle replaces the handler for t. Messages without a handler are counted
// and ignored.
func (p *Peer) Handle(t proto.Type, fn func(*proto.Message) error) {
	p.handlerMu.Lock()
	defer p.handlerMu.Unlock()
	p.handlers[t] = fn
}

// Send frames and writes one message from the peer's source.
func (p *Peer) Send(t proto.Type, payload proto.Payload) error {
	msg, err := p.registry.New(t, p.config.Source, payload)
	if err != nil {
		return err
	}
	frame, err := p.encoder.Encode(&msg)
	if err != nil {
		return err
	}

	p.wmu.Lock()
	defer p.wmu.Unlock()
	if _, err := p.rw.Write(frame); err != nil {
		p.writeErrors.Add(1)
		return fmt.Errorf("failed to write %s: %w", t, err)
	}
	p.sent.Add(1)
	slog.Debug("Peer sent", "type", t, "size", len(frame))
	return nil
}

// Log sends a SYSLOG message from the peer.
func (p *Peer) Log(sev proto.Severity, file, format string, args ...any) error {
	return p.Send(proto.TypeSysLog, proto.Log{Severity: sev, File: file, Text: fmt.Sprintf(format, args...)})
}

// Run reads and dispatches frames and sends the periodic reports until ctx
// ends or the stream fails. A stream that is an io.Closer is closed when ctx
// ends to unblock the reader.
func (p *Peer) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.readLoop() })
	if p.config.OdometryInterval > 0 {
		g.Go(func() error { return p.every(gctx, p.config.OdometryInterval, p.reportOdometry) })
	}
	if p.config.BatteryInterval > 0 {
		g.Go(func() error { return p.every(gctx, p.config.BatteryInterval, p.reportBattery) })
	}
	g.Go(func() error {
		<-gctx.Done()
		if c, ok := p.rw.(io.Closer); ok {
			c.Close()
		}
		return nil
	})

	slog.Info("Peer running", "name", p.config.Name, "source", p.config.Source)
	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// readDeadliner is implemented by links that can time out a read, such as
// net.Conn and *os.File.
type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

func (p *Peer) readLoop() error {
	buf := make([]byte, readChunk)
	dl, canIdle := p.rw.(readDeadliner)
	for {
		if canIdle {
			// only a partial or held frame needs the line to go quiet
			var deadline time.Time
			if p.decoder.InFrame() {
				deadline = time.Now().Add(lineIdle)
			}
			dl.SetReadDeadline(deadline)
		}
		n, err := p.rw.Read(buf)
		for _, b := range buf[:n] {
			if p.decoder.Feed(b) == proto.Ready {
				p.drain()
			}
		}
		if errors.Is(err, server.ErrLineIdle) || errors.Is(err, os.ErrDeadlineExceeded) {
			if p.decoder.Abort() == proto.Ready {
				p.drain()
			}
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
				return io.EOF
			}
			return fmt.Errorf("peer read failed: %w", err)
		}
	}
}

func (p *Peer) drain() {
	for {
		msg, ok := p.decoder.Next()
		if !ok {
			return
		}
		p.received.Add(1)
		if msg.Header.Source == p.config.Source {
			continue
		}

		p.handlerMu.RLock()
		handler := p.handlers[msg.Header.Type]
		p.handlerMu.RUnlock()
		if handler == nil {
			p.unhandled.Add(1)
			continue
		}
		if err := handler(&msg); err != nil {
			slog.Warn("An error occured in peer handler", "type", msg.Header.Type, "error", err.Error())
		}
	}
}

func (p *Peer) every(ctx context.Context, interval time.Duration, fn func() error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := fn(); err != nil {
				slog.Warn("Peer report failed", "error", err)
			}
		}
	}
}

func (p *Peer) handlePing(msg *proto.Message) error {
	p.stateMu.Lock()
	startup := !p.replied
	p.replied = true
	p.stateMu.Unlock()
	return p.Send(proto.TypePingResponse, proto.PingResponse{
		Subsystem: p.config.Subsystem,
		Startup:   startup,
		Name:      p.config.Name,
	})
}

func (p *Peer) handleConfig(msg *proto.Message) error {
	var target proto.Byte
	if err := p.registry.Decode(msg, &target); err != nil {
		return err
	}
	if proto.Source(target.Value) != p.config.Source {
		return nil
	}

	p.stateMu.Lock()
	options := append([]proto.Name3Int(nil), p.options...)
	settings := append([]proto.Name3Float(nil), p.settings...)
	p.stateMu.Unlock()

	count := 0
	for _, o := range options {
		if err := p.Send(proto.TypeOption, o); err != nil {
			return err
		}
		count++
	}
	for _, s := range settings {
		if err := p.Send(proto.TypeSetting, s); err != nil {
			return err
		}
		count++
	}
	return p.Send(proto.TypeConfigDone, proto.Byte{Value: uint8(count)})
}

func (p *Peer) handleSetOption(msg *proto.Message) error {
	var v proto.NameInt
	if err := p.registry.Decode(msg, &v); err != nil {
		return err
	}
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	for i := range p.options {
		o := &p.options[i]
		if o.Name == v.Name && v.Value >= o.Min && v.Value <= o.Max {
			o.Value = v.Value
			slog.Info("Peer option set", "name", v.Name, "value", v.Value)
		}
	}
	return nil
}

func (p *Peer) handleNewSetting(msg *proto.Message) error {
	var v proto.NameFloat
	if err := p.registry.Decode(msg, &v); err != nil {
		return err
	}
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	for i := range p.settings {
		s := &p.settings[i]
		if s.Name == v.Name && v.Value >= s.Min && v.Value <= s.Max {
			s.Value = v.Value
			slog.Info("Peer setting set", "name", v.Name, "value", v.Value)
		}
	}
	return nil
}

// handleMotorAction queues a local displacement for the odometry reports.
func (p *Peer) handleMotorAction(msg *proto.Message) error {
	var move proto.Move
	if err := p.registry.Decode(msg, &move); err != nil {
		return err
	}
	p.stateMu.Lock()
	p.remainingX += int(move.X)
	p.remainingY += int(move.Y)
	p.stateMu.Unlock()
	slog.Info("Peer moving", "x", move.X, "y", move.Y, "kind", move.Kind)
	return nil
}

// Position reports the displacement still to be travelled.
func (p *Peer) Position() (remainingX, remainingY int) {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return p.remainingX, p.remainingY
}

func (p *Peer) reportOdometry() error {
	p.stateMu.Lock()
	dx := clampStep(p.remainingX)
	dy := clampStep(p.remainingY)
	p.remainingX -= dx
	p.remainingY -= dy
	p.stateMu.Unlock()
	return p.Send(proto.TypeOdometry, proto.Odometry{X: int8(dx), Y: int8(dy)})
}

func clampStep(v int) int {
	switch {
	case v > odometryStep:
		return odometryStep
	case v < -odometryStep:
		return -odometryStep
	}
	return v
}

func (p *Peer) reportBattery() error {
	p.stateMu.Lock()
	if p.centivolts > 0 {
		p.centivolts--
	}
	cv := p.centivolts
	crossed := cv < batteryLowMark && !p.batteryLow
	if crossed {
		p.batteryLow = true
	}
	p.stateMu.Unlock()

	state := proto.BatteryNominal
	if cv < batteryLowMark {
		state = proto.BatteryLow
	}
	if err := p.Send(proto.TypeBattery, proto.Battery{Centivolts: cv, State: state}); err != nil {
		return err
	}
	if crossed {
		return p.Send(proto.TypeNotification, proto.Int{Value: proto.NotificationValue(proto.EventBatteryLow, true)})
	}
	return nil
}

// SetBattery overrides the simulated battery level.
func (p *Peer) SetBattery(centivolts uint16) {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	p.centivolts = centivolts
}

func (p *Peer) Stats() PeerStats {
	return PeerStats{
		Received:    p.received.Load(),
		Sent:        p.sent.Load(),
		Unhandled:   p.unhandled.Load(),
		WriteErrors: p.writeErrors.Load(),
		Decoder:     p.decoder.Stats(),
	}
}
