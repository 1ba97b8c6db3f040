package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

// TCPScheme prefixes a serial device that is reached through a TCP serial
// server (ser2net style) instead of a local UART.
const TCPScheme = "tcp://"

// TCPPort carries the serial byte stream over a TCP connection. Reads time
// out after the idle interval with ErrLineIdle, like a TermiosPort.
type TCPPort struct {
	conn   net.Conn
	idle   time.Duration
	closed atomic.Bool
}

func NewTCPPort(conn net.Conn, idle time.Duration) *TCPPort {
	if idle <= 0 {
		idle = 100 * time.Millisecond
	}
	return &TCPPort{conn: conn, idle: idle}
}

// DialTCPPort connects to a TCP serial server at addr.
func DialTCPPort(addr string, idle time.Duration) (*TCPPort, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	slog.Info("Connected to tcp serial server", "addr", addr)
	return NewTCPPort(conn, idle), nil
}

// AcceptTCPPort listens on addr and returns the first connection as a port.
// It gives up when ctx ends.
func AcceptTCPPort(ctx context.Context, addr string, idle time.Duration) (*TCPPort, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	defer l.Close()
	slog.Info("Waiting for the bus to connect", "addr", l.Addr().String())

	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	conn, err := l.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	slog.Info("Bus connected", "remote_addr", conn.RemoteAddr().String())
	return NewTCPPort(conn, idle), nil
}

// OpenPort opens device as a UART, or dials it when it carries TCPScheme.
func OpenPort(device string, baud int, idle time.Duration) (SerialPort, error) {
	if addr, ok := strings.CutPrefix(device, TCPScheme); ok {
		port, err := DialTCPPort(addr, idle)
		if err != nil {
			return nil, err
		}
		return port, nil
	}
	port, err := OpenSerialPort(device, baud, idle)
	if err != nil {
		return nil, err
	}
	return port, nil
}

func (p *TCPPort) Read(b []byte) (int, error) {
	if p.closed.Load() {
		return 0, os.ErrClosed
	}
	p.conn.SetReadDeadline(time.Now().Add(p.idle))
	n, err := p.conn.Read(b)
	if n > 0 {
		return n, nil
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return 0, ErrLineIdle
	}
	if p.closed.Load() || errors.Is(err, net.ErrClosed) {
		return 0, os.ErrClosed
	}
	return 0, err
}

func (p *TCPPort) Write(b []byte) (int, error) {
	if p.closed.Load() {
		return 0, os.ErrClosed
	}
	return p.conn.Write(b)
}

func (p *TCPPort) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.conn.Close()
}

func (p *TCPPort) RemoteAddr() string {
	return p.conn.RemoteAddr().String()
}
