//go:build linux

package server

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

var baudRates = map[int]uint32{
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
	230400: unix.B230400,
	460800: unix.B460800,
}

// TermiosPort is a UART opened raw 8N1. Reads return after at most the idle
// interval with ErrLineIdle when the line is quiet.
type TermiosPort struct {
	fd     int
	device string
	closed atomic.Bool

	mu sync.RWMutex // shared across each syscall on fd, exclusive in Close
}

// OpenSerialPort opens device at baud. idle is rounded to tenths of a second,
// the termios timer resolution, and clamped to 0.1s..25.5s.
func OpenSerialPort(device string, baud int, idle time.Duration) (*TermiosPort, error) {
	speed, ok := baudRates[baud]
	if !ok {
		return nil, fmt.Errorf("unsupported baud rate %d", baud)
	}

	fd, err := unix.Open(device, unix.O_RDWR|unix.O_NOCTTY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", device, err)
	}

	tio, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to read termios of %s: %w", device, err)
	}

	tio.Iflag = 0
	tio.Oflag = 0
	tio.Lflag = 0
	tio.Cflag = unix.CS8 | unix.CREAD | unix.CLOCAL | speed
	tio.Ispeed = speed
	tio.Ospeed = speed
	tio.Cc[unix.VMIN] = 0
	tio.Cc[unix.VTIME] = idleDeciseconds(idle)

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, tio); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to configure %s: %w", device, err)
	}
	if err := unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIOFLUSH); err != nil {
		slog.Warn("Could not flush serial buffers", "device", device, "error", err)
	}

	slog.Info("Serial port opened", "device", device, "baud", baud, "idle", idle)
	return &TermiosPort{fd: fd, device: device}, nil
}

func idleDeciseconds(idle time.Duration) uint8 {
	ds := idle / (100 * time.Millisecond)
	if ds < 1 {
		return 1
	}
	if ds > 255 {
		return 255
	}
	return uint8(ds)
}

func (p *TermiosPort) Read(b []byte) (int, error) {
	for {
		p.mu.RLock()
		if p.closed.Load() {
			p.mu.RUnlock()
			return 0, os.ErrClosed
		}
		n, err := unix.Read(p.fd, b)
		p.mu.RUnlock()
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", p.device, err)
		}
		if n == 0 {
			return 0, ErrLineIdle
		}
		return n, nil
	}
}

// Write issues a single write; a short count is reported, not retried.
func (p *TermiosPort) Write(b []byte) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed.Load() {
		return 0, os.ErrClosed
	}
	n, err := unix.Write(p.fd, b)
	if err != nil {
		return 0, fmt.Errorf("write %s: %w", p.device, err)
	}
	return n, nil
}

// Close waits for a read in progress, at most one idle interval, before
// releasing the descriptor.
func (p *TermiosPort) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return unix.Close(p.fd)
}

// OpenPTY creates a pseudo terminal and returns its master side and the path
// of the slave device, which OpenSerialPort accepts like a UART.
func OpenPTY() (*os.File, string, error) {
	master, err := os.OpenFile("/dev/ptmx", os.O_RDWR, 0)
	if err != nil {
		return nil, "", err
	}
	fd := int(master.Fd())
	if err := unix.IoctlSetPointerInt(fd, unix.TIOCSPTLCK, 0); err != nil {
		master.Close()
		return nil, "", fmt.Errorf("failed to unlock pty: %w", err)
	}
	n, err := unix.IoctlGetInt(fd, unix.TIOCGPTN)
	if err != nil {
		master.Close()
		return nil, "", fmt.Errorf("failed to get pty number: %w", err)
	}
	return master, fmt.Sprintf("/dev/pts/%d", n), nil
}
