//go:build !linux

package server

import (
	"fmt"
	"os"
	"runtime"
	"time"
)

type TermiosPort struct{}

func OpenSerialPort(device string, baud int, idle time.Duration) (*TermiosPort, error) {
	return nil, fmt.Errorf("serial ports are not supported on %s", runtime.GOOS)
}

func (p *TermiosPort) Read(b []byte) (int, error)  { return 0, ErrLinkClosed }
func (p *TermiosPort) Write(b []byte) (int, error) { return 0, ErrLinkClosed }
func (p *TermiosPort) Close() error                { return nil }

func OpenPTY() (*os.File, string, error) {
	return nil, "", fmt.Errorf("pseudo terminals are not supported on %s", runtime.GOOS)
}
