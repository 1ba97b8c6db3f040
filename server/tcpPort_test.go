package server

import (
	"context"
	"errors"
	"net"
	"os"
	"testing"
	"time"
)

func TestTCPPort_ReadWriteAndIdle(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	l.Close()

	accepted := make(chan *TCPPort, 1)
	go func() {
		p, err := AcceptTCPPort(ctx, addr, 50*time.Millisecond)
		if err != nil {
			t.Errorf("Expected accept to succeed, got %v", err)
		}
		accepted <- p
	}()

	var dialed *TCPPort
	for i := 0; i < 50; i++ {
		dialed, err = DialTCPPort(addr, 50*time.Millisecond)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer dialed.Close()

	peer := <-accepted
	if peer == nil {
		t.Fatal("Expected an accepted port")
	}
	defer peer.Close()

	if _, err := dialed.Write([]byte{0xAA, 0x01}); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, 8)
	n, err := peer.Read(buf)
	if err != nil || n != 2 || buf[0] != 0xAA {
		t.Errorf("Expected 2 bytes starting 0xAA, got %d %x (%v)", n, buf[:n], err)
	}

	if _, err := peer.Read(buf); !errors.Is(err, ErrLineIdle) {
		t.Errorf("Expected ErrLineIdle, got %v", err)
	}

	peer.Close()
	if _, err := peer.Read(buf); !errors.Is(err, os.ErrClosed) {
		t.Errorf("Expected os.ErrClosed after close, got %v", err)
	}
}

func TestAcceptTCPPort_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := AcceptTCPPort(ctx, "127.0.0.1:0", time.Second); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestOpenPort_TCPScheme(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	go func() {
		if c, err := l.Accept(); err == nil {
			c.Close()
		}
	}()

	port, err := OpenPort(TCPScheme+l.Addr().String(), 57600, time.Second)
	if err != nil {
		t.Fatalf("Expected dial to succeed, got %v", err)
	}
	defer port.Close()
	if _, ok := port.(*TCPPort); !ok {
		t.Errorf("Expected *TCPPort, got %T", port)
	}
}
