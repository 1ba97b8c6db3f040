package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mbocsi/robobus/client"
	"github.com/mbocsi/robobus/proto"
	"github.com/mbocsi/robobus/server"
)

func main() {
	device := flag.String("device", "", "serial device to attach to; empty creates a pty and prints its path")
	baud := flag.Int("baud", 57600, "baud rate when attaching to a device")
	odometry := flag.Duration("odometry", 200*time.Millisecond, "odometry report interval, 0 disables")
	battery := flag.Duration("battery", 5*time.Second, "battery report interval, 0 disables")
	listen := flag.String("listen", "", "serve the link over tcp at this address instead, for a bus with device \"tcp://host:port\"")
	discover := flag.Bool("discover", false, "find the bus monitor over mDNS and log its view of the link")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	if err := server.SetupLogger(*level, "text"); err != nil {
		fmt.Fprintln(os.Stderr, "peersim:", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var link io.ReadWriteCloser
	var err error
	if *listen != "" {
		link, err = server.AcceptTCPPort(ctx, *listen, time.Second)
	} else {
		link, err = openLink(*device, *baud)
	}
	if err != nil {
		slog.Error("Could not open link", "error", err.Error())
		os.Exit(1)
	}

	peer := client.NewPeer(client.PeerConfig{
		Name:             "peersim",
		Subsystem:        "PIC",
		Source:           proto.SourceMCU,
		OdometryInterval: *odometry,
		BatteryInterval:  *battery,
		Options: []proto.Name3Int{
			{Name: "MotorGain", Value: 4, Min: 1, Max: 10},
		},
		Settings: []proto.Name3Float{
			{Name: "WheelBase", Value: 0.31, Min: 0.1, Max: 1},
		},
	}, link)

	if *discover {
		go watchMonitor(ctx)
	}

	go func() {
		<-time.After(time.Second)
		if err := peer.Log(proto.SeverityInfo, "PSIM", "peer simulator up"); err != nil {
			slog.Warn("Could not send startup log", "error", err)
		}
	}()

	if err := peer.Run(ctx); err != nil && !errors.Is(err, io.EOF) {
		slog.Error("Peer stopped", "error", err.Error())
		os.Exit(1)
	}
	stats := peer.Stats()
	slog.Info("Peer stopped", "received", stats.Received, "sent", stats.Sent, "checksum_errors", stats.Decoder.ChecksumErrors)
}

func openLink(device string, baud int) (io.ReadWriteCloser, error) {
	if device != "" {
		return server.OpenSerialPort(device, baud, time.Second)
	}
	master, slave, err := server.OpenPTY()
	if err != nil {
		return nil, err
	}
	// holding the slave open in raw mode keeps the master readable, and
	// stops the line discipline echoing, until the bus attaches
	hold, err := server.OpenSerialPort(slave, baud, time.Second)
	if err != nil {
		master.Close()
		return nil, err
	}
	slog.Info("Created pty, point the bus's serial device at it", "device", slave)
	return &ptyLink{File: master, slave: hold}, nil
}

type ptyLink struct {
	*os.File
	slave io.Closer
}

func (l *ptyLink) Close() error {
	l.slave.Close()
	return l.File.Close()
}

// watchMonitor logs the bus's serial statistics every few seconds.
func watchMonitor(ctx context.Context) {
	service, err := client.DiscoverMonitor(5 * time.Second)
	if err != nil {
		slog.Warn("No bus monitor found", "error", err)
		return
	}
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		resp, err := http.Get(service.URL() + "/api/stats")
		if err != nil {
			slog.Warn("Could not read bus stats", "error", err)
			continue
		}
		var stats struct {
			Serial []server.SerialStats `json:"serial"`
		}
		err = json.NewDecoder(resp.Body).Decode(&stats)
		resp.Body.Close()
		if err != nil {
			continue
		}
		for _, s := range stats.Serial {
			slog.Info("Bus view of the link", "received", s.Received, "transmitted", s.Transmitted,
				"checksum_errors", s.Decoder.ChecksumErrors, "sequence_gaps", s.Decoder.SequenceGaps)
		}
	}
}
