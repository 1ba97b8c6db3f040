package web

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"

	"github.com/hashicorp/mdns"
)

// MonitorService is the mDNS service type of the monitor.
const MonitorService = "_robobus._tcp"

// Advertiser announces the monitor's HTTP address over mDNS.
type Advertiser struct {
	server *mdns.Server
}

// Advertise starts answering mDNS queries for the monitor listening on addr.
// txt records are published as is.
func Advertise(addr string, txt ...string) (*Advertiser, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid monitor address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid monitor port %q: %w", portStr, err)
	}

	host, err := os.Hostname()
	if err != nil {
		host = "robobus"
	}
	service, err := mdns.NewMDNSService(host, MonitorService, "", "", port, nil, txt)
	if err != nil {
		return nil, fmt.Errorf("failed to describe mDNS service: %w", err)
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("failed to start mDNS responder: %w", err)
	}
	slog.Info("Advertising web monitor", "service", MonitorService, "port", port)
	return &Advertiser{server: server}, nil
}

func (a *Advertiser) Shutdown() error {
	return a.server.Shutdown()
}
