package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mbocsi/robobus/config"
	"github.com/mbocsi/robobus/mcp"
	"github.com/mbocsi/robobus/proto"
	"github.com/mbocsi/robobus/server"
	"github.com/mbocsi/robobus/services"
	"github.com/mbocsi/robobus/web"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "path to the TOML configuration (defaults apply when empty)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "robobus:", err)
		os.Exit(1)
	}

	// stdout belongs to the MCP protocol when it is enabled
	var logOut io.Writer = os.Stdout
	if cfg.MCP.Enabled {
		logOut = os.Stderr
	}
	if err := server.SetupLoggerTo(logOut, cfg.Log.Level, cfg.Log.Format); err != nil {
		fmt.Fprintln(os.Stderr, "robobus:", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		slog.Error("Error running robobus", "error", err.Error())
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	opts := cfg.ServerOptions()
	opts.Context = gctx
	srv := server.NewRobobusServer(opts)
	coordinator := srv.Coordinator()

	if cfg.Serial.Enabled {
		port, err := server.OpenPort(cfg.Serial.Device, cfg.Serial.BaudRate, cfg.Serial.IdleTimeout.Duration)
		if err != nil {
			slog.Error("Could not open serial port, running without the microcontroller link",
				"device", cfg.Serial.Device, "error", err.Error())
		} else {
			serial := server.NewSerialTransport(cfg.SerialConfig(), port, coordinator.Registry, coordinator.Pool)
			serial.SetName("Microcontroller link")
			if tcp, ok := port.(*server.TCPPort); ok {
				serial.SetDescription(fmt.Sprintf("TCP serial server %s", tcp.RemoteAddr()))
			} else {
				serial.SetDescription(fmt.Sprintf("UART %s at %d baud", cfg.Serial.Device, cfg.Serial.BaudRate))
			}
			if err := srv.RegisterSerial(serial); err != nil {
				return err
			}
		}
	}

	serviceManager, err := services.NewServiceManager(coordinator)
	if err != nil {
		return err
	}
	svc := serviceManager.GetServices()

	if cfg.Web.Enabled {
		monitor := web.NewMonitor(svc)
		if err := srv.RegisterSubscriber(monitor, proto.Topics()...); err != nil {
			return err
		}
		httpServer := web.NewServer(cfg.Web.Addr, monitor)
		g.Go(func() error {
			if err := httpServer.Start(gctx); err != nil {
				slog.Error("Web monitor stopped", "addr", cfg.Web.Addr, "error", err.Error())
			}
			return nil
		})

		if cfg.Web.Advertise {
			advertiser, err := web.Advertise(cfg.Web.Addr, "source="+proto.Source(cfg.Bus.Source).String())
			if err != nil {
				slog.Warn("Could not advertise web monitor", "error", err.Error())
			} else {
				defer advertiser.Shutdown()
			}
		}
	}

	if cfg.MCP.Enabled {
		mcpServer := mcp.NewMCPServer()
		mcp.NewTools(svc).Register(mcpServer)
		go func() {
			if err := mcpServer.Run(); err != nil {
				slog.Error("MCP server stopped", "error", err.Error())
			}
			stop()
		}()
	}

	if err := coordinator.Freeze(); err != nil {
		return err
	}
	g.Go(srv.Start)

	if err := coordinator.SysLog.Log(proto.SeverityInfo, "MAIN", "robobus started, source %s", opts.Source); err != nil {
		slog.Warn("Could not log startup", "error", err)
	}
	return g.Wait()
}
