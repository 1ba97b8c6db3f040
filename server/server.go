package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mbocsi/robobus/proto"
)

// ExternalSubscriber is a collaborator bound to topics at build time.
type ExternalSubscriber struct {
	Subscriber Subscriber
	Topics     []proto.Topic
}

type Options struct {
	Source       proto.Source         // id stamped on messages from this process
	PoolPrealloc int                  // free entries created up front
	PoolLimit    int                  // 0 lets the pool grow without a cap
	SysLog       SysLogConfig         // local log rendering and forwarding
	Responder    ResponderConfig      // ping and config answers
	Subscribers  []ExternalSubscriber // Optional extra subscribers
	PeerTimeout  time.Duration        // Optional silence before EventPeerSilent
	Context      context.Context      // Optional (defaults to context.Background())
}

type RobobusServer struct {
	options     Options
	coordinator *Coordinator
}

func NewRobobusServer(opts Options) *RobobusServer {
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	if opts.Source == proto.SourceUnknown {
		opts.Source = proto.SourceBrain
	}
	return &RobobusServer{
		options:     opts,
		coordinator: NewCoordinator(opts),
	}
}

func (s *RobobusServer) Coordinator() *Coordinator {
	return s.coordinator
}

// RegisterSerial attaches the microcontroller link and, when configured,
// watches it for silence.
func (s *RobobusServer) RegisterSerial(t *SerialTransport) error {
	if err := s.coordinator.RegisterTransport(t, SerialTopics...); err != nil {
		return err
	}
	if s.options.PeerTimeout > 0 {
		s.coordinator.WatchPeer(t.LastReceived, s.options.PeerTimeout)
	}
	return nil
}

func (s *RobobusServer) RegisterTransport(t Transport, topics ...proto.Topic) error {
	return s.coordinator.RegisterTransport(t, topics...)
}

func (s *RobobusServer) RegisterSubscriber(sub Subscriber, topics ...proto.Topic) error {
	return s.coordinator.RegisterSubscriber(sub, topics...)
}

// SetupLogger installs the default slog logger on stdout. format is "json"
// or "text".
func SetupLogger(level string, format string) error {
	return SetupLoggerTo(os.Stdout, level, format)
}

// SetupLoggerTo is SetupLogger writing to w, for processes whose stdout
// carries a protocol.
func SetupLoggerTo(w io.Writer, level string, format string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "", "json":
		handler = slog.NewJSONHandler(w, opts)
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		return fmt.Errorf("invalid log format %q", format)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

// Start runs the bus until SIGINT or SIGTERM.
func (s *RobobusServer) Start() error {
	ctx, stop := signal.NotifyContext(s.options.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.coordinator.Start(ctx)
}
