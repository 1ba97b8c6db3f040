package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mbocsi/robobus/proto"
)

type SysLogConfig struct {
	MinSeverity     proto.Severity // entries below are not rendered
	ForwardSeverity proto.Severity // local entries at or above go out as SYSLOG
}

// SysLog renders diagnostic log messages, local and remote, through slog and
// republishes serious local entries as SYSLOG so they reach the peer.
type SysLog struct {
	*Consumer
	config   SysLogConfig
	registry *proto.Registry
	source   proto.Source
	route    func(*proto.Message)
}

func NewSysLog(config SysLogConfig, registry *proto.Registry, pool *Pool, source proto.Source) *SysLog {
	s := &SysLog{config: config, registry: registry, source: source}
	s.Consumer = NewConsumer("syslog", pool, s.handle)
	return s
}

// OnMessage sets where forwarded and locally produced entries are routed.
func (s *SysLog) OnMessage(fn func(*proto.Message)) {
	s.route = fn
}

// Log publishes a LOCAL_LOG entry. file is the producing subsystem's short
// tag; the text is truncated to fit the payload.
func (s *SysLog) Log(sev proto.Severity, file string, format string, args ...any) error {
	if s.route == nil {
		return fmt.Errorf("syslog has no route")
	}
	msg, err := s.registry.New(proto.TypeLocalLog, s.source, proto.Log{
		Severity: sev,
		File:     file,
		Text:     fmt.Sprintf(format, args...),
	})
	if err != nil {
		return err
	}
	s.route(&msg)
	return nil
}

func (s *SysLog) handle(msg *proto.Message) {
	var entry proto.Log
	if err := s.registry.Decode(msg, &entry); err != nil {
		slog.Warn("Bad log payload", "type", msg.Header.Type, "source", msg.Header.Source, "error", err)
		return
	}

	// SYSLOG from ourselves is a forwarded copy of a LOCAL_LOG already rendered
	if msg.Header.Type == proto.TypeSysLog && msg.Header.Source == s.source {
		return
	}

	if entry.Severity >= s.config.MinSeverity {
		slog.Log(context.Background(), severityLevel(entry.Severity), entry.Text,
			"severity", entry.Severity,
			"file", entry.File,
			"source", msg.Header.Source,
		)
	}

	if msg.Header.Type == proto.TypeLocalLog && entry.Severity >= s.config.ForwardSeverity && s.route != nil {
		fwd, err := s.registry.New(proto.TypeSysLog, s.source, entry)
		if err != nil {
			slog.Error("Could not forward log entry", "error", err)
			return
		}
		s.route(&fwd)
	}
}

func severityLevel(s proto.Severity) slog.Level {
	switch s {
	case proto.SeverityRoutine:
		return slog.LevelDebug
	case proto.SeverityInfo:
		return slog.LevelInfo
	case proto.SeverityWarning:
		return slog.LevelWarn
	}
	return slog.LevelError
}
