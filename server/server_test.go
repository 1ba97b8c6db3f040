package server

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/mbocsi/robobus/proto"
)

func TestSetupLoggerTo(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	if err := SetupLoggerTo(&buf, "warn", "text"); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	slog.Info("hidden")
	slog.Warn("shown", "device", "/dev/ttyO2")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("Expected info to be filtered, got %q", out)
	}
	if !strings.Contains(out, "device=/dev/ttyO2") {
		t.Errorf("Expected text output with device attr, got %q", out)
	}
}

func TestSetupLoggerTo_Invalid(t *testing.T) {
	var buf bytes.Buffer
	if err := SetupLoggerTo(&buf, "loud", "json"); err == nil {
		t.Error("Expected error for bad level")
	}
	if err := SetupLoggerTo(&buf, "info", "xml"); err == nil {
		t.Error("Expected error for bad format")
	}
}

func TestNewRobobusServer_DefaultSource(t *testing.T) {
	srv := NewRobobusServer(Options{})
	if srv.options.Source != proto.SourceBrain {
		t.Errorf("Expected default source %v, got %v", proto.SourceBrain, srv.options.Source)
	}
	if srv.Coordinator() == nil {
		t.Error("Expected a coordinator")
	}
}
