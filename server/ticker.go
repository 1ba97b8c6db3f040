package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/mbocsi/robobus/proto"
)

// Ticker publishes TICK_1S once a second with the process uptime and the
// active notification mask, then runs the registered tick hooks. Deadline
// checks hang off these hooks rather than off blocking calls.
type Ticker struct {
	registry      *proto.Registry
	source        proto.Source
	notifications *Notifications
	interval      time.Duration
	started       time.Time

	route func(*proto.Message)
	hooks []func(now time.Time)
}

func NewTicker(registry *proto.Registry, source proto.Source, notifications *Notifications) *Ticker {
	return &Ticker{
		registry:      registry,
		source:        source,
		notifications: notifications,
		interval:      time.Second,
		started:       time.Now(),
	}
}

func (t *Ticker) OnMessage(fn func(*proto.Message)) {
	t.route = fn
}

// OnTick registers fn to run after every tick. Hooks are registered before
// Run.
func (t *Ticker) OnTick(fn func(now time.Time)) {
	t.hooks = append(t.hooks, fn)
}

func (t *Ticker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			t.Tick(now)
		}
	}
}

// Tick publishes one tick as of now.
func (t *Ticker) Tick(now time.Time) {
	var active proto.Mask
	if t.notifications != nil {
		active = t.notifications.Active()
	}
	uptime := now.Sub(t.started) / time.Second
	if uptime < 0 {
		uptime = 0
	}
	msg, err := t.registry.New(proto.TypeTick, t.source, proto.Tick{Uptime: uint32(uptime), Active: active})
	if err != nil {
		slog.Error("Could not build tick", "error", err)
		return
	}
	if t.route != nil {
		t.route(&msg)
	}
	for _, hook := range t.hooks {
		hook(now)
	}
}
