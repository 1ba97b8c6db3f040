package server

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mbocsi/robobus/proto"
)

type Option struct {
	Name  string `json:"name"`
	Value int32  `json:"value"`
	Min   int32  `json:"min"`
	Max   int32  `json:"max"`
}

type Setting struct {
	Name  string  `json:"name"`
	Value float32 `json:"value"`
	Min   float32 `json:"min"`
	Max   float32 `json:"max"`
}

type ResponderConfig struct {
	Subsystem string // short tag returned in PING_RESPONSE
	Name      string
	Options   []Option
	Settings  []Setting
}

// Responder answers announcements addressed to this process: PING gets a
// PING_RESPONSE and CONFIG for our id gets the option and setting tables.
// SET_OPTION and NEW_SETTING update those tables within their bounds.
type Responder struct {
	*Consumer
	config   ResponderConfig
	registry *proto.Registry
	source   proto.Source
	route    func(*proto.Message)

	mu       sync.RWMutex
	options  []Option
	settings []Setting

	replied atomic.Bool
}

func NewResponder(config ResponderConfig, registry *proto.Registry, pool *Pool, source proto.Source) *Responder {
	r := &Responder{
		config:   config,
		registry: registry,
		source:   source,
		options:  append([]Option(nil), config.Options...),
		settings: append([]Setting(nil), config.Settings...),
	}
	r.Consumer = NewConsumer("responder", pool, r.handle)
	return r
}

func (r *Responder) OnMessage(fn func(*proto.Message)) {
	r.route = fn
}

func (r *Responder) Options() []Option {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Option(nil), r.options...)
}

func (r *Responder) Settings() []Setting {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Setting(nil), r.settings...)
}

func (r *Responder) handle(msg *proto.Message) {
	if r.route == nil {
		return
	}
	switch msg.Header.Type {
	case proto.TypePing:
		r.publish(proto.TypePingResponse, proto.PingResponse{
			Subsystem: r.config.Subsystem,
			Startup:   !r.replied.Swap(true),
			Name:      r.config.Name,
		})
		slog.Debug("Answered ping", "from", msg.Header.Source)

	case proto.TypeConfig:
		var target proto.Byte
		if err := r.registry.Decode(msg, &target); err != nil || proto.Source(target.Value) != r.source {
			return
		}
		r.sendConfig()

	case proto.TypeSetOption:
		var p proto.NameInt
		if err := r.registry.Decode(msg, &p); err != nil {
			return
		}
		r.setOption(p.Name, p.Value)

	case proto.TypeNewSetting:
		var p proto.NameFloat
		if err := r.registry.Decode(msg, &p); err != nil {
			return
		}
		r.setSetting(p.Name, p.Value)
	}
}

func (r *Responder) sendConfig() {
	options := r.Options()
	settings := r.Settings()

	count := 0
	for _, o := range options {
		if r.publish(proto.TypeOption, proto.Name3Int{Name: o.Name, Value: o.Value, Min: o.Min, Max: o.Max}) {
			count++
		}
	}
	for _, s := range settings {
		if r.publish(proto.TypeSetting, proto.Name3Float{Name: s.Name, Value: s.Value, Min: s.Min, Max: s.Max}) {
			count++
		}
	}
	r.publish(proto.TypeConfigDone, proto.Byte{Value: uint8(count)})
	slog.Info("Sent configuration", "options", len(options), "settings", len(settings))
}

func (r *Responder) setOption(name string, value int32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.options {
		o := &r.options[i]
		if o.Name != name {
			continue
		}
		if !(value >= o.Min && value <= o.Max) {
			slog.Warn("Option value out of range", "name", name, "value", value, "min", o.Min, "max", o.Max)
			return
		}
		o.Value = value
		slog.Info("Option updated", "name", name, "value", value)
		return
	}
	slog.Debug("Unknown option", "name", name)
}

func (r *Responder) setSetting(name string, value float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.settings {
		s := &r.settings[i]
		if s.Name != name {
			continue
		}
		// NaN fails both comparisons
		if !(value >= s.Min && value <= s.Max) {
			slog.Warn("Setting value out of range", "name", name, "value", value, "min", s.Min, "max", s.Max)
			return
		}
		s.Value = value
		slog.Info("Setting updated", "name", name, "value", value)
		return
	}
	slog.Debug("Unknown setting", "name", name)
}

func (r *Responder) publish(t proto.Type, p proto.Payload) bool {
	msg, err := r.registry.New(t, r.source, p)
	if err != nil {
		slog.Error("Could not build response", "type", t, "error", err)
		return false
	}
	r.route(&msg)
	return true
}
