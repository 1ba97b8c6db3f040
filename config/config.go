package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/mbocsi/robobus/proto"
	"github.com/mbocsi/robobus/server"
)

// Duration reads TOML strings such as "500ms" or "10s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type Config struct {
	Bus       BusConfig       `toml:"bus"`
	Serial    SerialConfig    `toml:"serial"`
	Log       LogConfig       `toml:"log"`
	Web       WebConfig       `toml:"web"`
	MCP       MCPConfig       `toml:"mcp"`
	Responder ResponderConfig `toml:"responder"`
}

type BusConfig struct {
	Source       uint8    `toml:"source"`
	PoolPrealloc int      `toml:"pool_prealloc"`
	PoolLimit    int      `toml:"pool_limit"` // 0: grow without a cap
	PeerTimeout  Duration `toml:"peer_timeout"`
}

type SerialConfig struct {
	Enabled     bool        `toml:"enabled"`
	Device      string      `toml:"device"`
	BaudRate    int         `toml:"baud_rate"`
	Throttle    bool        `toml:"throttle"`
	IdleTimeout Duration    `toml:"idle_timeout"`
	Quota       QuotaConfig `toml:"quota"`
}

// QuotaConfig caps outstanding log messages per severity on the link.
type QuotaConfig struct {
	Routine int `toml:"routine"`
	Info    int `toml:"info"`
	Warning int `toml:"warning"`
	Error   int `toml:"error"`
	Failure int `toml:"failure"`
}

type LogConfig struct {
	Level           string         `toml:"level"`
	Format          string         `toml:"format"`
	MinSeverity     proto.Severity `toml:"min_severity"`
	ForwardSeverity proto.Severity `toml:"forward_severity"`
}

type WebConfig struct {
	Enabled   bool   `toml:"enabled"`
	Addr      string `toml:"addr"`
	Advertise bool   `toml:"advertise"` // announce the monitor over mDNS
}

type MCPConfig struct {
	Enabled bool `toml:"enabled"`
}

type ResponderConfig struct {
	Subsystem string          `toml:"subsystem"`
	Name      string          `toml:"name"`
	Options   []OptionConfig  `toml:"option"`
	Settings  []SettingConfig `toml:"setting"`
}

type OptionConfig struct {
	Name  string `toml:"name"`
	Value int32  `toml:"value"`
	Min   int32  `toml:"min"`
	Max   int32  `toml:"max"`
}

type SettingConfig struct {
	Name  string  `toml:"name"`
	Value float32 `toml:"value"`
	Min   float32 `toml:"min"`
	Max   float32 `toml:"max"`
}

// Default is the configuration of the robot's main control board.
func Default() Config {
	return Config{
		Bus: BusConfig{
			Source:       uint8(proto.SourceBrain),
			PoolPrealloc: 100,
			PeerTimeout:  Duration{10 * time.Second},
		},
		Serial: SerialConfig{
			Enabled:     true,
			Device:      "/dev/ttyO2",
			BaudRate:    57600,
			IdleTimeout: Duration{500 * time.Millisecond},
			Quota:       QuotaConfig{Routine: 1, Info: 1, Warning: 1, Error: 10, Failure: 10},
		},
		Log: LogConfig{
			Level:           "info",
			Format:          "json",
			MinSeverity:     proto.SeverityInfo,
			ForwardSeverity: proto.SeverityError,
		},
		Web: WebConfig{
			Enabled: true,
			Addr:    ":8080",
		},
		Responder: ResponderConfig{
			Subsystem: "OVM",
			Name:      "robobus",
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		slog.Warn("Ignoring unknown configuration keys", "file", path, "keys", strings.Join(keys, ","))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every problem found, joined.
func (c Config) Validate() error {
	var errs []error

	if c.Bus.Source == uint8(proto.SourceUnknown) {
		errs = append(errs, errors.New("bus.source must not be 0"))
	}
	if c.Bus.PoolPrealloc < 0 || c.Bus.PoolLimit < 0 {
		errs = append(errs, errors.New("bus pool sizes must not be negative"))
	}
	if c.Bus.PoolLimit > 0 && c.Bus.PoolLimit < c.Bus.PoolPrealloc {
		errs = append(errs, fmt.Errorf("bus.pool_limit %d is below pool_prealloc %d", c.Bus.PoolLimit, c.Bus.PoolPrealloc))
	}

	if c.Serial.Enabled {
		if c.Serial.Device == "" {
			errs = append(errs, errors.New("serial.device is required"))
		}
		if c.Serial.BaudRate <= 0 {
			errs = append(errs, fmt.Errorf("serial.baud_rate %d is invalid", c.Serial.BaudRate))
		}
	}
	for sev, limit := range c.Serial.Quota.limits() {
		if limit < 0 {
			errs = append(errs, fmt.Errorf("serial.quota for %s must not be negative", proto.Severity(sev)))
		}
	}

	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not json or text", c.Log.Format))
	}
	if !c.Log.MinSeverity.Valid() || !c.Log.ForwardSeverity.Valid() {
		errs = append(errs, errors.New("log severities must be ROUTINE..FAILURE"))
	}

	if c.Web.Enabled && c.Web.Addr == "" {
		errs = append(errs, errors.New("web.addr is required"))
	}

	if len(c.Responder.Subsystem) > proto.SubsystemLength {
		errs = append(errs, fmt.Errorf("responder.subsystem %q is longer than %d", c.Responder.Subsystem, proto.SubsystemLength))
	}
	for _, o := range c.Responder.Options {
		if o.Name == "" || len(o.Name) > proto.NameLength {
			errs = append(errs, fmt.Errorf("option name %q must be 1..%d bytes", o.Name, proto.NameLength))
		}
		if !(o.Min <= o.Max && o.Value >= o.Min && o.Value <= o.Max) {
			errs = append(errs, fmt.Errorf("option %s value %d outside %d..%d", o.Name, o.Value, o.Min, o.Max))
		}
	}
	for _, s := range c.Responder.Settings {
		if s.Name == "" || len(s.Name) > proto.NameLength {
			errs = append(errs, fmt.Errorf("setting name %q must be 1..%d bytes", s.Name, proto.NameLength))
		}
		if !(s.Min <= s.Max && s.Value >= s.Min && s.Value <= s.Max) {
			errs = append(errs, fmt.Errorf("setting %s value %g outside %g..%g", s.Name, s.Value, s.Min, s.Max))
		}
	}
	if total := len(c.Responder.Options) + len(c.Responder.Settings); total > 255 {
		errs = append(errs, fmt.Errorf("%d options and settings do not fit CONFIG_DONE", total))
	}

	return errors.Join(errs...)
}

func (q QuotaConfig) limits() [proto.SeverityCount]int {
	return [proto.SeverityCount]int{q.Routine, q.Info, q.Warning, q.Error, q.Failure}
}

// ServerOptions maps the configuration onto the bus options.
func (c Config) ServerOptions() server.Options {
	opts := server.Options{
		Source:       proto.Source(c.Bus.Source),
		PoolPrealloc: c.Bus.PoolPrealloc,
		PoolLimit:    c.Bus.PoolLimit,
		SysLog: server.SysLogConfig{
			MinSeverity:     c.Log.MinSeverity,
			ForwardSeverity: c.Log.ForwardSeverity,
		},
		Responder: server.ResponderConfig{
			Subsystem: c.Responder.Subsystem,
			Name:      c.Responder.Name,
		},
	}
	if c.Serial.Enabled {
		opts.PeerTimeout = c.Bus.PeerTimeout.Duration
	}
	for _, o := range c.Responder.Options {
		opts.Responder.Options = append(opts.Responder.Options, server.Option(o))
	}
	for _, s := range c.Responder.Settings {
		opts.Responder.Settings = append(opts.Responder.Settings, server.Setting(s))
	}
	return opts
}

func (c Config) SerialConfig() server.SerialConfig {
	return server.SerialConfig{
		Device:   c.Serial.Device,
		BaudRate: c.Serial.BaudRate,
		Source:   proto.Source(c.Bus.Source),
		Quota:    c.Serial.Quota.limits(),
		Throttle: c.Serial.Throttle,
	}
}
