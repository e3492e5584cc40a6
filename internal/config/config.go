// Package config loads the blaster configuration: defaults from the struct
// below, overridden by an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	yml "gopkg.in/yaml.v3"

	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/blaster"
	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/emulator"
	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/pins"
	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/usbip"
)

// DefaultFileName is looked up in the working directory when no file is given.
const DefaultFileName = "blaster.yml"

// Config is the full configuration.
type Config struct {
	Pins     Pins     `koanf:"pins" yaml:"pins"`
	Device   Device   `koanf:"device" yaml:"device"`
	Emulator Emulator `koanf:"emulator" yaml:"emulator"`
	USBIP    USBIP    `koanf:"usbip" yaml:"usbip"`
	Host     Host     `koanf:"host" yaml:"host"`
	Log      Log      `koanf:"log" yaml:"log"`
}

// Pins selects the GPIO backend driving the JTAG lines.
type Pins struct {
	Backend string     `koanf:"backend" yaml:"backend"`
	Names   pins.Names `koanf:"names" yaml:"names"`
}

// Device holds the emulated USB-Blaster options.
type Device struct {
	PacketSize       int   `koanf:"packet_size" yaml:"packet_size"`
	InboundSize      int   `koanf:"inbound_size" yaml:"inbound_size"`
	ReadMarker       uint8 `koanf:"read_marker" yaml:"read_marker"`
	EchoOnShiftEntry bool  `koanf:"echo_on_shift_entry" yaml:"echo_on_shift_entry"`
}

// Emulator holds the device loop timing.
type Emulator struct {
	PollInterval time.Duration `koanf:"poll_interval" yaml:"poll_interval"`
	Heartbeat    time.Duration `koanf:"heartbeat" yaml:"heartbeat"`
}

// USBIP configures the network export.
type USBIP struct {
	Listen string `koanf:"listen" yaml:"listen"`
	BusID  string `koanf:"busid" yaml:"busid"`
}

// Host configures the host-side tools.
type Host struct {
	// Adapter is usb, emulator or bitbang.
	Adapter string        `koanf:"adapter" yaml:"adapter"`
	SpeedHz int           `koanf:"speed_hz" yaml:"speed_hz"`
	Timeout time.Duration `koanf:"timeout" yaml:"timeout"`
}

// Log configures the slog handler.
type Log struct {
	Level  string `koanf:"level" yaml:"level"`
	Format string `koanf:"format" yaml:"format"`
}

// Host adapters.
const (
	AdapterUSB      = "usb"
	AdapterEmulator = "emulator"
	AdapterBitBang  = "bitbang"
)

// Default returns a stock USB-Blaster on a simulated chain.
func Default() Config {
	dev := blaster.DefaultOptions()
	emu := emulator.DefaultOptions()
	return Config{
		Pins: Pins{Backend: string(pins.KindSim)},
		Device: Device{
			PacketSize:  dev.PacketSize,
			InboundSize: dev.InboundSize,
			ReadMarker:  dev.ReadMarker,
		},
		Emulator: Emulator{
			PollInterval: emu.PollInterval,
			Heartbeat:    emu.Heartbeat,
		},
		USBIP: USBIP{
			Listen: fmt.Sprintf(":%d", usbip.DefaultPort),
			BusID:  usbip.DefaultBusID,
		},
		Host: Host{
			Adapter: AdapterUSB,
			SpeedHz: 6_000_000,
			Timeout: time.Second,
		},
		Log: Log{Level: "info", Format: "text"},
	}
}

// Load layers the YAML file at path over the defaults. A missing file is an
// error only when mustExist is set.
func Load(path string, mustExist bool) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("config: defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if mustExist || !errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("config: load %s: %w", path, err)
			}
		}
	}
	var c Config
	if err := k.Unmarshal("", &c); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return c, c.Validate()
}

// Validate checks every section.
func (c Config) Validate() error {
	var errs []error
	switch kind := pins.Kind(c.Pins.Backend); kind {
	case pins.KindSim:
	case pins.KindPeriph, pins.KindRpio:
		if err := c.Pins.Names.Validate(); err != nil {
			errs = append(errs, err)
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown pin backend %q", c.Pins.Backend))
	}
	if err := c.EmulatorOptions().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Device.InboundSize < c.Device.PacketSize {
		errs = append(errs, fmt.Errorf("config: inbound size %d smaller than packet size %d", c.Device.InboundSize, c.Device.PacketSize))
	}
	switch c.Host.Adapter {
	case AdapterUSB, AdapterEmulator, AdapterBitBang:
	default:
		errs = append(errs, fmt.Errorf("config: unknown host adapter %q", c.Host.Adapter))
	}
	if _, err := c.Log.Logger(io.Discard); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// DeviceOptions returns the blaster options.
func (c Config) DeviceOptions() blaster.Options {
	o := blaster.DefaultOptions()
	o.PacketSize = c.Device.PacketSize
	o.InboundSize = c.Device.InboundSize
	o.ReadMarker = c.Device.ReadMarker
	o.EchoOnShiftEntry = c.Device.EchoOnShiftEntry
	return o
}

// EmulatorOptions returns the device loop options.
func (c Config) EmulatorOptions() emulator.Options {
	return emulator.Options{
		Device:       c.DeviceOptions(),
		PollInterval: c.Emulator.PollInterval,
		Heartbeat:    c.Emulator.Heartbeat,
	}
}

func (l Log) level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return lvl, fmt.Errorf("config: log level: %w", err)
	}
	return lvl, nil
}

// Logger builds the configured handler writing to w.
func (l Log) Logger(w io.Writer) (*slog.Logger, error) {
	lvl, err := l.level()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(l.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("config: unknown log format %q", l.Format)
}

// Dump writes c as YAML.
func (c Config) Dump(w io.Writer) error {
	enc := yml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return err
	}
	return enc.Close()
}
