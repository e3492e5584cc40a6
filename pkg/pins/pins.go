// Package pins binds the four JTAG signals of an emulated USB-Blaster to
// real GPIO lines, or to a simulated scan chain when no hardware is around.
package pins

import (
	"fmt"
	"io"
	"strings"

	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/blaster"
	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/jtag"
)

// Kind selects a GPIO backend.
type Kind string

const (
	// KindPeriph uses the periph.io driver registry (sysfs, gpiomem, FTDI...).
	KindPeriph Kind = "periph"
	// KindRpio drives Raspberry Pi BCM pins directly through /dev/gpiomem.
	KindRpio Kind = "rpio"
	// KindSim wires the pins to a simulated Altera chain.
	KindSim Kind = "sim"
)

// Names maps each JTAG signal to a backend pin name: a periph registry name
// such as "GPIO17", or a BCM number for rpio. KindSim ignores them.
type Names struct {
	TDI string `koanf:"tdi" yaml:"tdi"`
	TCK string `koanf:"tck" yaml:"tck"`
	TMS string `koanf:"tms" yaml:"tms"`
	TDO string `koanf:"tdo" yaml:"tdo"`
}

// Validate reports missing pin names.
func (n Names) Validate() error {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"tdi", n.TDI}, {"tck", n.TCK}, {"tms", n.TMS}, {"tdo", n.TDO},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("pins: missing pin names: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Open claims the four pins on the chosen backend. Outputs start low and
// TDO is pulled up. The closer releases the backend.
func Open(kind Kind, names Names) (blaster.Pins, io.Closer, error) {
	switch kind {
	case KindPeriph:
		return OpenPeriph(names)
	case KindRpio:
		return OpenRpio(names)
	case KindSim:
		sim := jtag.NewChainSimulator(jtag.SimCycloneIV, jtag.SimMAXII)
		return sim.Pins(), nopCloser{}, nil
	default:
		return blaster.Pins{}, nil, fmt.Errorf("pins: unknown backend %q", kind)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
