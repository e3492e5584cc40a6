package pins

import (
	"fmt"
	"io"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/blaster"
)

type periphOut struct {
	p gpio.PinIO
}

func (o periphOut) SetHigh() error { return o.p.Out(gpio.High) }
func (o periphOut) SetLow() error  { return o.p.Out(gpio.Low) }

type periphIn struct {
	p gpio.PinIO
}

func (i periphIn) IsHigh() (bool, error) { return i.p.Read() == gpio.High, nil }

// OpenPeriph initializes the periph host drivers and looks the pins up by
// name in the GPIO registry.
func OpenPeriph(names Names) (blaster.Pins, io.Closer, error) {
	if _, err := host.Init(); err != nil {
		return blaster.Pins{}, nil, fmt.Errorf("pins: periph init: %w", err)
	}
	return periphPins(names)
}

func periphPins(names Names) (blaster.Pins, io.Closer, error) {
	if err := names.Validate(); err != nil {
		return blaster.Pins{}, nil, err
	}
	lookup := func(name string) (gpio.PinIO, error) {
		p := gpioreg.ByName(name)
		if p == nil {
			return nil, fmt.Errorf("pins: no GPIO named %q", name)
		}
		return p, nil
	}

	var outs [3]gpio.PinIO
	for i, name := range []string{names.TDI, names.TCK, names.TMS} {
		p, err := lookup(name)
		if err != nil {
			return blaster.Pins{}, nil, err
		}
		if err := p.Out(gpio.Low); err != nil {
			return blaster.Pins{}, nil, fmt.Errorf("pins: %s as output: %w", name, err)
		}
		outs[i] = p
	}
	tdo, err := lookup(names.TDO)
	if err != nil {
		return blaster.Pins{}, nil, err
	}
	if err := tdo.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return blaster.Pins{}, nil, fmt.Errorf("pins: %s as input: %w", names.TDO, err)
	}

	pins := blaster.Pins{
		TDI: periphOut{outs[0]},
		TCK: periphOut{outs[1]},
		TMS: periphOut{outs[2]},
		TDO: periphIn{tdo},
	}
	// Release the outputs so nothing keeps driving the target.
	release := closerFunc(func() error {
		var first error
		for _, p := range outs {
			if err := p.In(gpio.PullNoChange, gpio.NoEdge); err != nil && first == nil {
				first = err
			}
		}
		return first
	})
	return pins, release, nil
}
