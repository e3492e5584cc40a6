package pins

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/stianeikeland/go-rpio/v4"

	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/blaster"
)

type rpioOut rpio.Pin

func (o rpioOut) SetHigh() error {
	rpio.Pin(o).Write(rpio.High)
	return nil
}

func (o rpioOut) SetLow() error {
	rpio.Pin(o).Write(rpio.Low)
	return nil
}

type rpioIn rpio.Pin

func (i rpioIn) IsHigh() (bool, error) { return rpio.Pin(i).Read() == rpio.High, nil }

// OpenRpio maps /dev/gpiomem and claims the BCM pins listed in names.
func OpenRpio(names Names) (blaster.Pins, io.Closer, error) {
	nums, err := bcmNumbers(names)
	if err != nil {
		return blaster.Pins{}, nil, err
	}
	if err := rpio.Open(); err != nil {
		return blaster.Pins{}, nil, fmt.Errorf("pins: open gpiomem: %w", err)
	}

	tdi, tck, tms, tdo := rpio.Pin(nums[0]), rpio.Pin(nums[1]), rpio.Pin(nums[2]), rpio.Pin(nums[3])
	for _, p := range []rpio.Pin{tdi, tck, tms} {
		p.Output()
		p.Write(rpio.Low)
	}
	tdo.Input()
	tdo.PullUp()

	pins := blaster.Pins{
		TDI: rpioOut(tdi),
		TCK: rpioOut(tck),
		TMS: rpioOut(tms),
		TDO: rpioIn(tdo),
	}
	release := closerFunc(func() error {
		for _, p := range []rpio.Pin{tdi, tck, tms} {
			p.Input()
		}
		return rpio.Close()
	})
	return pins, release, nil
}

// bcmNumbers parses TDI, TCK, TMS and TDO as BCM numbers, accepting an
// optional GPIO prefix.
func bcmNumbers(names Names) ([4]int, error) {
	var out [4]int
	if err := names.Validate(); err != nil {
		return out, err
	}
	seen := make(map[int]string, 4)
	for i, f := range []struct{ signal, value string }{
		{"tdi", names.TDI}, {"tck", names.TCK}, {"tms", names.TMS}, {"tdo", names.TDO},
	} {
		v := strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(f.value)), "GPIO")
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 53 {
			return out, fmt.Errorf("pins: %s: %q is not a BCM pin number", f.signal, f.value)
		}
		if other, dup := seen[n]; dup {
			return out, fmt.Errorf("pins: %s and %s both use BCM %d", other, f.signal, n)
		}
		seen[n] = f.signal
		out[i] = n
	}
	return out, nil
}
