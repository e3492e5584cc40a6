package blaster

import (
	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/tap"
)

// Command byte layout.
const (
	FlagShift     byte = 0x80
	FlagRead      byte = 0x40
	ShiftCountMax byte = 0x3F

	BitTCK byte = 0x01
	BitTMS byte = 0x02
	BitNCE byte = 0x04
	BitNCS byte = 0x08
	BitTDI byte = 0x10
	BitOE  byte = 0x20
)

// Response bits of a bit-bang read.
const (
	InTDO     byte = 0x01
	InDataOut byte = 0x02
)

// DefaultReadMarker is ORed into every bit-bang read response.
const DefaultReadMarker = InDataOut

// Port interprets the USB-Blaster byte stream against the JTAG pins.
type Port struct {
	pins Pins

	state          tap.State
	shiftRemaining byte
	shiftRegister  byte
	readEnabled    bool
	clockLatched   bool

	marker      byte
	echoOnShift bool
}

// NewPort takes ownership of pins. marker is the bit ORed into bit-bang read
// responses; echo makes a SHIFT command with READ emit the current shift
// register immediately.
func NewPort(pins Pins, marker byte, echo bool) *Port {
	return &Port{
		pins:        pins,
		state:       tap.StateTestLogicReset,
		marker:      marker &^ InTDO,
		echoOnShift: echo,
	}
}

// State reports the TAP state as derived from the clock releases seen so far.
func (p *Port) State() tap.State { return p.state }

// ShiftRemaining reports how many data bytes of the current burst are pending.
func (p *Port) ShiftRemaining() int { return int(p.shiftRemaining) }

// Reset returns the port to its initial state and drives all outputs low.
func (p *Port) Reset() error {
	p.shiftRemaining = 0
	p.shiftRegister = 0
	p.readEnabled = false
	p.clockLatched = false
	for _, out := range []struct {
		pin  OutputPin
		name string
	}{
		{p.pins.TDI, "TDI"},
		{p.pins.TCK, "TCK"},
		{p.pins.TMS, "TMS"},
	} {
		if err := drive(out.pin, out.name, false); err != nil {
			p.state = tap.StateFault
			return err
		}
	}
	p.state = tap.StateTestLogicReset
	return nil
}

// handle consumes bytes from in until it is empty or out has no room. Only
// the bytes actually consumed are removed from in.
func (p *Port) handle(in, out *fifo) error {
	consumed := 0
	defer func() { in.Discard(consumed) }()

	for _, b := range in.Bytes() {
		if out.Full() {
			return nil
		}
		consumed++
		resp, ok, err := p.step(b)
		if err != nil {
			p.state = tap.StateFault
			return err
		}
		if ok {
			out.Push(resp)
		}
	}
	return nil
}

func (p *Port) step(b byte) (byte, bool, error) {
	if p.shiftRemaining > 0 {
		p.shiftRemaining--
		if p.readEnabled {
			v, err := p.shiftIO(b)
			return v, true, err
		}
		return 0, false, p.shiftOut(b)
	}

	p.readEnabled = b&FlagRead != 0
	if b&FlagShift != 0 {
		p.shiftRemaining = b & ShiftCountMax
		if p.readEnabled && p.echoOnShift {
			return p.shiftRegister, true, nil
		}
		return 0, false, nil
	}

	if err := p.bitBang(b); err != nil {
		return 0, false, err
	}
	if !p.readEnabled {
		return 0, false, nil
	}
	tdo, err := sample(p.pins.TDO, "TDO")
	if err != nil {
		return 0, false, err
	}
	v := p.marker
	if tdo {
		v |= InTDO
	}
	return v, true, nil
}

func (p *Port) bitBang(b byte) error {
	if err := drive(p.pins.TDI, "TDI", b&BitTDI != 0); err != nil {
		return err
	}
	tms := b&BitTMS != 0
	if err := drive(p.pins.TMS, "TMS", tms); err != nil {
		return err
	}
	clk := b&BitTCK != 0
	if p.clockLatched && !clk {
		p.state = tap.NextState(p.state, tms)
	}
	p.clockLatched = clk
	return drive(p.pins.TCK, "TCK", clk)
}

func (p *Port) shiftOut(b byte) error {
	p.shiftRegister = b
	for i := 0; i < 8; i++ {
		if err := p.pulse(p.shiftRegister&1 != 0); err != nil {
			return err
		}
		p.shiftRegister = p.shiftRegister>>1 | p.shiftRegister<<7
	}
	return nil
}

// shiftIO samples TDO before each rising edge; the first sample ends up in
// bit 0 of the result.
func (p *Port) shiftIO(b byte) (byte, error) {
	p.shiftRegister = b
	for i := 0; i < 8; i++ {
		if err := drive(p.pins.TDI, "TDI", p.shiftRegister&1 != 0); err != nil {
			return 0, err
		}
		din, err := sample(p.pins.TDO, "TDO")
		if err != nil {
			return 0, err
		}
		if err := drive(p.pins.TCK, "TCK", true); err != nil {
			return 0, err
		}
		p.shiftRegister >>= 1
		if din {
			p.shiftRegister |= 0x80
		}
		if err := drive(p.pins.TCK, "TCK", false); err != nil {
			return 0, err
		}
	}
	p.clockLatched = false
	return p.shiftRegister, nil
}

func (p *Port) pulse(tdi bool) error {
	if err := drive(p.pins.TDI, "TDI", tdi); err != nil {
		return err
	}
	if err := drive(p.pins.TCK, "TCK", true); err != nil {
		return err
	}
	if err := drive(p.pins.TCK, "TCK", false); err != nil {
		return err
	}
	p.clockLatched = false
	return nil
}
