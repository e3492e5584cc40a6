package jtag

import (
	"fmt"
	"time"

	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/blaster"
)

const (
	bitBangMaxHz = 10_000_000
	// Half periods shorter than this are left to GPIO access latency.
	minHalfPeriod = time.Microsecond
)

// BitBangAdapter drives a chain directly through four GPIO lines. It is the
// host-side counterpart of the emulator and lets the same pins be used
// without a USB host.
type BitBangAdapter struct {
	pins       blaster.Pins
	speedHz    int
	halfPeriod time.Duration

	sleep func(time.Duration)
}

// NewBitBangAdapter takes ownership of pins and parks TCK low. It starts
// unpaced, as fast as the pins toggle.
func NewBitBangAdapter(pins blaster.Pins) (*BitBangAdapter, error) {
	if pins.TDI == nil || pins.TCK == nil || pins.TMS == nil || pins.TDO == nil {
		return nil, fmt.Errorf("jtag: all four pins are required")
	}
	if err := pins.TCK.SetLow(); err != nil {
		return nil, err
	}
	return &BitBangAdapter{pins: pins, speedHz: bitBangMaxHz, sleep: time.Sleep}, nil
}

func (b *BitBangAdapter) Info() (AdapterInfo, error) {
	return AdapterInfo{
		Name:         "GPIO bit-bang",
		MinFrequency: 1,
		MaxFrequency: bitBangMaxHz,
		Notes:        fmt.Sprintf("TCK %d Hz at most; rate bounded by GPIO access latency", b.speedHz),
	}, nil
}

func (b *BitBangAdapter) ShiftIR(tms, tdi []byte, bits int) ([]byte, error) {
	return b.shift(tms, tdi, bits)
}

func (b *BitBangAdapter) ShiftDR(tms, tdi []byte, bits int) ([]byte, error) {
	return b.shift(tms, tdi, bits)
}

func (b *BitBangAdapter) ResetTAP(_ bool) error {
	for i := 0; i < 5; i++ {
		if _, err := b.clock(true, false); err != nil {
			return err
		}
	}
	return nil
}

// SetSpeed paces TCK so each half period lasts at least 1/(2*hz).
func (b *BitBangAdapter) SetSpeed(hz int) error {
	if hz <= 0 || hz > bitBangMaxHz {
		return fmt.Errorf("jtag: invalid speed %dHz (max %dHz)", hz, bitBangMaxHz)
	}
	b.speedHz = hz
	b.halfPeriod = time.Second / time.Duration(2*hz)
	if b.halfPeriod < minHalfPeriod {
		b.halfPeriod = 0
	}
	return nil
}

func (b *BitBangAdapter) shift(tms, tdi []byte, bits int) ([]byte, error) {
	required, err := ValidateShiftBuffers(tms, tdi, bits)
	if err != nil {
		return nil, err
	}
	tdo := make([]byte, required)
	for i := 0; i < bits; i++ {
		bit, err := b.clock(bitAt(tms, i), bitAt(tdi, i))
		if err != nil {
			return nil, err
		}
		if bit {
			tdo[i/8] |= 1 << (i % 8)
		}
	}
	return tdo, nil
}

// clock presents TMS and TDI, samples TDO and pulses TCK, holding each TCK
// level for a half period.
func (b *BitBangAdapter) clock(tms, tdi bool) (bool, error) {
	if err := level(b.pins.TMS, tms); err != nil {
		return false, err
	}
	if err := level(b.pins.TDI, tdi); err != nil {
		return false, err
	}
	b.wait()
	tdo, err := b.pins.TDO.IsHigh()
	if err != nil {
		return false, err
	}
	if err := b.pins.TCK.SetHigh(); err != nil {
		return false, err
	}
	b.wait()
	return tdo, b.pins.TCK.SetLow()
}

func (b *BitBangAdapter) wait() {
	if b.halfPeriod > 0 {
		b.sleep(b.halfPeriod)
	}
}

func level(pin blaster.OutputPin, high bool) error {
	if high {
		return pin.SetHigh()
	}
	return pin.SetLow()
}
