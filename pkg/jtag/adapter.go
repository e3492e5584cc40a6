package jtag

import (
	"errors"
	"fmt"
)

// AdapterInfo is what a cable reports about itself.
type AdapterInfo struct {
	Name         string
	Vendor       string
	Model        string
	SerialNumber string
	Firmware     string
	MinFrequency int // Hz
	MaxFrequency int // Hz
	// Notes carries anything the cable could not report, such as an
	// unreadable EEPROM.
	Notes string
}

// Adapter drives a JTAG chain. Shift buffers are LSB first; tms may be nil,
// in which case TMS stays low for every bit.
type Adapter interface {
	Info() (AdapterInfo, error)
	ShiftIR(tms, tdi []byte, bits int) (tdo []byte, err error)
	ShiftDR(tms, tdi []byte, bits int) (tdo []byte, err error)
	ResetTAP(hard bool) error
	SetSpeed(hz int) error
}

var (
	// ErrNotImplemented is returned for capabilities a cable lacks.
	ErrNotImplemented = errors.New("jtag: not implemented")
	// ErrShiftLength is wrapped by every shift buffer validation failure.
	ErrShiftLength = errors.New("jtag: bad shift length")
)

// ShiftBytes is the buffer size holding bits bits.
func ShiftBytes(bits int) int { return (bits + 7) / 8 }

// ValidateShiftBuffers checks that non-nil tms and tdi hold at least bits
// bits and returns the byte count they need.
func ValidateShiftBuffers(tms, tdi []byte, bits int) (int, error) {
	if bits <= 0 {
		return 0, fmt.Errorf("%w: %d bits", ErrShiftLength, bits)
	}
	n := ShiftBytes(bits)
	for _, b := range []struct {
		name string
		buf  []byte
	}{{"tms", tms}, {"tdi", tdi}} {
		if b.buf != nil && len(b.buf) < n {
			return 0, fmt.Errorf("%w: %s holds %d bytes, %d bits need %d", ErrShiftLength, b.name, len(b.buf), bits, n)
		}
	}
	return n, nil
}
