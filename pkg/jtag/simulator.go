package jtag

import (
	"fmt"
	"sync"
)

// ShiftRegion tells IR shifts from DR shifts.
type ShiftRegion uint8

const (
	ShiftRegionIR ShiftRegion = iota
	ShiftRegionDR
)

func (r ShiftRegion) String() string {
	if r == ShiftRegionIR {
		return "IR"
	}
	return "DR"
}

// ShiftHook produces the TDO bits for one shift.
type ShiftHook func(region ShiftRegion, tms, tdi []byte, bits int) ([]byte, error)

// ShiftOp is one recorded shift.
type ShiftOp struct {
	Region ShiftRegion
	TMS    []byte
	TDI    []byte
	Bits   int
}

// SimAdapter is an Adapter with no chain behind it, for tests of code that
// sits above the cable. Unless OnShift is set, TDO echoes TDI as if the two
// were wired together.
type SimAdapter struct {
	OnShift ShiftHook

	info AdapterInfo

	mu         sync.Mutex
	history    []ShiftOp
	speedHz    int
	resets     int
	hardResets int
}

// NewSimAdapter returns a SimAdapter reporting info.
func NewSimAdapter(info AdapterInfo) *SimAdapter {
	return &SimAdapter{info: info}
}

// StuckTDO returns a hook that reads every TDO bit as the bits of level.
func StuckTDO(level byte) ShiftHook {
	return func(_ ShiftRegion, _, _ []byte, bits int) ([]byte, error) {
		out := make([]byte, ShiftBytes(bits))
		for i := range out {
			out[i] = level
		}
		return out, nil
	}
}

// History returns copies of every shift so far, oldest first.
func (s *SimAdapter) History() []ShiftOp {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ShiftOp, len(s.history))
	copy(out, s.history)
	return out
}

// Resets reports the TAP resets requested, and how many of them were hard.
func (s *SimAdapter) Resets() (total, hard int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets, s.hardResets
}

// Speed is the last rate accepted by SetSpeed.
func (s *SimAdapter) Speed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speedHz
}

func (s *SimAdapter) Info() (AdapterInfo, error) { return s.info, nil }

func (s *SimAdapter) ShiftIR(tms, tdi []byte, bits int) ([]byte, error) {
	return s.shift(ShiftRegionIR, tms, tdi, bits)
}

func (s *SimAdapter) ShiftDR(tms, tdi []byte, bits int) ([]byte, error) {
	return s.shift(ShiftRegionDR, tms, tdi, bits)
}

func (s *SimAdapter) ResetTAP(hard bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
	if hard {
		s.hardResets++
	}
	return nil
}

func (s *SimAdapter) SetSpeed(hz int) error {
	if hz <= 0 {
		return fmt.Errorf("jtag: invalid speed %dHz", hz)
	}
	s.mu.Lock()
	s.speedHz = hz
	s.mu.Unlock()
	return nil
}

func (s *SimAdapter) shift(region ShiftRegion, tms, tdi []byte, bits int) ([]byte, error) {
	n, err := ValidateShiftBuffers(tms, tdi, bits)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.history = append(s.history, ShiftOp{
		Region: region,
		TMS:    append([]byte(nil), tms...),
		TDI:    append([]byte(nil), tdi...),
		Bits:   bits,
	})
	hook := s.OnShift
	s.mu.Unlock()

	if hook != nil {
		return hook(region, tms, tdi, bits)
	}
	tdo := make([]byte, n)
	copy(tdo, tdi)
	return tdo, nil
}
