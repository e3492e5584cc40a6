package chain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/idcode"
	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/idcode/deviceinfo"
	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/jtag"
	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/tap"
)

const (
	// DefaultMaxDevices bounds chain length detection.
	DefaultMaxDevices = 32
	// DefaultMaxIRBits bounds total instruction register detection.
	DefaultMaxIRBits = 1024
)

var (
	// ErrNoDevices is returned when TDO never reflects the bits shifted in.
	ErrNoDevices = errors.New("chain: no devices found (TDO stuck or chain open)")
	// ErrChainTooLong is returned when the chain exceeds the detection bound.
	ErrChainTooLong = errors.New("chain: chain longer than detection limit")
	// ErrBadIDCode is returned for an IDCODE no device can report, usually
	// a wrong device count reading past the end of the chain.
	ErrBadIDCode = errors.New("chain: invalid IDCODE")
)

// Controller orchestrates JTAG chain discovery.
type Controller struct {
	adapter jtag.Adapter

	MaxDevices int
	MaxIRBits  int
}

// NewController wires a JTAG adapter to a controller with default limits.
func NewController(adapter jtag.Adapter) *Controller {
	return &Controller{
		adapter:    adapter,
		MaxDevices: DefaultMaxDevices,
		MaxIRBits:  DefaultMaxIRBits,
	}
}

// Chain represents the discovered devices and provides helper queries.
type Chain struct {
	devices  []*Device
	irLength int
	xport    *transport
}

// Devices returns a copy of the known devices, nearest to TDO first.
func (c *Chain) Devices() []*Device {
	out := make([]*Device, len(c.devices))
	copy(out, c.devices)
	return out
}

// IRLength is the summed instruction register length of the chain.
func (c *Chain) IRLength() int {
	return c.irLength
}

// DeviceByName returns the first device whose database name matches.
func (c *Chain) DeviceByName(name string) (*Device, bool) {
	for _, dev := range c.devices {
		if strings.EqualFold(dev.Name(), name) {
			return dev, true
		}
	}
	return nil, false
}

// ShiftIRBits shifts bits through the whole IR chain and returns to
// Run-Test/Idle.
func (c *Chain) ShiftIRBits(bits []bool) ([]bool, error) {
	return c.xport.scan(tap.StateShiftIR, bits)
}

// ShiftDRBits shifts the provided bit pattern through the DR chain and returns
// the captured TDO bits. The chain must already hold the wanted instructions.
func (c *Chain) ShiftDRBits(bits []bool) ([]bool, error) {
	return c.xport.scan(tap.StateShiftDR, bits)
}

// Device is one TAP found on the chain.
type Device struct {
	Position int
	// IDCode is zero for devices that power up in BYPASS.
	IDCode uint32
	Info   deviceinfo.DeviceInfo
}

// Name returns the database name of the part.
func (d *Device) Name() string {
	return d.Info.Name
}

// HasIDCode reports whether the device answered with an IDCODE at reset.
func (d *Device) HasIDCode() bool {
	return d.IDCode&1 == 1
}

func (d *Device) String() string {
	if !d.HasIDCode() {
		return fmt.Sprintf("#%d  BYPASS (no IDCODE)", d.Position)
	}
	return fmt.Sprintf("#%d  0x%08X  %s %s", d.Position, d.IDCode, d.Info.Manufacturer.Name, d.Info.Name)
}

// Discover resets the chain, measures it and reads every device's IDCODE.
// A positive deviceCount skips length detection.
func (c *Controller) Discover(deviceCount int) (*Chain, error) {
	if c.adapter == nil {
		return nil, fmt.Errorf("chain: adapter is nil")
	}

	xport := newTransport(c.adapter)
	s := &session{transport: xport}

	if err := xport.reset(); err != nil {
		return nil, err
	}
	irLength, err := s.measure(tap.StateShiftIR, c.maxIRBits())
	if err != nil {
		return nil, fmt.Errorf("chain: measure IR: %w", err)
	}
	if deviceCount <= 0 {
		// The IR scan left every device in BYPASS, one DR bit each.
		deviceCount, err = s.measure(tap.StateShiftDR, c.maxDevices())
		if err != nil {
			return nil, fmt.Errorf("chain: count devices: %w", err)
		}
	}

	if err := xport.reset(); err != nil {
		return nil, err
	}
	ids, err := s.readIDCodes(deviceCount)
	if err != nil {
		return nil, err
	}

	devices := make([]*Device, 0, len(ids))
	for idx, id := range ids {
		dev := &Device{Position: idx, IDCode: id}
		if dev.HasIDCode() {
			if !idcode.ParseIDCode(id).Valid() {
				return nil, fmt.Errorf("%w 0x%08X at position %d", ErrBadIDCode, id, idx)
			}
			dev.Info = deviceinfo.Lookup(id)
		} else {
			dev.Info = deviceinfo.DeviceInfo{Name: "BYPASS", Description: "Device without IDCODE register"}
		}
		devices = append(devices, dev)
	}

	return &Chain{
		devices:  devices,
		irLength: irLength,
		xport:    xport,
	}, nil
}

func (c *Controller) maxDevices() int {
	if c.MaxDevices > 0 {
		return c.MaxDevices
	}
	return DefaultMaxDevices
}

func (c *Controller) maxIRBits() int {
	if c.MaxIRBits > 0 {
		return c.MaxIRBits
	}
	return DefaultMaxIRBits
}

type session struct {
	transport *transport
}

// measure flushes a register path with limit zeros and counts how many ones
// must follow before the first one reaches TDO. Used on IR it also loads
// BYPASS into every device.
func (s *session) measure(state tap.State, limit int) (int, error) {
	tdi := make([]bool, 2*limit)
	for i := limit; i < len(tdi); i++ {
		tdi[i] = true
	}
	tdo, err := s.transport.scan(state, tdi)
	if err != nil {
		return 0, err
	}
	for i := limit; i < len(tdo); i++ {
		if !tdo[i] {
			continue
		}
		// Once the ones arrive they must keep coming; anything else is
		// captured data from a chain longer than limit.
		for _, bit := range tdo[i:] {
			if !bit {
				return 0, ErrChainTooLong
			}
		}
		if i == limit {
			return 0, ErrNoDevices
		}
		return i - limit, nil
	}
	for _, bit := range tdo[:limit] {
		if bit {
			return 0, ErrChainTooLong
		}
	}
	return 0, ErrNoDevices
}

// readIDCodes shifts the DR chain right after reset. A device with an IDCODE
// register presents 32 bits starting with a one; a device without presents a
// single zero BYPASS bit.
func (s *session) readIDCodes(deviceCount int) ([]uint32, error) {
	if deviceCount <= 0 {
		return nil, fmt.Errorf("chain: invalid device count")
	}
	bits := deviceCount * 32
	tdo, err := s.transport.scan(tap.StateShiftDR, make([]bool, bits))
	if err != nil {
		return nil, err
	}

	out := make([]uint32, 0, deviceCount)
	pos := 0
	for i := 0; i < deviceCount; i++ {
		if !tdo[pos] {
			out = append(out, 0)
			pos++
			continue
		}
		out = append(out, word(tdo, pos))
		pos += 32
	}
	return out, nil
}

type transport struct {
	adapter jtag.Adapter
	tap     *tap.StateMachine
}

func newTransport(adapter jtag.Adapter) *transport {
	return &transport{adapter: adapter, tap: tap.NewStateMachine()}
}

func (t *transport) reset() error {
	if err := t.adapter.ResetTAP(false); err != nil && !errors.Is(err, jtag.ErrNotImplemented) {
		return err
	}
	seq := t.tap.Reset()
	return t.applySequence(seq, domainDR)
}

func (t *transport) gotoState(target tap.State) error {
	seq, err := t.tap.GoTo(target)
	if err != nil {
		return err
	}
	if len(seq.TMS) == 0 {
		return nil
	}
	return t.applySequence(seq, domainFromState(seq.States[0]))
}

func (t *transport) applySequence(seq tap.Sequence, domain shiftDomain) error {
	if len(seq.TMS) == 0 {
		return nil
	}
	_, err := t.dispatch(domain, seq.TMS, nil)
	return err
}

// scan moves to a shift state, shifts tdi leaving on the last bit and parks
// the TAP in Run-Test/Idle.
func (t *transport) scan(state tap.State, tdi []bool) ([]bool, error) {
	if len(tdi) == 0 {
		return nil, nil
	}
	if err := t.gotoState(state); err != nil {
		return nil, err
	}
	tms := make([]bool, len(tdi))
	tms[len(tms)-1] = true
	for _, bit := range tms {
		t.tap.Clock(bit)
	}
	tdo, err := t.dispatch(domainFromState(state), tms, tdi)
	if err != nil {
		return nil, err
	}
	if err := t.gotoState(tap.StateRunTestIdle); err != nil {
		return nil, err
	}
	return unpackBits(tdo, len(tdi)), nil
}

func (t *transport) dispatch(domain shiftDomain, tms []bool, tdi []bool) ([]byte, error) {
	if len(tms) == 0 {
		return nil, nil
	}
	bits := len(tms)
	tmsBytes := packBits(tms)
	var tdiBytes []byte
	if len(tdi) == 0 {
		tdiBytes = make([]byte, len(tmsBytes))
	} else {
		tdiBytes = packBits(tdi)
	}
	switch domain {
	case domainIR:
		return t.adapter.ShiftIR(tmsBytes, tdiBytes, bits)
	default:
		return t.adapter.ShiftDR(tmsBytes, tdiBytes, bits)
	}
}

type shiftDomain uint8

const (
	domainDR shiftDomain = iota
	domainIR
)

func domainFromState(state tap.State) shiftDomain {
	if state.IsIR() {
		return domainIR
	}
	return domainDR
}
