package jtag

import (
	"fmt"

	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/blaster"
	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/tap"
)

// SimulatedDevice represents a single device in a simulated JTAG chain.
type SimulatedDevice struct {
	Name     string
	IDCode   uint32 // zero means the device has no IDCODE register
	IRLength int
	// IDCodeOpcode selects the IDCODE register. All ones is BYPASS.
	IDCodeOpcode uint32

	ir uint32
}

// Instruction returns the instruction currently latched in the device.
func (d *SimulatedDevice) Instruction() uint32 { return d.ir }

func (d *SimulatedDevice) bypassOpcode() uint32 {
	return uint32(1)<<d.IRLength - 1
}

func (d *SimulatedDevice) resetIR() {
	if d.IDCode != 0 {
		d.ir = d.IDCodeOpcode
		return
	}
	d.ir = d.bypassOpcode()
}

func (d *SimulatedDevice) selectsIDCode() bool {
	return d.IDCode != 0 && d.ir == d.IDCodeOpcode
}

// ChainSimulator models a chain of TAPs at the pin level. It advances on real
// TCK edges, so it can sit behind an emulated USB-Blaster or any bit-banging
// adapter. Devices[0] is nearest TDO.
type ChainSimulator struct {
	Devices []SimulatedDevice

	state         tap.State
	tck, tms, tdi bool
	// scan holds the selected register; index 0 is presented on TDO.
	scan  []bool
	edges int
}

// NewChainSimulator creates a simulator with all devices in Test-Logic-Reset.
func NewChainSimulator(devices ...SimulatedDevice) *ChainSimulator {
	sim := &ChainSimulator{Devices: devices}
	for i := range sim.Devices {
		if sim.Devices[i].IRLength <= 0 || sim.Devices[i].IRLength > 32 {
			sim.Devices[i].IRLength = 2
		}
	}
	sim.Reset()
	return sim
}

// Pins returns the chain's JTAG signals in the shape a blaster.Port drives.
func (cs *ChainSimulator) Pins() blaster.Pins {
	return blaster.Pins{
		TDI: &simPin{sim: cs, signal: &cs.tdi},
		TCK: &simPin{sim: cs, signal: &cs.tck, clock: true},
		TMS: &simPin{sim: cs, signal: &cs.tms},
		TDO: &simTDO{sim: cs},
	}
}

// State reports the TAP state shared by every device in the chain.
func (cs *ChainSimulator) State() tap.State { return cs.state }

// Edges reports how many rising TCK edges the chain has seen.
func (cs *ChainSimulator) Edges() int { return cs.edges }

// GetDeviceCount returns the number of devices in the simulated chain.
func (cs *ChainSimulator) GetDeviceCount() int {
	return len(cs.Devices)
}

// GetDevice returns information about a specific device in the chain.
func (cs *ChainSimulator) GetDevice(index int) (*SimulatedDevice, error) {
	if index < 0 || index >= len(cs.Devices) {
		return nil, fmt.Errorf("device index %d out of range", index)
	}
	return &cs.Devices[index], nil
}

// Reset forces every TAP into Test-Logic-Reset, as a TRST pulse would.
func (cs *ChainSimulator) Reset() {
	cs.state = tap.StateTestLogicReset
	cs.scan = nil
	for i := range cs.Devices {
		cs.Devices[i].resetIR()
	}
}

func (cs *ChainSimulator) tdo() bool {
	if (cs.state == tap.StateShiftDR || cs.state == tap.StateShiftIR) && len(cs.scan) > 0 {
		return cs.scan[0]
	}
	// Undriven TDO floats high.
	return true
}

func (cs *ChainSimulator) rise() {
	cs.edges++
	switch cs.state {
	case tap.StateCaptureDR:
		cs.scan = cs.captureDR()
	case tap.StateCaptureIR:
		cs.scan = cs.captureIR()
	case tap.StateShiftDR, tap.StateShiftIR:
		if len(cs.scan) > 0 {
			cs.scan = append(cs.scan[1:], cs.tdi)
		}
	}

	cs.state = tap.NextState(cs.state, cs.tms)
	switch cs.state {
	case tap.StateTestLogicReset:
		cs.Reset()
	case tap.StateUpdateIR:
		cs.updateIR()
	}
}

func (cs *ChainSimulator) captureDR() []bool {
	var reg []bool
	for i := range cs.Devices {
		dev := &cs.Devices[i]
		if !dev.selectsIDCode() {
			reg = append(reg, false)
			continue
		}
		for j := 0; j < 32; j++ {
			reg = append(reg, dev.IDCode&(1<<j) != 0)
		}
	}
	return reg
}

// captureIR loads the mandatory 01 pattern into every instruction register.
func (cs *ChainSimulator) captureIR() []bool {
	var reg []bool
	for _, dev := range cs.Devices {
		for j := 0; j < dev.IRLength; j++ {
			reg = append(reg, j == 0)
		}
	}
	return reg
}

func (cs *ChainSimulator) updateIR() {
	pos := 0
	for i := range cs.Devices {
		dev := &cs.Devices[i]
		var ir uint32
		for j := 0; j < dev.IRLength && pos < len(cs.scan); j++ {
			if cs.scan[pos] {
				ir |= 1 << j
			}
			pos++
		}
		dev.ir = ir
	}
}

type simPin struct {
	sim    *ChainSimulator
	signal *bool
	clock  bool
}

func (p *simPin) set(high bool) error {
	rising := p.clock && high && !*p.signal
	*p.signal = high
	if rising {
		p.sim.rise()
	}
	return nil
}

func (p *simPin) SetHigh() error { return p.set(true) }
func (p *simPin) SetLow() error  { return p.set(false) }

type simTDO struct {
	sim *ChainSimulator
}

func (p *simTDO) IsHigh() (bool, error) { return p.sim.tdo(), nil }

// Altera parts commonly found behind a USB-Blaster.
var (
	SimCycloneIV = SimulatedDevice{Name: "EP4CE22", IDCode: 0x020F30DD, IRLength: 10, IDCodeOpcode: 0x006}
	SimMAXII     = SimulatedDevice{Name: "EPM240", IDCode: 0x020A10DD, IRLength: 10, IDCodeOpcode: 0x006}
	SimMAX10     = SimulatedDevice{Name: "10M08", IDCode: 0x031820DD, IRLength: 10, IDCodeOpcode: 0x006}
)
