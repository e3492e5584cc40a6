package jtag

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/blaster"
	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/ftdi"
	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/loopback"
	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/tap"
)

func newLoopbackAdapter(t *testing.T, devices ...SimulatedDevice) (*BlasterAdapter, *ChainSimulator, *blaster.Blaster) {
	t.Helper()
	sim := NewChainSimulator(devices...)
	bus, dev, err := loopback.Connect(sim.Pins(), blaster.DefaultOptions())
	if err != nil {
		t.Fatalf("loopback.Connect returned error: %v", err)
	}
	a, err := NewBlasterAdapter(bus, blaster.DefaultPacketSize)
	if err != nil {
		t.Fatalf("NewBlasterAdapter returned error: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a, sim, dev
}

func TestBlasterAdapterInfoFromROM(t *testing.T) {
	a, _, _ := newLoopbackAdapter(t, SimCycloneIV)
	info, err := a.Info()
	if err != nil {
		t.Fatalf("Info returned error: %v", err)
	}
	if info.Vendor != "Altera" || info.Model != "USB-Blaster" || info.SerialNumber != "12345678" {
		t.Fatalf("info = %+v", info)
	}
	if info.Firmware != "4.00" {
		t.Fatalf("firmware = %q, want 4.00", info.Firmware)
	}

	rom, err := a.ReadROM()
	if err != nil {
		t.Fatalf("ReadROM returned error: %v", err)
	}
	if err := ftdi.VerifyChecksum(rom[:]); err != nil {
		t.Fatalf("ROM read over the bus: %v", err)
	}

	status, err := a.ModemStatus()
	if err != nil || status != [2]byte{0x01, 0xC0} {
		t.Fatalf("ModemStatus = % X, %v", status, err)
	}
}

func TestBlasterAdapterReadsIDCodes(t *testing.T) {
	a, sim, dev := newLoopbackAdapter(t, SimCycloneIV, SimMAXII, SimMAX10)
	if err := a.ResetTAP(false); err != nil {
		t.Fatalf("ResetTAP returned error: %v", err)
	}
	walk(t, a, tap.StateTestLogicReset, tap.StateShiftDR)

	tdo := scan(t, a, nil, 96)
	for i, want := range []uint32{SimCycloneIV.IDCode, SimMAXII.IDCode, SimMAX10.IDCode} {
		if got := binary.LittleEndian.Uint32(tdo[4*i:]); got != want {
			t.Fatalf("device %d IDCODE = 0x%08X, want 0x%08X", i, got, want)
		}
	}

	walk(t, a, tap.StateExit1DR, tap.StateRunTestIdle)
	if sim.State() != tap.StateRunTestIdle {
		t.Fatalf("chain state = %s, want %s", sim.State(), tap.StateRunTestIdle)
	}
	if dev.TAPState() != sim.State() {
		t.Fatalf("emulator tracks %s but chain is in %s", dev.TAPState(), sim.State())
	}
}

func TestBlasterAdapterBypassThroughShiftMode(t *testing.T) {
	a, sim, _ := newLoopbackAdapter(t, SimCycloneIV, SimMAXII)
	if err := a.ResetTAP(true); err != nil {
		t.Fatalf("ResetTAP returned error: %v", err)
	}
	walk(t, a, tap.StateTestLogicReset, tap.StateShiftIR)
	scan(t, a, []byte{0xFF, 0xFF, 0xFF}, 20)
	walk(t, a, tap.StateExit1IR, tap.StateShiftDR)
	for i := range sim.Devices {
		if sim.Devices[i].Instruction() != 0x3FF {
			t.Fatalf("device %d not in BYPASS", i)
		}
	}

	// 256 bits go through shift mode; the pattern reappears two bits later.
	pattern := make([]byte, 33)
	for i := range pattern {
		pattern[i] = byte(i*37 + 5)
	}
	tdo := scan(t, a, pattern, 258)
	if bitAt(tdo, 0) || bitAt(tdo, 1) {
		t.Fatalf("bypass bits = %v %v, want 0 0", bitAt(tdo, 0), bitAt(tdo, 1))
	}
	for i := 0; i < 256; i++ {
		if bitAt(tdo, i+2) != bitAt(pattern, i) {
			t.Fatalf("bit %d = %v, want %v", i+2, bitAt(tdo, i+2), bitAt(pattern, i))
		}
	}
}

func TestBlasterAdapterSetSpeed(t *testing.T) {
	a, _, _ := newLoopbackAdapter(t, SimMAXII)
	if err := a.SetSpeed(1_000_000); err != nil {
		t.Fatalf("SetSpeed(1MHz) returned error: %v", err)
	}
	if err := a.SetSpeed(24_000_000); err == nil {
		t.Fatalf("SetSpeed accepted a rate above the fixed clock")
	}
}

func TestBlasterAdapterGivesUpOnSilentDevice(t *testing.T) {
	a := &BlasterAdapter{
		link:          silentLink{},
		protocol:      NewBlasterProtocol(64),
		MaxEmptyReads: 3,
		rx:            make([]byte, 64),
	}
	_, err := a.ShiftDR(nil, []byte{0x00}, 4)
	if !errors.Is(err, ErrNoResponse) {
		t.Fatalf("ShiftDR error = %v, want ErrNoResponse", err)
	}
}

// silentLink accepts everything and only ever returns modem status.
type silentLink struct{}

func (silentLink) Write(data []byte) (int, error) { return len(data), nil }
func (silentLink) Read(buf []byte) (int, error)   { return copy(buf, []byte{0x01, 0xC0}), nil }
func (silentLink) Control(uint8, uint8, uint16, uint16, []byte) (int, error) {
	return 0, nil
}
func (silentLink) Close() error { return nil }
