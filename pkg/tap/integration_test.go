package tap_test

import (
	"testing"

	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/blaster"
	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/jtag"
	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/loopback"
	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/tap"
)

func TestStateMachineSequencesDriveChain(t *testing.T) {
	sim := jtag.NewChainSimulator(jtag.SimCycloneIV)
	a, err := jtag.NewBitBangAdapter(sim.Pins())
	if err != nil {
		t.Fatalf("NewBitBangAdapter returned error: %v", err)
	}

	m := tap.NewStateMachine()
	reset := m.Reset()
	if err := clock(a, reset.TMS); err != nil {
		t.Fatalf("reset: %v", err)
	}

	for _, target := range []tap.State{
		tap.StateRunTestIdle,
		tap.StateShiftIR,
		tap.StatePauseIR,
		tap.StateShiftDR,
		tap.StateUpdateDR,
		tap.StateTestLogicReset,
	} {
		seq, err := m.GoTo(target)
		if err != nil {
			t.Fatalf("GoTo(%s) returned error: %v", target, err)
		}
		if err := clock(a, seq.TMS); err != nil {
			t.Fatalf("GoTo(%s): %v", target, err)
		}
		if sim.State() != target {
			t.Fatalf("chain reached %s, want %s", sim.State(), target)
		}
	}
}

func TestEmulatorTracksHostPaths(t *testing.T) {
	sim := jtag.NewChainSimulator(jtag.SimMAXII, jtag.SimMAX10)
	bus, dev, err := loopback.Connect(sim.Pins(), blaster.DefaultOptions())
	if err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	a, err := jtag.NewBlasterAdapter(bus, blaster.DefaultPacketSize)
	if err != nil {
		t.Fatalf("NewBlasterAdapter returned error: %v", err)
	}

	from := tap.StateTestLogicReset
	for _, to := range []tap.State{tap.StateShiftDR, tap.StateExit2IR, tap.StateRunTestIdle, tap.StateUpdateIR} {
		seq, err := tap.Path(from, to)
		if err != nil {
			t.Fatalf("Path(%s, %s) returned error: %v", from, to, err)
		}
		if err := clock(a, seq.TMS); err != nil {
			t.Fatalf("path %s -> %s: %v", from, to, err)
		}
		if sim.State() != to || dev.TAPState() != to {
			t.Fatalf("after %s -> %s: chain %s, emulator %s", from, to, sim.State(), dev.TAPState())
		}
		from = to
	}
}

func clock(a jtag.Adapter, tms []bool) error {
	if len(tms) == 0 {
		return nil
	}
	_, err := a.ShiftDR(boolsToBytes(tms), nil, len(tms))
	return err
}

func boolsToBytes(bits []bool) []byte {
	buf := make([]byte, (len(bits)+7)/8)
	for i, bit := range bits {
		if bit {
			buf[i/8] |= 1 << (uint(i) % 8)
		}
	}
	return buf
}
