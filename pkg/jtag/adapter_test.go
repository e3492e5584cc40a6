package jtag

import (
	"bytes"
	"errors"
	"testing"
)

func TestValidateShiftBuffers(t *testing.T) {
	cases := []struct {
		name     string
		tms, tdi []byte
		bits     int
		want     int
		wantErr  bool
	}{
		{name: "zero bits", wantErr: true},
		{name: "negative bits", bits: -1, wantErr: true},
		{name: "short tms", tms: []byte{0}, bits: 16, wantErr: true},
		{name: "short tdi", tdi: []byte{0}, bits: 9, wantErr: true},
		{name: "nil buffers", bits: 9, want: 2},
		{name: "exact", tms: []byte{0}, tdi: []byte{1}, bits: 8, want: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n, err := ValidateShiftBuffers(tc.tms, tc.tdi, tc.bits)
			if tc.wantErr {
				if !errors.Is(err, ErrShiftLength) {
					t.Fatalf("error = %v, want ErrShiftLength", err)
				}
				return
			}
			if err != nil || n != tc.want {
				t.Fatalf("ValidateShiftBuffers = %d, %v; want %d", n, err, tc.want)
			}
		})
	}
}

func TestSimAdapterEchoesAndRecords(t *testing.T) {
	sim := NewSimAdapter(AdapterInfo{Name: "sim"})
	tdo, err := sim.ShiftDR([]byte{0x80}, []byte{0xCC}, 8)
	if err != nil {
		t.Fatalf("ShiftDR returned error: %v", err)
	}
	if !bytes.Equal(tdo, []byte{0xCC}) {
		t.Fatalf("tdo = %X, want CC", tdo)
	}
	if _, err := sim.ShiftIR(nil, []byte{0x06, 0x00}, 10); err != nil {
		t.Fatalf("ShiftIR returned error: %v", err)
	}

	h := sim.History()
	if len(h) != 2 || h[0].Region != ShiftRegionDR || h[1].Region != ShiftRegionIR || h[1].Bits != 10 {
		t.Fatalf("history = %+v", h)
	}
	if h[1].Region.String() != "IR" {
		t.Fatalf("region name = %s", h[1].Region)
	}
}

func TestSimAdapterStuckTDO(t *testing.T) {
	sim := NewSimAdapter(AdapterInfo{})
	sim.OnShift = StuckTDO(0xFF)
	tdo, err := sim.ShiftDR(nil, []byte{0, 0}, 12)
	if err != nil {
		t.Fatalf("ShiftDR returned error: %v", err)
	}
	if !bytes.Equal(tdo, []byte{0xFF, 0xFF}) {
		t.Fatalf("tdo = %X, want FFFF", tdo)
	}
}

func TestSimAdapterResetsAndSpeed(t *testing.T) {
	sim := NewSimAdapter(AdapterInfo{})
	if err := sim.SetSpeed(1_000_000); err != nil || sim.Speed() != 1_000_000 {
		t.Fatalf("SetSpeed = %v, speed %d", err, sim.Speed())
	}
	if err := sim.SetSpeed(0); err == nil {
		t.Fatalf("expected error for zero speed")
	}
	sim.ResetTAP(false)
	sim.ResetTAP(true)
	if total, hard := sim.Resets(); total != 2 || hard != 1 {
		t.Fatalf("Resets = %d total / %d hard, want 2/1", total, hard)
	}
}
