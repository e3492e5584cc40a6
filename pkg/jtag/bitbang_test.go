package jtag

import (
	"testing"
	"time"
)

func TestBitBangPacesTCK(t *testing.T) {
	cases := []struct {
		hz     int
		sleeps int
		each   time.Duration
	}{
		{hz: 1_000, sleeps: 16, each: 500 * time.Microsecond},
		{hz: 250_000, sleeps: 16, each: 2 * time.Microsecond},
		{hz: 1_000_000, sleeps: 0},
		{hz: bitBangMaxHz, sleeps: 0},
	}
	for _, tc := range cases {
		_, a := newSimBitBang(t, SimMAXII)
		var slept []time.Duration
		a.sleep = func(d time.Duration) { slept = append(slept, d) }

		if err := a.SetSpeed(tc.hz); err != nil {
			t.Fatalf("SetSpeed(%d) returned error: %v", tc.hz, err)
		}
		if _, err := a.ShiftDR(nil, []byte{0}, 8); err != nil {
			t.Fatalf("ShiftDR returned error: %v", err)
		}
		if len(slept) != tc.sleeps {
			t.Fatalf("%d Hz: %d half periods paced, want %d", tc.hz, len(slept), tc.sleeps)
		}
		for _, d := range slept {
			if d != tc.each {
				t.Fatalf("%d Hz: half period %s, want %s", tc.hz, d, tc.each)
			}
		}
	}
}

func TestBitBangRejectsSpeed(t *testing.T) {
	_, a := newSimBitBang(t, SimMAXII)
	for _, hz := range []int{0, -1, bitBangMaxHz + 1} {
		if err := a.SetSpeed(hz); err == nil {
			t.Errorf("SetSpeed(%d) accepted", hz)
		}
	}
}
