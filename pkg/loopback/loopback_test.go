package loopback

import (
	"bytes"
	"errors"
	"testing"

	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/blaster"
	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/ftdi"
	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/tap"
)

var errBroken = errors.New("broken line")

type line struct {
	high  bool
	fails int // fail this many upcoming operations
}

func (l *line) set(v bool) error {
	if l.fails > 0 {
		l.fails--
		return errBroken
	}
	l.high = v
	return nil
}

func (l *line) SetHigh() error        { return l.set(true) }
func (l *line) SetLow() error         { return l.set(false) }
func (l *line) IsHigh() (bool, error) { return l.high, nil }

type board struct {
	tdi, tck, tms, tdo line
}

func (b *board) pins() blaster.Pins {
	return blaster.Pins{TDI: &b.tdi, TCK: &b.tck, TMS: &b.tms, TDO: &b.tdo}
}

func connect(t *testing.T) (*Bus, *blaster.Blaster, *board) {
	t.Helper()
	b := &board{}
	bus, dev, err := Connect(b.pins(), blaster.DefaultOptions())
	if err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	return bus, dev, b
}

func read(t *testing.T, bus *Bus) []byte {
	t.Helper()
	buf := make([]byte, 64)
	n, err := bus.Read(buf)
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	return buf[:n]
}

func TestFirstReadIsStatus(t *testing.T) {
	bus, _, _ := connect(t)
	if got := read(t, bus); !bytes.Equal(got, []byte{0x01, 0xC0}) {
		t.Fatalf("first packet = % X, want 01 C0", got)
	}
	// Idle reads keep delivering heartbeats.
	if got := read(t, bus); !bytes.Equal(got, []byte{0x01, 0xC0}) {
		t.Fatalf("idle packet = % X, want 01 C0", got)
	}
}

func TestBulkRoundTrip(t *testing.T) {
	bus, dev, b := connect(t)
	b.tdo.high = true

	cmds := []byte{
		blaster.BitTCK, 0x00, // Test-Logic-Reset -> Run-Test/Idle
		blaster.FlagRead,
		blaster.FlagShift | blaster.FlagRead | 2, 0x12, 0x34,
	}
	if n, err := bus.Write(cmds); err != nil || n != len(cmds) {
		t.Fatalf("Write = %d, %v", n, err)
	}
	want := []byte{0x01, 0xC0, 0x03, 0xFF, 0xFF}
	if got := read(t, bus); !bytes.Equal(got, want) {
		t.Fatalf("packet = % X, want % X", got, want)
	}
	if dev.TAPState() != tap.StateRunTestIdle {
		t.Fatalf("TAP = %s, want %s", dev.TAPState(), tap.StateRunTestIdle)
	}
}

func TestLargeWriteIsSplitIntoPackets(t *testing.T) {
	bus, dev, _ := connect(t)
	cmds := bytes.Repeat([]byte{blaster.FlagRead}, 150)
	if _, err := bus.Write(cmds); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	total := 0
	for i := 0; i < 10; i++ {
		pkt := read(t, bus)
		if len(pkt) > blaster.DefaultPacketSize {
			t.Fatalf("packet of %d bytes exceeds endpoint size", len(pkt))
		}
		total += len(pkt) - blaster.HeaderSize
	}
	if total != 150 {
		t.Fatalf("responses = %d, want 150", total)
	}
	if in, out := dev.Pending(); in != 0 || out != 0 {
		t.Fatalf("pending = %d/%d after draining", in, out)
	}
}

func TestControlVendorRequests(t *testing.T) {
	bus, _, _ := connect(t)

	word := make([]byte, 2)
	n, err := bus.Control(0xC0, ftdi.RequestReadEEPROM, 0, 1, word)
	if err != nil || n != 2 || !bytes.Equal(word, []byte{0xFB, 0x09}) {
		t.Fatalf("READ_EEPROM(1) = % X, %d, %v", word, n, err)
	}

	lat := make([]byte, 1)
	if _, err := bus.Control(0xC0, ftdi.RequestGetLatency, 0, 0, lat); err != nil || lat[0] != '6' {
		t.Fatalf("GET_LATENCY = %q, %v", lat, err)
	}

	if _, err := bus.Control(0x40, ftdi.RequestWriteEEPROM, 0xBEEF, 3, nil); !errors.Is(err, ErrStall) {
		t.Fatalf("WRITE_EEPROM error = %v, want ErrStall", err)
	}
	if _, err := bus.Control(0x40, ftdi.RequestSetBaudRate, 0x4138, 0, nil); err != nil {
		t.Fatalf("SET_BAUDRATE returned error: %v", err)
	}
}

func TestControlDescriptors(t *testing.T) {
	bus, _, _ := connect(t)

	dev := make([]byte, 18)
	if n, err := bus.Control(0x80, requestGetDescriptor, 0x0100, 0, dev); err != nil || n != 18 {
		t.Fatalf("GET_DESCRIPTOR(device) = %d, %v", n, err)
	}
	if dev[8] != 0xFB || dev[9] != 0x09 || dev[10] != 0x01 || dev[11] != 0x60 {
		t.Fatalf("device descriptor ids = % X", dev[8:12])
	}

	// Hosts read the first 9 bytes, then the whole configuration.
	head := make([]byte, 9)
	if _, err := bus.Control(0x80, requestGetDescriptor, 0x0200, 0, head); err != nil {
		t.Fatalf("GET_DESCRIPTOR(config) returned error: %v", err)
	}
	if head[2] != 32 {
		t.Fatalf("wTotalLength = %d, want 32", head[2])
	}

	str := make([]byte, 255)
	n, err := bus.Control(0x80, requestGetDescriptor, 0x0302, 0x0409, str)
	if err != nil {
		t.Fatalf("GET_DESCRIPTOR(string 2) returned error: %v", err)
	}
	if s, err := ftdi.ParseStringDescriptor(str[:n]); err != nil || s != "USB-Blaster" {
		t.Fatalf("product string = %q, %v", s, err)
	}

	if _, err := bus.Control(0x80, requestGetDescriptor, 0x0309, 0, str); !errors.Is(err, ErrStall) {
		t.Fatalf("missing string error = %v, want ErrStall", err)
	}
}

func TestPinFaultResetsDeviceAndBus(t *testing.T) {
	bus, dev, b := connect(t)
	b.tck.fails = 1

	_, err := bus.Write([]byte{blaster.BitTCK, 0x00})
	if !errors.Is(err, blaster.ErrPinFault) {
		t.Fatalf("Write error = %v, want pin fault", err)
	}
	if bus.BusResets() != 1 {
		t.Fatalf("BusResets = %d, want 1", bus.BusResets())
	}
	if dev.TAPState() != tap.StateTestLogicReset {
		t.Fatalf("TAP = %s after recovery", dev.TAPState())
	}
	if dev.FramerState() != blaster.FramerJustReset {
		t.Fatalf("framer = %s after recovery", dev.FramerState())
	}

	if _, err := bus.Write([]byte{blaster.FlagRead}); err != nil {
		t.Fatalf("Write after recovery returned error: %v", err)
	}
	if got := read(t, bus); !bytes.Equal(got, []byte{0x01, 0xC0, 0x02}) {
		t.Fatalf("packet after recovery = % X", got)
	}
}

func TestHalfSentHeaderResetsBus(t *testing.T) {
	bus, dev, _ := connect(t)
	bus.acceptIn = 1
	buf := make([]byte, 64)
	if _, err := bus.Read(buf); !errors.Is(err, blaster.ErrFraming) {
		t.Fatalf("Read error = %v, want ErrFraming", err)
	}
	if bus.BusResets() != 1 || dev.Stats().Resets != 1 {
		t.Fatalf("bus resets = %d, device resets = %d", bus.BusResets(), dev.Stats().Resets)
	}
}

func TestClosedBus(t *testing.T) {
	bus, _, _ := connect(t)
	if err := bus.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if _, err := bus.Write([]byte{0}); !errors.Is(err, ErrNotAttached) {
		t.Fatalf("Write after Close = %v", err)
	}
	if _, err := bus.Control(0xC0, ftdi.RequestGetLatency, 0, 0, make([]byte, 1)); !errors.Is(err, ErrNotAttached) {
		t.Fatalf("Control after Close = %v", err)
	}
}
