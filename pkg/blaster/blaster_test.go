package blaster

import (
	"bytes"
	"errors"
	"testing"

	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/ftdi"
	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/tap"
)

var status = []byte{0x01, 0xC0}

func newTestBlaster(t *testing.T, opts Options) (*Blaster, *bench, *fakeTransport) {
	t.Helper()
	b := newBench()
	tr := &fakeTransport{}
	dev, err := New(b.pins(), tr, opts)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	b.events = nil
	return dev, b, tr
}

func TestNewValidates(t *testing.T) {
	b := newBench()
	pins := b.pins()
	pins.TDO = nil
	if _, err := New(pins, &fakeTransport{}, DefaultOptions()); err == nil {
		t.Fatalf("New accepted missing TDO pin")
	}
	if _, err := New(b.pins(), nil, DefaultOptions()); err == nil {
		t.Fatalf("New accepted nil transport")
	}
	opts := DefaultOptions()
	opts.PacketSize = 2
	if _, err := New(b.pins(), &fakeTransport{}, opts); err == nil {
		t.Fatalf("New accepted packet size 2")
	}
	opts = DefaultOptions()
	opts.InboundSize = 32
	if _, err := New(b.pins(), &fakeTransport{}, opts); err == nil {
		t.Fatalf("New accepted inbound buffer smaller than a packet")
	}
}

func TestNewRegistersDescriptors(t *testing.T) {
	_, _, tr := newTestBlaster(t, DefaultOptions())
	if tr.desc == nil {
		t.Fatalf("descriptors were not registered")
	}
	if tr.desc.Device[8] != 0xFB || tr.desc.Device[9] != 0x09 {
		t.Fatalf("vendor id bytes = % X", tr.desc.Device[8:10])
	}
}

func TestFirstWriteSendsStatusOnly(t *testing.T) {
	dev, _, tr := newTestBlaster(t, DefaultOptions())
	if dev.FramerState() != FramerJustReset {
		t.Fatalf("initial framer state = %s, want JustReset", dev.FramerState())
	}

	n, err := dev.Write(false)
	if err != nil || n != 2 {
		t.Fatalf("first Write = %d, %v; want 2, nil", n, err)
	}
	if len(tr.written) != 1 || !bytes.Equal(tr.written[0], status) {
		t.Fatalf("written = % X, want one status packet", tr.written)
	}
	if dev.FramerState() != FramerIdle {
		t.Fatalf("framer state = %s, want Idle", dev.FramerState())
	}

	n, err = dev.Write(false)
	if err != nil || n != 0 {
		t.Fatalf("idle Write = %d, %v; want 0, nil", n, err)
	}
	if len(tr.written) != 1 {
		t.Fatalf("idle Write produced a transfer")
	}

	n, err = dev.Write(true)
	if err != nil || n != 2 {
		t.Fatalf("heartbeat Write = %d, %v; want 2, nil", n, err)
	}
	if len(tr.written) != 2 || !bytes.Equal(tr.written[1], status) {
		t.Fatalf("heartbeat packet = % X", tr.written[len(tr.written)-1])
	}
	if dev.Stats().Heartbeats != 2 {
		t.Fatalf("Heartbeats = %d, want 2", dev.Stats().Heartbeats)
	}
}

func TestResetForcesStatusPacket(t *testing.T) {
	dev, _, tr := newTestBlaster(t, DefaultOptions())
	if _, err := dev.Write(false); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	if err := dev.Reset(); err != nil {
		t.Fatalf("Reset returned error: %v", err)
	}
	if n, err := dev.Write(false); err != nil || n != 2 {
		t.Fatalf("Write after reset = %d, %v; want 2, nil", n, err)
	}
	if len(tr.written) != 2 {
		t.Fatalf("transfers = %d, want 2", len(tr.written))
	}
}

func TestPollRoundTrip(t *testing.T) {
	dev, b, tr := newTestBlaster(t, DefaultOptions())
	b.tdoLevel = true
	tr.inbound = [][]byte{{BitTCK, 0x00, FlagRead, FlagShift | FlagRead | 1, 0x00}}

	if err := dev.Poll(false); err != nil {
		t.Fatalf("Poll returned error: %v", err)
	}
	want := []byte{0x01, 0xC0, 0x03, 0xFF}
	if len(tr.written) != 1 || !bytes.Equal(tr.written[0], want) {
		t.Fatalf("written = % X, want % X", tr.written, want)
	}
	if dev.TAPState() != tap.StateRunTestIdle {
		t.Fatalf("TAP = %s, want %s", dev.TAPState(), tap.StateRunTestIdle)
	}
	in, out := dev.Pending()
	if in != 0 || out != 0 {
		t.Fatalf("pending = %d/%d, want empty", in, out)
	}
}

func TestPartialWriteRetainsSuffix(t *testing.T) {
	opts := DefaultOptions()
	opts.PacketSize = 8
	dev, b, tr := newTestBlaster(t, opts)
	b.tdo = []bool{true, false, true, false, true, false}
	tr.inbound = [][]byte{{FlagRead, FlagRead, FlagRead, FlagRead, FlagRead, FlagRead}}

	if _, err := dev.Read(); err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if err := dev.Handle(); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if _, out := dev.Pending(); out != 6 {
		t.Fatalf("outbound = %d, want 6", out)
	}

	tr.accept = 4
	n, err := dev.Write(false)
	if err != nil || n != 4 {
		t.Fatalf("Write = %d, %v; want 4, nil", n, err)
	}
	if _, out := dev.Pending(); out != 4 {
		t.Fatalf("outbound after partial write = %d, want 4", out)
	}

	tr.accept = 0
	if _, err := dev.Write(false); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	var payload []byte
	for _, pkt := range tr.written {
		if !bytes.Equal(pkt[:2], status) {
			t.Fatalf("packet without status header: % X", pkt)
		}
		payload = append(payload, pkt[2:]...)
	}
	want := []byte{0x03, 0x02, 0x03, 0x02, 0x03, 0x02}
	if !bytes.Equal(payload, want) {
		t.Fatalf("payload = % X, want % X", payload, want)
	}
}

func TestHeaderOnlyAcceptedKeepsPayload(t *testing.T) {
	dev, _, tr := newTestBlaster(t, DefaultOptions())
	tr.inbound = [][]byte{{FlagRead}}
	if err := dev.Poll(false); err != nil {
		t.Fatalf("Poll returned error: %v", err)
	}
	tr.written = nil
	tr.inbound = [][]byte{{FlagRead}}
	tr.accept = 2
	if err := dev.Poll(false); err != nil {
		t.Fatalf("Poll returned error: %v", err)
	}
	if _, out := dev.Pending(); out != 1 {
		t.Fatalf("outbound = %d, want 1", out)
	}
}

func TestHalfSentHeaderIsFatal(t *testing.T) {
	dev, _, tr := newTestBlaster(t, DefaultOptions())
	tr.accept = 1

	_, err := dev.Write(true)
	if !errors.Is(err, ErrFraming) {
		t.Fatalf("Write error = %v, want ErrFraming", err)
	}
	if !IsFatal(err) {
		t.Fatalf("IsFatal(%v) = false", err)
	}
	if err := dev.Poll(true); !errors.Is(err, ErrFraming) {
		t.Fatalf("Poll error = %v, want ErrFraming", err)
	}
}

func TestWriteNotReadyIsTransient(t *testing.T) {
	dev, _, tr := newTestBlaster(t, DefaultOptions())
	tr.writeErr = ErrWouldBlock
	if _, err := dev.Write(true); !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("Write error = %v, want ErrWouldBlock", err)
	}
	if err := dev.Poll(true); err != nil {
		t.Fatalf("Poll returned error: %v", err)
	}
	if dev.FramerState() != FramerJustReset {
		t.Fatalf("framer left JustReset without sending")
	}
}

func TestReadRefusesWhenFull(t *testing.T) {
	dev, _, tr := newTestBlaster(t, DefaultOptions())
	pkt := make([]byte, DefaultPacketSize)
	tr.inbound = [][]byte{pkt, {0x00}}

	if n, err := dev.Read(); err != nil || n != DefaultPacketSize {
		t.Fatalf("Read = %d, %v; want %d, nil", n, err, DefaultPacketSize)
	}
	if _, err := dev.Read(); !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("Read on full buffer = %v, want ErrWouldBlock", err)
	}
	if len(tr.inbound) != 1 {
		t.Fatalf("full read consumed transport data")
	}
}

func TestLargeInboundBufferAcceptsOverRead(t *testing.T) {
	opts := DefaultOptions()
	opts.InboundSize = 512
	dev, _, tr := newTestBlaster(t, opts)
	tr.inbound = [][]byte{make([]byte, 200)}
	if n, err := dev.Read(); err != nil || n != 200 {
		t.Fatalf("Read = %d, %v; want 200, nil", n, err)
	}
}

func TestOutboundBackpressure(t *testing.T) {
	dev, b, tr := newTestBlaster(t, DefaultOptions())
	b.tdoLevel = true

	// 100 read commands cannot fit in one 62-byte payload.
	cmds := bytes.Repeat([]byte{FlagRead}, 100)
	tr.inbound = [][]byte{cmds[:64], cmds[64:]}
	tr.accept = 2 // status only: the host is not reading

	for i := 0; i < 4; i++ {
		if err := dev.Poll(false); err != nil {
			t.Fatalf("Poll returned error: %v", err)
		}
	}
	in, out := dev.Pending()
	if out != DefaultPacketSize-HeaderSize {
		t.Fatalf("outbound = %d, want full", out)
	}
	if in != 100-out {
		t.Fatalf("inbound = %d, want %d unprocessed", in, 100-out)
	}

	tr.accept = 0
	total := 0
	for i := 0; i < 10; i++ {
		tr.written = nil
		if err := dev.Poll(true); err != nil {
			t.Fatalf("Poll returned error: %v", err)
		}
		for _, pkt := range tr.written {
			total += len(pkt) - HeaderSize
		}
	}
	if total != 100 {
		t.Fatalf("responses delivered = %d, want 100", total)
	}
}

func TestResetTwiceMatchesOnce(t *testing.T) {
	dev, _, tr := newTestBlaster(t, DefaultOptions())
	tr.inbound = [][]byte{{BitTCK, 0x00, FlagShift | 4, 0x01}}
	if err := dev.Poll(false); err != nil {
		t.Fatalf("Poll returned error: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := dev.Reset(); err != nil {
			t.Fatalf("Reset returned error: %v", err)
		}
		in, out := dev.Pending()
		if dev.TAPState() != tap.StateTestLogicReset || in != 0 || out != 0 || dev.port.ShiftRemaining() != 0 {
			t.Fatalf("after reset %d: tap=%s in=%d out=%d shift=%d", i, dev.TAPState(), in, out, dev.port.ShiftRemaining())
		}
		if dev.FramerState() != FramerJustReset {
			t.Fatalf("framer state = %s, want JustReset", dev.FramerState())
		}
	}
}

func TestPollPropagatesPinFault(t *testing.T) {
	dev, b, tr := newTestBlaster(t, DefaultOptions())
	b.failPin = "TCK"
	tr.inbound = [][]byte{{BitTCK}}
	err := dev.Poll(true)
	if !errors.Is(err, ErrPinFault) || !IsFatal(err) {
		t.Fatalf("Poll error = %v, want fatal pin fault", err)
	}
	if dev.TAPState() != tap.StateFault {
		t.Fatalf("TAP = %s, want Fault", dev.TAPState())
	}
	b.failPin = ""
	if err := dev.Reset(); err != nil {
		t.Fatalf("Reset returned error: %v", err)
	}
	if dev.TAPState() != tap.StateTestLogicReset {
		t.Fatalf("TAP after reset = %s", dev.TAPState())
	}
}

func TestCustomIdentityFeedsDescriptors(t *testing.T) {
	e := ftdi.USBBlaster()
	e.Serial = "ABCDEF01"
	id, err := NewROMIdentity(e)
	if err != nil {
		t.Fatalf("NewROMIdentity: %v", err)
	}
	opts := DefaultOptions()
	opts.Identity = id
	dev, _, _ := newTestBlaster(t, opts)
	s, err := ftdi.ParseStringDescriptor(dev.Descriptors().StringAt(3))
	if err != nil || s != "ABCDEF01" {
		t.Fatalf("serial descriptor = %q, %v", s, err)
	}
}
