package jtag

import (
	"fmt"

	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/blaster"
)

// USB-Blaster identifiers.
const (
	VendorIDAltera      = 0x09FB
	ProductIDUSBBlaster = 0x6001
)

// BlasterSequence is the command stream for one shift and the layout of the
// responses it produces.
type BlasterSequence struct {
	Commands []byte
	Bits     int

	reads []blasterRead
}

type blasterRead struct {
	cmd  int // index in Commands of the byte that produces the response
	bits int // 1 for a bit-bang read, 8 for a shift-mode byte
}

// Responses reports how many response bytes the sequence produces.
func (s *BlasterSequence) Responses() int { return len(s.reads) }

func (s *BlasterSequence) push(b byte, bits int) {
	if bits > 0 {
		s.reads = append(s.reads, blasterRead{cmd: len(s.Commands), bits: bits})
	}
	s.Commands = append(s.Commands, b)
}

// BlasterChunk is a slice of a sequence small enough that the adapter can
// buffer all of its commands and responses at once.
type BlasterChunk struct {
	Commands  []byte
	Responses int
}

// Chunks cuts the command stream into pieces of at most maxCmd bytes that
// produce at most maxResp responses each.
func (s *BlasterSequence) Chunks(maxCmd, maxResp int) []BlasterChunk {
	var out []BlasterChunk
	start, r := 0, 0
	cur := BlasterChunk{}
	for i := range s.Commands {
		reads := 0
		if r < len(s.reads) && s.reads[r].cmd == i {
			reads = 1
		}
		if i-start == maxCmd || cur.Responses+reads > maxResp {
			cur.Commands = s.Commands[start:i]
			out = append(out, cur)
			start, cur = i, BlasterChunk{}
		}
		cur.Responses += reads
		r += reads
	}
	if start < len(s.Commands) {
		cur.Commands = s.Commands[start:]
		out = append(out, cur)
	}
	return out
}

// Decode turns the response bytes into an LSB-first TDO buffer.
func (s *BlasterSequence) Decode(resp []byte) ([]byte, error) {
	if len(resp) < len(s.reads) {
		return nil, fmt.Errorf("jtag: short blaster response: got %d bytes, want %d", len(resp), len(s.reads))
	}
	tdo := make([]byte, (s.Bits+7)/8)
	pos := 0
	for k, r := range s.reads {
		v := resp[k]
		if r.bits == 1 {
			v &= blaster.InTDO
		}
		for j := 0; j < r.bits && pos < s.Bits; j++ {
			if v&(1<<j) != 0 {
				tdo[pos/8] |= 1 << (pos % 8)
			}
			pos++
		}
	}
	return tdo, nil
}

// BlasterProtocol encodes per-bit TMS/TDI shifts as USB-Blaster command bytes.
// Runs of at least MinShiftBytes*8 bits with TMS low use shift mode; all other
// bits are bit-banged.
type BlasterProtocol struct {
	PacketSize    int
	MinShiftBytes int
}

// NewBlasterProtocol creates a protocol handler for the given bulk packet size.
func NewBlasterProtocol(packetSize int) *BlasterProtocol {
	return &BlasterProtocol{
		PacketSize:    packetSize,
		MinShiftBytes: 1,
	}
}

// MaxResponses is the number of response bytes one IN packet carries.
func (p *BlasterProtocol) MaxResponses() int {
	return p.PacketSize - blaster.HeaderSize
}

// EncodeShift builds the commands for one shift. When capture is set every
// bit's TDO is sampled before its rising edge.
func (p *BlasterProtocol) EncodeShift(tms, tdi []byte, bits int, capture bool) *BlasterSequence {
	seq := &BlasterSequence{Bits: bits}
	readBits := 0
	if capture {
		readBits = 1
	}

	for i := 0; i < bits; {
		if n := p.shiftRun(tms, i, bits); n > 0 {
			p.encodeShiftMode(seq, tdi, i, n, capture)
			i += 8 * n
			continue
		}

		// Bit-bang run. The first byte sets up the pins and samples the first
		// TDO; every falling edge samples the TDO of the next bit.
		b := bitBangByte(tms, tdi, i)
		seq.push(b|readFlag(capture), readBits)
		for {
			seq.push(b|blaster.BitTCK, 0)
			i++
			more := i < bits && p.shiftRun(tms, i, bits) == 0
			if more {
				seq.push(b|readFlag(capture), readBits)
				b = bitBangByte(tms, tdi, i)
				continue
			}
			seq.push(b, 0)
			break
		}
	}
	return seq
}

// EncodeTMS builds a capture-less sequence clocking the given TMS bits with
// TDI low.
func (p *BlasterProtocol) EncodeTMS(tms []bool) *BlasterSequence {
	buf := make([]byte, (len(tms)+7)/8)
	for i, bit := range tms {
		if bit {
			buf[i/8] |= 1 << (i % 8)
		}
	}
	return p.EncodeShift(buf, nil, len(tms), false)
}

// shiftRun returns how many whole bytes starting at bit i can be clocked in
// shift mode, or 0 if the run is shorter than MinShiftBytes.
func (p *BlasterProtocol) shiftRun(tms []byte, i, bits int) int {
	min := p.MinShiftBytes
	if min <= 0 {
		return 0
	}
	run := 0
	for j := i; j < bits && !bitAt(tms, j); j++ {
		run++
	}
	if n := run / 8; n >= min {
		return n
	}
	return 0
}

func (p *BlasterProtocol) encodeShiftMode(seq *BlasterSequence, tdi []byte, start, n int, capture bool) {
	// TMS must be low before the burst; TCK is already low.
	seq.push(0, 0)
	readBits := 0
	if capture {
		readBits = 8
	}
	for n > 0 {
		count := n
		if count > int(blaster.ShiftCountMax) {
			count = int(blaster.ShiftCountMax)
		}
		seq.push(blaster.FlagShift|readFlag(capture)|byte(count), 0)
		for k := 0; k < count; k++ {
			var v byte
			for j := 0; j < 8; j++ {
				if bitAt(tdi, start+j) {
					v |= 1 << j
				}
			}
			seq.push(v, readBits)
			start += 8
		}
		n -= count
	}
}

func bitBangByte(tms, tdi []byte, i int) byte {
	var b byte
	if bitAt(tms, i) {
		b |= blaster.BitTMS
	}
	if bitAt(tdi, i) {
		b |= blaster.BitTDI
	}
	return b
}

func readFlag(capture bool) byte {
	if capture {
		return blaster.FlagRead
	}
	return 0
}

// bitAt treats a missing buffer as all zeros.
func bitAt(buf []byte, i int) bool {
	if i/8 >= len(buf) {
		return false
	}
	return buf[i/8]&(1<<(i%8)) != 0
}
