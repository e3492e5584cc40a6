package chain

import "github.com/OpenTraceLab/OpenTraceBlaster/pkg/jtag"

// packBits packs bits LSB first, the order adapters shift them in.
func packBits(bits []bool) []byte {
	if len(bits) == 0 {
		return nil
	}
	out := make([]byte, jtag.ShiftBytes(len(bits)))
	for i, b := range bits {
		if b {
			out[i>>3] |= 1 << (i & 7)
		}
	}
	return out
}

// unpackBits is the inverse of packBits for the first n bits of buf. Bits
// past the end of buf read as zero.
func unpackBits(buf []byte, n int) []bool {
	if n == 0 {
		return nil
	}
	out := make([]bool, n)
	for i := range out {
		if i>>3 >= len(buf) {
			break
		}
		out[i] = buf[i>>3]>>(i&7)&1 == 1
	}
	return out
}

// word assembles the 32 bits at bits[pos:] into an IDCODE.
func word(bits []bool, pos int) uint32 {
	var v uint32
	for i := 31; i >= 0; i-- {
		v <<= 1
		if bits[pos+i] {
			v |= 1
		}
	}
	return v
}
