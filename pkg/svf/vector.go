package svf

import (
	"fmt"
	"strings"
)

// parseHex turns an SVF hex vector such as "(0A1F)" into length bits packed
// LSB first. The rightmost digit holds the first bit shifted. Digits beyond
// length must be zero.
func parseHex(value string, length int) ([]byte, error) {
	digits := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
			return r
		}
		return -1
	}, value)

	out := make([]byte, (length+7)/8)
	for i := 0; i < len(digits); i++ {
		nibble := hexNibble(digits[len(digits)-1-i])
		for b := 0; b < 4; b++ {
			if nibble&(1<<b) == 0 {
				continue
			}
			bit := 4*i + b
			if bit >= length {
				return nil, fmt.Errorf("value %s has bits set beyond length %d", value, length)
			}
			out[bit/8] |= 1 << (bit % 8)
		}
	}
	return out, nil
}

func hexNibble(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}

// formatHex prints bits as an SVF vector, most significant digit first.
func formatHex(buf []byte, length int) string {
	if length <= 0 {
		return "()"
	}
	digits := (length + 3) / 4
	var b strings.Builder
	b.WriteByte('(')
	for d := digits - 1; d >= 0; d-- {
		var nibble byte
		for i := 0; i < 4; i++ {
			bit := 4*d + i
			if bit < length && getBit(buf, bit) {
				nibble |= 1 << i
			}
		}
		b.WriteByte("0123456789ABCDEF"[nibble])
	}
	b.WriteByte(')')
	return b.String()
}

func getBit(buf []byte, i int) bool {
	if i/8 >= len(buf) {
		return false
	}
	return buf[i/8]&(1<<(i%8)) != 0
}

func setBit(buf []byte, i int, v bool) {
	if v {
		buf[i/8] |= 1 << (i % 8)
	} else {
		buf[i/8] &^= 1 << (i % 8)
	}
}

func ones(length int) []byte {
	buf := make([]byte, (length+7)/8)
	for i := 0; i < length; i++ {
		setBit(buf, i, true)
	}
	return buf
}

// concat joins bit vectors, first argument shifted first.
func concat(parts ...vector) vector {
	total := 0
	for _, p := range parts {
		total += p.length
	}
	out := vector{length: total, bits: make([]byte, (total+7)/8)}
	pos := 0
	for _, p := range parts {
		for i := 0; i < p.length; i++ {
			setBit(out.bits, pos, getBit(p.bits, i))
			pos++
		}
	}
	return out
}

type vector struct {
	length int
	bits   []byte
}
