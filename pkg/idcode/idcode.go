// Package idcode decodes IEEE 1149.1 IDCODE words and names their JEP106
// manufacturers.
package idcode

import "fmt"

// IDCode is a decoded 32-bit IDCODE register.
type IDCode struct {
	Raw              uint32
	Version          uint8  // bits 31:28
	PartNumber       uint16 // bits 27:12
	ManufacturerCode uint16 // bits 11:1, JEP106 bank in the top four
	HasIDCode        bool   // bit 0
}

// ParseIDCode splits raw into its fields.
func ParseIDCode(raw uint32) IDCode {
	return IDCode{
		Raw:              raw,
		Version:          uint8(raw >> 28),
		PartNumber:       uint16(raw >> 12),
		ManufacturerCode: uint16(raw>>1) & 0x7FF,
		HasIDCode:        raw&1 == 1,
	}
}

// Bank is the JEP106 continuation count.
func (id IDCode) Bank() int { return int(id.ManufacturerCode >> 7) }

// Valid reports whether id could have come from a device. 0x7F is the JEP106
// continuation byte and never names a manufacturer, which also rules out the
// all-ones word a floating TDO produces.
func (id IDCode) Valid() bool {
	return id.HasIDCode && id.ManufacturerCode&0x7F != 0x7F
}

func (id IDCode) String() string {
	return fmt.Sprintf("0x%08X (mfg 0x%03X, part 0x%04X, ver %d)", id.Raw, id.ManufacturerCode, id.PartNumber, id.Version)
}

// Manufacturer is a JEP106 entry.
type Manufacturer struct {
	Code         uint16
	Name         string
	Abbreviation string
}
