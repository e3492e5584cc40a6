package blaster

import (
	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/ftdi"
)

// Identity supplies the canned answers to the FTDI query requests.
type Identity interface {
	// EEPROMWord returns the ROM word at addr.
	EEPROMWord(addr uint16) [2]byte
	ModemStatus() [2]byte
	LatencyTimer() byte
}

// ROMIdentity answers queries from a rendered FT245 ROM image.
type ROMIdentity struct {
	EEPROM  ftdi.EEPROM
	rom     [ftdi.ROMSize]byte
	latency byte
}

// NewROMIdentity renders e into a ROM image.
func NewROMIdentity(e ftdi.EEPROM) (*ROMIdentity, error) {
	rom, err := e.Image()
	if err != nil {
		return nil, err
	}
	return &ROMIdentity{EEPROM: e, rom: rom, latency: ftdi.DefaultLatency}, nil
}

func (r *ROMIdentity) EEPROMWord(addr uint16) [2]byte { return ftdi.Word(&r.rom, addr) }
func (r *ROMIdentity) ModemStatus() [2]byte           { return ftdi.ModemStatus }
func (r *ROMIdentity) LatencyTimer() byte             { return r.latency }

// ROM returns a copy of the rendered image.
func (r *ROMIdentity) ROM() [ftdi.ROMSize]byte { return r.rom }
