package ftdi

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf16"
)

// ROMSize is the size of the 93C46 image exposed by an FT245BM.
const ROMSize = 128

// WordCount is the number of 16-bit words addressable through READ_EEPROM.
const WordCount = ROMSize / 2

const (
	stringTableOffset = 0x14
	checksumOffset    = ROMSize - 2
	stringPointerFlag = 0x80
	descriptorString  = 0x03
)

var (
	// ErrROMTooShort is returned when fewer than ROMSize bytes are supplied.
	ErrROMTooShort = errors.New("ftdi: rom image shorter than 128 bytes")
	// ErrChecksum is returned when the stored checksum does not match.
	ErrChecksum = errors.New("ftdi: rom checksum mismatch")
)

// EEPROM describes the identity stored in the adapter's configuration ROM.
//
// The ROM holds a fixed header, three USB string descriptors and a small user
// area. The strings and the user area must fit before the trailing checksum.
type EEPROM struct {
	VendorID   uint16
	ProductID  uint16
	Release    uint16 // bcdDevice
	USBVersion uint16 // bcdUSB
	Attributes uint8  // bmAttributes of the configuration descriptor
	MaxPower   uint8  // 2 mA units
	ChipConfig uint8

	Manufacturer string
	Product      string
	Serial       string

	// UserArea is copied verbatim after the strings.
	UserArea []byte
}

// USBBlaster returns the identity of an Altera USB-Blaster rev. B.
func USBBlaster() EEPROM {
	return EEPROM{
		VendorID:     0x09FB,
		ProductID:    0x6001,
		Release:      0x0400,
		USBVersion:   0x0200,
		Attributes:   0x80,
		MaxPower:     0xE1,
		ChipConfig:   0x1C,
		Manufacturer: "Altera",
		Product:      "USB-Blaster",
		Serial:       "12345678",
		UserArea:     []byte{0x02, 0x03, 0x01, 0x00, 'R', 'E', 'V', 'B'},
	}
}

// Validate checks that the identity fits in the ROM.
func (e *EEPROM) Validate() error {
	if e.VendorID == 0 || e.ProductID == 0 {
		return errors.New("ftdi: vendor and product id must be set")
	}
	for name, s := range map[string]string{
		"Manufacturer": e.Manufacturer,
		"Product":      e.Product,
		"Serial":       e.Serial,
	} {
		if len(utf16.Encode([]rune(s))) > MaxStringUnits {
			return fmt.Errorf("ftdi: %s is too long", name)
		}
	}
	if used := e.usedBytes(); used > checksumOffset {
		return fmt.Errorf("ftdi: strings and user area need %d bytes, only %d available", used-stringTableOffset, checksumOffset-stringTableOffset)
	}
	return nil
}

func (e *EEPROM) usedBytes() int {
	n := stringTableOffset
	for _, s := range []string{e.Manufacturer, e.Product, e.Serial} {
		n += 2 + 2*len(utf16.Encode([]rune(s)))
	}
	return n + len(e.UserArea)
}

// MarshalTo renders the ROM image, checksum included, into buf.
func (e *EEPROM) MarshalTo(buf []byte) (int, error) {
	if len(buf) < ROMSize {
		return 0, ErrROMTooShort
	}
	if err := e.Validate(); err != nil {
		return 0, err
	}
	rom := buf[:ROMSize]
	for i := range rom {
		rom[i] = 0
	}
	binary.LittleEndian.PutUint16(rom[2:4], e.VendorID)
	binary.LittleEndian.PutUint16(rom[4:6], e.ProductID)
	binary.LittleEndian.PutUint16(rom[6:8], e.Release)
	rom[8] = e.Attributes
	rom[9] = e.MaxPower
	rom[10] = e.ChipConfig
	binary.LittleEndian.PutUint16(rom[12:14], e.USBVersion)

	offset := stringTableOffset
	for i, s := range []string{e.Manufacturer, e.Product, e.Serial} {
		desc := StringDescriptor(s)
		rom[14+2*i] = stringPointerFlag | byte(offset)
		rom[15+2*i] = byte(len(desc))
		offset += copy(rom[offset:], desc)
	}
	copy(rom[offset:checksumOffset], e.UserArea)

	binary.LittleEndian.PutUint16(rom[checksumOffset:], Checksum(rom))
	return ROMSize, nil
}

// Image returns the rendered ROM.
func (e *EEPROM) Image() ([ROMSize]byte, error) {
	var rom [ROMSize]byte
	_, err := e.MarshalTo(rom[:])
	return rom, err
}

// Checksum computes the FTDI ROM checksum over the first 63 words.
func Checksum(rom []byte) uint16 {
	sum := uint16(0xAAAA)
	for i := 0; i < checksumOffset; i += 2 {
		sum ^= binary.LittleEndian.Uint16(rom[i : i+2])
		sum = sum<<1 | sum>>15
	}
	return sum
}

// VerifyChecksum reports ErrChecksum when the stored checksum is wrong.
func VerifyChecksum(rom []byte) error {
	if len(rom) < ROMSize {
		return ErrROMTooShort
	}
	want := Checksum(rom)
	got := binary.LittleEndian.Uint16(rom[checksumOffset:])
	if got != want {
		return fmt.Errorf("%w: stored 0x%04X, computed 0x%04X", ErrChecksum, got, want)
	}
	return nil
}

// ParseROM decodes an image produced by MarshalTo or read from a device.
func ParseROM(rom []byte) (EEPROM, error) {
	if err := VerifyChecksum(rom); err != nil {
		return EEPROM{}, err
	}
	e := EEPROM{
		VendorID:   binary.LittleEndian.Uint16(rom[2:4]),
		ProductID:  binary.LittleEndian.Uint16(rom[4:6]),
		Release:    binary.LittleEndian.Uint16(rom[6:8]),
		Attributes: rom[8],
		MaxPower:   rom[9],
		ChipConfig: rom[10],
		USBVersion: binary.LittleEndian.Uint16(rom[12:14]),
	}
	end := stringTableOffset
	strs := make([]string, 3)
	for i := range strs {
		off := int(rom[14+2*i] &^ stringPointerFlag)
		n := int(rom[15+2*i])
		if n == 0 {
			continue
		}
		if off+n > checksumOffset {
			return EEPROM{}, fmt.Errorf("ftdi: string %d overruns rom (offset %d, length %d)", i, off, n)
		}
		s, err := ParseStringDescriptor(rom[off : off+n])
		if err != nil {
			return EEPROM{}, fmt.Errorf("ftdi: string %d: %w", i, err)
		}
		strs[i] = s
		if off+n > end {
			end = off + n
		}
	}
	e.Manufacturer, e.Product, e.Serial = strs[0], strs[1], strs[2]

	user := rom[end:checksumOffset]
	last := len(user)
	for last > 0 && user[last-1] == 0 {
		last--
	}
	if last > 0 {
		e.UserArea = append([]byte(nil), user[:last]...)
	}
	return e, nil
}

// Word returns the 16-bit word at addr as it is sent over READ_EEPROM.
// Addresses wrap at WordCount.
func Word(rom *[ROMSize]byte, addr uint16) [2]byte {
	i := int(addr%WordCount) * 2
	return [2]byte{rom[i], rom[i+1]}
}

// MaxStringUnits is the most UTF-16 code units a string descriptor holds;
// bLength is one byte.
const MaxStringUnits = (0xFF - 2) / 2

// StringDescriptor encodes s as a USB string descriptor (UTF-16LE). Strings
// longer than MaxStringUnits are cut at the last whole character that fits.
func StringDescriptor(s string) []byte {
	units := utf16.Encode([]rune(s))
	if len(units) > MaxStringUnits {
		n := MaxStringUnits
		if utf16.IsSurrogate(rune(units[n-1])) && units[n-1] < 0xDC00 {
			n--
		}
		units = units[:n]
	}
	desc := make([]byte, 2+2*len(units))
	desc[0] = byte(len(desc))
	desc[1] = descriptorString
	for i, u := range units {
		binary.LittleEndian.PutUint16(desc[2+2*i:], u)
	}
	return desc
}

// ParseStringDescriptor decodes a USB string descriptor.
func ParseStringDescriptor(desc []byte) (string, error) {
	if len(desc) < 2 || int(desc[0]) > len(desc) || desc[0]%2 != 0 {
		return "", errors.New("ftdi: malformed string descriptor")
	}
	if desc[1] != descriptorString {
		return "", fmt.Errorf("ftdi: descriptor type 0x%02X is not a string", desc[1])
	}
	units := make([]uint16, (int(desc[0])-2)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(desc[2+2*i:])
	}
	return string(utf16.Decode(units)), nil
}
