package jtag

import (
	"errors"
	"fmt"
	"sync"

	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/blaster"
	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/ftdi"
)

// Link carries raw FT245 traffic between the host and a USB-Blaster. Read
// returns whole IN packets including the two modem status bytes.
type Link interface {
	Write(data []byte) (int, error)
	Read(buf []byte) (int, error)
	Control(requestType, request uint8, value, index uint16, data []byte) (int, error)
	Close() error
}

const (
	vendorOut = blaster.RequestTypeVendor
	vendorIn  = blaster.RequestTypeVendor | blaster.RequestDirectionIn

	blasterClockHz = 6_000_000
	hostLatencyMs  = 2
)

// ErrNoResponse is returned when the device keeps sending status-only
// packets instead of the expected TDO bytes.
var ErrNoResponse = errors.New("jtag: usb-blaster sent no data")

// BlasterAdapter implements the Adapter interface on top of a USB-Blaster
// compatible device reached through a Link.
type BlasterAdapter struct {
	link     Link
	protocol *BlasterProtocol

	info AdapterInfo

	// MaxEmptyReads bounds how many status-only packets are tolerated while
	// waiting for responses.
	MaxEmptyReads int

	rx      []byte
	pending []byte

	mu sync.Mutex
}

// NewBlasterAdapter resets the FTDI side of the device, shortens its latency
// timer and reads the identity ROM.
func NewBlasterAdapter(link Link, packetSize int) (*BlasterAdapter, error) {
	if packetSize <= blaster.HeaderSize {
		packetSize = blaster.DefaultPacketSize
	}
	a := &BlasterAdapter{
		link:          link,
		protocol:      NewBlasterProtocol(packetSize),
		MaxEmptyReads: 64,
		rx:            make([]byte, packetSize),
	}
	if err := a.control(ftdi.RequestReset, ftdi.ResetSIO); err != nil {
		return nil, fmt.Errorf("failed to reset device: %w", err)
	}
	if err := a.control(ftdi.RequestSetLatency, hostLatencyMs); err != nil {
		return nil, fmt.Errorf("failed to set latency: %w", err)
	}
	a.queryInfo()
	return a, nil
}

func (a *BlasterAdapter) control(request uint8, value uint16) error {
	_, err := a.link.Control(vendorOut, request, value, 0, nil)
	return err
}

// queryInfo fills AdapterInfo from the identity ROM. A ROM that fails to
// parse leaves the generic description in place.
func (a *BlasterAdapter) queryInfo() {
	a.info = AdapterInfo{
		Name:         "USB-Blaster",
		Vendor:       "Altera",
		Model:        "USB-Blaster",
		MinFrequency: blasterClockHz,
		MaxFrequency: blasterClockHz,
		Notes:        "fixed TCK; no TRST/SRST lines",
	}
	rom, err := a.readROM()
	if err != nil {
		return
	}
	e, err := ftdi.ParseROM(rom[:])
	if err != nil {
		a.info.Notes = fmt.Sprintf("%s; %v", a.info.Notes, err)
		return
	}
	a.info.Vendor = e.Manufacturer
	a.info.Model = e.Product
	a.info.SerialNumber = e.Serial
	a.info.Firmware = fmt.Sprintf("%x.%02x", e.Release>>8, e.Release&0xFF)
}

// ReadROM returns the 128-byte identity ROM.
func (a *BlasterAdapter) ReadROM() ([ftdi.ROMSize]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.readROM()
}

func (a *BlasterAdapter) readROM() ([ftdi.ROMSize]byte, error) {
	var rom [ftdi.ROMSize]byte
	for w := 0; w < ftdi.WordCount; w++ {
		n, err := a.link.Control(vendorIn, ftdi.RequestReadEEPROM, 0, uint16(w), rom[2*w:2*w+2])
		if err != nil {
			return rom, fmt.Errorf("read eeprom word %d: %w", w, err)
		}
		if n != 2 {
			return rom, fmt.Errorf("read eeprom word %d: got %d bytes", w, n)
		}
	}
	return rom, nil
}

// ModemStatus reads the FTDI modem status pair.
func (a *BlasterAdapter) ModemStatus() ([2]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var s [2]byte
	_, err := a.link.Control(vendorIn, ftdi.RequestGetModemStat, 0, 0, s[:])
	return s, err
}

// Info returns adapter capabilities.
func (a *BlasterAdapter) Info() (AdapterInfo, error) {
	return a.info, nil
}

// ShiftIR shifts data into the instruction register. The USB-Blaster has no
// notion of IR or DR; the caller's TMS pattern selects the path.
func (a *BlasterAdapter) ShiftIR(tms, tdi []byte, bits int) ([]byte, error) {
	return a.shift(tms, tdi, bits)
}

// ShiftDR shifts data into the data register.
func (a *BlasterAdapter) ShiftDR(tms, tdi []byte, bits int) ([]byte, error) {
	return a.shift(tms, tdi, bits)
}

func (a *BlasterAdapter) shift(tms, tdi []byte, bits int) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, err := ValidateShiftBuffers(tms, tdi, bits); err != nil {
		return nil, err
	}
	seq := a.protocol.EncodeShift(tms, tdi, bits, true)
	resp, err := a.run(seq)
	if err != nil {
		return nil, fmt.Errorf("shift failed: %w", err)
	}
	return seq.Decode(resp)
}

// ResetTAP clocks five TMS=1 cycles. A hard reset also resets the FTDI side,
// dropping anything still buffered in the device.
func (a *BlasterAdapter) ResetTAP(hard bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if hard {
		if err := a.control(ftdi.RequestReset, ftdi.ResetSIO); err != nil {
			return err
		}
		a.pending = a.pending[:0]
	}
	_, err := a.run(a.protocol.EncodeTMS([]bool{true, true, true, true, true}))
	return err
}

// SetSpeed accepts any rate up to the USB-Blaster clock. The cable always
// shifts at that fixed clock, so nothing changes on the wire.
func (a *BlasterAdapter) SetSpeed(hz int) error {
	if hz <= 0 || hz > a.info.MaxFrequency {
		return fmt.Errorf("jtag: invalid speed %dHz (max %dHz)", hz, a.info.MaxFrequency)
	}
	return nil
}

// Close releases the link.
func (a *BlasterAdapter) Close() error {
	return a.link.Close()
}

// run sends seq chunk by chunk and collects its responses. Each chunk fits in
// one OUT packet and its responses in one IN packet so the device never
// stalls on a full buffer.
func (a *BlasterAdapter) run(seq *BlasterSequence) ([]byte, error) {
	resp := make([]byte, 0, seq.Responses())
	for _, chunk := range seq.Chunks(a.protocol.PacketSize, a.protocol.MaxResponses()) {
		if _, err := a.link.Write(chunk.Commands); err != nil {
			return nil, err
		}
		got, err := a.collect(chunk.Responses)
		if err != nil {
			return nil, err
		}
		resp = append(resp, got...)
	}
	return resp, nil
}

func (a *BlasterAdapter) collect(n int) ([]byte, error) {
	empty := 0
	for len(a.pending) < n {
		got, err := a.link.Read(a.rx)
		if err != nil {
			return nil, err
		}
		if got <= blaster.HeaderSize {
			empty++
			if empty > a.MaxEmptyReads {
				return nil, fmt.Errorf("%w: have %d of %d bytes", ErrNoResponse, len(a.pending), n)
			}
			continue
		}
		a.pending = append(a.pending, a.rx[blaster.HeaderSize:got]...)
	}
	out := append([]byte(nil), a.pending[:n]...)
	a.pending = append(a.pending[:0], a.pending[n:]...)
	return out, nil
}
