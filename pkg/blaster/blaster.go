// Package blaster emulates the device side of an Altera USB-Blaster: an
// FT245 style bridge that turns bulk-OUT command bytes into JTAG pin activity
// and returns TDO samples on bulk-IN.
//
// A Blaster is owned by exactly one execution context. Poll is the only entry
// point for bulk traffic and never blocks.
package blaster

import (
	"errors"
	"fmt"

	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/ftdi"
	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/tap"
)

// DefaultPacketSize is the declared size of both bulk endpoints.
const DefaultPacketSize = 64

// HeaderSize is the length of the modem status prefix on every bulk-IN packet.
const HeaderSize = 2

// Options configures a Blaster.
type Options struct {
	// PacketSize is the declared bulk endpoint size. The outbound buffer
	// holds PacketSize-2 response bytes.
	PacketSize int
	// InboundSize is the inbound buffer capacity. Some hosts write more
	// than the declared endpoint size; 512 tolerates them.
	InboundSize int
	// ReadMarker is ORed into every bit-bang read response.
	ReadMarker byte
	// EchoOnShiftEntry makes a SHIFT command with READ set emit the shift
	// register before the first data byte of the burst.
	EchoOnShiftEntry bool
	// Identity answers the EEPROM, modem status and latency queries.
	// Nil selects the stock USB-Blaster ROM.
	Identity Identity
}

// DefaultOptions returns the options of a stock USB-Blaster.
func DefaultOptions() Options {
	return Options{
		PacketSize:  DefaultPacketSize,
		InboundSize: DefaultPacketSize,
		ReadMarker:  DefaultReadMarker,
	}
}

// FramerState is the state of the bulk-IN framer.
type FramerState uint8

const (
	// FramerIdle sends only when there is payload or a heartbeat is due.
	FramerIdle FramerState = iota
	// FramerJustReset forces the next write out even when it carries no
	// payload; host drivers wait for that first status packet.
	FramerJustReset
)

func (s FramerState) String() string {
	if s == FramerJustReset {
		return "JustReset"
	}
	return "Idle"
}

// Stats counts traffic since construction. Resets do not clear it.
type Stats struct {
	BytesIn        uint64
	BytesOut       uint64
	PacketsOut     uint64
	Heartbeats     uint64
	Resets         uint64
	ControlHandled uint64
}

// Blaster is the packet framer around a Port.
type Blaster struct {
	port      *Port
	transport Transport
	identity  Identity
	desc      *Descriptors

	in    *fifo
	out   *fifo
	frame []byte
	state FramerState
	stats Stats
}

// New builds a Blaster that owns pins and talks through transport. If the
// transport implements Registrar it receives the descriptor set here.
func New(pins Pins, transport Transport, opts Options) (*Blaster, error) {
	if !pins.validate() {
		return nil, errors.New("blaster: all four pins are required")
	}
	if transport == nil {
		return nil, errors.New("blaster: transport is nil")
	}
	if opts.PacketSize == 0 {
		opts.PacketSize = DefaultPacketSize
	}
	if opts.PacketSize <= HeaderSize || opts.PacketSize > 1024 {
		return nil, fmt.Errorf("blaster: packet size %d out of range", opts.PacketSize)
	}
	if opts.InboundSize == 0 {
		opts.InboundSize = opts.PacketSize
	}
	if opts.InboundSize < opts.PacketSize {
		return nil, fmt.Errorf("blaster: inbound size %d smaller than packet size %d", opts.InboundSize, opts.PacketSize)
	}

	id := opts.Identity
	if id == nil {
		rid, err := NewROMIdentity(ftdi.USBBlaster())
		if err != nil {
			return nil, err
		}
		id = rid
	}
	eeprom := ftdi.USBBlaster()
	if rid, ok := id.(*ROMIdentity); ok {
		eeprom = rid.EEPROM
	}

	b := &Blaster{
		port:      NewPort(pins, opts.ReadMarker, opts.EchoOnShiftEntry),
		transport: transport,
		identity:  id,
		desc:      NewDescriptors(eeprom, opts.PacketSize),
		in:        newFIFO(opts.InboundSize),
		out:       newFIFO(opts.PacketSize - HeaderSize),
		frame:     make([]byte, opts.PacketSize),
		state:     FramerJustReset,
	}
	if r, ok := transport.(Registrar); ok {
		if err := r.RegisterDescriptors(b.desc); err != nil {
			return nil, fmt.Errorf("blaster: register descriptors: %w", err)
		}
	}
	if err := b.port.Reset(); err != nil {
		return nil, err
	}
	return b, nil
}

// Descriptors returns the descriptor set built for this device.
func (b *Blaster) Descriptors() *Descriptors { return b.desc }

// TAPState reports the TAP state tracked by the interpreter.
func (b *Blaster) TAPState() tap.State { return b.port.State() }

// FramerState reports the bulk-IN framer state.
func (b *Blaster) FramerState() FramerState { return b.state }

// Pending reports the number of queued inbound and outbound bytes.
func (b *Blaster) Pending() (in, out int) { return b.in.Len(), b.out.Len() }

// Stats returns the traffic counters.
func (b *Blaster) Stats() Stats { return b.stats }

// Read pulls at most one packet from the transport into the inbound buffer.
func (b *Blaster) Read() (int, error) {
	if b.in.Full() {
		return 0, ErrWouldBlock
	}
	n, err := b.transport.ReadPacket(b.in.Tail())
	if n > 0 {
		b.in.Commit(n)
		b.stats.BytesIn += uint64(n)
	}
	if err != nil {
		return n, err
	}
	if n == 0 {
		return 0, ErrWouldBlock
	}
	return n, nil
}

// Handle runs the interpreter over the inbound buffer until it is empty or the
// outbound buffer is full.
func (b *Blaster) Handle() error {
	return b.port.handle(b.in, b.out)
}

// Write sends the modem status followed by any pending response bytes. It
// does nothing unless there is payload, heartbeat is set, or no packet has
// been sent since the last reset.
func (b *Blaster) Write(heartbeat bool) (int, error) {
	if b.out.Len() == 0 && !heartbeat && b.state != FramerJustReset {
		return 0, nil
	}
	status := b.identity.ModemStatus()
	b.frame[0], b.frame[1] = status[0], status[1]
	payload := b.out.Len()
	copy(b.frame[HeaderSize:], b.out.Bytes())

	n, err := b.transport.WritePacket(b.frame[:HeaderSize+payload])
	if err != nil {
		if n == 1 {
			return n, ErrFraming
		}
		return n, err
	}
	switch {
	case n == 0:
		return 0, ErrWouldBlock
	case n == 1:
		return n, ErrFraming
	}
	sent := n - HeaderSize
	if sent > payload {
		sent = payload
	}
	b.out.Discard(sent)
	b.state = FramerIdle
	b.stats.PacketsOut++
	b.stats.BytesOut += uint64(sent)
	if sent == 0 {
		b.stats.Heartbeats++
	}
	return n, nil
}

// Poll runs one read, interpret and write cycle. Transient conditions are
// swallowed; a non-nil error is fatal and the caller must Reset.
func (b *Blaster) Poll(heartbeat bool) error {
	if _, err := b.Read(); err != nil && !errors.Is(err, ErrWouldBlock) {
		return fmt.Errorf("blaster: read: %w", err)
	}
	if err := b.Handle(); err != nil {
		return err
	}
	if _, err := b.Write(heartbeat); err != nil && !errors.Is(err, ErrWouldBlock) {
		if errors.Is(err, ErrFraming) {
			return err
		}
		return fmt.Errorf("blaster: write: %w", err)
	}
	return nil
}

// Reset discards all buffered and in-progress state and returns the TAP to
// Test-Logic-Reset. It is the only cancellation primitive.
func (b *Blaster) Reset() error {
	b.in.Clear()
	b.out.Clear()
	b.state = FramerJustReset
	b.stats.Resets++
	return b.port.Reset()
}

// PurgeInbound drops queued host bytes without touching the interpreter.
func (b *Blaster) PurgeInbound() { b.in.Clear() }

// PurgeOutbound drops queued responses without touching the interpreter.
func (b *Blaster) PurgeOutbound() { b.out.Clear() }
