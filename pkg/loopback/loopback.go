// Package loopback connects a host-side USB-Blaster driver to an emulated
// device inside one process. The device side satisfies blaster.Transport,
// blaster.Registrar and blaster.BusResetter; the host side provides the raw
// bulk and control calls a USB link would.
//
// The bus runs the device synchronously from the host calls, so there is a
// single execution context and no goroutines.
package loopback

import (
	"errors"
	"fmt"
	"sync"

	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/blaster"
)

// ErrStall is returned for control requests the device rejected.
var ErrStall = errors.New("loopback: control request stalled")

// ErrNotAttached is returned by host calls before a device is attached.
var ErrNotAttached = errors.New("loopback: no device attached")

const maxPumps = 1024

// Bus is an in-memory USB connection carrying one device.
type Bus struct {
	mu sync.Mutex

	dev  *blaster.Blaster
	desc *blaster.Descriptors

	// toDevice holds bulk OUT bytes not yet read by the device.
	toDevice []byte
	// toHost holds bulk IN packets not yet read by the host.
	toHost [][]byte

	packetSize int
	busResets  int
	// acceptIn caps how many bytes of an IN packet the bus takes; zero
	// means all of them.
	acceptIn int
}

// New creates a bus with the given bulk packet size.
func New(packetSize int) *Bus {
	if packetSize <= 0 {
		packetSize = blaster.DefaultPacketSize
	}
	return &Bus{packetSize: packetSize}
}

// Attach binds a device built with this bus as its transport.
func (b *Bus) Attach(dev *blaster.Blaster) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dev = dev
}

// Connect builds a device on pins and attaches it to a new bus whose packet
// size matches opts.
func Connect(pins blaster.Pins, opts blaster.Options) (*Bus, *blaster.Blaster, error) {
	bus := New(opts.PacketSize)
	dev, err := blaster.New(pins, bus, opts)
	if err != nil {
		return nil, nil, err
	}
	bus.Attach(dev)
	return bus, dev, nil
}

// Descriptors returns the descriptor set registered by the device.
func (b *Bus) Descriptors() *blaster.Descriptors {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.desc
}

// BusResets reports how many times the device asked for a bus reset.
func (b *Bus) BusResets() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.busResets
}

// Device side.

// ReadPacket hands the device at most one packet of pending OUT data.
func (b *Bus) ReadPacket(buf []byte) (int, error) {
	if len(b.toDevice) == 0 {
		return 0, blaster.ErrWouldBlock
	}
	n := len(b.toDevice)
	if n > b.packetSize {
		n = b.packetSize
	}
	n = copy(buf, b.toDevice[:n])
	b.toDevice = b.toDevice[n:]
	return n, nil
}

// WritePacket queues one IN packet for the host.
func (b *Bus) WritePacket(data []byte) (int, error) {
	n := len(data)
	if b.acceptIn > 0 && n > b.acceptIn {
		n = b.acceptIn
	}
	b.toHost = append(b.toHost, append([]byte(nil), data[:n]...))
	return n, nil
}

// RegisterDescriptors stores the descriptor set for GET_DESCRIPTOR.
func (b *Bus) RegisterDescriptors(d *blaster.Descriptors) error {
	b.desc = d
	return nil
}

// BusReset drops everything in flight, as a re-enumeration would.
func (b *Bus) BusReset() error {
	b.toDevice = nil
	b.toHost = nil
	b.busResets++
	return nil
}

// Host side.

// Write queues bulk OUT data and runs the device until it has consumed what
// it can.
func (b *Bus) Write(data []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dev == nil {
		return 0, ErrNotAttached
	}
	b.toDevice = append(b.toDevice, data...)
	if err := b.pump(false); err != nil {
		return 0, err
	}
	return len(data), nil
}

// Read returns the next IN packet. When the device has nothing queued it is
// polled with the heartbeat set, so the host always sees at least the modem
// status, as it would from a real FT245.
func (b *Bus) Read(buf []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dev == nil {
		return 0, ErrNotAttached
	}
	if err := b.pump(false); err != nil {
		return 0, err
	}
	if len(b.toHost) == 0 {
		if err := b.poll(true); err != nil {
			return 0, err
		}
	}
	if len(b.toHost) == 0 {
		return 0, nil
	}
	pkt := b.toHost[0]
	b.toHost = b.toHost[1:]
	return copy(buf, pkt), nil
}

// Control dispatches a control transfer. Vendor requests go to the device;
// GET_DESCRIPTOR is answered from the registered descriptors.
func (b *Bus) Control(requestType, request uint8, value, index uint16, data []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dev == nil {
		return 0, ErrNotAttached
	}
	req := &blaster.ControlRequest{
		RequestType: requestType,
		Request:     request,
		Value:       value,
		Index:       index,
		Length:      uint16(len(data)),
	}
	resp := &responder{}
	handled, err := b.dev.HandleControl(req, resp)
	if err != nil {
		b.fault()
		return 0, err
	}
	if !handled {
		return b.standard(req, data)
	}
	if resp.stalled {
		return 0, ErrStall
	}
	return copy(data, resp.data), nil
}

// Close detaches the device.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dev = nil
	return nil
}

const (
	requestGetDescriptor = 0x06
	requestSetConfig     = 0x09
)

func (b *Bus) standard(req *blaster.ControlRequest, data []byte) (int, error) {
	switch req.Request {
	case requestGetDescriptor:
		if b.desc == nil {
			return 0, ErrStall
		}
		d := b.desc.Lookup(req.Value)
		if d == nil {
			return 0, ErrStall
		}
		return copy(data, d), nil
	case requestSetConfig:
		return 0, nil
	}
	return 0, fmt.Errorf("%w: standard request %#02x", ErrStall, req.Request)
}

// pump polls the device until the OUT queue drains or it stops making
// progress, e.g. because its response buffer is full.
func (b *Bus) pump(heartbeat bool) error {
	for i := 0; i < maxPumps; i++ {
		before := len(b.toDevice)
		in, out := b.dev.Pending()
		if err := b.poll(heartbeat); err != nil {
			return err
		}
		heartbeat = false
		in2, out2 := b.dev.Pending()
		if len(b.toDevice) == 0 && in2 == 0 && out2 == 0 {
			return nil
		}
		if len(b.toDevice) == before && in2 == in && out2 == out {
			return nil
		}
	}
	return nil
}

func (b *Bus) poll(heartbeat bool) error {
	if err := b.dev.Poll(heartbeat); err != nil {
		b.fault()
		return err
	}
	return nil
}

// fault applies the fault policy: reset the device and the bus.
func (b *Bus) fault() {
	_ = b.dev.Reset()
	_ = b.BusReset()
}

type responder struct {
	data    []byte
	stalled bool
}

func (r *responder) Accept(data []byte) error {
	r.data = append([]byte(nil), data...)
	return nil
}

func (r *responder) Reject() error {
	r.stalled = true
	return nil
}
