package jtag

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/gousb"
)

const (
	// Endpoint addresses of FT245 interface A.
	EndpointOUT = 0x02
	EndpointIN  = 0x81

	DefaultPacketSize = 64
	DefaultTimeout    = 1 * time.Second
)

var errDeviceNotFound = errors.New("device not found")

// USBLink is a Link to a USB-Blaster (real or emulated) over libusb.
type USBLink struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface

	epOut *gousb.OutEndpoint
	epIn  *gousb.InEndpoint

	packetSize int
	timeout    time.Duration

	vid uint16
	pid uint16
}

// OpenUSBLink opens the first device matching vid:pid. Enumeration races
// right after a gadget comes up are retried with exponential backoff.
func OpenUSBLink(vid, pid uint16) (*USBLink, error) {
	ctx := gousb.NewContext()

	var dev *gousb.Device
	op := func() error {
		d, err := ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
		if err != nil {
			if errors.Is(err, gousb.ErrorAccess) {
				return backoff.Permanent(err)
			}
			return err
		}
		if d == nil {
			return errDeviceNotFound
		}
		dev = d
		return nil
	}
	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock})
	if err != nil {
		ctx.Close()
		if errors.Is(err, errDeviceNotFound) {
			return nil, fmt.Errorf("%w (VID:0x%04X PID:0x%04X)", err, vid, pid)
		}
		return nil, fmt.Errorf("USB error: %w", err)
	}

	// Not supported on every platform; the claim below reports real failures.
	_ = dev.SetAutoDetach(true)
	dev.ControlTimeout = DefaultTimeout

	link := &USBLink{
		ctx:        ctx,
		dev:        dev,
		packetSize: DefaultPacketSize,
		timeout:    DefaultTimeout,
		vid:        vid,
		pid:        pid,
	}
	if err := link.claimInterface(); err != nil {
		link.Close()
		return nil, err
	}
	return link, nil
}

// claimInterface claims the vendor-specific interface carrying the FIFO.
func (l *USBLink) claimInterface() error {
	cfg, err := l.dev.Config(1)
	if err != nil {
		return fmt.Errorf("failed to get config: %w", err)
	}
	l.cfg = cfg

	intfNum := 0
	for _, intf := range cfg.Desc.Interfaces {
		if len(intf.AltSettings) > 0 && intf.AltSettings[0].Class == gousb.ClassVendorSpec {
			intfNum = intf.Number
			break
		}
	}

	intf, err := cfg.Interface(intfNum, 0)
	if err != nil {
		return fmt.Errorf("failed to claim interface %d: %w", intfNum, err)
	}
	l.intf = intf
	return l.findEndpoints()
}

// findEndpoints discovers the bulk IN and OUT endpoints.
func (l *USBLink) findEndpoints() error {
	outAddr, inAddr := -1, -1
	for _, ep := range l.intf.Setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		switch ep.Direction {
		case gousb.EndpointDirectionOut:
			if outAddr < 0 {
				outAddr = ep.Number
			}
		case gousb.EndpointDirectionIn:
			if inAddr < 0 {
				inAddr = ep.Number
				l.packetSize = ep.MaxPacketSize
			}
		}
	}
	if outAddr < 0 {
		return fmt.Errorf("bulk OUT endpoint not found")
	}
	if inAddr < 0 {
		return fmt.Errorf("bulk IN endpoint not found")
	}

	epOut, err := l.intf.OutEndpoint(outAddr)
	if err != nil {
		return fmt.Errorf("failed to open OUT endpoint: %w", err)
	}
	l.epOut = epOut

	epIn, err := l.intf.InEndpoint(inAddr)
	if err != nil {
		return fmt.Errorf("failed to open IN endpoint: %w", err)
	}
	l.epIn = epIn
	return nil
}

// Write sends command bytes on the bulk OUT endpoint.
func (l *USBLink) Write(data []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()
	n, err := l.epOut.WriteContext(ctx, data)
	if err != nil {
		return n, fmt.Errorf("USB write failed: %w", err)
	}
	return n, nil
}

// Read receives one IN packet, status bytes included.
func (l *USBLink) Read(buf []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()
	n, err := l.epIn.ReadContext(ctx, buf)
	if err != nil {
		return n, fmt.Errorf("USB read failed: %w", err)
	}
	return n, nil
}

// Control issues a control transfer on endpoint 0.
func (l *USBLink) Control(requestType, request uint8, value, index uint16, data []byte) (int, error) {
	return l.dev.Control(requestType, request, value, index, data)
}

// PacketSize returns the bulk IN packet size.
func (l *USBLink) PacketSize() int {
	return l.packetSize
}

// SetTimeout sets the bulk read/write timeout.
func (l *USBLink) SetTimeout(timeout time.Duration) {
	l.timeout = timeout
}

// Close releases USB resources.
func (l *USBLink) Close() error {
	if l.intf != nil {
		l.intf.Close()
		l.intf = nil
	}
	if l.cfg != nil {
		l.cfg.Close()
		l.cfg = nil
	}
	if l.dev != nil {
		l.dev.Close()
		l.dev = nil
	}
	if l.ctx != nil {
		l.ctx.Close()
		l.ctx = nil
	}
	return nil
}
