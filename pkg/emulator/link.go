package emulator

import (
	"context"
	"time"

	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/blaster"
)

// DefaultTimeout bounds each host transfer on a Link.
const DefaultTimeout = time.Second

// Link is a host-side handle on a running Emulator with the call shapes of
// a libusb device: bulk Write and Read plus Control on endpoint 0. It
// satisfies jtag.Link.
type Link struct {
	e *Emulator
	// Timeout bounds each transfer; zero waits forever.
	Timeout time.Duration
}

// Link returns a new host handle.
func (e *Emulator) Link() *Link {
	return &Link{e: e, Timeout: DefaultTimeout}
}

func (l *Link) context() (context.Context, context.CancelFunc) {
	if l.Timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), l.Timeout)
}

// Write sends data on the bulk OUT endpoint.
func (l *Link) Write(data []byte) (int, error) {
	ctx, cancel := l.context()
	defer cancel()
	return l.e.BulkOut(ctx, data)
}

// Read receives one bulk IN packet, modem status included.
func (l *Link) Read(buf []byte) (int, error) {
	ctx, cancel := l.context()
	defer cancel()
	return l.e.BulkIn(ctx, buf)
}

// Control issues a control transfer.
func (l *Link) Control(requestType, request uint8, value, index uint16, data []byte) (int, error) {
	ctx, cancel := l.context()
	defer cancel()
	req := &blaster.ControlRequest{
		RequestType: requestType,
		Request:     request,
		Value:       value,
		Index:       index,
		Length:      uint16(len(data)),
	}
	return l.e.Control(ctx, req, data)
}

// Close releases the handle. The emulator keeps running.
func (l *Link) Close() error { return nil }
