package emulator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/blaster"
)

var (
	// ErrClosed is returned by host calls after the queue is closed.
	ErrClosed = errors.New("emulator: queue closed")
	// ErrBusReset is returned to host transfers that were in flight when
	// the device dropped off the bus.
	ErrBusReset = errors.New("emulator: bus reset")
)

// DefaultOutLimit caps the bulk OUT bytes buffered ahead of the device.
// Host writes block past it, as a NAKing endpoint would.
const DefaultOutLimit = 4096

// Queue is an asynchronous USB connection. The device side implements
// blaster.Transport, blaster.Registrar and blaster.BusResetter and never
// blocks. The host side posts bulk transfers and waits for them.
//
// An IN packet is only produced against a transfer the host posted, so
// WritePacket reports ErrWouldBlock until a reader is waiting.
type Queue struct {
	mu sync.Mutex

	packetSize int
	outLimit   int

	out     []byte
	in      [][]byte
	credits []int

	desc   *blaster.Descriptors
	resets int
	gen    uint64
	closed bool

	// changed is closed and replaced on every state change host calls
	// wait on.
	changed chan struct{}
	wake    chan struct{}
}

// NewQueue returns an empty queue for bulk endpoints of packetSize bytes.
func NewQueue(packetSize int) *Queue {
	if packetSize <= blaster.HeaderSize {
		packetSize = blaster.DefaultPacketSize
	}
	return &Queue{
		packetSize: packetSize,
		outLimit:   DefaultOutLimit,
		changed:    make(chan struct{}),
		wake:       make(chan struct{}, 1),
	}
}

// Notify fires when the host queued data or posted an IN transfer.
func (q *Queue) Notify() <-chan struct{} { return q.wake }

// Descriptors returns the descriptor set registered by the device.
func (q *Queue) Descriptors() *blaster.Descriptors {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.desc
}

// BusResets reports how many times the device dropped off the bus.
func (q *Queue) BusResets() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.resets
}

// Backlog reports the bulk OUT bytes the device has not read yet.
func (q *Queue) Backlog() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.out)
}

// Device side.

// ReadPacket hands the device at most one packet of OUT data.
func (q *Queue) ReadPacket(buf []byte) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, ErrClosed
	}
	if len(q.out) == 0 {
		return 0, blaster.ErrWouldBlock
	}
	n := min(len(q.out), q.packetSize, len(buf))
	copy(buf, q.out[:n])
	q.out = q.out[n:]
	q.broadcast()
	return n, nil
}

// WritePacket completes the oldest posted IN transfer, truncating data to
// the size the host asked for. Credits are never shorter than the header, so
// a truncated packet always carries the whole modem status.
func (q *Queue) WritePacket(data []byte) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, ErrClosed
	}
	if len(q.credits) == 0 {
		return 0, blaster.ErrWouldBlock
	}
	n := min(len(data), q.credits[0])
	q.credits = q.credits[1:]
	q.in = append(q.in, append([]byte(nil), data[:n]...))
	q.broadcast()
	return n, nil
}

// RegisterDescriptors stores the descriptor set for GET_DESCRIPTOR.
func (q *Queue) RegisterDescriptors(d *blaster.Descriptors) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.desc = d
	return nil
}

// BusReset drops everything in flight. Waiting host transfers fail with
// ErrBusReset.
func (q *Queue) BusReset() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.out = nil
	q.in = nil
	q.credits = nil
	q.resets++
	q.gen++
	q.broadcast()
	return nil
}

// Host side.

// Push queues bulk OUT data, waiting while the backlog is over the limit.
func (q *Queue) Push(ctx context.Context, data []byte) (int, error) {
	q.mu.Lock()
	gen := q.gen
	for len(q.out) >= q.outLimit {
		changed := q.changed
		q.mu.Unlock()
		if err := q.await(ctx, changed, gen); err != nil {
			return 0, err
		}
		q.mu.Lock()
	}
	if q.closed {
		q.mu.Unlock()
		return 0, ErrClosed
	}
	q.out = append(q.out, data...)
	q.mu.Unlock()
	q.kick()
	return len(data), nil
}

// Pull posts an IN transfer of len(buf) bytes and waits for the device to
// complete it. A packet completed after ctx expired is kept for the next
// Pull. IN transfers complete in order, so one reader at a time.
func (q *Queue) Pull(ctx context.Context, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	// Every IN packet starts with the modem status, so a shorter transfer
	// can only overflow. It fails here without posting a credit.
	if len(buf) < blaster.HeaderSize {
		return 0, fmt.Errorf("emulator: %d byte IN transfer: %w", len(buf), io.ErrShortBuffer)
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return 0, ErrClosed
	}
	gen := q.gen
	posted := false
	if len(q.in) == 0 {
		q.credits = append(q.credits, len(buf))
		posted = true
	}
	for len(q.in) == 0 {
		changed := q.changed
		q.mu.Unlock()
		if posted {
			q.kick()
			posted = false
		}
		if err := q.await(ctx, changed, gen); err != nil {
			if errors.Is(err, ctx.Err()) {
				q.withdraw(gen)
			}
			return 0, err
		}
		q.mu.Lock()
	}
	pkt := q.in[0]
	q.in = q.in[1:]
	q.mu.Unlock()
	return copy(buf, pkt), nil
}

// Close fails all current and future host calls.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.broadcast()
	}
	return nil
}

func (q *Queue) await(ctx context.Context, changed <-chan struct{}, gen uint64) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-changed:
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	switch {
	case q.closed:
		return ErrClosed
	case q.gen != gen:
		return ErrBusReset
	}
	return nil
}

// withdraw takes back one unfilled IN transfer after its reader gave up.
func (q *Queue) withdraw(gen uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.gen == gen && len(q.credits) > 0 {
		q.credits = q.credits[:len(q.credits)-1]
	}
}

func (q *Queue) broadcast() {
	close(q.changed)
	q.changed = make(chan struct{})
}

func (q *Queue) kick() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
