// Package emulator runs a USB-Blaster device on its own goroutine and exposes
// it to host code through an asynchronous Queue. Control transfers are
// marshalled onto the device goroutine, so the Blaster keeps a single owner.
package emulator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/blaster"
)

const (
	// DefaultPollInterval is how often an idle device is polled.
	DefaultPollInterval = time.Millisecond
	// DefaultHeartbeat matches the FT245 latency timer of 10 ms.
	DefaultHeartbeat = 10 * time.Millisecond
	// MaxHeartbeat is the longest gap allowed between status packets.
	MaxHeartbeat = 10 * time.Millisecond
)

var (
	// ErrStall is returned for control requests the device rejected.
	ErrStall = errors.New("emulator: control request stalled")
	// ErrRunning is returned by Run when the device loop is already active.
	ErrRunning = errors.New("emulator: already running")
)

// Options configures an Emulator.
type Options struct {
	Device blaster.Options
	// PollInterval bounds how long the loop sleeps when the host is quiet.
	PollInterval time.Duration
	// Heartbeat is the interval of status-only IN packets.
	Heartbeat time.Duration
}

// DefaultOptions returns a stock USB-Blaster polled every millisecond.
func DefaultOptions() Options {
	return Options{
		Device:       blaster.DefaultOptions(),
		PollInterval: DefaultPollInterval,
		Heartbeat:    DefaultHeartbeat,
	}
}

// Validate checks the loop timing.
func (o Options) Validate() error {
	if o.PollInterval <= 0 {
		return fmt.Errorf("emulator: poll interval %s must be positive", o.PollInterval)
	}
	if o.Heartbeat <= 0 || o.Heartbeat > MaxHeartbeat {
		return fmt.Errorf("emulator: heartbeat %s outside (0, %s]", o.Heartbeat, MaxHeartbeat)
	}
	if o.PollInterval > o.Heartbeat {
		return fmt.Errorf("emulator: poll interval %s longer than heartbeat %s", o.PollInterval, o.Heartbeat)
	}
	return nil
}

// Stats counts loop activity.
type Stats struct {
	Polls    uint64
	Controls uint64
	Faults   uint64
	Device   blaster.Stats
}

type call struct {
	fn   func(*blaster.Blaster)
	done chan struct{}
}

// Emulator owns a Blaster and the Queue it talks through.
type Emulator struct {
	dev     *blaster.Blaster
	queue   *Queue
	opts    Options
	logger  *slog.Logger
	limiter *rate.Limiter

	calls   chan call
	running atomic.Bool

	mu    sync.Mutex
	stats Stats
}

// New builds a device on pins behind a fresh Queue. A nil logger discards
// output.
func New(pins blaster.Pins, opts Options, logger *slog.Logger) (*Emulator, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	q := NewQueue(opts.Device.PacketSize)
	dev, err := blaster.New(pins, q, opts.Device)
	if err != nil {
		return nil, err
	}
	return &Emulator{
		dev:     dev,
		queue:   q,
		opts:    opts,
		logger:  logger.With("component", "emulator"),
		limiter: rate.NewLimiter(rate.Every(opts.Heartbeat), 1),
		calls:   make(chan call),
	}, nil
}

// Queue returns the connection the device talks through.
func (e *Emulator) Queue() *Queue { return e.queue }

// Descriptors returns the device's descriptor set. It never changes after New.
func (e *Emulator) Descriptors() *blaster.Descriptors { return e.dev.Descriptors() }

// BulkOut queues host data for the device.
func (e *Emulator) BulkOut(ctx context.Context, data []byte) (int, error) {
	return e.queue.Push(ctx, data)
}

// BulkIn waits for the next IN packet, modem status included.
func (e *Emulator) BulkIn(ctx context.Context, buf []byte) (int, error) {
	return e.queue.Pull(ctx, buf)
}

// Stats returns a snapshot of the counters.
func (e *Emulator) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Run polls the device until ctx is done. Faults reset the device and the
// bus and the loop carries on; a broken transport ends it.
func (e *Emulator) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer e.running.Store(false)

	e.logger.Info("device running",
		"packet_size", e.opts.Device.PacketSize,
		"heartbeat", e.opts.Heartbeat)
	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			st := e.Stats()
			e.logger.Info("device stopped",
				"polls", st.Polls,
				"faults", st.Faults,
				"bytes_in", st.Device.BytesIn,
				"bytes_out", st.Device.BytesOut)
			return nil
		case c := <-e.calls:
			c.fn(e.dev)
			close(c.done)
		case <-e.queue.Notify():
		case <-ticker.C:
		}
		if err := e.drain(); err != nil {
			e.logger.Error("transport failed", "error", err)
			return err
		}
	}
}

// drain polls until a cycle moves no bytes.
func (e *Emulator) drain() error {
	for {
		before := e.dev.Stats()
		if err := e.step(); err != nil {
			return err
		}
		after := e.dev.Stats()
		if after.BytesIn == before.BytesIn && after.BytesOut == before.BytesOut {
			return nil
		}
	}
}

func (e *Emulator) step() error {
	err := e.dev.Poll(e.limiter.Allow())
	e.mu.Lock()
	e.stats.Polls++
	e.mu.Unlock()
	if err == nil || errors.Is(err, blaster.ErrWouldBlock) {
		e.snapshot()
		return nil
	}
	if !blaster.IsFatal(err) {
		return err
	}
	e.fault(err)
	return nil
}

// fault resets the device and drops it off the bus so the host
// re-enumerates.
func (e *Emulator) fault(err error) {
	e.logger.Warn("device fault, resetting", "error", err)
	if rerr := e.dev.Reset(); rerr != nil {
		e.logger.Error("reset left the TAP faulted", "error", rerr)
	}
	if rerr := e.queue.BusReset(); rerr != nil {
		e.logger.Error("bus reset failed", "error", rerr)
	}
	e.mu.Lock()
	e.stats.Faults++
	e.mu.Unlock()
	e.snapshot()
}

func (e *Emulator) snapshot() {
	st := e.dev.Stats()
	e.mu.Lock()
	e.stats.Device = st
	e.mu.Unlock()
}

// Do runs fn on the device goroutine and waits for it. It blocks until Run
// picks the call up or ctx is done.
func (e *Emulator) Do(ctx context.Context, fn func(*blaster.Blaster)) error {
	c := call{fn: fn, done: make(chan struct{})}
	select {
	case e.calls <- c:
	case <-ctx.Done():
		return ctx.Err()
	}
	<-c.done
	return nil
}

// Standard requests answered without the device.
const (
	requestGetStatus     = 0x00
	requestClearFeature  = 0x01
	requestSetFeature    = 0x03
	requestSetAddress    = 0x05
	requestGetDescriptor = 0x06
	requestGetConfig     = 0x08
	requestSetConfig     = 0x09
	requestGetInterface  = 0x0A
	requestSetInterface  = 0x0B
)

// Control completes one control transfer. For IN requests the response is
// copied into data, whose length is wLength; for OUT requests data is the
// payload.
func (e *Emulator) Control(ctx context.Context, req *blaster.ControlRequest, data []byte) (int, error) {
	if !req.IsVendor() {
		return e.standard(req, data)
	}
	var (
		resp    responder
		handled bool
		err     error
	)
	if derr := e.Do(ctx, func(dev *blaster.Blaster) {
		handled, err = dev.HandleControl(req, &resp)
		if err != nil && blaster.IsFatal(err) {
			e.fault(err)
		}
	}); derr != nil {
		return 0, derr
	}
	e.mu.Lock()
	e.stats.Controls++
	e.mu.Unlock()
	switch {
	case err != nil:
		return 0, err
	case !handled, resp.stalled:
		return 0, fmt.Errorf("%w: vendor request %#02x", ErrStall, req.Request)
	}
	if !req.IsIn() {
		return 0, nil
	}
	return copy(data, resp.data), nil
}

func (e *Emulator) standard(req *blaster.ControlRequest, data []byte) (int, error) {
	switch req.Request {
	case requestGetDescriptor:
		d := e.Descriptors().Lookup(req.Value)
		if d == nil {
			break
		}
		return copy(data, d), nil
	case requestGetStatus:
		return copy(data, []byte{0, 0}), nil
	case requestGetConfig:
		return copy(data, []byte{1}), nil
	case requestGetInterface:
		return copy(data, []byte{0}), nil
	case requestSetConfig, requestSetInterface, requestSetAddress,
		requestClearFeature, requestSetFeature:
		return 0, nil
	}
	return 0, fmt.Errorf("%w: standard request %#02x wValue %#04x", ErrStall, req.Request, req.Value)
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
