package usbip

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/blaster"
)

// errDisconnect ends a session after the device dropped off the bus.
var errDisconnect = errors.New("usbip: device reset, host must re-attach")

type urb struct {
	seq    uint32
	length int
	ctx    context.Context
}

// session carries the URB traffic of one imported device. Control and bulk
// OUT transfers complete inline; bulk IN transfers wait on a worker so the
// reader stays free for further submits and unlinks.
type session struct {
	dev    Device
	conn   net.Conn
	logger *slog.Logger

	wmu sync.Mutex

	mu       sync.Mutex
	inflight map[uint32]context.CancelFunc
	in       chan urb
}

func newSession(dev Device, conn net.Conn, logger *slog.Logger) *session {
	return &session{
		dev:      dev,
		conn:     conn,
		logger:   logger,
		inflight: make(map[uint32]context.CancelFunc),
		in:       make(chan urb, 64),
	}
}

func (s *session) run(ctx context.Context) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	go func() {
		<-ctx.Done()
		s.conn.Close()
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.bulkIn(ctx); err != nil {
			cancel(err)
		}
	}()
	defer wg.Wait()
	defer close(s.in)

	for {
		err := s.next(ctx)
		if err == nil {
			continue
		}
		if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
			return cause
		}
		if errors.Is(err, io.EOF) || ctx.Err() != nil {
			return nil
		}
		return err
	}
}

// next reads and dispatches one command.
func (s *session) next(ctx context.Context) error {
	var (
		hdr  urbHeader
		body urbBody
	)
	if err := binary.Read(s.conn, binary.BigEndian, &hdr); err != nil {
		return err
	}
	if _, err := io.ReadFull(s.conn, body[:]); err != nil {
		return err
	}

	switch hdr.Command {
	case cmdSubmit:
		var sub submit
		if err := body.decode(&sub); err != nil {
			return err
		}
		if sub.BufferLength < 0 || sub.BufferLength > maxTransfer {
			return fmt.Errorf("usbip: transfer of %d bytes", sub.BufferLength)
		}
		var payload []byte
		if hdr.Direction == dirOut && sub.BufferLength > 0 {
			payload = make([]byte, sub.BufferLength)
			if _, err := io.ReadFull(s.conn, payload); err != nil {
				return err
			}
		}
		return s.submit(ctx, hdr, sub, payload)
	case cmdUnlink:
		var u unlink
		if err := body.decode(&u); err != nil {
			return err
		}
		return s.unlink(hdr.SeqNum, u.SeqNum)
	default:
		return fmt.Errorf("usbip: unknown command %#x", hdr.Command)
	}
}

func (s *session) submit(ctx context.Context, hdr urbHeader, sub submit, payload []byte) error {
	switch {
	case hdr.EP == 0:
		req := setupRequest(sub.Setup)
		data := payload
		if req.IsIn() {
			data = make([]byte, sub.BufferLength)
		}
		n, err := s.dev.Control(ctx, req, data)
		if err != nil {
			s.logger.Debug("control stalled", "request", req.Request, "value", req.Value, "error", err)
			return s.reply(hdr.SeqNum, errnoPipe, 0, nil)
		}
		if !req.IsIn() {
			return s.reply(hdr.SeqNum, statusOK, len(payload), nil)
		}
		return s.reply(hdr.SeqNum, statusOK, n, data[:n])

	case hdr.Direction == dirOut && hdr.EP == uint32(blaster.EndpointOut&0x0F):
		n, err := s.dev.BulkOut(ctx, payload)
		if err != nil {
			return s.transferFailed(hdr.SeqNum, err)
		}
		return s.reply(hdr.SeqNum, statusOK, n, nil)

	case hdr.Direction == dirIn && hdr.EP == uint32(blaster.EndpointIn&0x0F):
		uctx, cancel := context.WithCancel(ctx)
		s.mu.Lock()
		s.inflight[hdr.SeqNum] = cancel
		s.mu.Unlock()
		select {
		case s.in <- urb{seq: hdr.SeqNum, length: int(sub.BufferLength), ctx: uctx}:
		case <-ctx.Done():
			cancel()
		}
		return nil
	}
	return s.reply(hdr.SeqNum, errnoPipe, 0, nil)
}

// bulkIn completes IN transfers in submission order.
func (s *session) bulkIn(ctx context.Context) error {
	for u := range s.in {
		if u.ctx.Err() != nil {
			continue
		}
		buf := make([]byte, u.length)
		n, err := s.dev.BulkIn(u.ctx, buf)

		s.mu.Lock()
		cancel, live := s.inflight[u.seq]
		delete(s.inflight, u.seq)
		s.mu.Unlock()
		if !live {
			// Unlinked; the unlink reply went out already.
			continue
		}
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if rerr := s.transferFailed(u.seq, err); rerr != nil {
				return rerr
			}
			continue
		}
		if err := s.reply(u.seq, statusOK, n, buf[:n]); err != nil {
			return err
		}
	}
	return nil
}

// transferFailed reports a failed bulk transfer. A buffer too small for a
// packet fails that URB alone; a bus reset on the device side ends the
// session, which the host sees as an unplug.
func (s *session) transferFailed(seq uint32, err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return s.reply(seq, errnoConnReset, 0, nil)
	case errors.Is(err, io.ErrShortBuffer):
		return s.reply(seq, errnoOverflow, 0, nil)
	}
	_ = s.reply(seq, errnoShutdown, 0, nil)
	return fmt.Errorf("%w: %v", errDisconnect, err)
}

func (s *session) unlink(seq, target uint32) error {
	s.mu.Lock()
	cancel, live := s.inflight[target]
	delete(s.inflight, target)
	s.mu.Unlock()

	status := int32(statusOK)
	if live {
		cancel()
		status = errnoConnReset
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return writeAll(s.conn, urbHeader{Command: retUnlink, SeqNum: seq}, unlinkReply{Status: status})
}

func (s *session) reply(seq uint32, status int32, actual int, data []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return writeAll(s.conn,
		urbHeader{Command: retSubmit, SeqNum: seq},
		submitReply{Status: status, ActualLength: int32(actual)},
		data)
}
