// Package usbip exports an emulated USB device over the network with the
// USB/IP protocol, so a Linux host can attach it with `usbip attach` and
// drive it with its stock drivers.
package usbip

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/blaster"
)

// DefaultPort is the registered USB/IP port.
const DefaultPort = 3240

// DefaultBusID is the bus id the device is exported under.
const DefaultBusID = "1-1"

// maxTransfer bounds the buffer a host may ask for in one URB.
const maxTransfer = 1 << 16

// ErrBusy is returned to a second importer while the device is attached.
var ErrBusy = errors.New("usbip: device already imported")

// Device is the USB device being exported.
type Device interface {
	Descriptors() *blaster.Descriptors
	Control(ctx context.Context, req *blaster.ControlRequest, data []byte) (int, error)
	BulkOut(ctx context.Context, data []byte) (int, error)
	BulkIn(ctx context.Context, buf []byte) (int, error)
}

// Server exports one Device. Only one host may import it at a time.
type Server struct {
	dev    Device
	logger *slog.Logger

	// BusID is the id hosts pass to `usbip attach -b`.
	BusID string

	mu       sync.Mutex
	attached bool
}

// NewServer returns a server exporting dev. A nil logger discards output.
func NewServer(dev Device, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{dev: dev, logger: logger.With("component", "usbip"), BusID: DefaultBusID}
}

// ListenAndServe listens on addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("usbip: listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done. It closes ln.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("exporting device", "addr", ln.Addr().String(), "busid", s.BusID)
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("usbip: accept: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Handle(ctx, conn); err != nil {
				s.logger.Warn("connection ended", "remote", conn.RemoteAddr().String(), "error", err)
			}
		}()
	}
}

// Handle serves one connection: a device list request, or an import
// followed by URB traffic until either side hangs up.
func (s *Server) Handle(ctx context.Context, conn net.Conn) error {
	defer conn.Close()
	var hdr opHeader
	if err := binary.Read(conn, binary.BigEndian, &hdr); err != nil {
		return fmt.Errorf("usbip: read request: %w", err)
	}
	switch hdr.Code {
	case opReqDevlist:
		return s.devlist(conn)
	case opReqImport:
		var busID [32]byte
		if _, err := io.ReadFull(conn, busID[:]); err != nil {
			return fmt.Errorf("usbip: read busid: %w", err)
		}
		return s.importDevice(ctx, conn, cString(busID[:]))
	default:
		return fmt.Errorf("usbip: unknown operation %#04x", hdr.Code)
	}
}

func (s *Server) devlist(conn net.Conn) error {
	info, ifaces, err := describe(s.dev.Descriptors(), s.BusID, 1, 1)
	if err != nil {
		return err
	}
	values := []any{opHeader{Version: Version, Code: opRepDevlist, Status: statusOK}, uint32(1), info}
	for _, iface := range ifaces {
		values = append(values, iface)
	}
	return writeAll(conn, values...)
}

func (s *Server) importDevice(ctx context.Context, conn net.Conn, busID string) error {
	reply := opHeader{Version: Version, Code: opRepImport, Status: statusOK}
	if busID != s.BusID {
		reply.Status = statusError
		return errors.Join(fmt.Errorf("usbip: no device %q", busID), writeAll(conn, reply))
	}
	if !s.claim() {
		reply.Status = statusError
		return errors.Join(ErrBusy, writeAll(conn, reply))
	}
	defer s.release()

	info, _, err := describe(s.dev.Descriptors(), s.BusID, 1, 1)
	if err != nil {
		return err
	}
	if err := writeAll(conn, reply, info); err != nil {
		return err
	}
	s.logger.Info("device imported", "remote", conn.RemoteAddr().String())
	defer s.logger.Info("device released", "remote", conn.RemoteAddr().String())
	return newSession(s.dev, conn, s.logger).run(ctx)
}

func (s *Server) claim() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attached {
		return false
	}
	s.attached = true
	return true
}

func (s *Server) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached = false
}

func cString(b []byte) string {
	if i := strings.IndexByte(string(b), 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
