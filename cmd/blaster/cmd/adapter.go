package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceBlaster/internal/config"
	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/emulator"
	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/jtag"
	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/pins"
)

// Flags shared by the host-side commands.
var (
	adapterType  string
	adapterSpeed int
)

func addAdapterFlags(c *cobra.Command) {
	c.Flags().StringVarP(&adapterType, "adapter", "a", "",
		"host adapter (usb, emulator, bitbang); default from config")
	c.Flags().IntVar(&adapterSpeed, "speed", 0,
		"TCK speed in Hz; default from config")
}

// hostSession is an open adapter plus whatever keeps it alive.
type hostSession struct {
	adapter jtag.Adapter
	blaster *jtag.BlasterAdapter
	closers []func() error
}

func (h *hostSession) Close() error {
	var errs []error
	for i := len(h.closers) - 1; i >= 0; i-- {
		errs = append(errs, h.closers[i]())
	}
	return errors.Join(errs...)
}

// openAdapter opens the adapter selected by --adapter or the config.
//
//   - usb drives a USB-Blaster through libusb.
//   - emulator runs the device in-process on the configured pins and talks to
//     it through the bulk queue.
//   - bitbang clocks the configured pins directly with no USB framing.
func openAdapter(ctx context.Context, cfg config.Config, logger *slog.Logger) (*hostSession, error) {
	kind := cfg.Host.Adapter
	if adapterType != "" {
		kind = adapterType
	}
	speed := cfg.Host.SpeedHz
	if adapterSpeed > 0 {
		speed = adapterSpeed
	}
	logger.Debug("opening adapter", "adapter", kind, "speed_hz", speed)

	h := &hostSession{}
	switch kind {
	case config.AdapterUSB:
		link, err := jtag.OpenUSBLink(jtag.VendorIDAltera, jtag.ProductIDUSBBlaster)
		if err != nil {
			return nil, fmt.Errorf("open USB-Blaster: %w", err)
		}
		link.SetTimeout(cfg.Host.Timeout)
		h.closers = append(h.closers, link.Close)
		a, err := jtag.NewBlasterAdapter(link, link.PacketSize())
		if err != nil {
			h.Close()
			return nil, err
		}
		h.adapter, h.blaster = a, a

	case config.AdapterEmulator:
		p, closer, err := pins.Open(pins.Kind(cfg.Pins.Backend), cfg.Pins.Names)
		if err != nil {
			return nil, err
		}
		h.closers = append(h.closers, closer.Close)
		e, err := emulator.New(p, cfg.EmulatorOptions(), logger)
		if err != nil {
			h.Close()
			return nil, err
		}
		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- e.Run(runCtx) }()
		h.closers = append(h.closers, func() error {
			cancel()
			return <-done
		})
		link := e.Link()
		link.Timeout = cfg.Host.Timeout
		a, err := jtag.NewBlasterAdapter(link, cfg.Device.PacketSize)
		if err != nil {
			h.Close()
			return nil, err
		}
		h.adapter, h.blaster = a, a

	case config.AdapterBitBang:
		p, closer, err := pins.Open(pins.Kind(cfg.Pins.Backend), cfg.Pins.Names)
		if err != nil {
			return nil, err
		}
		h.closers = append(h.closers, closer.Close)
		a, err := jtag.NewBitBangAdapter(p)
		if err != nil {
			h.Close()
			return nil, err
		}
		h.adapter = a

	default:
		return nil, fmt.Errorf("unknown adapter type: %s (supported: usb, emulator, bitbang)", kind)
	}

	if err := h.adapter.SetSpeed(speed); err != nil && !errors.Is(err, jtag.ErrNotImplemented) {
		h.Close()
		return nil, fmt.Errorf("failed to set speed: %w", err)
	}
	return h, nil
}

func printAdapterInfo(a jtag.Adapter) {
	info, err := a.Info()
	if err != nil {
		return
	}
	fmt.Printf("\nAdapter Information:\n")
	fmt.Printf("  Name: %s\n", info.Name)
	fmt.Printf("  Vendor: %s\n", info.Vendor)
	fmt.Printf("  Model: %s\n", info.Model)
	if info.SerialNumber != "" {
		fmt.Printf("  Serial: %s\n", info.SerialNumber)
	}
	if info.Firmware != "" {
		fmt.Printf("  Firmware: %s\n", info.Firmware)
	}
	if info.MaxFrequency > 0 {
		fmt.Printf("  Max Speed: %d Hz\n", info.MaxFrequency)
	}
	fmt.Println()
}
