package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/emulator"
	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/pins"
	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/usbip"
)

var (
	listenAddr  string
	pinsBackend string
)

var emulateCmd = &cobra.Command{
	Use:   "emulate",
	Short: "Run the USB-Blaster emulator and export it over USB/IP",
	Long: `Drive the configured GPIO pins as a USB-Blaster and export the device
over USB/IP. On the host:

  modprobe vhci-hcd
  usbip list -r <board>
  usbip attach -r <board> -b 1-1

The attached device enumerates as 09FB:6001 and works with the stock
usb_blaster drivers of Quartus, OpenOCD and urjtag.

Examples:
  blaster emulate                          # pins and address from config
  blaster emulate --pins sim               # simulated Cyclone IV + MAX II chain
  blaster emulate --listen 127.0.0.1:3240`,
	RunE: runEmulate,
}

func init() {
	rootCmd.AddCommand(emulateCmd)
	emulateCmd.Flags().StringVarP(&listenAddr, "listen", "l", "",
		"USB/IP listen address; default from config")
	emulateCmd.Flags().StringVar(&pinsBackend, "pins", "",
		"pin backend (periph, rpio, sim); default from config")
}

func runEmulate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if pinsBackend != "" {
		cfg.Pins.Backend = pinsBackend
	}
	if listenAddr != "" {
		cfg.USBIP.Listen = listenAddr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	p, closer, err := pins.Open(pins.Kind(cfg.Pins.Backend), cfg.Pins.Names)
	if err != nil {
		return err
	}
	defer closer.Close()

	e, err := emulator.New(p, cfg.EmulatorOptions(), logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	loop := make(chan error, 1)
	go func() {
		err := e.Run(ctx)
		cancel(err)
		loop <- err
	}()

	srv := usbip.NewServer(e, logger)
	srv.BusID = cfg.USBIP.BusID
	serveErr := srv.ListenAndServe(ctx, cfg.USBIP.Listen)
	cancel(serveErr)
	return errors.Join(serveErr, <-loop)
}
