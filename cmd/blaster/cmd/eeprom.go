package cmd

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/ftdi"
)

var stockImage bool

var eepromCmd = &cobra.Command{
	Use:   "eeprom",
	Short: "Dump and decode the FTDI configuration EEPROM",
	Long: `Read the 128-byte configuration EEPROM a USB-Blaster answers READ_EEPROM
with, verify its checksum and decode the identity fields.

With --stock the image the emulator serves is printed without opening any
adapter.

Examples:
  blaster eeprom --adapter usb
  blaster eeprom --stock`,
	RunE: runEEPROM,
}

func init() {
	rootCmd.AddCommand(eepromCmd)
	addAdapterFlags(eepromCmd)
	eepromCmd.Flags().BoolVar(&stockImage, "stock", false,
		"print the built-in USB-Blaster image")
}

func runEEPROM(cmd *cobra.Command, args []string) error {
	var rom [ftdi.ROMSize]byte
	if stockImage {
		id := ftdi.USBBlaster()
		img, err := id.Image()
		if err != nil {
			return err
		}
		rom = img
	} else {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		h, err := openAdapter(context.Background(), cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to create adapter: %w", err)
		}
		defer h.Close()
		if h.blaster == nil {
			return fmt.Errorf("adapter %q has no EEPROM; use usb or emulator", cfg.Host.Adapter)
		}
		if rom, err = h.blaster.ReadROM(); err != nil {
			return fmt.Errorf("read EEPROM: %w", err)
		}
	}

	fmt.Print(hex.Dump(rom[:]))
	if err := ftdi.VerifyChecksum(rom[:]); err != nil {
		fmt.Printf("\nChecksum: BAD (%v)\n", err)
	} else {
		fmt.Printf("\nChecksum: OK\n")
	}

	id, err := ftdi.ParseROM(rom[:])
	if err != nil {
		return fmt.Errorf("decode EEPROM: %w", err)
	}
	fmt.Printf("VID:PID       %04X:%04X\n", id.VendorID, id.ProductID)
	fmt.Printf("Release       %04X\n", id.Release)
	fmt.Printf("Manufacturer  %s\n", id.Manufacturer)
	fmt.Printf("Product       %s\n", id.Product)
	fmt.Printf("Serial        %s\n", id.Serial)
	fmt.Printf("Max power     %d mA\n", int(id.MaxPower)*2)
	return nil
}
