package cmd

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/blaster"
	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/ftdi"
)

var descriptorsCmd = &cobra.Command{
	Use:   "descriptors",
	Short: "Print the USB descriptors the emulator registers",
	Long: `Print the device, configuration and string descriptors the emulated
USB-Blaster registers with the USB stack, built from the stock EEPROM image
and the configured packet size.`,
	RunE: runDescriptors,
}

func init() {
	rootCmd.AddCommand(descriptorsCmd)
}

func runDescriptors(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	d := blaster.NewDescriptors(ftdi.USBBlaster(), cfg.Device.PacketSize)

	fmt.Printf("Device descriptor (%d bytes):\n%s\n", len(d.Device), hex.Dump(d.Device))
	fmt.Printf("Configuration descriptor (%d bytes):\n%s\n", len(d.Configuration), hex.Dump(d.Configuration))
	for i, s := range d.Strings {
		label := "language table"
		if i > 0 {
			str, err := ftdi.ParseStringDescriptor(s)
			if err != nil {
				return err
			}
			label = fmt.Sprintf("%q", str)
		}
		fmt.Printf("String %d, %s:\n%s\n", i, label, hex.Dump(s))
	}
	return nil
}
