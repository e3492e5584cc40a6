package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/jtag"
)

var interfacesCmd = &cobra.Command{
	Use:   "interfaces",
	Short: "List USB-Blaster compatible cables",
	Long: `Scan the USB bus for USB-Blaster compatible cables, including emulated
ones attached over USB/IP, and print what was found.`,
	RunE: runInterfaces,
}

func init() {
	rootCmd.AddCommand(interfacesCmd)
}

func runInterfaces(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	infos, err := jtag.DiscoverInterfaces(ctx)
	if err != nil {
		return fmt.Errorf("discover interfaces: %w", err)
	}

	if len(infos) == 0 {
		fmt.Println("No interfaces found.")
		return nil
	}

	fmt.Println("Detected JTAG interfaces:")
	for _, iface := range infos {
		fmt.Printf("  - %s [%s] (VID:PID %04X:%04X)", iface.Label(), iface.Kind, iface.VendorID, iface.ProductID)
		if iface.Path != "" {
			fmt.Printf(" at %s, %s speed", iface.Path, iface.Speed)
		}
		fmt.Println()
	}
	return nil
}
