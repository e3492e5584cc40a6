package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/chain"
)

var (
	deviceCount int
	maxIRBits   int
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Discover devices in the JTAG chain",
	Long: `Reset the chain, measure its instruction register and device count, and
identify every device from its IDCODE.

The scan command will:
  1. Reset the JTAG chain
  2. Measure the total IR length and the number of devices
  3. Read the IDCODE of every device that has one
  4. Look the parts up in the built-in device table

Examples:
  # Scan the simulated chain through the in-process emulator
  blaster scan --adapter emulator

  # Scan through a USB-Blaster cable, trusting a known device count
  blaster scan --adapter usb --count 2`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	addAdapterFlags(scanCmd)
	scanCmd.Flags().IntVarP(&deviceCount, "count", "n", 0,
		"expected number of devices (0 detects it)")
	scanCmd.Flags().IntVar(&maxIRBits, "max-ir", chain.DefaultMaxIRBits,
		"upper bound on the total IR length")
}

func runScan(cmd *cobra.Command, args []string) error {
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

	if verbose {
		printAdapterInfo(h.adapter)
	}

	ctrl := chain.NewController(h.adapter)
	ctrl.MaxIRBits = maxIRBits
	c, err := ctrl.Discover(deviceCount)
	if err != nil {
		return fmt.Errorf("chain discovery failed: %w", err)
	}

	devices := c.Devices()
	fmt.Printf("JTAG chain: %d device(s), IR length %d bits\n\n", len(devices), c.IRLength())
	for _, d := range devices {
		if !d.HasIDCode() {
			fmt.Printf("#%d  BYPASS          (no IDCODE)\n", d.Position)
			continue
		}
		fmt.Printf("#%d  0x%08X  %-10s %-12s %s\n", d.Position, d.IDCode, d.Info.Manufacturer.Name, d.Info.Name, d.Info.Family)
		if verbose {
			kind := "device"
			switch {
			case d.Info.IsFPGA:
				kind = "FPGA"
			case d.Info.IsCPLD:
				kind = "CPLD"
			}
			fmt.Printf("      %s, IR %d bits, IDCODE opcode 0x%03X", kind, d.Info.IRLength, d.Info.IDCodeOpcode)
			if d.Info.Description != "" {
				fmt.Printf(", %s", d.Info.Description)
			}
			fmt.Println()
		}
	}
	return nil
}
