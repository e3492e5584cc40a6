package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceBlaster/internal/config"
)

var (
	// Global flags
	verbose    bool
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "blaster",
	Short: "USB-Blaster emulator and JTAG host tools",
	Long: `blaster turns a Linux board with four spare GPIOs into an Altera USB-Blaster
and drives USB-Blaster compatible cables from the host side.

Settings come from blaster.yml in the working directory, or the file given
with --config. Run "blaster config show" for the effective values.

Examples:
  blaster emulate --listen :3240                  # Export over USB/IP
  blaster scan --adapter emulator                 # Discover the simulated chain
  blaster scan --adapter usb                      # Discover through a real cable
  blaster svf --adapter usb idcode.svf            # Play an SVF file`,
	Version:       "0.9.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"configuration file (default ./"+config.DefaultFileName+" if present)")
}

// loadConfig reads the configuration selected by --config.
func loadConfig() (config.Config, error) {
	if configPath != "" {
		return config.Load(configPath, true)
	}
	return config.Load(config.DefaultFileName, false)
}

// newLogger builds the configured logger on stderr. --verbose forces debug.
func newLogger(cfg config.Config) (*slog.Logger, error) {
	if verbose {
		cfg.Log.Level = "debug"
	}
	return cfg.Log.Logger(os.Stderr)
}
