package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/svf"
)

var continueOnMismatch bool

var svfCmd = &cobra.Command{
	Use:   "svf <file.svf>",
	Short: "Play a Serial Vector Format file",
	Long: `Parse an SVF file and play it against the chain, checking every TDO
expectation under its mask. Playback stops at the first mismatch unless
--continue is given, in which case the first mismatch is reported at the end.

Examples:
  blaster svf --adapter emulator idcode.svf
  blaster svf --adapter usb --speed 1000000 flash.svf`,
	Args: cobra.ExactArgs(1),
	RunE: runSVF,
}

func init() {
	rootCmd.AddCommand(svfCmd)
	addAdapterFlags(svfCmd)
	svfCmd.Flags().BoolVar(&continueOnMismatch, "continue", false,
		"keep playing after a TDO mismatch")
}

func runSVF(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	parser, err := svf.NewParser()
	if err != nil {
		return err
	}
	file, err := parser.ParseFile(args[0])
	if err != nil {
		return err
	}
	if verbose {
		fmt.Printf("Parsed %d command(s) from %s\n", len(file.Commands), args[0])
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	h, err := openAdapter(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create adapter: %w", err)
	}
	defer h.Close()

	player := svf.NewPlayer(h.adapter, logger)
	player.ContinueOnMismatch = continueOnMismatch
	err = player.Run(ctx, file)

	st := player.Stats()
	fmt.Printf("%d command(s), %d scan(s), %d verified, %d mismatch(es), %d idle clock(s)\n",
		st.Commands, st.Scans, st.Verified, st.Mismatches, st.Clocks)

	var mm *svf.MismatchError
	if errors.As(err, &mm) {
		return fmt.Errorf("%s: %w", args[0], err)
	}
	return err
}
