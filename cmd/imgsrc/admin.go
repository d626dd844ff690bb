package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/tendant/imgsrc/pkg/imgsrc/config"
	"github.com/tendant/imgsrc/pkg/imgsrc/store/scan"
)

// The commands below run next to the server and read its environment
// (IMGSRC_DIR, IMGSRC_DIR_<index>, S3_MIRROR_*).

func newScannerFromEnv() (*config.ServerConfig, *scan.Scanner, error) {
	cfg, err := config.Load(config.WithEnv())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	st, err := cfg.BuildStore(cfg.NewLogger(os.Stderr))
	if err != nil {
		return nil, nil, err
	}
	return cfg, scan.New(st), nil
}

func printResult(cmd *cobra.Command, result *scan.Result) {
	fmt.Fprintf(cmd.OutOrStdout(), "found=%d processed=%d failed=%d skipped=%d\n",
		result.TotalFound, result.TotalProcessed, result.TotalFailed, result.TotalSkipped)
}

// NewScanCommand creates the scan command
func NewScanCommand() *cobra.Command {
	var includeStaging bool

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List stored objects in the local directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, scanner, err := newScannerFromEnv()
			if err != nil {
				return err
			}
			result, err := scanner.Scan(cmd.Context(), scan.Options{
				DryRun:         true,
				IncludeStaging: includeStaging,
				Out:            cmd.OutOrStdout(),
			})
			if err != nil {
				return err
			}
			printResult(cmd, result)
			return nil
		},
	}

	cmd.Flags().BoolVar(&includeStaging, "staging", false, "include staging files")
	return cmd
}

// NewMirrorSyncCommand creates the mirror-sync command
func NewMirrorSyncCommand() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "mirror-sync",
		Short: "Copy stored objects missing from the S3 mirror",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, scanner, err := newScannerFromEnv()
			if err != nil {
				return err
			}
			mirror, err := cfg.BuildMirror(cmd.Context(), cfg.NewLogger(os.Stderr))
			if err != nil {
				return err
			}
			if mirror == nil {
				return fmt.Errorf("S3_MIRROR_BUCKET is not set")
			}

			result, err := scanner.Scan(cmd.Context(), scan.Options{
				Processor: scan.MirrorProcessor(mirror),
				DryRun:    dryRun,
				Out:       cmd.ErrOrStderr(),
			})
			if err != nil {
				return err
			}
			printResult(cmd, result)
			if result.TotalFailed > 0 {
				return fmt.Errorf("%d objects failed to mirror", result.TotalFailed)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be copied")
	return cmd
}

// NewSweepCommand creates the sweep command
func NewSweepCommand() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove staging files left by interrupted uploads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, scanner, err := newScannerFromEnv()
			if err != nil {
				return err
			}
			result, err := scanner.Scan(cmd.Context(), scan.Options{
				Processor:      scan.StagingSweeper(olderThan, nil),
				IncludeStaging: true,
				Out:            cmd.ErrOrStderr(),
			})
			if err != nil {
				return err
			}
			printResult(cmd, result)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", time.Hour, "minimum staging file age")
	return cmd
}
