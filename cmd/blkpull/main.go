package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nace/blkpull/internal/cli"
	"github.com/nace/blkpull/internal/image"
	"github.com/nace/blkpull/internal/system"
	"github.com/nace/blkpull/internal/ui"
)

var (
	verbose    bool
	quiet      bool
	noColor    bool
	debug      bool
	configPath string

	ctx  *cli.GlobalContext
	once sync.Once
)

func main() {
	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(sigCtx)
	stop()

	// Release anything an interrupted shrink left attached
	if derr := ctx.LoopManager.DetachAll(context.Background()); derr != nil {
		ctx.Logger.Warning("%v", derr)
	}
	if err != nil {
		if !cli.IsReported(err) {
			ctx.Logger.Error("%v", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "blkpull",
	Short: "blkpull - remote block device backup",
	Long: `blkpull captures a block device from a remote host over SSH into a local
compressed archive, optionally shrinking the image to its minimum size first.

Typical use is backing up the SD card of a single-board computer without taking
it out of the device.`,
	Version:       "0.1.0",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Update context components with parsed flag values
		once.Do(func() {
			ctx.Executor = system.NewExecutor(debug, os.Stderr)
			ctx.Logger = ui.NewLogger(verbose, quiet, noColor)
			ctx.LoopManager = image.NewLoopManager(ctx.Executor)
			ctx.ConfigPath = configPath
		})
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Quiet mode (suppress non-error output)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable color output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Debug mode (show commands)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default $HOME/.config/blkpull/config.yaml)")

	// Create initial context with default values
	// Will be updated in PersistentPreRun with parsed flag values
	ctx = cli.NewGlobalContext(false, false, false, false)

	rootCmd.AddCommand(cli.NewBackupCommand(ctx))
	rootCmd.AddCommand(cli.NewShrinkCommand(ctx))
	rootCmd.AddCommand(cli.NewInspectCommand(ctx))

	rootCmd.SetHelpCommand(&cobra.Command{
		Use:    "no-help",
		Hidden: true,
	})

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
