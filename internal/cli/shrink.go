package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nace/blkpull/internal/image"
	"github.com/nace/blkpull/internal/system"
	"github.com/nace/blkpull/internal/ui"
)

// ShrinkCommand shrinks an existing raw image in place
type ShrinkCommand struct {
	ctx           *GlobalContext
	yes           bool
	preparePasses int
	resizePasses  int
}

// NewShrinkCommand creates the shrink command
func NewShrinkCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &ShrinkCommand{ctx: ctx}

	cobraCmd := &cobra.Command{
		Use:   "shrink <image>",
		Short: "Shrink a raw disk image to its minimum size",
		Long: `Check, repair and shrink the last ext partition of a raw disk image, then cut
the partition table and the file down to the new end of data. The image is left
untouched if any step before the partition edit fails.`,
		Args: cobra.ExactArgs(1),
		RunE: cmd.Run,
	}

	cobraCmd.Flags().BoolVarP(&cmd.yes, "yes", "y", false, "Skip confirmation prompt")
	cobraCmd.Flags().IntVar(&cmd.preparePasses, "prepare-passes", 4, "Maximum filesystem check passes")
	cobraCmd.Flags().IntVar(&cmd.resizePasses, "resize-passes", 10, "Maximum resize passes")

	return cobraCmd
}

// Run executes the shrink command
func (c *ShrinkCommand) Run(cmd *cobra.Command, args []string) error {
	if err := system.RequireRoot(); err != nil {
		return err
	}
	if err := c.ctx.CheckDependencies(); err != nil {
		return err
	}

	path, err := resolveImage(args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	// A loop device on the image would see the file change under it
	attached, err := c.ctx.LoopManager.FindByImage(ctx, path)
	if err != nil {
		c.ctx.Logger.Warning("Failed to list loop devices: %v", err)
	} else if len(attached) > 0 {
		return fmt.Errorf("image is attached to %s; detach it first (losetup -d)", strings.Join(attached, ", "))
	}

	disk, err := image.NewPartitionEditor(c.ctx.Executor, c.ctx.Logger).ReadTable(ctx, path)
	if err != nil {
		return err
	}
	data, err := disk.DataPartition()
	if err != nil {
		return err
	}

	c.ctx.Logger.Info("Image: %s", path)
	c.ctx.Logger.Info("Image size: %s", system.FormatSize(uint64(disk.Length)))
	c.ctx.Logger.Info("Data partition: %d (%s, %s)", data.Index, data.FSType, system.FormatSize(uint64(data.Size())))

	if !c.yes {
		if !ui.PromptConfirm("Shrink this image in place?") {
			return fmt.Errorf("shrink cancelled by user")
		}
	}

	planner := c.ctx.NewPlanner(policyFrom(c.preparePasses, c.resizePasses))
	report, err := planner.Shrink(ctx, path)
	c.ctx.logShrinkReport(report)
	if err != nil {
		var failure *image.ShrinkFailure
		if errors.As(err, &failure) && failure.Reason != image.ReasonTruncate {
			c.ctx.Logger.Warning("Image left unshrunk: %s", path)
		}
		return err
	}

	c.ctx.Logger.Success("Image shrunk successfully!")
	return nil
}
