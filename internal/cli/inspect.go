package cli

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nace/blkpull/internal/image"
	"github.com/nace/blkpull/internal/system"
	"github.com/nace/blkpull/internal/ui"
)

// InspectCommand prints the partition table of an image
type InspectCommand struct {
	ctx  *GlobalContext
	json bool
}

// NewInspectCommand creates the inspect command
func NewInspectCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &InspectCommand{ctx: ctx}

	cobraCmd := &cobra.Command{
		Use:   "inspect <image>",
		Short: "Show the partition table of a raw disk image",
		Args:  cobra.ExactArgs(1),
		RunE:  cmd.Run,
	}

	cobraCmd.Flags().BoolVarP(&cmd.json, "json", "j", false, "JSON output")

	return cobraCmd
}

// Run executes the inspect command
func (c *InspectCommand) Run(cmd *cobra.Command, args []string) error {
	if err := c.ctx.Executor.CheckDependencies([]string{"parted"}); err != nil {
		return err
	}

	path, err := resolveImage(args[0])
	if err != nil {
		return err
	}

	disk, err := image.NewPartitionEditor(c.ctx.Executor, c.ctx.Logger).ReadTable(cmd.Context(), path)
	if err != nil {
		return err
	}

	if c.json {
		return ui.PrintJSON(os.Stdout, disk)
	}

	fmt.Printf("Image: %s\n", disk.Path)
	fmt.Printf("Size: %s (%d bytes), label %s, sector size %d\n",
		system.FormatSize(uint64(disk.Length)), disk.Length, disk.Label, disk.SectorSize)
	if len(disk.Partitions) == 0 {
		fmt.Println("No partitions found")
		return nil
	}
	fmt.Println()
	c.printTable(disk)

	if data, err := disk.DataPartition(); err != nil {
		fmt.Printf("\nNot shrinkable: %v\n", err)
	} else {
		fmt.Printf("\nData partition: %d\n", data.Index)
	}
	return nil
}

func (c *InspectCommand) printTable(disk *image.DiskImage) {
	table := ui.NewTable("NUM", "START", "END", "SIZE", "FS", "FLAGS")

	for _, p := range disk.Partitions {
		fs := p.FSType
		if fs == "" {
			fs = "-"
		}
		table.AddRow(
			strconv.Itoa(p.Index),
			strconv.FormatInt(p.Start, 10),
			strconv.FormatInt(p.End, 10),
			system.FormatSize(uint64(p.Size())),
			fs,
			p.Flags,
		)
	}

	table.Fprint(os.Stdout)
}
