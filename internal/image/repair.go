package image

import (
	"context"
	"errors"
	"fmt"

	"github.com/nace/blkpull/internal/system"
)

// e2fsck exit status bits that still mean the filesystem is usable:
// 1 = errors corrected, 2 = corrected, reboot advised.
const e2fsckCorrected = 1 | 2

// OrphanRepairer clears orphaned inodes with a forced e2fsck pass on its own
// loop device, separate from the checker's preen pass.
type OrphanRepairer struct {
	loops Attacher
	table TableReader
	cmd   Commander
}

// NewOrphanRepairer creates a new orphan repairer
func NewOrphanRepairer(loops Attacher, table TableReader, cmd Commander) *OrphanRepairer {
	return &OrphanRepairer{loops: loops, table: table, cmd: cmd}
}

// RepairOrphans attaches image at partStart, confirms the data partition
// still starts there and runs `e2fsck -f -y`. The device is detached on
// every path.
func (r *OrphanRepairer) RepairOrphans(ctx context.Context, image string, partStart int64) (err error) {
	dev, err := r.loops.Attach(ctx, image, partStart)
	if err != nil {
		return err
	}
	defer func() {
		if derr := r.loops.Detach(ctx, dev); derr != nil && err == nil {
			err = derr
		}
	}()

	img, err := r.table.ReadTable(ctx, image)
	if err != nil {
		return err
	}
	data, err := img.DataPartition()
	if err != nil {
		return err
	}
	if data.Start != partStart {
		return fmt.Errorf("partition %d starts at %d, expected %d", data.Index, data.Start, partStart)
	}

	res, err := r.cmd.Exec(ctx, "e2fsck", "-f", "-y", dev.Path)
	if err != nil {
		var exitErr *system.ExitError
		if errors.As(err, &exitErr) && res.ExitCode&^e2fsckCorrected == 0 {
			return nil
		}
		return fmt.Errorf("forced check of partition %d: %w", data.Index, err)
	}
	return nil
}
