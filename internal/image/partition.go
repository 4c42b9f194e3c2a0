package image

import (
	"context"
	"fmt"
	"strconv"

	"github.com/kr/pretty"

	"github.com/nace/blkpull/internal/system"
)

// DebugLogger receives debug dumps. *ui.Logger satisfies it.
type DebugLogger interface {
	Debug(format string, args ...interface{})
}

// PartitionEditor reads and rewrites the partition table with parted
type PartitionEditor struct {
	cmd Commander
	log DebugLogger
}

// NewPartitionEditor creates a new partition editor. log may be nil.
func NewPartitionEditor(cmd Commander, log DebugLogger) *PartitionEditor {
	return &PartitionEditor{cmd: cmd, log: log}
}

// ReadTable parses the partition table of image
func (e *PartitionEditor) ReadTable(ctx context.Context, image string) (*DiskImage, error) {
	table, err := e.print(ctx, image)
	if err != nil {
		return nil, err
	}
	return diskImageFromParted(image, table), nil
}

func (e *PartitionEditor) print(ctx context.Context, image string) (*system.PartedTable, error) {
	res, err := e.cmd.Exec(ctx, "parted", "-ms", image, "unit", "B", "print")
	if err != nil {
		return nil, fmt.Errorf("failed to read partition table of %s: %w", image, err)
	}
	table, err := system.ParsePartedMachine(res.Stdout)
	if err != nil {
		return nil, err
	}
	if e.log != nil {
		e.log.Debug("partition table of %s: %# v", image, pretty.Formatter(table))
	}
	return table, nil
}

// DeletePartition removes partition index from the table
func (e *PartitionEditor) DeletePartition(ctx context.Context, image string, index int) error {
	if _, err := e.cmd.Exec(ctx, "parted", "-s", image, "rm", strconv.Itoa(index)); err != nil {
		return fmt.Errorf("failed to delete partition %d of %s: %w", index, image, err)
	}
	return nil
}

// CreatePartition adds a primary partition spanning start..end (inclusive
// bytes) and returns the requested end. Alignment is minimal so parted keeps
// the requested boundaries where it can; use QueryEnd for the authoritative
// value.
func (e *PartitionEditor) CreatePartition(ctx context.Context, image, fsType string, start, end int64) (int64, error) {
	if start < 0 || end < start {
		return 0, fmt.Errorf("invalid partition range %d..%d", start, end)
	}
	_, err := e.cmd.Exec(ctx, "parted", "-s", "-a", "minimal", image, "unit", "B", "mkpart", "primary", fsType,
		strconv.FormatInt(start, 10), strconv.FormatInt(end, 10))
	if err != nil {
		return 0, fmt.Errorf("failed to create partition %d..%d on %s: %w", start, end, image, err)
	}
	return end, nil
}

// QueryEnd returns the inclusive end offset of partition index
func (e *PartitionEditor) QueryEnd(ctx context.Context, image string, index int) (int64, error) {
	table, err := e.print(ctx, image)
	if err != nil {
		return 0, err
	}
	p, ok := table.Find(index)
	if !ok {
		return 0, fmt.Errorf("partition %d not found on %s", index, image)
	}
	return p.End, nil
}
