package image

import (
	"context"
	"fmt"

	"github.com/nace/blkpull/internal/system"
)

// Resizer shrinks an ext filesystem to its minimum size with resize2fs
type Resizer struct {
	cmd Commander
}

// NewResizer creates a new resizer
func NewResizer(cmd Commander) *Resizer {
	return &Resizer{cmd: cmd}
}

// ShrinkToMinimum runs one `resize2fs -M` pass and reports the new size
func (r *Resizer) ShrinkToMinimum(ctx context.Context, dev *Device) (system.ResizeReport, error) {
	res, err := r.cmd.Exec(ctx, "resize2fs", "-M", dev.Path)
	if err != nil {
		return system.ResizeReport{}, fmt.Errorf("failed to resize filesystem on %s: %w", dev.Path, err)
	}
	// resize2fs prints progress on stdout and the summary on either stream
	return system.ParseResize2fs(res.Combined())
}
