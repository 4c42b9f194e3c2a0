// Package image shrinks a raw disk image holding a boot partition and one
// resizable ext filesystem. The filesystem is checked and resized through a
// loop device, then the partition table and the backing file are cut down to
// the new end of data.
package image

import (
	"context"
	"fmt"
	"strings"

	"github.com/nace/blkpull/internal/system"
)

// Commander runs an external utility. *system.Executor satisfies it.
type Commander interface {
	Exec(ctx context.Context, name string, args ...string) (system.Result, error)
}

// Partition is a contiguous byte range of a DiskImage. Start and End are
// inclusive byte offsets.
type Partition struct {
	Index  int    `json:"index"`
	Start  int64  `json:"start"`
	End    int64  `json:"end"`
	FSType string `json:"fs_type"`
	Flags  string `json:"flags,omitempty"`
}

// Size returns the partition length in bytes
func (p Partition) Size() int64 {
	return p.End - p.Start + 1
}

// Resizable reports whether the partition carries an ext filesystem
func (p Partition) Resizable() bool {
	return strings.HasPrefix(p.FSType, "ext")
}

// DiskImage is a raw, sector-addressable disk stored in a regular file
type DiskImage struct {
	Path       string      `json:"path"`
	Length     int64       `json:"length"`
	SectorSize int64       `json:"sector_size"`
	Label      string      `json:"label"`
	Partitions []Partition `json:"partitions"`
}

// DataPartition returns the last partition, which must be resizable
func (d *DiskImage) DataPartition() (Partition, error) {
	if len(d.Partitions) == 0 {
		return Partition{}, fmt.Errorf("%s has no partitions", d.Path)
	}
	data := d.Partitions[0]
	for _, p := range d.Partitions[1:] {
		if p.Index > data.Index {
			data = p
		}
	}
	if !data.Resizable() {
		return Partition{}, fmt.Errorf("partition %d of %s has filesystem %q, only ext2/3/4 can be shrunk",
			data.Index, d.Path, data.FSType)
	}
	if data.End >= d.Length {
		return Partition{}, fmt.Errorf("partition %d of %s ends at %d beyond image length %d",
			data.Index, d.Path, data.End, d.Length)
	}
	return data, nil
}

func diskImageFromParted(path string, t *system.PartedTable) *DiskImage {
	img := &DiskImage{
		Path:       path,
		Length:     t.Disk.Size,
		SectorSize: t.Disk.SectorSize,
		Label:      t.Disk.Label,
	}
	for _, p := range t.Partitions {
		img.Partitions = append(img.Partitions, Partition{
			Index:  p.Number,
			Start:  p.Start,
			End:    p.End,
			FSType: p.FSType,
			Flags:  p.Flags,
		})
	}
	return img
}
