package system

import (
	"errors"
	"testing"
)

const partedSample = `BYT;
/tmp/pi.img:31914983424B:file:512:512:msdos::;
1:4194304B:272629759B:268435456B:fat32::lba;
2:272629760B:31914983423B:31642353664B:ext4::;
`

func TestParsePartedMachine(t *testing.T) {
	table, err := ParsePartedMachine(partedSample)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if table.Disk.Size != 31914983424 || table.Disk.Label != "msdos" || table.Disk.SectorSize != 512 {
		t.Fatalf("unexpected disk: %+v", table.Disk)
	}
	if len(table.Partitions) != 2 {
		t.Fatalf("expected 2 partitions, got %d", len(table.Partitions))
	}

	data, ok := table.Find(2)
	if !ok {
		t.Fatal("expected partition 2")
	}
	want := PartedPartition{Number: 2, Start: 272629760, End: 31914983423, Size: 31642353664, FSType: "ext4"}
	if data != want {
		t.Fatalf("unexpected data partition.\n got: %+v\nwant: %+v", data, want)
	}
	if _, ok := table.Find(3); ok {
		t.Fatal("partition 3 must not be found")
	}

	boot, ok := table.Find(1)
	if !ok || boot.Flags != "lba" || boot.FSType != "fat32" {
		t.Fatalf("unexpected boot partition: %+v", boot)
	}
}

func TestParsePartedMachine_Malformed(t *testing.T) {
	cases := map[string]string{
		"missing header": "/tmp/pi.img:1B:file:512:512:msdos::;\n",
		"no disk line":   "BYT;\n",
		"bad number":     "BYT;\n/tmp/pi.img:100B:file:512:512:msdos::;\nx:1B:2B:2B:ext4::;\n",
		"no byte unit":   "BYT;\n/tmp/pi.img:100B:file:512:512:msdos::;\n1:1:2B:2B:ext4::;\n",
		"start past end": "BYT;\n/tmp/pi.img:100B:file:512:512:msdos::;\n1:9B:2B:2B:ext4::;\n",
		"short line":     "BYT;\n/tmp/pi.img:100B:file:512:512:msdos::;\n1:1B;\n",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePartedMachine(input)
			var perr *ParseError
			if !errors.As(err, &perr) {
				t.Fatalf("expected ParseError, got %v", err)
			}
		})
	}
}

func TestParseResize2fs(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   ResizeReport
	}{
		{
			name: "resized",
			output: "resize2fs 1.46.2 (28-Feb-2021)\n" +
				"Resizing the filesystem on /dev/loop0 to 812345 (4k) blocks.\n" +
				"The filesystem on /dev/loop0 is now 812345 (4k) blocks long.\n",
			want: ResizeReport{Blocks: 812345, BlockSize: 4096},
		},
		{
			name:   "already minimum",
			output: "The filesystem is already 800000 (4k) blocks long.  Nothing to do!\n",
			want:   ResizeReport{Blocks: 800000, BlockSize: 4096, AlreadyMinimum: true},
		},
		{
			name:   "1k blocks",
			output: "The filesystem on /dev/loop1 is now 2048 (1k) blocks long.",
			want:   ResizeReport{Blocks: 2048, BlockSize: 1024},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseResize2fs(tt.output)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}

	if got := (ResizeReport{Blocks: 10, BlockSize: 4096}).Bytes(); got != 40960 {
		t.Fatalf("Bytes() = %d", got)
	}

	_, err := ParseResize2fs("resize2fs: Bad magic number in super-block")
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
}

func TestParseLosetupShow(t *testing.T) {
	dev, err := ParseLosetupShow("/dev/loop7\n")
	if err != nil || dev != "/dev/loop7" {
		t.Fatalf("got %q, %v", dev, err)
	}
	if _, err := ParseLosetupShow("losetup: cannot find an unused loop device"); err == nil {
		t.Fatal("expected error for non-device output")
	}
}

func TestFormatSize(t *testing.T) {
	cases := map[uint64]string{
		512:             "512 B",
		2048:            "2.0 KB",
		5 * 1024 * 1024: "5.0 MB",
	}
	for in, want := range cases {
		if got := FormatSize(in); got != want {
			t.Errorf("FormatSize(%d) = %q, want %q", in, got, want)
		}
	}
}
