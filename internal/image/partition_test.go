package image

import (
	"context"
	"testing"

	"github.com/nace/blkpull/internal/system"
)

func partedCommander(print string) *scriptedCommander {
	return &scriptedCommander{handler: func(name string, args []string) (system.Result, error) {
		if name == "parted" && args[0] == "-ms" {
			return system.Result{Stdout: print}, nil
		}
		return system.Result{}, nil
	}}
}

func TestPartitionEditor_ReadTable(t *testing.T) {
	cmd := partedCommander(`BYT;
/img/pi.img:4000000000B:file:512:512:msdos::;
1:4194304B:272629759B:268435456B:fat32::lba;
2:272629760B:3999999999B:3727370240B:ext4::;
`)
	img, err := NewPartitionEditor(cmd, nil).ReadTable(context.Background(), "/img/pi.img")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if img.Length != 4000000000 || len(img.Partitions) != 2 {
		t.Fatalf("unexpected image: %+v", img)
	}

	data, err := img.DataPartition()
	if err != nil {
		t.Fatalf("data partition: %v", err)
	}
	if data.Index != 2 || data.Start != 272629760 || data.Size() != 3727370240 {
		t.Fatalf("unexpected data partition: %+v", data)
	}
	if cmd.calls[0] != "parted -ms /img/pi.img unit B print" {
		t.Fatalf("unexpected command %q", cmd.calls[0])
	}
}

func TestPartitionEditor_RewriteSequence(t *testing.T) {
	cmd := partedCommander(`BYT;
/img/pi.img:4000000000B:file:512:512:msdos::;
1:4194304B:272629759B:268435456B:fat32::lba;
2:272629760B:2320630271B:2048000512B:ext4::;
`)
	e := NewPartitionEditor(cmd, nil)
	ctx := context.Background()

	if err := e.DeletePartition(ctx, "/img/pi.img", 2); err != nil {
		t.Fatal(err)
	}
	end, err := e.CreatePartition(ctx, "/img/pi.img", "ext4", 272629760, 2320629759)
	if err != nil {
		t.Fatal(err)
	}
	if end != 2320629759 {
		t.Fatalf("CreatePartition returned %d", end)
	}
	got, err := e.QueryEnd(ctx, "/img/pi.img", 2)
	if err != nil {
		t.Fatal(err)
	}
	if got != 2320630271 {
		t.Fatalf("QueryEnd must report parted's aligned end, got %d", got)
	}

	want := []string{
		"parted -s /img/pi.img rm 2",
		"parted -s -a minimal /img/pi.img unit B mkpart primary ext4 272629760 2320629759",
		"parted -ms /img/pi.img unit B print",
	}
	for i, w := range want {
		if cmd.calls[i] != w {
			t.Fatalf("call %d: got %q, want %q", i, cmd.calls[i], w)
		}
	}

	if _, err := e.QueryEnd(ctx, "/img/pi.img", 5); err == nil {
		t.Fatal("expected error for missing partition")
	}
	if _, err := e.CreatePartition(ctx, "/img/pi.img", "ext4", 10, 5); err == nil {
		t.Fatal("expected error for inverted range")
	}
}
