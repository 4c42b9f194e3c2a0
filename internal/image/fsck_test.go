package image

import (
	"context"
	"errors"
	"testing"

	"github.com/nace/blkpull/internal/system"
)

func TestChecker_Check(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		stdout  string
		want    CheckOutcome
		wantErr bool
	}{
		{name: "clean", code: 0, stdout: "rootfs: 41234/1875968 files (0.2% non-contiguous)", want: Clean},
		{
			name:   "orphan list",
			code:   4,
			stdout: "rootfs: Inodes that were part of a corrupted orphan linked list found.\n\nrootfs: UNEXPECTED INCONSISTENCY; RUN fsck MANUALLY.",
			want:   RepairedOrphans,
		},
		{
			name:   "orphaned inode",
			code:   1,
			stdout: "rootfs: Clearing orphaned inode 131082 (uid=0, gid=0, mode=0100644, size=0)",
			want:   RepairedOrphans,
		},
		{
			name:    "bad superblock",
			code:    8,
			stdout:  "e2fsck: Bad magic number in super-block while trying to open /dev/loop0",
			want:    Unrepairable,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := &scriptedCommander{handler: func(string, []string) (system.Result, error) {
				if tt.code == 0 {
					return system.Result{Stdout: tt.stdout}, nil
				}
				return exitWith(tt.code, tt.stdout, "")
			}}

			got, err := NewChecker(cmd).Check(context.Background(), &Device{Path: "/dev/loop0"})
			if got != tt.want {
				t.Fatalf("got %s, want %s", got, tt.want)
			}
			if tt.wantErr {
				var integrity *IntegrityError
				if !errors.As(err, &integrity) || integrity.ExitCode != tt.code {
					t.Fatalf("expected IntegrityError with status %d, got %v", tt.code, err)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cmd.calls[0] != "e2fsck -p -f /dev/loop0" {
				t.Fatalf("unexpected command %q", cmd.calls[0])
			}
		})
	}
}

func TestChecker_StartFailure(t *testing.T) {
	missing := errors.New("e2fsck failed: exec: not found")
	cmd := &scriptedCommander{handler: func(string, []string) (system.Result, error) {
		return system.Result{}, missing
	}}

	got, err := NewChecker(cmd).Check(context.Background(), &Device{Path: "/dev/loop0"})
	if got != Unrepairable || !errors.Is(err, missing) {
		t.Fatalf("got %s, %v", got, err)
	}
}
