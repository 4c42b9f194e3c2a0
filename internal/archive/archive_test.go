package archive

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"io"
	"testing"

	"github.com/spf13/afero"
)

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestDecompress(t *testing.T) {
	fs := afero.NewMemMapFs()
	raw := bytes.Repeat([]byte{0xEB, 0x3C, 0x90}, 10000)
	if err := afero.WriteFile(fs, "/backups/pi.img.gz", gzipBytes(t, raw), 0o600); err != nil {
		t.Fatal(err)
	}

	n, err := Decompress(fs, "/backups/pi.img.gz", "/backups/pi.img")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != int64(len(raw)) {
		t.Fatalf("wrote %d bytes, want %d", n, len(raw))
	}
	got, err := afero.ReadFile(fs, "/backups/pi.img")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, raw) {
		t.Fatal("decompressed image differs")
	}
}

func TestEmpty(t *testing.T) {
	cases := map[string]struct {
		content []byte
		want    bool
		wantErr bool
	}{
		"header only": {content: gzipBytes(t, nil), want: true},
		"one byte":    {content: gzipBytes(t, []byte{0}), want: false},
		"full image":  {content: gzipBytes(t, bytes.Repeat([]byte("x"), 65536)), want: false},
		"not gzip":    {content: []byte("plain text"), wantErr: true},
		"zero length": {content: []byte{}, wantErr: true},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			if err := afero.WriteFile(fs, "/backups/pi.img.gz", tc.content, 0o600); err != nil {
				t.Fatal(err)
			}
			got, err := Empty(fs, "/backups/pi.img.gz")
			if (err != nil) != tc.wantErr {
				t.Fatalf("unexpected error state: %v", err)
			}
			if got != tc.want {
				t.Fatalf("Empty() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestDecompress_CorruptStreamRemovesOutput(t *testing.T) {
	fs := afero.NewMemMapFs()
	stream := gzipBytes(t, bytes.Repeat([]byte("x"), 4096))
	if err := afero.WriteFile(fs, "/backups/pi.img.gz", stream[:len(stream)-6], 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := Decompress(fs, "/backups/pi.img.gz", "/backups/pi.img"); err == nil {
		t.Fatal("expected error for truncated stream")
	}
	if ok, _ := afero.Exists(fs, "/backups/pi.img"); ok {
		t.Fatal("partial output left behind")
	}
}

func TestPack_DeterministicAndOverwrites(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/work/pi.img", []byte("boot+rootfs"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := afero.WriteFile(fs, "/out/pi_8GB.zip", []byte("stale"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := Pack(fs, "/out/pi_8GB.zip", "/work/pi.img"); err != nil {
		t.Fatalf("pack: %v", err)
	}
	first, _ := afero.ReadFile(fs, "/out/pi_8GB.zip")
	if err := Pack(fs, "/out/pi_8GB.zip", "/work/pi.img"); err != nil {
		t.Fatalf("second pack: %v", err)
	}
	second, _ := afero.ReadFile(fs, "/out/pi_8GB.zip")
	if !bytes.Equal(first, second) {
		t.Fatal("packing the same input twice produced different archives")
	}

	zr, err := zip.NewReader(bytes.NewReader(second), int64(len(second)))
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	if len(zr.File) != 1 || zr.File[0].Name != "pi.img" {
		t.Fatalf("unexpected entries: %v", zr.File)
	}
	rc, err := zr.File[0].Open()
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	content, _ := io.ReadAll(rc)
	if string(content) != "boot+rootfs" {
		t.Fatalf("unexpected content %q", content)
	}
	if ok, _ := afero.Exists(fs, "/out/pi_8GB.zip.part"); ok {
		t.Fatal("temporary archive left behind")
	}
}
