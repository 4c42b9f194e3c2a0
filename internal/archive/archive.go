// Package archive decompresses captured streams and packs finished images.
package archive

import (
	"archive/zip"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

const (
	// CompressedExt is the extension of a captured stream
	CompressedExt = "gz"
	// ArchiveExt is the extension of a packed image
	ArchiveExt = "zip"
)

// packEpoch stamps every archive entry so identical input packs identically
var packEpoch = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

// Decompress inflates the gzip stream at src into dst and returns the
// number of bytes written. dst is removed on failure.
func Decompress(fs afero.Fs, src, dst string) (n int64, err error) {
	in, err := fs.Open(src)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	zr, err := gzip.NewReader(in)
	if err != nil {
		return 0, fmt.Errorf("read gzip header of %s: %w", src, err)
	}
	defer zr.Close()

	out, err := fs.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", dst, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", dst, cerr)
		}
		if err != nil {
			fs.Remove(dst)
		}
	}()

	n, err = io.Copy(out, zr)
	if err != nil {
		return n, fmt.Errorf("decompress %s: %w", src, err)
	}
	return n, nil
}

// Empty reports whether the gzip stream at path inflates to no data. A
// compressor fed nothing still writes a header, so the file size alone
// cannot tell.
func Empty(fs afero.Fs, path string) (bool, error) {
	in, err := fs.Open(path)
	if err != nil {
		return false, fmt.Errorf("open %s: %w", path, err)
	}
	defer in.Close()

	zr, err := gzip.NewReader(in)
	if err != nil {
		return false, fmt.Errorf("read gzip header of %s: %w", path, err)
	}
	defer zr.Close()

	var one [1]byte
	_, err = io.ReadFull(zr, one[:])
	switch {
	case err == io.EOF:
		return true, nil
	case err != nil:
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	return false, nil
}

// Pack writes files into a zip archive at dst, replacing any existing
// archive. Entries are stored under their base names in the given order.
func Pack(fs afero.Fs, dst string, files ...string) (err error) {
	tmp := dst + ".part"
	out, err := fs.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	defer func() {
		if err != nil {
			out.Close()
			fs.Remove(tmp)
		}
	}()

	zw := zip.NewWriter(out)
	for _, name := range files {
		if err := addFile(fs, zw, name); err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish %s: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := fs.Rename(tmp, dst); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

func addFile(fs afero.Fs, zw *zip.Writer, name string) error {
	in, err := fs.Open(name)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer in.Close()

	header := &zip.FileHeader{
		Name:     filepath.Base(name),
		Method:   zip.Deflate,
		Modified: packEpoch,
	}
	header.SetMode(0o644)

	w, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	if _, err := io.Copy(w, in); err != nil {
		return fmt.Errorf("pack %s: %w", name, err)
	}
	return nil
}
