package image

import (
	"errors"
	"os"

	"github.com/spf13/afero"
)

// Truncator cuts the backing file of an image to a new length
type Truncator struct {
	fs afero.Fs
}

// NewTruncator creates a truncator operating on fs
func NewTruncator(fs afero.Fs) *Truncator {
	return &Truncator{fs: fs}
}

// Truncate sets the length of image to exactly length bytes
func (t *Truncator) Truncate(image string, length int64) error {
	if length <= 0 {
		return &TruncateError{Image: image, Length: length, Err: errors.New("length must be positive")}
	}

	f, err := t.fs.OpenFile(image, os.O_WRONLY, 0)
	if err != nil {
		return &TruncateError{Image: image, Length: length, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return &TruncateError{Image: image, Length: length, Err: err}
	}
	if !info.Mode().IsRegular() {
		return &TruncateError{Image: image, Length: length, Err: errors.New("not a regular file")}
	}

	if err := f.Truncate(length); err != nil {
		return &TruncateError{Image: image, Length: length, Err: err}
	}
	if err := f.Sync(); err != nil {
		return &TruncateError{Image: image, Length: length, Err: err}
	}
	return nil
}
