// Package backup captures a remote block device into a local archive.
package backup

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/nace/blkpull/internal/archive"
	"github.com/nace/blkpull/internal/config"
	"github.com/nace/blkpull/internal/remote"
)

const bytesPerGB = 1_000_000_000

// TransferSession holds everything one backup run needs. It is built once
// from the invocation and passed to each stage.
type TransferSession struct {
	ID          string
	Source      remote.Endpoint
	Device      string
	Sudo        bool
	Dir         string
	Name        string
	Shrink      bool
	PreScripts  []string
	PostScripts []string
	Recipients  []string
}

// NewSession builds a session from loaded configuration
func NewSession(cfg *config.Config) *TransferSession {
	return &TransferSession{
		ID: uuid.NewString(),
		Source: remote.Endpoint{
			User:       cfg.Source.User,
			Host:       cfg.Source.Host,
			Port:       cfg.Source.Port,
			KeyPath:    cfg.Source.Key,
			KnownHosts: cfg.Source.KnownHosts,
		},
		Device:      cfg.Source.Device,
		Sudo:        cfg.Source.Sudo,
		Dir:         cfg.Dest.Dir,
		Name:        cfg.Dest.Name,
		Shrink:      cfg.Shrink.Enabled,
		PreScripts:  cfg.Scripts.Pre,
		PostScripts: cfg.Scripts.Post,
		Recipients:  cfg.Notify.Recipients,
	}
}

// CapturePath is where the compressed stream lands
func (s *TransferSession) CapturePath() string {
	return filepath.Join(s.Dir, s.Name+".img."+archive.CompressedExt)
}

// RawPath is where the decompressed image lives while it is shrunk
func (s *TransferSession) RawPath() string {
	return filepath.Join(s.Dir, s.Name+".img")
}

// ArchivePath is the final output for a device of deviceSize bytes
func (s *TransferSession) ArchivePath(deviceSize int64) string {
	return filepath.Join(s.Dir, ArchiveName(s.Name, deviceSize, s.Shrink))
}

// RequiredSpace is the local space a run needs for a device of deviceSize
// bytes. Shrinking holds the capture and the raw image at once.
func (s *TransferSession) RequiredSpace(deviceSize int64) uint64 {
	if s.Shrink {
		return 2 * uint64(deviceSize)
	}
	return uint64(deviceSize)
}

// ArchiveName returns <name>_<sizeGB>GB.<ext>. sizeGB is the original
// device size floored to whole gigabytes.
func ArchiveName(name string, deviceSize int64, shrink bool) string {
	ext := archive.CompressedExt
	if shrink {
		ext = archive.ArchiveExt
	}
	return fmt.Sprintf("%s_%dGB.%s", name, deviceSize/bytesPerGB, ext)
}

// ParseRemoteSize parses the output of blockdev --getsize64
func ParseRemoteSize(stdout string) (int64, error) {
	s := strings.TrimSpace(stdout)
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, &ValidationError{Field: "device size", Value: s, Reason: "not a number"}
	}
	if n < 0 {
		return 0, &ValidationError{Field: "device size", Value: s, Reason: "negative"}
	}
	return n, nil
}
