package system

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// ResolvePath returns the canonical absolute path of an existing regular file
func ResolvePath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}

	resolved, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("file not found: %s", absPath)
		}
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("file not accessible: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("must be a regular file, not a directory or device: %s", resolved)
	}

	return resolved, nil
}

// GetAvailableSpace returns available space in bytes for the filesystem holding dir
func GetAvailableSpace(dir string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return 0, fmt.Errorf("failed to get filesystem stats for %s: %w", dir, err)
	}
	// Available blocks * block size
	return stat.Bavail * uint64(stat.Bsize), nil
}
