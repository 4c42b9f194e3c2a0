package image

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/nace/blkpull/internal/system"
)

// Device is a loop device exposing an image from a byte offset onwards.
// The zero value is a never-attached device.
type Device struct {
	Path   string
	Image  string
	Offset int64
}

// LoopManager handles loop device operations and remembers which devices
// it attached so that an aborted run can release them.
type LoopManager struct {
	cmd Commander

	mu     sync.Mutex
	active map[string]*Device
}

// NewLoopManager creates a new loop manager
func NewLoopManager(cmd Commander) *LoopManager {
	return &LoopManager{
		cmd:    cmd,
		active: make(map[string]*Device),
	}
}

// Attach attaches image to a free loop device starting at offset
func (m *LoopManager) Attach(ctx context.Context, image string, offset int64) (*Device, error) {
	if offset < 0 {
		return nil, &AttachError{Image: image, Offset: offset, Err: errors.New("negative offset")}
	}

	res, err := m.cmd.Exec(ctx, "losetup", "-f", "--show", "-o", strconv.FormatInt(offset, 10), image)
	if err != nil {
		return nil, &AttachError{Image: image, Offset: offset, Err: err}
	}
	path, err := system.ParseLosetupShow(res.Stdout)
	if err != nil {
		return nil, &AttachError{Image: image, Offset: offset, Err: err}
	}

	dev := &Device{Path: path, Image: image, Offset: offset}
	m.mu.Lock()
	m.active[path] = dev
	m.mu.Unlock()
	return dev, nil
}

// Detach detaches a loop device. Detaching a nil, never-attached or already
// detached device is a no-op.
func (m *LoopManager) Detach(ctx context.Context, dev *Device) error {
	if dev == nil || dev.Path == "" {
		return nil
	}

	m.mu.Lock()
	tracked, ok := m.active[dev.Path]
	m.mu.Unlock()
	if !ok || tracked != dev {
		return nil
	}

	// Detach even when ctx is already cancelled; this runs on abort paths.
	if _, err := m.cmd.Exec(context.WithoutCancel(ctx), "losetup", "-d", dev.Path); err != nil {
		return fmt.Errorf("failed to detach loop device %s: %w", dev.Path, err)
	}

	m.mu.Lock()
	delete(m.active, dev.Path)
	m.mu.Unlock()
	return nil
}

// DetachAll releases every device this manager still holds
func (m *LoopManager) DetachAll(ctx context.Context) error {
	m.mu.Lock()
	devices := make([]*Device, 0, len(m.active))
	for _, dev := range m.active {
		devices = append(devices, dev)
	}
	m.mu.Unlock()

	var result *multierror.Error
	for _, dev := range devices {
		if err := m.Detach(ctx, dev); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Active returns the number of devices currently attached by this manager
func (m *LoopManager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// losetupDevice represents a loop device from losetup -l -J output
type losetupDevice struct {
	Name     string `json:"name"`
	BackFile string `json:"back-file"`
}

type losetupOutput struct {
	LoopDevices []losetupDevice `json:"loopdevices"`
}

// FindByImage returns loop devices, attached by anyone, backed by image
func (m *LoopManager) FindByImage(ctx context.Context, image string) ([]string, error) {
	res, err := m.cmd.Exec(ctx, "losetup", "-l", "-J")
	if err != nil {
		return nil, fmt.Errorf("failed to list loop devices: %w", err)
	}
	// losetup prints nothing at all when no devices exist
	if len(res.Stdout) == 0 {
		return nil, nil
	}

	var result losetupOutput
	if err := json.Unmarshal([]byte(res.Stdout), &result); err != nil {
		return nil, &system.ParseError{Source: "losetup", Input: res.Stdout, Reason: err.Error()}
	}

	want := filepath.Clean(image)
	var devices []string
	for _, dev := range result.LoopDevices {
		if dev.BackFile != "" && filepath.Clean(dev.BackFile) == want {
			devices = append(devices, dev.Name)
		}
	}
	return devices, nil
}
