package image

import "fmt"

// AttachError reports a loop device that could not be set up
type AttachError struct {
	Image  string
	Offset int64
	Err    error
}

func (e *AttachError) Error() string {
	return fmt.Sprintf("attach %s at offset %d: %v", e.Image, e.Offset, e.Err)
}

func (e *AttachError) Unwrap() error { return e.Err }

// IntegrityError reports a filesystem check that found damage it could not fix
type IntegrityError struct {
	Device   string
	ExitCode int
	Output   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("filesystem on %s is unrepairable (e2fsck status %d)", e.Device, e.ExitCode)
}

// RepairError reports that the orphaned inode repair did not succeed
type RepairError struct {
	Image    string
	Attempts int
	Err      error
}

func (e *RepairError) Error() string {
	return fmt.Sprintf("orphan repair of %s failed after %d attempt(s): %v", e.Image, e.Attempts, e.Err)
}

func (e *RepairError) Unwrap() error { return e.Err }

// PrepareExhaustedError reports a filesystem that never checked clean
type PrepareExhaustedError struct {
	Passes int
}

func (e *PrepareExhaustedError) Error() string {
	return fmt.Sprintf("filesystem not clean after %d check passes", e.Passes)
}

// ResizeExhaustedError reports a resize that never reached the minimum size
type ResizeExhaustedError struct {
	Passes int
}

func (e *ResizeExhaustedError) Error() string {
	return fmt.Sprintf("filesystem did not reach minimum size after %d resize passes", e.Passes)
}

// TruncateError reports a backing file that could not be cut to length
type TruncateError struct {
	Image  string
	Length int64
	Err    error
}

func (e *TruncateError) Error() string {
	return fmt.Sprintf("truncate %s to %d bytes: %v", e.Image, e.Length, e.Err)
}

func (e *TruncateError) Unwrap() error { return e.Err }

// FailReason names why a shrink stopped
type FailReason string

const (
	ReasonIntegrity           FailReason = "integrity"
	ReasonUnrepairableOrphans FailReason = "unrepairable-orphans"
	ReasonPrepareExhausted    FailReason = "prepare-exhausted"
	ReasonResize              FailReason = "resize"
	ReasonResizeExhausted     FailReason = "resize-exhausted"
	ReasonAttach              FailReason = "attach"
	ReasonPartition           FailReason = "partition"
	ReasonTruncate            FailReason = "truncate"
	ReasonLayout              FailReason = "layout"
)

// ShrinkFailure is returned by Planner.Shrink when it ends in Failed(reason).
// The source image is left in place.
type ShrinkFailure struct {
	Reason FailReason
	Err    error
}

func (e *ShrinkFailure) Error() string {
	return fmt.Sprintf("shrink failed (%s): %v", e.Reason, e.Err)
}

func (e *ShrinkFailure) Unwrap() error { return e.Err }
