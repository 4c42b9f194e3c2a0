package backup

import (
	"errors"
	"fmt"

	"github.com/nace/blkpull/internal/system"
)

// ErrValidation is wrapped by every failure detected before data moves
var ErrValidation = errors.New("validation failed")

// ValidationError reports an unusable precondition such as a bad size query
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// InsufficientSpaceError reports that the destination cannot hold the run
type InsufficientSpaceError struct {
	Dir       string
	Needed    uint64
	Available uint64
}

func (e *InsufficientSpaceError) Error() string {
	return fmt.Sprintf("insufficient space in %s: need %s (%d bytes), have %s (%d bytes)",
		e.Dir, system.FormatSize(e.Needed), e.Needed, system.FormatSize(e.Available), e.Available)
}

func (e *InsufficientSpaceError) Unwrap() error { return ErrValidation }

// TransferError reports a failed or empty capture
type TransferError struct {
	Device   string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *TransferError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("transfer of %s failed: %v", e.Device, e.Err)
	case e.ExitCode != 0:
		return fmt.Sprintf("transfer of %s failed with exit code %d: %s", e.Device, e.ExitCode, e.Stderr)
	default:
		return fmt.Sprintf("transfer of %s produced an empty capture", e.Device)
	}
}

func (e *TransferError) Unwrap() error { return e.Err }

// RemoteScriptError reports a pre or post script that did not exit cleanly
type RemoteScriptError struct {
	Phase    string // "pre" or "post"
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *RemoteScriptError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s-script %q failed: %v", e.Phase, e.Command, e.Err)
	}
	return fmt.Sprintf("%s-script %q exited with code %d: %s", e.Phase, e.Command, e.ExitCode, e.Stderr)
}

func (e *RemoteScriptError) Unwrap() error { return e.Err }
