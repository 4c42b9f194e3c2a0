package image

import (
	"context"
	"errors"
	"regexp"

	"github.com/nace/blkpull/internal/system"
)

// CheckOutcome classifies one filesystem check
type CheckOutcome int

const (
	Clean CheckOutcome = iota
	RepairedOrphans
	Unrepairable
)

func (o CheckOutcome) String() string {
	switch o {
	case Clean:
		return "clean"
	case RepairedOrphans:
		return "orphans"
	case Unrepairable:
		return "unrepairable"
	default:
		return "unknown"
	}
}

// e2fsck reports orphan list damage in several wordings depending on version
var orphanRe = regexp.MustCompile(`(?i)orphan(ed)? (inode|file|list)|orphan linked list`)

// Checker runs e2fsck in preen mode against a loop device
type Checker struct {
	cmd Commander
}

// NewChecker creates a new checker
func NewChecker(cmd Commander) *Checker {
	return &Checker{cmd: cmd}
}

// Check runs `e2fsck -p -f` and classifies the result. Unrepairable
// outcomes come back together with an *IntegrityError.
func (c *Checker) Check(ctx context.Context, dev *Device) (CheckOutcome, error) {
	res, err := c.cmd.Exec(ctx, "e2fsck", "-p", "-f", dev.Path)
	if err == nil {
		return Clean, nil
	}

	var exitErr *system.ExitError
	if !errors.As(err, &exitErr) {
		return Unrepairable, err
	}
	return Classify(dev.Path, res)
}

// Classify maps a non-zero e2fsck result to an outcome
func Classify(device string, res system.Result) (CheckOutcome, error) {
	if res.ExitCode == 0 {
		return Clean, nil
	}
	if orphanRe.MatchString(res.Combined()) {
		return RepairedOrphans, nil
	}
	return Unrepairable, &IntegrityError{Device: device, ExitCode: res.ExitCode, Output: res.Combined()}
}
