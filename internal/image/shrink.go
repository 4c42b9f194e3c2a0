package image

import (
	"context"
	"fmt"

	"github.com/spf13/afero"

	"github.com/nace/blkpull/internal/system"
)

// Attacher sets up and releases loop devices
type Attacher interface {
	Attach(ctx context.Context, image string, offset int64) (*Device, error)
	Detach(ctx context.Context, dev *Device) error
}

// TableReader parses the partition table of an image
type TableReader interface {
	ReadTable(ctx context.Context, image string) (*DiskImage, error)
}

// IntegrityChecker checks and repairs the filesystem on a loop device
type IntegrityChecker interface {
	Check(ctx context.Context, dev *Device) (CheckOutcome, error)
}

// OrphanFixer repairs orphaned inodes of the partition starting at partStart
type OrphanFixer interface {
	RepairOrphans(ctx context.Context, image string, partStart int64) error
}

// FilesystemShrinker runs one minimum-size resize pass
type FilesystemShrinker interface {
	ShrinkToMinimum(ctx context.Context, dev *Device) (system.ResizeReport, error)
}

// TableEditor rewrites the partition table. Calls must follow the order
// DeletePartition, CreatePartition, QueryEnd.
type TableEditor interface {
	DeletePartition(ctx context.Context, image string, index int) error
	CreatePartition(ctx context.Context, image, fsType string, start, end int64) (int64, error)
	QueryEnd(ctx context.Context, image string, index int) (int64, error)
}

// FileTruncator sets the length of the image file
type FileTruncator interface {
	Truncate(image string, length int64) error
}

// StateKind enumerates the planner states
type StateKind int

const (
	StatePreparing StateKind = iota
	StatePrepared
	StateResizing
	StateResized
	StateTruncating
	StateDone
	StateFailed
)

// State is one planner state; Pass is set for Preparing and Resizing,
// Reason for Failed.
type State struct {
	Kind   StateKind
	Pass   int
	Reason FailReason
}

func (s State) String() string {
	switch s.Kind {
	case StatePreparing:
		return fmt.Sprintf("Preparing(%d)", s.Pass)
	case StatePrepared:
		return "Prepared"
	case StateResizing:
		return fmt.Sprintf("Resizing(%d)", s.Pass)
	case StateResized:
		return "Resized"
	case StateTruncating:
		return "Truncating"
	case StateDone:
		return "Done"
	case StateFailed:
		return fmt.Sprintf("Failed(%s)", s.Reason)
	default:
		return "Unknown"
	}
}

// ShrinkAttempt is one pass of the preparation loop
type ShrinkAttempt struct {
	Pass    int
	Outcome CheckOutcome
}

// ShrinkReport records what a Shrink call did
type ShrinkReport struct {
	Image        string
	States       []State
	Attempts     []ShrinkAttempt
	ResizePasses []system.ResizeReport
	Mutations    int // partition table edits performed
	OldLength    int64
	NewLength    int64
}

// Final returns the last state reached
func (r *ShrinkReport) Final() State {
	if len(r.States) == 0 {
		return State{}
	}
	return r.States[len(r.States)-1]
}

// Policy bounds the planner's retry loops
type Policy struct {
	PreparePasses  int
	RepairAttempts int
	ResizePasses   int
}

// DefaultPolicy returns the standard retry bounds
func DefaultPolicy() Policy {
	return Policy{PreparePasses: 4, RepairAttempts: 2, ResizePasses: 10}
}

// Logger is the subset of *ui.Logger the planner reports through
type Logger interface {
	Info(format string, args ...interface{})
	Warning(format string, args ...interface{})
	Debug(format string, args ...interface{})
}

// Planner drives check, repair, resize, partition edit and truncation of
// one image.
type Planner struct {
	Table     TableReader
	Loops     Attacher
	Checker   IntegrityChecker
	Repairer  OrphanFixer
	Resizer   FilesystemShrinker
	Editor    TableEditor
	Truncator FileTruncator
	Policy    Policy
	Log       Logger
}

// NewPlanner wires a planner to the real utilities. loops is shared so
// that an aborted run can release whatever is still attached.
func NewPlanner(cmd Commander, loops *LoopManager, fs afero.Fs, log Logger, policy Policy) *Planner {
	editor := NewPartitionEditor(cmd, log)
	return &Planner{
		Table:     editor,
		Loops:     loops,
		Checker:   NewChecker(cmd),
		Repairer:  NewOrphanRepairer(loops, editor, cmd),
		Resizer:   NewResizer(cmd),
		Editor:    editor,
		Truncator: NewTruncator(fs),
		Policy:    policy,
		Log:       log,
	}
}

// Shrink reduces the data partition of image to its minimum footprint.
// Any failure returns *ShrinkFailure and leaves the image unshrunk; the
// partition table is only touched after the filesystem has been resized.
func (p *Planner) Shrink(ctx context.Context, image string) (*ShrinkReport, error) {
	report := &ShrinkReport{Image: image}

	img, err := p.Table.ReadTable(ctx, image)
	if err != nil {
		return report, p.fail(report, ReasonLayout, err)
	}
	data, err := img.DataPartition()
	if err != nil {
		return report, p.fail(report, ReasonLayout, err)
	}
	report.OldLength = img.Length
	report.NewLength = img.Length
	p.Log.Info("Data partition %d: %d..%d (%s, %s)", data.Index, data.Start, data.End,
		data.FSType, system.FormatSize(uint64(data.Size())))

	dev, err := p.prepare(ctx, report, image, data)
	if err != nil {
		return report, err
	}
	// Released explicitly below; this covers every early return.
	defer p.Loops.Detach(ctx, dev)

	final, resized, err := p.resize(ctx, report, dev)
	if err != nil {
		return report, err
	}

	if err := p.Loops.Detach(ctx, dev); err != nil {
		return report, p.fail(report, ReasonAttach, err)
	}

	var end int64
	if !resized {
		// The filesystem was already minimal. Only an image that was
		// expanded past its last partition still needs cutting; DataPartition
		// guarantees data.End < img.Length, so equality means no tail.
		if data.End == img.Length-1 {
			p.Log.Info("Filesystem already at minimum size, nothing to shrink")
			p.enter(report, State{Kind: StateDone})
			return report, nil
		}
		p.enter(report, State{Kind: StateTruncating})
		end = data.End
	} else {
		p.enter(report, State{Kind: StateResized})
		p.enter(report, State{Kind: StateTruncating})
		end, err = p.rewritePartition(ctx, report, image, data, final)
		if err != nil {
			return report, err
		}
	}

	newLength := end + 1
	p.Log.Info("Truncating %s to %s", image, system.FormatSize(uint64(newLength)))
	if err := p.Truncator.Truncate(image, newLength); err != nil {
		return report, p.fail(report, ReasonTruncate, err)
	}
	report.NewLength = newLength
	p.enter(report, State{Kind: StateDone})
	return report, nil
}

// prepare runs the bounded check loop. On success the returned device is
// still attached.
func (p *Planner) prepare(ctx context.Context, report *ShrinkReport, image string, data Partition) (*Device, error) {
	for pass := 1; pass <= p.Policy.PreparePasses; pass++ {
		p.enter(report, State{Kind: StatePreparing, Pass: pass})

		dev, err := p.Loops.Attach(ctx, image, data.Start)
		if err != nil {
			return nil, p.fail(report, ReasonAttach, err)
		}

		p.Log.Info("Checking filesystem (pass %d/%d)", pass, p.Policy.PreparePasses)
		outcome, err := p.Checker.Check(ctx, dev)
		report.Attempts = append(report.Attempts, ShrinkAttempt{Pass: pass, Outcome: outcome})

		switch {
		case err == nil && outcome == Clean:
			p.enter(report, State{Kind: StatePrepared})
			return dev, nil

		case err == nil && outcome == RepairedOrphans:
			if derr := p.Loops.Detach(ctx, dev); derr != nil {
				return nil, p.fail(report, ReasonAttach, derr)
			}
			p.Log.Warning("Orphaned inodes found, running forced repair")
			if rerr := p.repairOrphans(ctx, image, data.Start); rerr != nil {
				return nil, p.fail(report, ReasonUnrepairableOrphans, rerr)
			}

		default:
			if derr := p.Loops.Detach(ctx, dev); derr != nil {
				p.Log.Warning("Failed to detach %s: %v", dev.Path, derr)
			}
			if err == nil {
				err = &IntegrityError{Device: dev.Path}
			}
			return nil, p.fail(report, ReasonIntegrity, err)
		}
	}
	return nil, p.fail(report, ReasonPrepareExhausted, &PrepareExhaustedError{Passes: p.Policy.PreparePasses})
}

func (p *Planner) repairOrphans(ctx context.Context, image string, start int64) error {
	var err error
	for attempt := 1; attempt <= p.Policy.RepairAttempts; attempt++ {
		if err = p.Repairer.RepairOrphans(ctx, image, start); err == nil {
			return nil
		}
		p.Log.Warning("Orphan repair attempt %d/%d failed: %v", attempt, p.Policy.RepairAttempts, err)
	}
	return &RepairError{Image: image, Attempts: p.Policy.RepairAttempts, Err: err}
}

// resize runs resize2fs -M until it reports the filesystem is already
// minimal. resized is false when the first pass changed nothing.
func (p *Planner) resize(ctx context.Context, report *ShrinkReport, dev *Device) (system.ResizeReport, bool, error) {
	for pass := 1; pass <= p.Policy.ResizePasses; pass++ {
		p.enter(report, State{Kind: StateResizing, Pass: pass})

		rep, err := p.Resizer.ShrinkToMinimum(ctx, dev)
		if err != nil {
			return rep, false, p.fail(report, ReasonResize, err)
		}
		report.ResizePasses = append(report.ResizePasses, rep)
		p.Log.Debug("resize pass %d: %d blocks of %d bytes (minimum=%v)", pass, rep.Blocks, rep.BlockSize, rep.AlreadyMinimum)

		if rep.AlreadyMinimum {
			return rep, pass > 1, nil
		}
	}
	return system.ResizeReport{}, false, p.fail(report, ReasonResizeExhausted, &ResizeExhaustedError{Passes: p.Policy.ResizePasses})
}

// rewritePartition replaces the data partition with one sized to the
// resized filesystem and returns its authoritative end offset.
func (p *Planner) rewritePartition(ctx context.Context, report *ShrinkReport, image string, data Partition, fs system.ResizeReport) (int64, error) {
	end := data.Start + fs.Bytes() - 1
	if end > data.End {
		return 0, p.fail(report, ReasonPartition,
			fmt.Errorf("resized filesystem (%d bytes) exceeds partition %d", fs.Bytes(), data.Index))
	}
	p.Log.Info("Shrinking partition %d to %s", data.Index, system.FormatSize(uint64(fs.Bytes())))

	if err := p.Editor.DeletePartition(ctx, image, data.Index); err != nil {
		return 0, p.fail(report, ReasonPartition, err)
	}
	report.Mutations++
	if _, err := p.Editor.CreatePartition(ctx, image, data.FSType, data.Start, end); err != nil {
		return 0, p.fail(report, ReasonPartition, err)
	}
	report.Mutations++

	newEnd, err := p.Editor.QueryEnd(ctx, image, data.Index)
	if err != nil {
		return 0, p.fail(report, ReasonPartition, err)
	}
	// Cutting the file at a rounded-down end would drop filesystem blocks.
	if newEnd < end {
		return 0, p.fail(report, ReasonPartition,
			fmt.Errorf("partition %d ends at %d inside the resized filesystem ending at %d", data.Index, newEnd, end))
	}
	if newEnd != end {
		p.Log.Debug("parted aligned partition %d end from %d to %d", data.Index, end, newEnd)
	}
	return newEnd, nil
}

func (p *Planner) enter(report *ShrinkReport, s State) {
	report.States = append(report.States, s)
	p.Log.Debug("shrink state: %s", s)
}

func (p *Planner) fail(report *ShrinkReport, reason FailReason, err error) error {
	p.enter(report, State{Kind: StateFailed, Reason: reason})
	return &ShrinkFailure{Reason: reason, Err: err}
}
