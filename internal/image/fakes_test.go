package image

import (
	"context"
	"fmt"
	"strings"

	"github.com/nace/blkpull/internal/system"
)

// scriptedCommander answers commands from a handler and records every call
type scriptedCommander struct {
	calls   []string
	handler func(name string, args []string) (system.Result, error)
}

func (c *scriptedCommander) Exec(ctx context.Context, name string, args ...string) (system.Result, error) {
	c.calls = append(c.calls, strings.TrimSpace(name+" "+strings.Join(args, " ")))
	if c.handler == nil {
		return system.Result{}, nil
	}
	return c.handler(name, args)
}

func (c *scriptedCommander) count(prefix string) int {
	n := 0
	for _, call := range c.calls {
		if strings.HasPrefix(call, prefix) {
			n++
		}
	}
	return n
}

func exitWith(code int, stdout, stderr string) (system.Result, error) {
	res := system.Result{Stdout: stdout, Stderr: stderr, ExitCode: code}
	return res, &system.ExitError{Command: "fake", Code: code, Stderr: stderr}
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})    {}
func (nopLogger) Warning(string, ...interface{}) {}
func (nopLogger) Debug(string, ...interface{})   {}

// stateLogger remembers the planner states announced through Debug
type stateLogger struct {
	nopLogger
	states []string
}

func (l *stateLogger) Debug(format string, args ...interface{}) {
	if format == "shrink state: %s" && len(args) == 1 {
		l.states = append(l.states, fmt.Sprint(args[0]))
	}
}

func (l *stateLogger) reached(state string) bool {
	for _, s := range l.states {
		if s == state {
			return true
		}
	}
	return false
}

// fakeLoops hands out numbered devices and tracks which are attached
type fakeLoops struct {
	next      int
	attached  map[string]bool
	attaches  int
	detaches  int
	attachErr error
}

func newFakeLoops() *fakeLoops {
	return &fakeLoops{attached: make(map[string]bool)}
}

func (f *fakeLoops) Attach(ctx context.Context, image string, offset int64) (*Device, error) {
	if f.attachErr != nil {
		return nil, &AttachError{Image: image, Offset: offset, Err: f.attachErr}
	}
	if len(f.attached) > 0 {
		return nil, fmt.Errorf("image %s already attached", image)
	}
	dev := &Device{Path: fmt.Sprintf("/dev/loop%d", f.next), Image: image, Offset: offset}
	f.next++
	f.attaches++
	f.attached[dev.Path] = true
	return dev, nil
}

func (f *fakeLoops) Detach(ctx context.Context, dev *Device) error {
	if dev == nil || !f.attached[dev.Path] {
		return nil
	}
	delete(f.attached, dev.Path)
	f.detaches++
	return nil
}

type staticTable struct {
	img *DiskImage
}

func (t staticTable) ReadTable(ctx context.Context, image string) (*DiskImage, error) {
	cp := *t.img
	cp.Partitions = append([]Partition(nil), t.img.Partitions...)
	return &cp, nil
}

// scriptedChecker returns outcomes in order; the last one repeats
type scriptedChecker struct {
	outcomes []CheckOutcome
	calls    int
	loops    *fakeLoops
}

func (c *scriptedChecker) Check(ctx context.Context, dev *Device) (CheckOutcome, error) {
	if !c.loops.attached[dev.Path] {
		return Unrepairable, fmt.Errorf("check on detached device %s", dev.Path)
	}
	o := c.outcomes[len(c.outcomes)-1]
	if c.calls < len(c.outcomes) {
		o = c.outcomes[c.calls]
	}
	c.calls++
	if o == Unrepairable {
		return o, &IntegrityError{Device: dev.Path, ExitCode: 4}
	}
	return o, nil
}

type scriptedRepairer struct {
	errs  []error
	calls int
	loops *fakeLoops
}

func (r *scriptedRepairer) RepairOrphans(ctx context.Context, image string, start int64) error {
	// the repair needs its own device, so the planner's must be released
	dev, err := r.loops.Attach(ctx, image, start)
	if err != nil {
		return err
	}
	defer r.loops.Detach(ctx, dev)

	var e error
	if r.calls < len(r.errs) {
		e = r.errs[r.calls]
	}
	r.calls++
	return e
}

type scriptedResizer struct {
	reports []system.ResizeReport
	err     error
	calls   int
}

func (r *scriptedResizer) ShrinkToMinimum(ctx context.Context, dev *Device) (system.ResizeReport, error) {
	if r.err != nil {
		r.calls++
		return system.ResizeReport{}, r.err
	}
	rep := r.reports[len(r.reports)-1]
	if r.calls < len(r.reports) {
		rep = r.reports[r.calls]
	}
	r.calls++
	return rep, nil
}

// recordingEditor logs every destructive call together with the planner
// states reached so far.
type recordingEditor struct {
	calls     []string
	states    *stateLogger
	sawPrep   []bool
	alignedTo int64
	createErr error
}

func (e *recordingEditor) note(call string) {
	e.calls = append(e.calls, call)
	e.sawPrep = append(e.sawPrep, e.states != nil && e.states.reached("Prepared"))
}

func (e *recordingEditor) DeletePartition(ctx context.Context, image string, index int) error {
	e.note(fmt.Sprintf("rm %d", index))
	return nil
}

func (e *recordingEditor) CreatePartition(ctx context.Context, image, fsType string, start, end int64) (int64, error) {
	e.note(fmt.Sprintf("mkpart %s %d %d", fsType, start, end))
	if e.createErr != nil {
		return 0, e.createErr
	}
	return end, nil
}

func (e *recordingEditor) QueryEnd(ctx context.Context, image string, index int) (int64, error) {
	e.note(fmt.Sprintf("end %d", index))
	return e.alignedTo, nil
}

type recordingTruncator struct {
	lengths []int64
	err     error
}

func (t *recordingTruncator) Truncate(image string, length int64) error {
	t.lengths = append(t.lengths, length)
	return t.err
}
