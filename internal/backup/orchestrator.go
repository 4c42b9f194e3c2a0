package backup

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/afero"

	"github.com/nace/blkpull/internal/archive"
	"github.com/nace/blkpull/internal/image"
	"github.com/nace/blkpull/internal/remote"
	"github.com/nace/blkpull/internal/system"
)

// RemoteRunner executes commands on the source. *remote.Client satisfies it.
type RemoteRunner interface {
	Run(ctx context.Context, command string) (remote.Result, error)
	Stream(ctx context.Context, command string, w io.Writer) (remote.Result, error)
}

// Shrinker reduces a raw image in place. *image.Planner satisfies it.
type Shrinker interface {
	Shrink(ctx context.Context, image string) (*image.ShrinkReport, error)
}

// Releaser frees loop devices left behind by an aborted shrink
type Releaser interface {
	DetachAll(ctx context.Context) error
}

// Logger is the subset of *ui.Logger the orchestrator reports through
type Logger interface {
	Info(format string, args ...interface{})
	Success(format string, args ...interface{})
	Warning(format string, args ...interface{})
	Error(format string, args ...interface{})
	Debug(format string, args ...interface{})
}

// Outcome describes a finished (or failed) run
type Outcome struct {
	DeviceSize int64
	Captured   int64 // compressed bytes received
	Archive    string
	RawImage   string // set when a failed shrink kept the unshrunk image
	Shrink     *image.ShrinkReport
}

// Orchestrator runs the transfer and archive sequence for one session
type Orchestrator struct {
	Remote    RemoteRunner
	Fs        afero.Fs
	FreeSpace func(dir string) (uint64, error)
	Shrinker  Shrinker
	Loops     Releaser // may be nil
	Log       Logger
}

// Run captures the session's device and leaves the final archive in the
// destination directory. Validation failures return before any data moves.
func (o *Orchestrator) Run(ctx context.Context, s *TransferSession) (out *Outcome, err error) {
	out = &Outcome{}
	cleanup := system.NewCleanupStack()
	defer func() {
		if err == nil {
			cleanup.Clear()
			return
		}
		if cerr := cleanup.Execute(); cerr != nil {
			o.Log.Warning("%v", cerr)
		}
	}()

	o.Log.Info("Run %s: backing up %s from %s", s.ID, s.Device, s.Source)

	size, err := o.querySize(ctx, s)
	if err != nil {
		return out, err
	}
	out.DeviceSize = size
	o.Log.Info("Device size: %s (%d bytes)", system.FormatSize(uint64(size)), size)

	if err := o.checkSpace(s, size); err != nil {
		return out, err
	}

	if err := o.runScripts(ctx, s, "pre", s.PreScripts); err != nil {
		return out, err
	}

	capture := s.CapturePath()
	cleanup.Add("remove partial capture", func() error {
		return removeIfExists(o.Fs, capture)
	})
	n, transferErr := o.capture(ctx, s, capture)
	out.Captured = n

	// post-scripts run even when the transfer failed or was interrupted
	postErr := o.runScripts(context.WithoutCancel(ctx), s, "post", s.PostScripts)
	if transferErr != nil {
		if postErr != nil {
			o.Log.Error("%v", postErr)
		}
		return out, transferErr
	}
	// the capture is complete; a failing post-script must not delete it
	cleanup.Clear()
	if postErr != nil {
		return out, postErr
	}
	o.Log.Success("Captured %s compressed", system.FormatSize(uint64(n)))

	final := s.ArchivePath(size)
	if !s.Shrink {
		if err := o.Fs.Rename(capture, final); err != nil {
			return out, fmt.Errorf("failed to move capture to %s: %w", final, err)
		}
		out.Archive = final
		o.Log.Success("Archive written: %s", final)
		return out, nil
	}

	raw := s.RawPath()
	o.Log.Info("Decompressing capture into %s", raw)
	if _, err := archive.Decompress(o.Fs, capture, raw); err != nil {
		return out, err
	}
	if err := o.Fs.Remove(capture); err != nil {
		o.Log.Warning("Failed to remove capture %s: %v", capture, err)
	}

	if o.Loops != nil {
		cleanup.Add("detach loop devices", func() error {
			return o.Loops.DetachAll(context.WithoutCancel(ctx))
		})
	}
	report, err := o.Shrinker.Shrink(ctx, raw)
	out.Shrink = report
	if err != nil {
		out.RawImage = raw
		o.Log.Error("Shrink failed, unshrunk image kept at %s", raw)
		return out, err
	}

	if report != nil && report.NewLength > 0 && report.NewLength < report.OldLength {
		o.Log.Info("Image shrunk from %s to %s",
			system.FormatSize(uint64(report.OldLength)), system.FormatSize(uint64(report.NewLength)))
	}
	o.Log.Info("Packing %s", final)
	if err := archive.Pack(o.Fs, final, raw); err != nil {
		out.RawImage = raw
		return out, err
	}
	if err := o.Fs.Remove(raw); err != nil {
		o.Log.Warning("Failed to remove raw image %s: %v", raw, err)
	}
	out.Archive = final
	o.Log.Success("Archive written: %s", final)
	return out, nil
}

func (o *Orchestrator) querySize(ctx context.Context, s *TransferSession) (int64, error) {
	cmd := s.sudo() + "blockdev --getsize64 " + remote.Quote(s.Device)
	o.Log.Debug("remote: %s", cmd)
	res, err := o.Remote.Run(ctx, cmd)
	if err != nil {
		return 0, fmt.Errorf("size query on %s: %w", s.Source, err)
	}
	if res.ExitCode != 0 {
		return 0, &ValidationError{Field: "device size", Value: s.Device,
			Reason: fmt.Sprintf("blockdev exited with code %d: %s", res.ExitCode, res.Stderr)}
	}
	return ParseRemoteSize(res.Stdout)
}

func (o *Orchestrator) checkSpace(s *TransferSession, size int64) error {
	needed := s.RequiredSpace(size)
	avail, err := o.FreeSpace(s.Dir)
	if err != nil {
		return fmt.Errorf("failed to query free space in %s: %w", s.Dir, err)
	}
	o.Log.Debug("space: need %d, have %d", needed, avail)
	if avail < needed {
		return &InsufficientSpaceError{Dir: s.Dir, Needed: needed, Available: avail}
	}
	return nil
}

// runScripts stops at the first failing script
func (o *Orchestrator) runScripts(ctx context.Context, s *TransferSession, phase string, scripts []string) error {
	for _, script := range scripts {
		o.Log.Info("Running %s-script: %s", phase, script)
		res, err := o.Remote.Run(ctx, script)
		if err != nil {
			return &RemoteScriptError{Phase: phase, Command: script, ExitCode: -1, Err: err}
		}
		if res.ExitCode != 0 {
			return &RemoteScriptError{Phase: phase, Command: script, ExitCode: res.ExitCode, Stderr: res.Stderr}
		}
	}
	return nil
}

func (o *Orchestrator) capture(ctx context.Context, s *TransferSession, path string) (int64, error) {
	f, err := o.Fs.Create(path)
	if err != nil {
		return 0, &TransferError{Device: s.Device, Err: err}
	}

	cw := &countingWriter{w: f}
	cmd := dumpCommand(s)
	o.Log.Info("Streaming %s into %s", s.Device, path)
	o.Log.Debug("remote: %s", cmd)
	res, err := o.Remote.Stream(ctx, cmd, cw)
	if cerr := f.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return cw.n, &TransferError{Device: s.Device, ExitCode: -1, Err: err}
	}
	if res.ExitCode != 0 {
		return cw.n, &TransferError{Device: s.Device, ExitCode: res.ExitCode, Stderr: res.Stderr}
	}
	if cw.n == 0 {
		return 0, &TransferError{Device: s.Device}
	}
	empty, err := archive.Empty(o.Fs, path)
	if err != nil {
		return cw.n, &TransferError{Device: s.Device, ExitCode: -1, Err: err}
	}
	if empty {
		return cw.n, &TransferError{Device: s.Device}
	}
	return cw.n, nil
}

// dumpCommand reads the device and compresses on the remote side; pipefail
// makes a dd failure visible in the exit status.
func dumpCommand(s *TransferSession) string {
	inner := s.sudo() + "dd if=" + remote.Quote(s.Device) + " bs=4M status=none | gzip -c"
	return "bash -o pipefail -c " + remote.Quote(inner)
}

func (s *TransferSession) sudo() string {
	if s.Sudo {
		return "sudo -n "
	}
	return ""
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func removeIfExists(fs afero.Fs, path string) error {
	if ok, _ := afero.Exists(fs, path); !ok {
		return nil
	}
	return fs.Remove(path)
}

// Notifier delivers the run log. *notify.Mailer satisfies it.
type Notifier interface {
	Send(ctx context.Context, logText string, recipients []string) error
}

// Notify mails logText to the session's recipients. Failures are logged
// and otherwise ignored.
func Notify(ctx context.Context, n Notifier, log Logger, s *TransferSession, logText string) {
	if n == nil || len(s.Recipients) == 0 {
		return
	}
	if err := n.Send(context.WithoutCancel(ctx), logText, s.Recipients); err != nil {
		log.Warning("Notification not sent: %v", err)
		return
	}
	log.Debug("notification sent to %d recipient(s)", len(s.Recipients))
}
