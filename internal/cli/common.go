package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/nace/blkpull/internal/image"
	"github.com/nace/blkpull/internal/system"
	"github.com/nace/blkpull/internal/ui"
)

// GlobalContext holds shared resources for all commands
type GlobalContext struct {
	Executor    *system.Executor
	Logger      *ui.Logger
	LoopManager *image.LoopManager
	Fs          afero.Fs
	Viper       *viper.Viper
	ConfigPath  string
}

// NewGlobalContext creates a new global context
func NewGlobalContext(verbose, quiet, noColor, debug bool) *GlobalContext {
	executor := system.NewExecutor(debug, os.Stderr)
	logger := ui.NewLogger(verbose, quiet, noColor)

	return &GlobalContext{
		Executor:    executor,
		Logger:      logger,
		LoopManager: image.NewLoopManager(executor),
		Fs:          afero.NewOsFs(),
		Viper:       viper.New(),
	}
}

// shrinkDeps are the utilities the shrink pipeline drives
var shrinkDeps = []string{
	"losetup",
	"e2fsck",
	"resize2fs",
	"parted",
}

// CheckDependencies checks for required system commands
func (ctx *GlobalContext) CheckDependencies(extra ...string) error {
	deps := append(append([]string{}, shrinkDeps...), extra...)
	return ctx.Executor.CheckDependencies(deps)
}

// NewPlanner wires a shrink planner to the shared executor and loop manager
func (ctx *GlobalContext) NewPlanner(policy image.Policy) *image.Planner {
	return image.NewPlanner(ctx.Executor, ctx.LoopManager, ctx.Fs, ctx.Logger, policy)
}

// logShrinkReport prints the state history of a shrink run
func (ctx *GlobalContext) logShrinkReport(report *image.ShrinkReport) {
	if report == nil {
		return
	}
	states := make([]string, 0, len(report.States))
	for _, s := range report.States {
		states = append(states, s.String())
	}
	ctx.Logger.Info("Shrink states: %s", strings.Join(states, " -> "))
	ctx.Logger.Info("Preparation passes: %d, resize passes: %d, table edits: %d",
		len(report.Attempts), len(report.ResizePasses), report.Mutations)
	if report.NewLength < report.OldLength {
		ctx.Logger.Info("Old size: %s → New size: %s",
			system.FormatSize(uint64(report.OldLength)), system.FormatSize(uint64(report.NewLength)))
	}
}

// reportedError marks an error that a command already logged
type reportedError struct{ error }

func (e reportedError) Unwrap() error { return e.error }

func reported(err error) error {
	if err == nil {
		return nil
	}
	return reportedError{err}
}

// IsReported reports whether err was already logged by the command
func IsReported(err error) bool {
	var r reportedError
	return errors.As(err, &r)
}

func policyFrom(prepare, resize int) image.Policy {
	p := image.DefaultPolicy()
	if prepare > 0 {
		p.PreparePasses = prepare
	}
	if resize > 0 {
		p.ResizePasses = resize
	}
	return p
}

// resolveImage returns the canonical path of an existing image file
func resolveImage(path string) (string, error) {
	resolved, err := system.ResolvePath(path)
	if err != nil {
		return "", fmt.Errorf("image: %w", err)
	}
	return resolved, nil
}
