package ui

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// Logger provides color-coded console logging plus an optional timestamped
// run log that every message is mirrored into.
type Logger struct {
	Verbose bool
	Quiet   bool
	NoColor bool

	out    io.Writer
	mu     sync.Mutex
	runLog *zerolog.Logger

	info, success, warning, errorC, debug *color.Color
}

// NewLogger creates a new logger writing to stderr
func NewLogger(verbose, quiet, noColor bool) *Logger {
	return NewLoggerTo(os.Stderr, verbose, quiet, noColor || !isatty.IsTerminal(os.Stderr.Fd()))
}

// NewLoggerTo creates a logger writing to out
func NewLoggerTo(out io.Writer, verbose, quiet, noColor bool) *Logger {
	l := &Logger{
		Verbose: verbose,
		Quiet:   quiet,
		NoColor: noColor,
		out:     out,
		info:    color.New(color.FgBlue),
		success: color.New(color.FgGreen),
		warning: color.New(color.FgYellow),
		errorC:  color.New(color.FgRed),
		debug:   color.New(color.FgCyan),
	}
	for _, c := range []*color.Color{l.info, l.success, l.warning, l.errorC, l.debug} {
		if noColor {
			c.DisableColor()
		} else {
			c.EnableColor()
		}
	}
	return l
}

// AttachRunLog mirrors every subsequent message, timestamped, into w.
// Passing nil detaches the run log.
func (l *Logger) AttachRunLog(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if w == nil {
		l.runLog = nil
		return
	}
	zl := zerolog.New(zerolog.ConsoleWriter{Out: w, NoColor: true, TimeFormat: "2006-01-02T15:04:05Z07:00"}).
		With().Timestamp().Logger()
	l.runLog = &zl
}

func (l *Logger) emit(c *color.Color, tag string, level zerolog.Level, console bool, format string, args []interface{}) {
	msg := fmt.Sprintf(format, args...)

	l.mu.Lock()
	defer l.mu.Unlock()
	if console {
		c.Fprintln(l.out, "["+tag+"] "+msg)
	}
	if l.runLog != nil {
		l.runLog.WithLevel(level).Msg(msg)
	}
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	l.emit(l.info, "INFO", zerolog.InfoLevel, !l.Quiet, format, args)
}

// Success logs a success message
func (l *Logger) Success(format string, args ...interface{}) {
	l.emit(l.success, "SUCCESS", zerolog.InfoLevel, !l.Quiet, format, args)
}

// Warning logs a warning message
func (l *Logger) Warning(format string, args ...interface{}) {
	l.emit(l.warning, "WARNING", zerolog.WarnLevel, true, format, args)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.emit(l.errorC, "ERROR", zerolog.ErrorLevel, true, format, args)
}

// Debug logs a debug message (only if verbose is enabled)
func (l *Logger) Debug(format string, args ...interface{}) {
	if !l.Verbose {
		return
	}
	l.emit(l.debug, "DEBUG", zerolog.DebugLevel, true, format, args)
}
