// Package output provides terminal output utilities: the global logger,
// styles, tables, spinners, spec trees and spec diffs.
package output

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// logger is the global logger instance.
var logger *log.Logger

// verbose records whether debug output is on.
var verbose bool

func init() {
	logger = log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: false,
		ReportCaller:    false,
	})
}

// LogConfig holds the logging settings resolved from flags and config.
type LogConfig struct {
	// Verbose enables debug output, caller reporting and timestamps.
	Verbose bool

	// Timestamps overrides whether timestamps are printed. Nil means on.
	Timestamps *bool

	// Writer receives log lines. Nil means standard error.
	Writer io.Writer
}

// timestamps reports whether log lines carry a time. Verbose output always
// does.
func (c LogConfig) timestamps() bool {
	if c.Verbose || c.Timestamps == nil {
		return true
	}
	return *c.Timestamps
}

// SetupLogging configures the global logger.
func SetupLogging(cfg LogConfig) {
	verbose = cfg.Verbose
	level := log.InfoLevel
	if cfg.Verbose {
		level = log.DebugLevel
	}
	w := cfg.Writer
	if w == nil {
		w = os.Stderr
	}
	logger = log.NewWithOptions(w, log.Options{
		Level:           level,
		ReportTimestamp: cfg.timestamps(),
		ReportCaller:    cfg.Verbose,
		TimeFormat:      "15:04:05",
	})
}

// With returns a child of the global logger carrying keyvals, used to tag
// every line of one build run.
func With(keyvals ...any) *log.Logger {
	return logger.With(keyvals...)
}

// SpecLogger returns a logger whose lines are prefixed with a spec, for
// output produced while that spec builds.
func SpecLogger(spec string) *log.Logger {
	return logger.WithPrefix(StyleNoun.Render(spec))
}

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool {
	return &b
}

// Debug logs a debug message.
func Debug(msg string, keyvals ...any) {
	logger.Debug(msg, keyvals...)
}

// Info logs an info message.
func Info(msg string, keyvals ...any) {
	logger.Info(msg, keyvals...)
}

// Warn logs a warning message.
func Warn(msg string, keyvals ...any) {
	logger.Warn(msg, keyvals...)
}

// Error logs an error message.
func Error(msg string, keyvals ...any) {
	logger.Error(msg, keyvals...)
}
