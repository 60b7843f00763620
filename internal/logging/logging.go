// Package logging wraps the standard library logger with the
// severity levels autodird's components reason about (modeled on
// msg.h's MSG_* levels), backed by log.Logger exactly the way the
// rest of this codebase's ancestry leans on the standard log package
// instead of a structured logging library.
package logging

import (
	"log"
	"os"
)

func init() {
	// Microseconds matter for diagnosing request-handling latency;
	// the calendar date does not.
	log.SetFlags(log.Lmicroseconds)
}

// Logger is the process-wide sink. Every component logs through here
// rather than holding its own *log.Logger, so a single prefix change
// (module name) affects every message.
var Logger = log.New(os.Stderr, "", log.Lmicroseconds)

// verbose mirrors msg.c's mg.verbose_log: Info-level lines are
// dropped unless -V/--verbose turned verbose logging on.
var verbose bool

// SetVerbose enables or disables info-level logging, the Go shape of
// msg_option_verbose.
func SetVerbose(v bool) {
	verbose = v
}

// SetPrefix re-prefixes all subsequent log lines, e.g. with the
// loaded materialization module's name.
func SetPrefix(prefix string) {
	if prefix != "" {
		prefix = prefix + ": "
	}
	Logger.SetPrefix(prefix)
}

// ToConsole switches the sink to stderr (foreground mode).
func ToConsole() {
	Logger.SetOutput(os.Stderr)
}

func Info(format string, args ...interface{}) {
	if !verbose {
		return
	}
	Logger.Printf("info: "+format, args...)
}
func Notice(format string, args ...interface{})  { Logger.Printf("notice: "+format, args...) }
func Warning(format string, args ...interface{}) { Logger.Printf("warning: "+format, args...) }
func Err(format string, args ...interface{})     { Logger.Printf("error: "+format, args...) }
func Crit(format string, args ...interface{})    { Logger.Printf("critical: "+format, args...) }
func Alert(format string, args ...interface{})   { Logger.Printf("alert: "+format, args...) }

// Fatal logs and exits non-zero, matching MSG_FATAL in the original
// autodir: a fatal-init error the process cannot recover from.
func Fatal(format string, args ...interface{}) {
	Logger.Printf("fatal: "+format, args...)
	os.Exit(1)
}
