// Package corelog defines the logging port consumed by the rest of the
// core. No component below this package calls the standard log package
// directly; it always goes through a Logger so the ambient sink (stdlib
// log, syslog, whatever the daemonizing front-end wires up) stays a
// replaceable detail.
package corelog

import (
	"log"
	"os"
)

// Logger is the port every core component depends on for diagnostics.
type Logger interface {
	Printf(format string, v ...any)
	Debugf(format string, v ...any)
	Errorf(format string, v ...any)
}

// StdLogger is the default Logger, backed by the standard library's log
// package. Verbosity gates Debugf output; it can be changed at runtime by
// the management API's set_verbose method.
type StdLogger struct {
	verbose *int32 // shared with management API for set_verbose/get_verbose
	l       *log.Logger
}

// NewStdLogger builds a Logger writing to stderr with a supernode-style
// prefix. level is the initial verbosity (0 = quiet).
func NewStdLogger(level int32) *StdLogger {
	v := level
	return &StdLogger{
		verbose: &v,
		l:       log.New(os.Stderr, "sn ", log.LstdFlags|log.Lmicroseconds),
	}
}

func (s *StdLogger) Printf(format string, v ...any) { s.l.Printf(format, v...) }

func (s *StdLogger) Debugf(format string, v ...any) {
	if *s.verbose > 0 {
		s.l.Printf("[dbg] "+format, v...)
	}
}

func (s *StdLogger) Errorf(format string, v ...any) { s.l.Printf("[err] "+format, v...) }

// Verbosity returns the current trace level.
func (s *StdLogger) Verbosity() int32 { return *s.verbose }

// SetVerbosity updates the trace level; used by the management API's
// set_verbose method.
func (s *StdLogger) SetVerbosity(level int32) { *s.verbose = level }
