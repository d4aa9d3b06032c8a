// Package logging constructs the prefixed loggers used across the daemon.
// Every component logs through a *log.Logger with a bracketed prefix; when a
// log file is configured, output rotates via lumberjack.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects the log destination. An empty File logs to stderr.
type Options struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Quiet      bool
}

// Sink is a shared log destination from which per-component loggers are cut.
type Sink struct {
	w      io.Writer
	closer io.Closer
}

// NewSink builds the destination described by opts.
func NewSink(opts Options) *Sink {
	if opts.File == "" {
		if opts.Quiet {
			return &Sink{w: io.Discard}
		}
		return &Sink{w: os.Stderr}
	}

	lj := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   true,
	}
	if opts.Quiet {
		return &Sink{w: lj, closer: lj}
	}
	return &Sink{w: io.MultiWriter(os.Stderr, lj), closer: lj}
}

// Logger returns a logger writing to the sink with the given component
// prefix, e.g. "[engine] ".
func (s *Sink) Logger(prefix string) *log.Logger {
	return log.New(s.w, "["+prefix+"] ", log.LstdFlags)
}

// Close flushes and closes the underlying file, if any.
func (s *Sink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
