// Package nlog is a small leveled logger, following the convention of a
// hand-rolled nlog package over a third-party logging library. It
// intentionally stays dependency-free (see DESIGN.md for why this one
// ambient concern sits outside the "prefer an ecosystem library"
// default the rest of the domain stack follows).
package nlog

import (
	"fmt"
	"log"
	"os"
	"sync/atomic"
)

const (
	LevelError = iota
	LevelWarning
	LevelInfo
	LevelVerbose
)

var level int32 = LevelInfo

var std = log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)

// SetLevel sets the minimum level that will be emitted.
func SetLevel(lvl int) { atomic.StoreInt32(&level, int32(lvl)) }

// V reports whether verbosity lvl is currently enabled, so call sites can
// skip building a log line entirely on the hot path (scheduler loop, GC
// sweep) when it would be discarded anyway.
func V(lvl int) bool { return atomic.LoadInt32(&level) >= int32(lvl) }

func Infoln(args ...any) {
	if V(LevelInfo) {
		std.Output(2, "I "+fmt.Sprintln(args...))
	}
}

func Infof(format string, args ...any) {
	if V(LevelInfo) {
		std.Output(2, "I "+fmt.Sprintf(format, args...))
	}
}

func Warningln(args ...any) {
	if V(LevelWarning) {
		std.Output(2, "W "+fmt.Sprintln(args...))
	}
}

func Errorln(args ...any) {
	if V(LevelError) {
		std.Output(2, "E "+fmt.Sprintln(args...))
	}
}

func Verboseln(args ...any) {
	if V(LevelVerbose) {
		std.Output(2, "V "+fmt.Sprintln(args...))
	}
}
