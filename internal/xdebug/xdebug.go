// Package xdebug provides cheap invariant assertions, a small Assert/
// AssertNoErr pair in the style of a production codebase's own debug
// helpers rather than anything from the standard library. Assertions
// panic: an assertion failure is treated as an internal-error abort.
package xdebug

import "fmt"

// Enabled gates assertions at runtime; tests and debug builds set this true.
// Production builds may flip it off to skip the check entirely.
var Enabled = true

// Assert panics with msg if cond is false and assertions are enabled.
func Assert(cond bool, msg string) {
	if Enabled && !cond {
		panic("assertion failed: " + msg)
	}
}

// Assertf is Assert with a formatted message.
func Assertf(cond bool, format string, args ...any) {
	if Enabled && !cond {
		panic(fmt.Sprintf("assertion failed: "+format, args...))
	}
}

// AssertNoErr panics if err is non-nil, annotating with msg.
func AssertNoErr(err error, msg string) {
	if Enabled && err != nil {
		panic(fmt.Sprintf("assertion failed: %s: %v", msg, err))
	}
}
