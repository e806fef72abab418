// Package errs implements the compiler's typed error-report structure
// (spec.md §7): a Report carries a Kind, a source Location, a primary
// message, and an optional chain of secondary Notes. A pass collects as
// many Reports as it can via a Batch before aborting the pipeline;
// Internal reports are fatal and stop the pass immediately.
package errs

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

// Kind classifies which pass raised a Report.
type Kind int

const (
	Lex Kind = iota
	Parse
	NameResolution
	Type
	Capability
	Completeness
	Internal
)

func (k Kind) String() string {
	switch k {
	case Lex:
		return "lex"
	case Parse:
		return "parse"
	case NameResolution:
		return "name-resolution"
	case Type:
		return "type"
	case Capability:
		return "capability"
	case Completeness:
		return "completeness"
	case Internal:
		return "internal"
	default:
		return "unknown"
	}
}

// Location is a source position: file, line, and column, all 1-based
// except File which may be empty for a synthesized position.
type Location struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

func (l Location) String() string {
	if l.File == "" {
		return fmt.Sprintf("%d:%d", l.Line, l.Column)
	}
	return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
}

// Note is a secondary annotation attached to a Report, e.g. pointing at
// the declaration a conflicting use refers back to.
type Note struct {
	Loc     Location `json:"loc"`
	Message string   `json:"message"`
}

// Report is one compiler diagnostic.
type Report struct {
	Kind    Kind     `json:"kind"`
	Loc     Location `json:"loc"`
	Message string   `json:"message"`
	Notes   []Note   `json:"notes,omitempty"`

	// cause is set only for Internal reports, carrying the wrapped
	// error's stack via github.com/pkg/errors so it survives the
	// panic-as-error boundary a fatal abort crosses.
	cause error
}

// New creates a Report of the given kind at loc with message.
func New(kind Kind, loc Location, message string) *Report {
	return &Report{Kind: kind, Loc: loc, Message: message}
}

// Newf is New with a formatted message.
func Newf(kind Kind, loc Location, format string, args ...any) *Report {
	return New(kind, loc, fmt.Sprintf(format, args...))
}

// WithNote appends a secondary note and returns the Report, so callers
// can chain: errs.New(...).WithNote(...).WithNote(...).
func (r *Report) WithNote(loc Location, message string) *Report {
	r.Notes = append(r.Notes, Note{Loc: loc, Message: message})
	return r
}

// InternalErr wraps err as a fatal internal Report, using errors.Wrap to
// keep a stack trace attached to an error as it crosses a recover()
// boundary.
func InternalErr(loc Location, err error, message string) *Report {
	return &Report{
		Kind:    Internal,
		Loc:     loc,
		Message: message,
		cause:   errors.Wrap(err, message),
	}
}

// Cause returns the wrapped error behind an Internal report, or nil for
// every other kind.
func (r *Report) Cause() error { return r.cause }

// Error implements error so a Report can be returned or panicked with
// directly.
func (r *Report) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s: %s", r.Loc, r.Kind, r.Message)
	for _, n := range r.Notes {
		fmt.Fprintf(&b, "\n\tnote: %s: %s", n.Loc, n.Message)
	}
	return b.String()
}

// JSON renders the Report as JSON via jsoniter.
func (r *Report) JSON() ([]byte, error) {
	return jsoniter.Marshal(r)
}
